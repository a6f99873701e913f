// Command ulmld links textual ULM object files and ar(5) archives into
// a single linked object in the same textual format.
//
// Flag parsing is intentionally thin: no CLI framework is used, so
// ulmld stays on bare os.Args walking.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"ulmld/internal/diag"
	"ulmld/pkg/linker"
	"ulmld/pkg/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		reportFatal(err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx := linker.NewContext()
	var tokens []string
	var libDirs []string

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-o":
			i++
			if i >= len(args) {
				return diag.New(diag.KindIO, "-o requires an argument")
			}
			ctx.Args.Output = args[i]
		case a == "-textseg":
			i++
			if i >= len(args) {
				return diag.New(diag.KindIO, "-textseg requires an argument")
			}
			v, err := strconv.ParseUint(strings.TrimPrefix(args[i], "0x"), 16, 64)
			if err != nil {
				return diag.Wrap(diag.KindIO, err, "bad -textseg value %q", args[i])
			}
			ctx.Args.TextSeg = v
		case a == "-L":
			i++
			if i >= len(args) {
				return diag.New(diag.KindIO, "-L requires an argument")
			}
			libDirs = append(libDirs, args[i])
		case a == "--only-libs":
			ctx.Args.OnlyLibs = true
		case a == "-s" || a == "--strip":
			ctx.Args.Stripped = true
		case a == "-v":
			utils.Verbose = true
		default:
			tokens = append(tokens, a)
		}
	}

	if env := os.Getenv("ULM_LIBRARY_PATH"); env != "" {
		libDirs = append(libDirs, strings.Split(env, ":")...)
	}
	ctx.Args.LibraryPaths = libDirs

	if err := linker.ReadInputFiles(ctx, tokens); err != nil {
		return err
	}
	if err := ctx.Place(); err != nil {
		return err
	}
	if err := ctx.Relocate(); err != nil {
		return err
	}

	out, err := os.Create(ctx.Args.Output)
	if err != nil {
		return diag.Wrap(diag.KindIO, err, "cannot create %s", ctx.Args.Output)
	}
	if err := ctx.Emit(out); err != nil {
		out.Close()
		os.Remove(ctx.Args.Output)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(ctx.Args.Output)
		return diag.Wrap(diag.KindIO, err, "cannot close %s", ctx.Args.Output)
	}
	return nil
}

// reportFatal is the one catch site for the whole program: it prints
// the diagnostic and unwraps its cause chain.
func reportFatal(err error) {
	fmt.Fprintf(os.Stderr, "ulmld: \033[0;1;31mfatal\033[0m: %v\n", err)
	cause := err
	for {
		u, ok := cause.(interface{ Unwrap() error })
		if !ok {
			break
		}
		next := u.Unwrap()
		if next == nil {
			break
		}
		fmt.Fprintf(os.Stderr, "\tcaused by: %v\n", next)
		cause = next
	}
}
