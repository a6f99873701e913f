package linker

import (
	"os"
	"path/filepath"
	"strings"

	"ulmld/internal/diag"
	"ulmld/pkg/utils"
)

const symtabIndexMember = "__SYMTAB_INDEX"

// ReadInputFiles processes tokens in order: object paths, archive
// paths, -lNAME references, and --start-group/-( ... --end-group/-)
// span markers.
func ReadInputFiles(ctx *Context, tokens []string) error {
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		switch tok {
		case "--start-group", "-(":
			j := i + 1
			var group []string
			closed := false
			for j < len(tokens) {
				if tokens[j] == "--end-group" || tokens[j] == "-)" {
					closed = true
					break
				}
				if tokens[j] == "--start-group" || tokens[j] == "-(" {
					return diag.New(diag.KindGroup, "nested --start-group is not supported")
				}
				group = append(group, tokens[j])
				j++
			}
			if !closed {
				return diag.New(diag.KindGroup, "unterminated --start-group")
			}
			if err := processGroup(ctx, group); err != nil {
				return err
			}
			i = j + 1
		case "--end-group", "-)":
			return diag.New(diag.KindGroup, "--end-group without matching --start-group")
		default:
			if err := readOneInput(ctx, tok); err != nil {
				return err
			}
			i++
		}
	}
	return nil
}

// readOneInput resolves a single token (plain path or -lNAME) and
// dispatches it as an object or an archive based on its magic bytes.
func readOneInput(ctx *Context, tok string) error {
	path := tok
	if name, ok := utils.RemovePrefix(tok, "-l"); ok {
		resolved, found, err := resolveLibrary(ctx, name)
		if err != nil {
			return err
		}
		if !found {
			utils.Verbosef("skipping -l%s: not found, --only-libs in effect", name)
			return nil
		}
		path = resolved
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return diag.Wrap(diag.KindIO, err, "cannot open %s", path)
	}

	if isArchiveMagic(data) {
		arc, err := ParseArchive(path, data)
		if err != nil {
			return err
		}
		_, err = includeArchive(ctx, arc)
		return err
	}

	return ParseObject(ctx, path, data)
}

// processGroup implements the --start-group/--end-group fixed point:
// every token in the span is treated as archive-only (a plain object
// token inside a group is skipped) and the whole span's archives are
// swept repeatedly until a sweep pulls nothing new.
func processGroup(ctx *Context, tokens []string) error {
	var archives []*Archive
	for _, tok := range tokens {
		path := tok
		if name, ok := utils.RemovePrefix(tok, "-l"); ok {
			resolved, found, err := resolveLibrary(ctx, name)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			path = resolved
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return diag.Wrap(diag.KindIO, err, "cannot open %s", path)
		}
		if !isArchiveMagic(data) {
			utils.Verbosef("skipping plain object %s inside group span", path)
			continue
		}
		arc, err := ParseArchive(path, data)
		if err != nil {
			return err
		}
		archives = append(archives, arc)
	}

	for {
		pulledThisSweep := 0
		for _, arc := range archives {
			n, err := includeArchive(ctx, arc)
			if err != nil {
				return err
			}
			pulledThisSweep += n
		}
		if pulledThisSweep == 0 {
			break
		}
	}
	return nil
}

// includeArchive pulls members from arc, returning how many were
// newly parsed. With a __SYMTAB_INDEX member, it performs lazy,
// symbol-driven inclusion; otherwise it parses every member once
// (whole-archive inclusion).
func includeArchive(ctx *Context, arc *Archive) (int, error) {
	if idx, ok := arc.MemberByName(symtabIndexMember); ok {
		return includeFromIndex(ctx, arc, idx)
	}
	pulled := 0
	for _, m := range arc.Members() {
		if !ctx.markPulled(arc.Path, m.Name) {
			continue
		}
		if err := ParseObject(ctx, memberSourceName(arc.Path, m.Name), m.Data); err != nil {
			return pulled, err
		}
		pulled++
	}
	return pulled, nil
}

type indexEntry struct {
	kind   SymKind
	ident  string
	member string
}

func includeFromIndex(ctx *Context, arc *Archive, idx Member) (int, error) {
	entries, err := parseSymtabIndex(arc.Path, idx.Data)
	if err != nil {
		return 0, err
	}

	pulled := 0
	for {
		progressed := false
		for _, e := range entries {
			if !ctx.Symbols.IsUnresolved(e.ident) {
				continue
			}
			if !ctx.markPulled(arc.Path, e.member) {
				continue
			}
			m, ok := arc.MemberByName(e.member)
			if !ok {
				return pulled, diag.New(diag.KindFormat, "%s: index names missing member %q", arc.Path, e.member)
			}
			if err := ParseObject(ctx, memberSourceName(arc.Path, e.member), m.Data); err != nil {
				return pulled, err
			}
			pulled++
			progressed = true
			break
		}
		if !progressed {
			break
		}
	}
	return pulled, nil
}

func parseSymtabIndex(archivePath string, data []byte) ([]indexEntry, error) {
	var entries []indexEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, diag.New(diag.KindFormat, "%s: malformed %s line %q", archivePath, symtabIndexMember, line)
		}
		if len(fields[0]) != 1 {
			return nil, diag.New(diag.KindFormat, "%s: bad index symbol kind %q", archivePath, fields[0])
		}
		entries = append(entries, indexEntry{kind: SymKind(fields[0][0]), ident: fields[1], member: fields[2]})
	}
	return entries, nil
}

func memberSourceName(archivePath, member string) string {
	return archivePath + "(" + member + ")"
}

func isArchiveMagic(data []byte) bool {
	return len(data) >= len(arMagic) && string(data[:len(arMagic)]) == arMagic
}

// resolveLibrary tries {dir}/libNAME.a across ctx.Args.LibraryPaths in
// order; the first existing archive wins. If none exists, this is a
// hard error unless ctx.Args.OnlyLibs is set, in which case the
// reference is silently dropped.
func resolveLibrary(ctx *Context, name string) (path string, found bool, err error) {
	for _, dir := range ctx.Args.LibraryPaths {
		candidate := filepath.Join(dir, "lib"+name+".a")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, true, nil
		}
	}
	if ctx.Args.OnlyLibs {
		return "", false, nil
	}
	return "", false, diag.New(diag.KindIO, "cannot find library -l%s", name)
}
