// Command ulmranlib rebuilds the __SYMTAB_INDEX member of an ar(5)
// archive of ULM objects, enabling ulmld's lazy symbol-driven member
// inclusion.
package main

import (
	"fmt"
	"os"
	"sort"

	"ulmld/internal/diag"
	"ulmld/pkg/linker"
	"ulmld/pkg/utils"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: ulmranlib ARCHIVE")
		os.Exit(1)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "ulmranlib: fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	arc, err := linker.OpenArchive(path)
	if err != nil {
		return err
	}

	// Drop any stale index from a previous run so re-running ulmranlib on
	// an already-indexed archive replaces it instead of leaving a
	// duplicate __SYMTAB_INDEX member behind.
	out := utils.RemoveIf(append([]linker.Member(nil), arc.Members()...), func(m linker.Member) bool {
		return m.Name == "__SYMTAB_INDEX"
	})

	index, err := buildIndex(arc)
	if err != nil {
		return err
	}
	out = append(out, linker.Member{Name: "__SYMTAB_INDEX", Data: []byte(index)})

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return diag.Wrap(diag.KindIO, err, "cannot create %s", tmp)
	}
	if err := linker.WriteArchive(f, out); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return diag.Wrap(diag.KindIO, err, "cannot close %s", tmp)
	}
	return os.Rename(tmp, path)
}

// buildIndex parses every ordinary member in its own throwaway
// *Context (so one member's definitions never collide with another's
// as a "multiple definition") and records only its upper-case and A
// definitions.
func buildIndex(arc *linker.Archive) (string, error) {
	type entry struct{ kind, ident, member string }
	var entries []entry

	for _, m := range arc.Members() {
		if m.Name == "__SYMTAB_INDEX" {
			continue
		}
		ctx := linker.NewContext()
		if err := linker.ParseObject(ctx, m.Name, m.Data); err != nil {
			return "", err
		}
		for _, ident := range ctx.Symbols.SortedGlobalIdents() {
			e, _ := ctx.Symbols.Lookup(ident)
			entries = append(entries, entry{kind: string(e.Kind), ident: ident, member: m.Name})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ident < entries[j].ident })

	var buf []byte
	for _, e := range entries {
		buf = append(buf, fmt.Sprintf("%s %s %s\n", e.kind, e.ident, e.member)...)
	}
	return string(buf), nil
}
