package linker

import (
	"sort"

	"ulmld/internal/diag"
)

// SymKind is a symbol's one-letter kind tag.
type SymKind byte

const (
	KindText      SymKind = 'T'
	KindTextLocal SymKind = 't'
	KindData      SymKind = 'D'
	KindDataLocal SymKind = 'd'
	KindBss       SymKind = 'B'
	KindBssLocal  SymKind = 'b'
	KindAbs       SymKind = 'A'
	KindUndef     SymKind = 'U'
)

// IsGlobal reports whether kind is one of the upper-case definition
// kinds (T/D/B/A); lower-case and U are not global definitions.
func (k SymKind) IsGlobal() bool {
	switch k {
	case KindText, KindData, KindBss, KindAbs:
		return true
	default:
		return false
	}
}

// Segment maps a resident symbol kind to its owning segment.
func (k SymKind) Segment() (SegKind, bool) {
	switch k {
	case KindText, KindTextLocal:
		return SegText, true
	case KindData, KindDataLocal:
		return SegData, true
	case KindBss, KindBssLocal:
		return SegBss, true
	default:
		return 0, false
	}
}

// SymEntry is a global-table or local-table entry: {kind, value}. Value
// is a segment offset until placement rewrites it to an absolute
// address; DefinedIn is carried only for diagnostic text, never
// consulted by the linker itself.
type SymEntry struct {
	Kind      SymKind
	Value     uint64
	DefinedIn string
}

// SymbolTable is the link job's global symbol table plus the local
// table and the unresolved set that drives archive inclusion.
type SymbolTable struct {
	global     map[string]SymEntry
	local      map[string][]SymEntry
	unresolved map[string]struct{}
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		global:     make(map[string]SymEntry),
		local:      make(map[string][]SymEntry),
		unresolved: make(map[string]struct{}),
	}
}

// Lookup returns the global definition for ident, if any.
func (t *SymbolTable) Lookup(ident string) (SymEntry, bool) {
	e, ok := t.global[ident]
	return e, ok
}

// IsUnresolved reports whether ident is currently in the unresolved set.
func (t *SymbolTable) IsUnresolved(ident string) bool {
	_, ok := t.unresolved[ident]
	return ok
}

// UnresolvedCount returns the size of the unresolved set.
func (t *SymbolTable) UnresolvedCount() int {
	return len(t.unresolved)
}

// DefineGlobal records an upper-case definition (T/D/B/A). A second
// definition of the same ident is a hard "multiple definition" error.
func (t *SymbolTable) DefineGlobal(ident string, entry SymEntry) error {
	if ident == "" || ident[0] == '.' {
		return nil
	}
	if existing, ok := t.global[ident]; ok {
		return diag.New(diag.KindSemantic,
			"multiple definition of %q (first in %s, again in %s)",
			ident, existing.DefinedIn, entry.DefinedIn)
	}
	t.global[ident] = entry
	delete(t.unresolved, ident)
	return nil
}

// ReferenceUndefined records a U reference: inserted into the
// unresolved set unless ident is already defined upper-case.
func (t *SymbolTable) ReferenceUndefined(ident string) {
	if ident == "" || ident[0] == '.' {
		return
	}
	if _, ok := t.global[ident]; ok {
		return
	}
	t.unresolved[ident] = struct{}{}
}

// DefineLocal appends a lower-case local-table entry. Idents beginning
// with '.' are dropped silently.
func (t *SymbolTable) DefineLocal(ident string, entry SymEntry) {
	if ident == "" || ident[0] == '.' {
		return
	}
	t.local[ident] = append(t.local[ident], entry)
}

// Locals returns the local-table entries recorded for ident, in
// insertion order; multiple units may contribute the same ident.
func (t *SymbolTable) Locals(ident string) []SymEntry {
	return t.local[ident]
}

// SortedLocalIdents returns every distinct local ident, alphabetically.
func (t *SymbolTable) SortedLocalIdents() []string {
	idents := make([]string, 0, len(t.local))
	for ident := range t.local {
		idents = append(idents, ident)
	}
	sort.Strings(idents)
	return idents
}

// SortedGlobalIdents returns every global ident, alphabetically, as
// required by the emitter.
func (t *SymbolTable) SortedGlobalIdents() []string {
	idents := make([]string, 0, len(t.global))
	for ident := range t.global {
		idents = append(idents, ident)
	}
	sort.Strings(idents)
	return idents
}

// ApplyPlacement adds each global T/D/B symbol's segment base address
// to its value. A is left untouched; any other kind surviving to
// placement is a programmer-error invariant failure.
func (t *SymbolTable) ApplyPlacement(bases [3]uint64) error {
	for ident, entry := range t.global {
		seg, ok := entry.Kind.Segment()
		switch {
		case entry.Kind == KindAbs:
			continue
		case ok:
			entry.Value += bases[seg]
			t.global[ident] = entry
		default:
			return diag.New(diag.KindSemantic,
				"symbol %q has unexpected kind %q at placement time", ident, string(entry.Kind))
		}
	}
	return nil
}
