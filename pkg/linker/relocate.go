package linker

import "ulmld/internal/diag"

// Relocate walks every fixup and patches its site. It must be called
// after Place, once segment base addresses are frozen. It never grows
// a segment: every patch site must already exist.
func (ctx *Context) Relocate() error {
	for _, fx := range ctx.Fixups {
		seg := ctx.Segment(fx.Segment)
		site := seg.BaseAddr + fx.Addr

		v, err := resolveFixupTarget(ctx, fx)
		if err != nil {
			return err
		}

		v, err = transformFixupValue(v, fx.Kind, site)
		if err != nil {
			return err
		}

		if err := seg.PatchBytes(site+fx.Offset, int(fx.NumBytes), uint64(v)); err != nil {
			return err
		}
	}
	return nil
}

func resolveFixupTarget(ctx *Context, fx Fixup) (int64, error) {
	if refKind, ok := isSegmentRef(fx.Ident); ok {
		return fx.Displace + int64(ctx.Segment(refKind).BaseAddr), nil
	}
	entry, ok := ctx.Symbols.Lookup(fx.Ident)
	if !ok {
		return 0, diag.At(diag.KindSemantic, ctx.Segment(fx.Segment).BaseAddr+fx.Addr,
			"unresolved symbol %s", fx.Ident)
	}
	return int64(entry.Value) + fx.Displace, nil
}

// transformFixupValue applies the fixup kind's transform to v,
// returning the value to patch.
func transformFixupValue(v int64, kind FixupKind, site uint64) (int64, error) {
	switch kind {
	case FixupAbsolute:
		return v, nil
	case FixupW0, FixupW1, FixupW2, FixupW3:
		shift := 16 * wordIndex(kind)
		return (v >> shift) & 0xFFFF, nil
	case FixupRelative:
		delta := v - int64(site)
		if delta%4 != 0 {
			return 0, diag.At(diag.KindSemantic, site,
				"relative fixup target is not a multiple of 4 from the site")
		}
		return delta / 4, nil
	default:
		return 0, diag.At(diag.KindSemantic, site, "unknown fixup kind")
	}
}

func wordIndex(kind FixupKind) int64 {
	switch kind {
	case FixupW0:
		return 0
	case FixupW1:
		return 1
	case FixupW2:
		return 2
	case FixupW3:
		return 3
	default:
		return 0
	}
}
