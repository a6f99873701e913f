package linker

import (
	"bufio"
	"strconv"
	"strings"

	"ulmld/internal/diag"
	"ulmld/pkg/utils"
)

// The textual object parser: ParseObject reads a whole unit directly
// into a *Context's segments, tables and fixups from a line-oriented
// ASCII format.

type parseState int

const (
	stateNone parseState = iota
	stateText
	stateData
	stateBss
	stateSymtab
	stateFixups
)

// ParseObject parses one textual object's bytes, attributing every
// contribution to source (used for marks, "# from:" headers, and
// multiple-definition diagnostics).
func ParseObject(ctx *Context, source string, data []byte) error {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	state := stateNone
	firstLine := true
	wroteFirstByteLineText := false
	wroteFirstByteLineData := false
	var explicitBaseText, explicitBaseData uint64

	var segMarkSet [3]bool

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if firstLine {
			if !strings.HasPrefix(trimmed, "#") {
				return diag.New(diag.KindFormat, "%s: not an object file", source)
			}
			firstLine = false
		}

		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			fields := strings.Fields(trimmed)
			directive := fields[0]
			switch directive {
			case "#TEXT", "#DATA":
				kind := SegText
				if directive == "#DATA" {
					kind = SegData
				}
				state = stateText
				if kind == SegData {
					state = stateData
				}
				seg := ctx.Segment(kind)
				if len(fields) > 1 {
					align, err := strconv.ParseUint(fields[1], 0, 64)
					if err != nil {
						return diag.Wrap(diag.KindFormat, err, "%s: bad alignment", source)
					}
					if err := seg.SetAlignment(align, source); err != nil {
						return err
					}
				}
				seg.SetMark(source)
				segMarkSet[kind] = true
			case "#BSS":
				if len(fields) != 3 {
					return diag.New(diag.KindFormat, "%s: #BSS requires <alignment> <size>", source)
				}
				align, err := strconv.ParseUint(fields[1], 0, 64)
				if err != nil {
					return diag.Wrap(diag.KindFormat, err, "%s: bad bss alignment", source)
				}
				size, err := strconv.ParseUint(fields[2], 10, 64)
				if err != nil {
					return diag.Wrap(diag.KindFormat, err, "%s: bad bss size", source)
				}
				seg := ctx.Segment(SegBss)
				if err := seg.SetAlignment(align, source); err != nil {
					return err
				}
				seg.SetMark(source)
				segMarkSet[SegBss] = true
				mark, _ := seg.GetMark(source)
				if err := seg.AdvanceTo(mark + size); err != nil {
					return err
				}
				state = stateNone
			case "#SYMTAB":
				state = stateSymtab
			case "#FIXUPS":
				state = stateFixups
			default:
				// Any other '#'-prefixed line is a comment, not a
				// directive: the shebang line an earlier Emit wrote,
				// and full-line comments inside a segment, both land
				// here and are skipped rather than rejected.
			}
			continue
		}

		switch state {
		case stateText, stateData:
			kind := SegText
			wroteFirst := &wroteFirstByteLineText
			explicitBase := &explicitBaseText
			if state == stateData {
				kind = SegData
				wroteFirst = &wroteFirstByteLineData
				explicitBase = &explicitBaseData
			}
			if err := parseByteLine(ctx, kind, source, line, wroteFirst, explicitBase); err != nil {
				return err
			}
		case stateSymtab:
			if err := parseSymtabLine(ctx, source, line); err != nil {
				return err
			}
		case stateFixups:
			if err := parseFixupLine(ctx, source, line); err != nil {
				return err
			}
		default:
			return diag.New(diag.KindFormat, "%s: byte data outside a segment directive", source)
		}
	}
	if err := scanner.Err(); err != nil {
		return diag.Wrap(diag.KindIO, err, "%s: read error", source)
	}
	return nil
}

// parseByteLine handles one line of #TEXT/#DATA content: an optional
// "0xADDR:" prefix, a run of hex bytes, and an optional "# comment".
//
// The first byte line this unit contributes to kind fixes the base
// that every later explicit "0xADDR:" on this unit is measured
// against, so a unit's own addresses can start anywhere and still
// land right after its mark: a unit whose lines read "0x1000:" then
// "0x1004:" places its second line 4 bytes after its first, not at
// absolute 0x1004.
func parseByteLine(ctx *Context, kind SegKind, source, line string, wroteFirst *bool, explicitBase *uint64) error {
	seg := ctx.Segment(kind)
	mark, ok := seg.GetMark(source)
	if !ok {
		return diag.New(diag.KindFormat, "%s: byte line before segment mark", source)
	}
	atMark := !*wroteFirst

	body := line
	comment := ""
	if idx := strings.Index(body, "#"); idx >= 0 {
		comment = strings.TrimSpace(body[idx+1:])
		body = body[:idx]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	var addr uint64
	if colon := strings.Index(body, ":"); colon >= 0 {
		addrStr := strings.TrimSpace(body[:colon])
		v, err := strconv.ParseUint(strings.TrimPrefix(addrStr, "0x"), 16, 64)
		if err != nil {
			return diag.Wrap(diag.KindFormat, err, "%s: bad address %q", source, addrStr)
		}
		if atMark {
			*explicitBase = v
		}
		addr = v - *explicitBase
		body = strings.TrimSpace(body[colon+1:])
	} else {
		addr = seg.Size() - mark
	}

	hex := strings.ReplaceAll(body, " ", "")
	if len(hex)%2 != 0 {
		return diag.New(diag.KindFormat, "%s: odd hex string length", source)
	}

	segAddr := mark + addr
	gap := segAddr > seg.Size()
	if gap {
		aligned := utils.AlignTo(seg.Size(), seg.Alignment)
		if segAddr != aligned {
			return diag.At(diag.KindSemantic, segAddr, "%s: gap-in-segment", source)
		}
	}
	if err := seg.InsertByteString(segAddr, hex); err != nil {
		return err
	}
	if !*wroteFirst {
		seg.AddHeader(segAddr, "# from: "+source)
		*wroteFirst = true
	}
	if comment != "" {
		written, _ := utils.DecodeHexBytes(hex)
		seg.Annotate(segAddr+uint64(len(written))-1, comment)
	}
	return nil
}

// parseSymtabLine handles one "<kind> <ident> <hex-value>" line. A U
// line may omit the value ("U f"), since an undefined reference has none.
func parseSymtabLine(ctx *Context, source, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 2 && fields[0] == string(KindUndef) {
		fields = append(fields, "0")
	}
	if len(fields) != 3 {
		return diag.New(diag.KindFormat, "%s: malformed symtab line %q", source, line)
	}
	if len(fields[0]) != 1 {
		return diag.New(diag.KindFormat, "%s: bad symbol kind %q", source, fields[0])
	}
	kind := SymKind(fields[0][0])
	ident := fields[1]
	value, err := strconv.ParseUint(strings.TrimPrefix(fields[2], "0x"), 16, 64)
	if err != nil {
		return diag.Wrap(diag.KindFormat, err, "%s: bad symbol value", source)
	}

	if ident != "" && ident[0] == '.' {
		return nil
	}

	switch kind {
	case KindAbs:
		return ctx.Symbols.DefineGlobal(ident, SymEntry{Kind: kind, Value: value, DefinedIn: source})
	case KindText, KindData, KindBss:
		seg := ctx.Segment(mustSegmentFor(kind))
		mark, ok := seg.GetMark(source)
		if !ok {
			mark = 0
		}
		return ctx.Symbols.DefineGlobal(ident, SymEntry{Kind: kind, Value: value + mark, DefinedIn: source})
	case KindTextLocal, KindDataLocal, KindBssLocal:
		seg := ctx.Segment(mustSegmentFor(kind))
		mark, ok := seg.GetMark(source)
		if !ok {
			mark = 0
		}
		ctx.Symbols.DefineLocal(ident, SymEntry{Kind: kind, Value: value + mark, DefinedIn: source})
		return nil
	case KindUndef:
		ctx.Symbols.ReferenceUndefined(ident)
		return nil
	default:
		return diag.New(diag.KindFormat, "%s: unknown symbol kind %q", source, string(kind))
	}
}

func mustSegmentFor(kind SymKind) SegKind {
	seg, ok := kind.Segment()
	utils.Assert(ok)
	return seg
}

// parseFixupLine handles one "<segment> <hex-addr> <dec-offset-bits>
// <dec-numBytes-bits> <kind> <ident[±displacement]>" line.
func parseFixupLine(ctx *Context, source, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 6 {
		return diag.New(diag.KindFormat, "%s: malformed fixup line %q", source, line)
	}

	var segKind SegKind
	switch fields[0] {
	case "text":
		segKind = SegText
	case "data":
		segKind = SegData
	default:
		return diag.New(diag.KindFormat, "%s: fixups target text or data only, got %q", source, fields[0])
	}

	addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
	if err != nil {
		return diag.Wrap(diag.KindFormat, err, "%s: bad fixup address", source)
	}
	offsetBits, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return diag.Wrap(diag.KindFormat, err, "%s: bad fixup offset", source)
	}
	numBits, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return diag.Wrap(diag.KindFormat, err, "%s: bad fixup width", source)
	}
	if offsetBits%8 != 0 || numBits%8 != 0 {
		return diag.New(diag.KindFormat, "%s: fixup offset/width not byte-aligned", source)
	}
	kind, ok := parseFixupKind(fields[4])
	if !ok {
		return diag.New(diag.KindFormat, "%s: unknown fixup kind %q", source, fields[4])
	}

	ident, displace, err := parseIdentDisplacement(fields[5])
	if err != nil {
		return diag.Wrap(diag.KindFormat, err, "%s: bad fixup target", source)
	}

	seg := ctx.Segment(segKind)
	mark, ok := seg.GetMark(source)
	if !ok {
		mark = 0
	}

	if refKind, ok := isSegmentRef(ident); ok {
		refMark, ok := ctx.Segment(refKind).GetMark(source)
		if ok {
			displace += int64(refMark)
		}
	}

	ctx.Fixups = append(ctx.Fixups, Fixup{
		Ident:     ident,
		Segment:   segKind,
		Addr:      addr + mark,
		Offset:    offsetBits / 8,
		NumBytes:  numBits / 8,
		Kind:      kind,
		Displace:  displace,
		SourceObj: source,
	})
	return nil
}
