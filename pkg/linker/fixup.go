package linker

import (
	"strconv"

	"ulmld/internal/diag"
)

// FixupKind is a relocation kind tag.
type FixupKind int

const (
	FixupAbsolute FixupKind = iota
	FixupRelative
	FixupW0
	FixupW1
	FixupW2
	FixupW3
)

func parseFixupKind(s string) (FixupKind, bool) {
	switch s {
	case "absolute":
		return FixupAbsolute, true
	case "relative":
		return FixupRelative, true
	case "w0":
		return FixupW0, true
	case "w1":
		return FixupW1, true
	case "w2":
		return FixupW2, true
	case "w3":
		return FixupW3, true
	default:
		return 0, false
	}
}

func (k FixupKind) String() string {
	switch k {
	case FixupAbsolute:
		return "absolute"
	case FixupRelative:
		return "relative"
	case FixupW0:
		return "w0"
	case FixupW1:
		return "w1"
	case FixupW2:
		return "w2"
	case FixupW3:
		return "w3"
	default:
		return "?"
	}
}

// Fixup is a deferred byte patch site. Addr is already biased by the
// contributing unit's mark on Segment at parse time.
type Fixup struct {
	Ident     string
	Segment   SegKind
	Addr      uint64
	Offset    uint64
	NumBytes  uint64
	Kind      FixupKind
	Displace  int64
	SourceObj string
}

// parseIdentDisplacement splits "ident+N" or "ident-N" at the
// rightmost '+'/'-' outside the first character (idents never begin
// with one of these, so the first character is skipped).
func parseIdentDisplacement(s string) (ident string, displace int64, err error) {
	if s == "" {
		return "", 0, diag.New(diag.KindFormat, "empty fixup target")
	}
	splitAt := -1
	for i := len(s) - 1; i > 0; i-- {
		if s[i] == '+' || s[i] == '-' {
			splitAt = i
			break
		}
	}
	if splitAt < 0 {
		return s, 0, nil
	}
	n, convErr := strconv.ParseInt(s[splitAt:], 10, 64)
	if convErr != nil {
		return s, 0, nil
	}
	return s[:splitAt], n, nil
}

// isSegmentRef reports whether ident is one of the pseudo-idents
// [text], [data], [bss], returning the referenced segment.
func isSegmentRef(ident string) (SegKind, bool) {
	switch ident {
	case "[text]":
		return SegText, true
	case "[data]":
		return SegData, true
	case "[bss]":
		return SegBss, true
	default:
		return 0, false
	}
}
