package linker

import (
	"ulmld/internal/diag"
	"ulmld/pkg/utils"
)

// SegKind enumerates the three fixed segments in fixed order.
type SegKind int

const (
	SegText SegKind = iota
	SegData
	SegBss
)

func (k SegKind) String() string {
	switch k {
	case SegText:
		return "text"
	case SegData:
		return "data"
	case SegBss:
		return "bss"
	default:
		return "?"
	}
}

const defaultFill = 0xFD

const paddingAnnotation = "(ulmld: padding for alignment)"

// Segment is the address-indexed byte store for one of the three fixed
// segments. Storage is a contiguous growable byte slice rather than an
// offset->byte map: the emitter only needs "bytes below size are
// defined", and a flat slice gives that for free.
type Segment struct {
	Kind      SegKind
	Alignment uint64
	BaseAddr  uint64
	baseSet   bool
	Fill      byte

	bytes []byte

	marks       map[string]uint64
	annotations map[uint64]string
	labels      map[uint64][]string
	headers     map[uint64][]string
}

func NewSegment(kind SegKind) *Segment {
	return &Segment{
		Kind:        kind,
		Alignment:   1,
		Fill:        defaultFill,
		marks:       make(map[string]uint64),
		annotations: make(map[uint64]string),
		labels:      make(map[uint64][]string),
		headers:     make(map[uint64][]string),
	}
}

// Size is one past the highest written offset.
func (s *Segment) Size() uint64 { return uint64(len(s.bytes)) }

// EndAddr is BaseAddr + Size, the first address past this segment.
func (s *Segment) EndAddr() uint64 { return s.BaseAddr + s.Size() }

// SetAlignment raises Alignment to max(Alignment, a) and pads to the
// new boundary. a must be a power of two; if BaseAddr is already
// frozen it must remain a multiple of the new alignment. This is a
// recoverable error, not an assert: malformed input can violate it.
func (s *Segment) SetAlignment(a uint64, source string) error {
	if !utils.IsPowerOfTwo(a) {
		return diag.New(diag.KindSemantic, "alignment %d for %s is not a power of two", a, s.Kind)
	}
	next := utils.Max(s.Alignment, a)
	if s.baseSet && s.BaseAddr%next != 0 {
		return diag.New(diag.KindSemantic,
			"%s: source %q requests alignment %d incompatible with frozen base 0x%x",
			s.Kind, source, next, s.BaseAddr)
	}
	s.Alignment = next
	return s.AdvanceTo(utils.AlignTo(s.BaseAddr+s.Size(), s.Alignment))
}

// SetMark records the current size as the offset where source's
// contribution to this segment begins.
func (s *Segment) SetMark(source string) {
	s.marks[source] = s.Size()
}

// GetMark returns BaseAddr + the recorded mark for source. Before
// placement BaseAddr is 0, so this yields a plain segment offset; the
// same method after placement yields an absolute address. The relocator
// does not call it: a [text]/[data]/[bss] self-reference has its mark
// folded into the fixup's displacement at parse time.
func (s *Segment) GetMark(source string) (uint64, bool) {
	m, ok := s.marks[source]
	if !ok {
		return 0, false
	}
	return s.BaseAddr + m, true
}

// AdvanceTo pads the segment up to addr with the fill byte. addr must
// not be behind the current end.
func (s *Segment) AdvanceTo(addr uint64) error {
	end := s.BaseAddr + s.Size()
	if addr < end {
		return diag.At(diag.KindSemantic, addr, "%s: advanceTo behind current end 0x%x", s.Kind, end)
	}
	if addr == end {
		return nil
	}
	n := addr - end
	last := s.Size()
	for i := uint64(0); i < n; i++ {
		s.bytes = append(s.bytes, s.Fill)
	}
	s.annotations[last+n-1] = paddingAnnotation
	return nil
}

// InsertByteString parses hex as a contiguous hex digit string and
// stores it one byte per offset starting at addr-BaseAddr, overwriting
// whatever is already there. A gap before addr is closed with
// AdvanceTo first; writing past the current end grows the segment.
func (s *Segment) InsertByteString(addr uint64, hex string) error {
	raw, err := utils.DecodeHexBytes(hex)
	if err != nil {
		return diag.Wrap(diag.KindFormat, err, "%s: bad byte string", s.Kind)
	}
	if addr < s.BaseAddr {
		return diag.At(diag.KindSemantic, addr, "%s: write before segment base", s.Kind)
	}
	end := s.BaseAddr + s.Size()
	if addr > end {
		if err := s.AdvanceTo(addr); err != nil {
			return err
		}
	}
	off := addr - s.BaseAddr
	need := off + uint64(len(raw))
	if need > s.Size() {
		s.bytes = append(s.bytes, make([]byte, need-s.Size())...)
	}
	copy(s.bytes[off:], raw)
	return nil
}

// PatchBytes overwrites n already-present bytes at addr with value,
// little-endian (least-significant byte at the lowest offset). Used
// only by the relocator; it never grows the segment.
func (s *Segment) PatchBytes(addr uint64, n int, value uint64) error {
	if addr < s.BaseAddr {
		return diag.At(diag.KindSemantic, addr, "%s: patch before segment base", s.Kind)
	}
	offset := addr - s.BaseAddr
	if offset+uint64(n) > s.Size() {
		return diag.At(diag.KindSemantic, addr, "%s: patch site out of range", s.Kind)
	}
	for i := 0; i < n; i++ {
		s.bytes[offset+uint64(i)] = byte(value)
		value >>= 8
	}
	return nil
}

// SetBaseAddr freezes addressing: b must be a multiple of Alignment.
func (s *Segment) SetBaseAddr(b uint64) error {
	if b%s.Alignment != 0 {
		return diag.New(diag.KindSemantic, "%s: base 0x%x is not a multiple of alignment %d", s.Kind, b, s.Alignment)
	}
	s.BaseAddr = b
	s.baseSet = true
	return nil
}

// Annotate attaches a comment to an already-written offset.
func (s *Segment) Annotate(addr uint64, comment string) {
	s.annotations[addr-s.BaseAddr] = comment
}

// AddHeader attaches a "# from: <source>" style header line to an
// offset; emitted before the byte row at that offset.
func (s *Segment) AddHeader(addr uint64, text string) {
	off := addr - s.BaseAddr
	s.headers[off] = append(s.headers[off], text)
}

// Bytes returns the segment's defined bytes (length == Size()). The
// emitter never reads past this for bss.
func (s *Segment) Bytes() []byte { return s.bytes }

// Annotation returns the annotation recorded at offset-from-base addr,
// if any.
func (s *Segment) Annotation(addr uint64) (string, bool) {
	v, ok := s.annotations[addr-s.BaseAddr]
	return v, ok
}

// Headers returns header lines recorded at offset-from-base addr.
func (s *Segment) Headers(addr uint64) []string {
	return s.headers[addr-s.BaseAddr]
}
