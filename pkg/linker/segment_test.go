package linker

import "testing"

func TestSegmentSetAlignmentRejectsNonPowerOfTwo(t *testing.T) {
	s := NewSegment(SegText)
	if err := s.SetAlignment(3, "a.o"); err == nil {
		t.Fatal("expected error for non-power-of-two alignment")
	}
}

func TestSegmentAdvanceToPadsWithFillAndAnnotates(t *testing.T) {
	s := NewSegment(SegText)
	if err := s.InsertByteString(0, "0011"); err != nil {
		t.Fatalf("InsertByteString: %v", err)
	}
	if err := s.AdvanceTo(8); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}
	if s.Size() != 8 {
		t.Fatalf("Size() = %d, want 8", s.Size())
	}
	for i := uint64(2); i < 8; i++ {
		if s.Bytes()[i] != defaultFill {
			t.Errorf("byte at %d = 0x%x, want fill 0x%x", i, s.Bytes()[i], defaultFill)
		}
	}
	if _, ok := s.Annotation(7); !ok {
		t.Error("expected padding annotation at last filled offset")
	}
}

func TestSegmentAdvanceToRejectsBackwardMove(t *testing.T) {
	s := NewSegment(SegText)
	if err := s.AdvanceTo(8); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}
	if err := s.AdvanceTo(4); err == nil {
		t.Fatal("expected error moving backward")
	}
}

func TestSegmentPatchBytesLittleEndian(t *testing.T) {
	s := NewSegment(SegText)
	if err := s.InsertByteString(0, "0000000000000000"); err != nil {
		t.Fatalf("InsertByteString: %v", err)
	}
	// w1 of 0xDEADBEEFCAFEBABE is (v>>16)&0xFFFF = 0xCAFE, little-endian FE CA.
	v := uint64(0xDEADBEEFCAFEBABE)
	w1 := (v >> 16) & 0xFFFF
	if err := s.PatchBytes(0, 2, w1); err != nil {
		t.Fatalf("PatchBytes: %v", err)
	}
	got := s.Bytes()[:2]
	want := []byte{0xFE, 0xCA}
	if got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("PatchBytes result = % x, want % x", got, want)
	}
}

func TestSegmentPatchBytesRejectsOutOfRange(t *testing.T) {
	s := NewSegment(SegText)
	if err := s.InsertByteString(0, "00"); err != nil {
		t.Fatalf("InsertByteString: %v", err)
	}
	if err := s.PatchBytes(0, 4, 1); err == nil {
		t.Fatal("expected error patching beyond segment size")
	}
}

func TestSegmentSetBaseAddrRequiresAlignment(t *testing.T) {
	s := NewSegment(SegText)
	if err := s.SetAlignment(16, "a.o"); err != nil {
		t.Fatalf("SetAlignment: %v", err)
	}
	if err := s.SetBaseAddr(0x1008); err == nil {
		t.Fatal("expected error for misaligned base address")
	}
	if err := s.SetBaseAddr(0x1000); err != nil {
		t.Fatalf("SetBaseAddr: %v", err)
	}
}

func TestSegmentMarkRoundTrip(t *testing.T) {
	s := NewSegment(SegText)
	s.SetMark("a.o")
	if err := s.InsertByteString(0, "00112233"); err != nil {
		t.Fatalf("InsertByteString: %v", err)
	}
	s.SetMark("b.o")
	if err := s.InsertByteString(4, "44556677"); err != nil {
		t.Fatalf("InsertByteString: %v", err)
	}
	markA, _ := s.GetMark("a.o")
	markB, _ := s.GetMark("b.o")
	if markA != 0 || markB != 4 {
		t.Fatalf("marks = %d, %d, want 0, 4", markA, markB)
	}
}
