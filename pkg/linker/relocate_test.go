package linker

import (
	"bytes"
	"testing"
)

func TestRelocateRelativeFixupAcrossObjects(t *testing.T) {
	ctx := NewContext()

	aObj := "#TEXT\n00000000\n#SYMTAB\nT main 0x0\nU f\n#FIXUPS\ntext 0x0 0 32 relative f\n"
	bObj := "#TEXT\n00000000\n#SYMTAB\nT f 0x0\n"

	if err := ParseObject(ctx, "a.o", []byte(aObj)); err != nil {
		t.Fatalf("ParseObject a.o: %v", err)
	}
	if err := ParseObject(ctx, "b.o", []byte(bObj)); err != nil {
		t.Fatalf("ParseObject b.o: %v", err)
	}

	if err := ctx.Place(); err != nil {
		t.Fatalf("Place: %v", err)
	}

	mainSym, ok := ctx.Symbols.Lookup("main")
	if !ok || mainSym.Value != ctx.Segment(SegText).BaseAddr {
		t.Fatalf("main = %+v, want value == text.base", mainSym)
	}
	fSym, ok := ctx.Symbols.Lookup("f")
	if !ok || fSym.Value != ctx.Segment(SegText).BaseAddr+4 {
		t.Fatalf("f = %+v, want value == text.base+4", fSym)
	}

	if err := ctx.Relocate(); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	patched := ctx.Segment(SegText).Bytes()[0:4]
	want := []byte{1, 0, 0, 0}
	if !bytes.Equal(patched, want) {
		t.Fatalf("patched field = % x, want % x", patched, want)
	}
}

func TestRelocateW1FixupArithmetic(t *testing.T) {
	ctx := NewContext()
	src := "#TEXT\n0000\n#SYMTAB\nA S 0xDEADBEEFCAFEBABE\n#FIXUPS\ntext 0x0 0 16 w1 S\n"
	if err := ParseObject(ctx, "a.o", []byte(src)); err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if err := ctx.Place(); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := ctx.Relocate(); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	got := ctx.Segment(SegText).Bytes()[0:2]
	// w1 = (V>>16)&0xFFFF = 0xCAFE, little-endian FE CA.
	want := []byte{0xFE, 0xCA}
	if !bytes.Equal(got, want) {
		t.Fatalf("patched field = % x, want % x", got, want)
	}
}

func TestRelocateUnresolvedSymbolIsError(t *testing.T) {
	ctx := NewContext()
	src := "#TEXT\n0000\n#FIXUPS\ntext 0x0 0 16 absolute ghost\n"
	if err := ParseObject(ctx, "a.o", []byte(src)); err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if err := ctx.Place(); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := ctx.Relocate(); err == nil {
		t.Fatal("expected unresolved symbol error")
	}
}

func TestRelocateRelativeRequiresMultipleOfFour(t *testing.T) {
	ctx := NewContext()
	src := "#TEXT\n00000000\n#SYMTAB\nT f 0x1\n#FIXUPS\ntext 0x0 0 32 relative f\n"
	if err := ParseObject(ctx, "a.o", []byte(src)); err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if err := ctx.Place(); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := ctx.Relocate(); err == nil {
		t.Fatal("expected relative-fixup-not-multiple-of-4 error")
	}
}

func TestRelocateSegmentSelfReference(t *testing.T) {
	ctx := NewContext()
	ctx.Args.TextSeg = 0x1000
	src := "#TEXT\n00000000\n#FIXUPS\ntext 0x0 0 32 absolute [text]+4\n"
	if err := ParseObject(ctx, "a.o", []byte(src)); err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if err := ctx.Place(); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := ctx.Relocate(); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	got := ctx.Segment(SegText).Bytes()[0:4]
	want := []byte{0x04, 0x10, 0x00, 0x00} // 0x1004 little-endian
	if !bytes.Equal(got, want) {
		t.Fatalf("patched field = % x, want % x", got, want)
	}
}
