package linker

import (
	"bytes"
	"testing"
)

func TestArchiveWriteParseRoundTrip(t *testing.T) {
	members := []Member{
		{Name: "a.o", Mtime: 0, Uid: 0, Gid: 0, Mode: 0o644, Data: []byte("#TEXT\n00112233\n#SYMTAB\n")},
		{Name: "b.o", Mtime: 0, Uid: 0, Gid: 0, Mode: 0o644, Data: []byte("#TEXT\n0011\n#SYMTAB\n")},
	}

	var buf bytes.Buffer
	if err := WriteArchive(&buf, members); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	arc, err := ParseArchive("test.a", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseArchive: %v", err)
	}

	got := arc.Members()
	if len(got) != 2 {
		t.Fatalf("len(Members()) = %d, want 2", len(got))
	}
	if got[0].Name != "a.o" || got[1].Name != "b.o" {
		t.Fatalf("member order = %q, %q, want a.o, b.o", got[0].Name, got[1].Name)
	}
	if string(got[0].Data) != string(members[0].Data) {
		t.Fatalf("a.o data = %q, want %q", got[0].Data, members[0].Data)
	}
}

func TestArchiveOddSizeBodyIsPadded(t *testing.T) {
	members := []Member{
		{Name: "odd.o", Data: []byte("x")},
		{Name: "next.o", Data: []byte("#TEXT\n")},
	}
	var buf bytes.Buffer
	if err := WriteArchive(&buf, members); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	arc, err := ParseArchive("test.a", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseArchive: %v", err)
	}
	if len(arc.Members()) != 2 {
		t.Fatalf("len(Members()) = %d, want 2", len(arc.Members()))
	}
	if string(arc.Members()[1].Data) != "#TEXT\n" {
		t.Fatalf("next.o data = %q", arc.Members()[1].Data)
	}
}

func TestArchiveLongNameUsesStringTable(t *testing.T) {
	longName := "a-rather-long-member-name-that-does-not-fit-in-sixteen-bytes.o"
	members := []Member{{Name: longName, Data: []byte("#TEXT\n")}}
	var buf bytes.Buffer
	if err := WriteArchive(&buf, members); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	arc, err := ParseArchive("test.a", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseArchive: %v", err)
	}
	if len(arc.Members()) != 1 || arc.Members()[0].Name != longName {
		t.Fatalf("long name round trip failed: got %+v", arc.Members())
	}
}

func TestArchiveDuplicateMemberNameIsError(t *testing.T) {
	members := []Member{
		{Name: "dup.o", Data: []byte("#TEXT\n")},
		{Name: "dup.o", Data: []byte("#DATA\n")},
	}
	var buf bytes.Buffer
	if err := WriteArchive(&buf, members); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	if _, err := ParseArchive("test.a", buf.Bytes()); err == nil {
		t.Fatal("expected error for duplicate member name")
	}
}

func TestArchiveBadMagicIsError(t *testing.T) {
	if _, err := ParseArchive("bad.a", []byte("not an archive")); err == nil {
		t.Fatal("expected error for bad archive magic")
	}
}

// GNU ar emits the "/" symbol-table member before the "//" string
// table whenever both are present, so a symtab-then-string-table
// archive must parse, not trip the "string table not first" check.
func TestArchiveSymtabBeforeStringTable(t *testing.T) {
	longName := "a-rather-long-member-name-that-does-not-fit-in-sixteen-bytes.o"

	var buf bytes.Buffer
	if _, err := buf.WriteString(arMagic); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	if err := writeArMember(&buf, "/", 0, 0, 0, 0, []byte("ignored symtab body")); err != nil {
		t.Fatalf("write symtab member: %v", err)
	}
	if err := writeArMember(&buf, "//", 0, 0, 0, 0, []byte(longName+"/\n")); err != nil {
		t.Fatalf("write string table member: %v", err)
	}
	if err := writeArMember(&buf, "/0", 0, 0, 0, 0o644, []byte("#TEXT\n")); err != nil {
		t.Fatalf("write ordinary member: %v", err)
	}

	arc, err := ParseArchive("test.a", buf.Bytes())
	if err != nil {
		t.Fatalf("ParseArchive: %v", err)
	}
	if _, ok := arc.SymtabMember(); !ok {
		t.Fatal("expected a symtab member")
	}
	if len(arc.Members()) != 1 || arc.Members()[0].Name != longName {
		t.Fatalf("long name round trip failed: got %+v", arc.Members())
	}
}

// A string table arriving after an ordinary member is still rejected:
// only a preceding "/" symtab is allowed ahead of it.
func TestArchiveStringTableAfterOrdinaryMemberIsError(t *testing.T) {
	var buf bytes.Buffer
	if _, err := buf.WriteString(arMagic); err != nil {
		t.Fatalf("write magic: %v", err)
	}
	if err := writeArMember(&buf, "a.o/", 0, 0, 0, 0o644, []byte("#TEXT\n")); err != nil {
		t.Fatalf("write ordinary member: %v", err)
	}
	if err := writeArMember(&buf, "//", 0, 0, 0, 0, []byte("b.o/\n")); err != nil {
		t.Fatalf("write string table member: %v", err)
	}
	if _, err := ParseArchive("test.a", buf.Bytes()); err == nil {
		t.Fatal("expected error for string table after an ordinary member")
	}
}
