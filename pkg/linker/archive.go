package linker

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ulmld/internal/diag"
)

// A common-portable ar(5) archive reader: a flat byte-slice walk over
// the member directory rather than a streaming reader.

const arMagic = "!<arch>\n"
const arHeaderSize = 60

// Member describes one archive member's metadata and a byte-range
// into the archive's backing bytes. Data is a borrowed slice; callers
// that need to retain it must copy.
type Member struct {
	Name  string
	Mtime uint64
	Uid   uint64
	Gid   uint64
	Mode  uint64
	Size  uint64
	Data  []byte
}

// Archive is the parsed in-memory directory of an ar(5) file.
type Archive struct {
	Path     string
	contents []byte
	members  []Member
	symtab   *Member
	byName   map[string]int
}

// OpenArchive reads path whole and parses its directory. Any parse
// error aborts and returns a nil *Archive: no partial directory is
// ever exposed to the caller.
func OpenArchive(path string) (*Archive, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, diag.Wrap(diag.KindIO, err, "cannot open archive %s", path)
	}
	return ParseArchive(path, contents)
}

// ParseArchive parses already-read archive bytes. Exposed separately
// from OpenArchive so tests can build archives in memory.
func ParseArchive(path string, contents []byte) (*Archive, error) {
	if len(contents) < len(arMagic) || string(contents[:len(arMagic)]) != arMagic {
		return nil, diag.New(diag.KindFormat, "%s: bad archive magic", path)
	}

	a := &Archive{Path: path, contents: contents, byName: make(map[string]int)}

	var stringTable []byte
	pos := len(arMagic)
	sawOrdinaryMember := false

	for pos < len(contents) {
		if pos%2 == 1 {
			pos++
		}
		if len(contents)-pos < arHeaderSize {
			break
		}
		hdr := contents[pos : pos+arHeaderSize]
		pos += arHeaderSize

		rawName := hdr[0:16]
		dateF := hdr[16:28]
		uidF := hdr[28:34]
		gidF := hdr[34:40]
		modeF := hdr[40:48]
		sizeF := hdr[48:58]
		fmag := hdr[58:60]

		if string(fmag) != "`\n" {
			return nil, diag.New(diag.KindFormat, "%s: bad member trailer", path)
		}

		size, err := parseDecimal(sizeF)
		if err != nil {
			return nil, diag.Wrap(diag.KindFormat, err, "%s: bad member size", path)
		}
		if uint64(pos)+size > uint64(len(contents)) {
			return nil, diag.New(diag.KindFormat, "%s: member overruns archive", path)
		}
		body := contents[pos : uint64(pos)+size]
		pos += int(size)

		if strings.HasPrefix(string(rawName), "//") {
			if sawOrdinaryMember {
				return nil, diag.New(diag.KindFormat, "%s: string table must precede every ordinary member", path)
			}
			stringTable = body
			continue
		}

		name, err := resolveMemberName(rawName, stringTable)
		if err != nil {
			return nil, diag.Wrap(diag.KindFormat, err, "%s: bad member name", path)
		}

		date, err := parseDecimal(dateF)
		if err != nil {
			return nil, diag.Wrap(diag.KindFormat, err, "%s: bad member date", path)
		}
		uid, err := parseDecimal(uidF)
		if err != nil {
			return nil, diag.Wrap(diag.KindFormat, err, "%s: bad member uid", path)
		}
		gid, err := parseDecimal(gidF)
		if err != nil {
			return nil, diag.Wrap(diag.KindFormat, err, "%s: bad member gid", path)
		}
		mode, err := parseOctal(modeF)
		if err != nil {
			return nil, diag.Wrap(diag.KindFormat, err, "%s: bad member mode", path)
		}

		m := Member{Name: name, Mtime: date, Uid: uid, Gid: gid, Mode: mode, Size: size, Data: body}

		if name == "" || name == "/" {
			sym := m
			a.symtab = &sym
			continue
		}
		sawOrdinaryMember = true

		if _, dup := a.byName[name]; dup {
			return nil, diag.New(diag.KindFormat, "%s: duplicate member name %q", path, name)
		}
		a.byName[name] = len(a.members)
		a.members = append(a.members, m)
	}

	return a, nil
}

// resolveMemberName implements the three name forms ar(5) allows: a
// GNU-style "/<offset>" reference into the string table, a plain
// "name/" terminated field, and the BSD trailing-blanks form.
func resolveMemberName(raw []byte, stringTable []byte) (string, error) {
	if raw[0] == '/' && raw[1] != ' ' {
		if stringTable == nil {
			return "", fmt.Errorf("name references string table but none was seen")
		}
		off, err := parseDecimal(raw[1:])
		if err != nil {
			return "", fmt.Errorf("bad string table offset: %w", err)
		}
		if off >= uint64(len(stringTable)) {
			return "", fmt.Errorf("string table offset out of range")
		}
		end := off
		for end < uint64(len(stringTable)) && stringTable[end] != '/' {
			end++
		}
		if end >= uint64(len(stringTable)) {
			return "", fmt.Errorf("unterminated string table entry")
		}
		return string(stringTable[off:end]), nil
	}

	i := 0
	blank := -1
	for ; i < len(raw); i++ {
		ch := raw[i]
		if ch == '/' {
			break
		}
		if ch != ' ' {
			blank = -1
		} else if blank < 0 {
			blank = i
		}
	}
	switch {
	case i < len(raw):
		return string(raw[:i]), nil
	case blank >= 0:
		return string(raw[:blank]), nil
	case i == 0:
		return "", nil
	default:
		return "", fmt.Errorf("name not terminated")
	}
}

func parseDecimal(field []byte) (uint64, error) {
	return parseNumeric(field, 10)
}

func parseOctal(field []byte) (uint64, error) {
	return parseNumeric(field, 8)
}

func parseNumeric(field []byte, base int) (uint64, error) {
	s := strings.TrimSpace(string(field))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Members returns the archive's ordinary members in archive order.
func (a *Archive) Members() []Member { return a.members }

// SymtabMember returns the archive's ranlib-style symbol table member,
// if any (the member whose ar_name is empty or "/").
func (a *Archive) SymtabMember() (Member, bool) {
	if a.symtab == nil {
		return Member{}, false
	}
	return *a.symtab, true
}

// Open returns a byte-stream reader over the named member's body.
func (a *Archive) Open(name string) (io.Reader, bool) {
	idx, ok := a.byName[name]
	if !ok {
		return nil, false
	}
	return strings.NewReader(string(a.members[idx].Data)), true
}

// MemberByName returns the member with this exact name, if any.
func (a *Archive) MemberByName(name string) (Member, bool) {
	idx, ok := a.byName[name]
	if !ok {
		return Member{}, false
	}
	return a.members[idx], true
}

// WriteArchive serializes members as a common-portable ar(5) archive,
// adding a string-table member automatically when any name is too long
// for a plain 16-byte field. Used only by cmd/ulmranlib to rewrite a
// symbol index.
func WriteArchive(w io.Writer, members []Member) error {
	if _, err := io.WriteString(w, arMagic); err != nil {
		return err
	}

	var longNames strings.Builder
	offsets := make(map[string]int, len(members))
	for _, m := range members {
		if len(m.Name) > 15 {
			offsets[m.Name] = longNames.Len()
			longNames.WriteString(m.Name)
			longNames.WriteString("/\n")
		}
	}

	if longNames.Len() > 0 {
		if err := writeArMember(w, "//", 0, 0, 0, 0, []byte(longNames.String())); err != nil {
			return err
		}
	}

	for _, m := range members {
		name := m.Name + "/"
		if off, long := offsets[m.Name]; long {
			name = fmt.Sprintf("/%d", off)
		}
		if err := writeArMember(w, name, m.Mtime, m.Uid, m.Gid, m.Mode, m.Data); err != nil {
			return err
		}
	}
	return nil
}

func writeArMember(w io.Writer, name string, mtime, uid, gid, mode uint64, data []byte) error {
	hdr := make([]byte, arHeaderSize)
	for i := range hdr {
		hdr[i] = ' '
	}
	copy(hdr[0:16], fmt.Sprintf("%-16s", truncate(name, 16)))
	copy(hdr[16:28], fmt.Sprintf("%-12d", mtime))
	copy(hdr[28:34], fmt.Sprintf("%-6d", uid))
	copy(hdr[34:40], fmt.Sprintf("%-6d", gid))
	copy(hdr[40:48], fmt.Sprintf("%-8o", mode))
	copy(hdr[48:58], fmt.Sprintf("%-10d", len(data)))
	copy(hdr[58:60], "`\n")

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if len(data)%2 == 1 {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
