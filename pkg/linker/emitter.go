package linker

import (
	"bufio"
	"fmt"
	"io"

	"ulmld/pkg/utils"
)

const shebang = "#!/usr/bin/env ulmrun\n"

const bytesPerRow = 4

// Emit writes ctx's linked state back out in the same textual format
// ParseObject accepts. In stripped mode, byte content is emitted as
// one bare contiguous hex string per segment with no gutters, headers,
// labels or annotations: the canonical round-trip form.
func (ctx *Context) Emit(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(shebang); err != nil {
		return err
	}

	if err := emitSegment(bw, ctx.Segment(SegText), "#TEXT", ctx.Args.Stripped); err != nil {
		return err
	}
	if err := emitSegment(bw, ctx.Segment(SegData), "#DATA", ctx.Args.Stripped); err != nil {
		return err
	}

	bss := ctx.Segment(SegBss)
	fmt.Fprintf(bw, "#BSS %d %d\n", bss.Alignment, bss.Size())

	if err := emitSymtab(bw, ctx.Symbols); err != nil {
		return err
	}

	return bw.Flush()
}

func emitSegment(w *bufio.Writer, seg *Segment, directive string, stripped bool) error {
	fmt.Fprintf(w, "%s %d\n", directive, seg.Alignment)

	data := seg.Bytes()
	if stripped {
		if len(data) > 0 {
			fmt.Fprintln(w, utils.EncodeHexBytes(data))
		}
		return nil
	}

	for off := uint64(0); off < uint64(len(data)); off += bytesPerRow {
		addr := seg.BaseAddr + off
		for _, h := range seg.Headers(addr) {
			fmt.Fprintln(w, h)
		}
		end := off + bytesPerRow
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		row := data[off:end]
		line := fmt.Sprintf("0x%X: %s", addr, spacedHex(row))
		if comment, ok := seg.Annotation(addr + uint64(len(row)) - 1); ok {
			line += " # " + comment
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func spacedHex(b []byte) string {
	out := make([]byte, 0, 3*len(b))
	for i, x := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, utils.EncodeHexBytes([]byte{x})...)
	}
	return string(out)
}

func emitSymtab(w *bufio.Writer, syms *SymbolTable) error {
	fmt.Fprintln(w, "#SYMTAB")
	for _, ident := range syms.SortedGlobalIdents() {
		e, _ := syms.Lookup(ident)
		fmt.Fprintf(w, "%c %s 0x%X\n", e.Kind, ident, e.Value)
	}
	// Locals are printed too even though nothing downstream reads them
	// back; a linked-output round trip stays lossless this way.
	for _, ident := range syms.SortedLocalIdents() {
		for _, e := range syms.Locals(ident) {
			fmt.Fprintf(w, "%c %s 0x%X\n", e.Kind, ident, e.Value)
		}
	}
	return nil
}
