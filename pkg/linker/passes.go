package linker

import "ulmld/pkg/utils"

// Place assigns final base addresses to the three segments and
// rewrites every global T/D/B symbol's value from a segment offset to
// an absolute address: a straight-line walk accumulating an address
// cursor with utils.AlignTo at each step.
func (ctx *Context) Place() error {
	text := ctx.Segment(SegText)
	data := ctx.Segment(SegData)
	bss := ctx.Segment(SegBss)

	if err := text.SetBaseAddr(ctx.Args.TextSeg); err != nil {
		return err
	}

	dataBase := utils.AlignTo(text.EndAddr(), data.Alignment)
	if err := text.AdvanceTo(dataBase); err != nil {
		return err
	}
	if err := data.SetBaseAddr(dataBase); err != nil {
		return err
	}

	bssBase := utils.AlignTo(data.EndAddr(), bss.Alignment)
	if err := bss.SetBaseAddr(bssBase); err != nil {
		return err
	}

	return ctx.Symbols.ApplyPlacement([3]uint64{text.BaseAddr, data.BaseAddr, bss.BaseAddr})
}
