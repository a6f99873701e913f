package linker

// ContextArgs holds resolved CLI state, assumed already parsed by the
// driver.
type ContextArgs struct {
	Output       string
	TextSeg      uint64
	LibraryPaths []string
	OnlyLibs     bool
	Stripped     bool
}

// Context is the single link-job value that owns all linker state:
// segments, symbol tables, and fixups.
type Context struct {
	Args ContextArgs

	segments [3]*Segment
	Symbols  *SymbolTable
	Fixups   []Fixup

	// pulledMembers records, per archive path, which members have
	// already been parsed from it, so re-including the same archive
	// (or sweeping it again inside a group) never parses a member
	// twice.
	pulledMembers map[string]map[string]bool
}

func NewContext() *Context {
	return &Context{
		Args: ContextArgs{
			Output:  "a.out",
			TextSeg: 0,
		},
		segments: [3]*Segment{
			NewSegment(SegText),
			NewSegment(SegData),
			NewSegment(SegBss),
		},
		Symbols:       NewSymbolTable(),
		pulledMembers: make(map[string]map[string]bool),
	}
}

// Segment returns the segment buffer for kind.
func (c *Context) Segment(kind SegKind) *Segment {
	return c.segments[kind]
}

func (c *Context) markPulled(archivePath, member string) bool {
	set, ok := c.pulledMembers[archivePath]
	if !ok {
		set = make(map[string]bool)
		c.pulledMembers[archivePath] = set
	}
	if set[member] {
		return false
	}
	set[member] = true
	return true
}
