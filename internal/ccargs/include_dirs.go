package ccargs

// IncludeDirs groups the path-rewriting options
// (-I, -idirafter, -imacros, -include, -iprefix, -isystem). Kept as
// a small ordered-list container, the same shape as
// github.com/VKCOM/nocc's internal/client/include-dirs.go IncludeDirs,
// generalized from nocc's fixed four kinds to any recognized flag name.
type IncludeDirs struct {
	entries []includeDirEntry
}

type includeDirEntry struct {
	flag string // e.g. "-I", "-isystem"
	path string // rewritten (or original, if rewriting failed) path
}

func (d *IncludeDirs) Add(flag, path string) {
	d.entries = append(d.entries, includeDirEntry{flag, path})
}

func (d *IncludeDirs) Count() int { return len(d.entries) }

// AsArgs reconstructs the "-flag value" pairs in original order.
func (d *IncludeDirs) AsArgs() []string {
	out := make([]string, 0, 2*len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.flag, e.path)
	}
	return out
}
