package vfs

import "strings"

// Separator is the VFS path separator: a NUL byte rather than '/', so
// that '/' is free to appear as an ordinary (if unusual) name byte —
// tarfs's own path translation (tar's '/' to this separator) relies on
// the two being distinct.
const Separator = 0

// invalidNameBytes are bytes no path segment may contain, beyond the
// separator itself.
var invalidNameBytes = []byte{'/', '\\'}

// Path is a Separator-delimited sequence of path segments. The empty
// Path denotes the VFS root.
type Path string

// VerifyPathText reports whether text is a well-formed path: the empty
// string (root) is valid; otherwise it must not start or end with
// Separator, must not contain two consecutive separators (an empty
// segment), must not have a "." segment anywhere, and no segment may
// contain '/' or '\\'.
func VerifyPathText(text string) bool {
	if text == "" {
		return true
	}
	if text[0] == Separator || text[len(text)-1] == Separator {
		return false
	}
	for i := 0; i < len(text)-1; i++ {
		if text[i] == Separator && text[i+1] == Separator {
			return false
		}
	}
	for _, segment := range strings.Split(text, "\x00") {
		if segment == "." {
			return false
		}
		for i := 0; i < len(segment); i++ {
			for _, bad := range invalidNameBytes {
				if segment[i] == bad {
					return false
				}
			}
		}
	}
	return true
}

// Segments splits p into its ordered list of path segments; the root
// path yields an empty slice.
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "\x00")
}

// Name returns the final segment of p, or "" for the root path.
func (p Path) Name() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent returns the path to p's containing folder, or the root path if
// p is already a top-level entry.
func (p Path) Parent() Path {
	segs := p.Segments()
	if len(segs) <= 1 {
		return ""
	}
	return Path(strings.Join(segs[:len(segs)-1], "\x00"))
}

// Join appends name as a new final segment of p.
func (p Path) Join(name string) Path {
	if p == "" {
		return Path(name)
	}
	return p + "\x00" + Path(name)
}
