package scheme

import (
	"fmt"
	"strings"

	"github.com/klish-project/klish/core/entry"
)

// resolveLinks walks every view looking for entries created with a
// ref_str, resolves each by a '/'-separated path walk from the scheme
// root, and rejects cycles with a three-color DFS — adapted from the
// teacher's `@cmd()` call-cycle detector (runtime/validation/recursion.go,
// since deleted from this workspace as dead weight from an earlier
// generation of the teacher repo; its detectRecursion walked a decorator
// call graph coloring nodes white/gray/black exactly the way this walks
// an entry-alias graph) from call-cycle detection to entry-alias-cycle
// detection (§9 "detect at load time with a colored DFS").
func resolveLinks(s *Scheme) []LoadError {
	var errs []LoadError

	color := make(map[*entry.Entry]int) // 0=white, 1=gray, 2=black
	var visit func(e *entry.Entry, path string) bool
	visit = func(e *entry.Entry, path string) bool {
		if color[e] == 2 {
			return true
		}
		if color[e] == 1 {
			errs = append(errs, LoadError{Path: path, Name: e.Name, Message: "cyclic ref_str reference"})
			return false
		}
		color[e] = 1
		if e.IsLink() {
			target, ok := lookupPath(s, e.RefStr())
			if !ok {
				errs = append(errs, LoadError{Path: path, Name: e.Name,
					Message: fmt.Sprintf("dangling reference %q", e.RefStr())})
				color[e] = 2
				return false
			}
			if !visit(target, e.RefStr()) {
				color[e] = 2
				return false
			}
			e.SetTarget(target)
		}
		for _, c := range e.Entries {
			visit(c, path+"/"+e.Name)
		}
		color[e] = 2
		return true
	}

	for name, view := range s.Views {
		visit(view, name)
	}

	return errs
}

// lookupPath walks a '/'-separated path from the scheme root (a view
// name, then nested command/param names) to the entry it names.
func lookupPath(s *Scheme, path string) (*entry.Entry, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, false
	}
	cur, ok := s.Views[parts[0]]
	if !ok {
		return nil, false
	}
	for _, name := range parts[1:] {
		child := cur.FindChild(name)
		if child == nil {
			return nil, false
		}
		cur = child
	}
	return cur, true
}
