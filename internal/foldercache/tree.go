package foldercache

import (
	"sort"
	"strings"
)

// tree is one view (LIST or LSUB) keyed by full path. The root entry "" is always present.
type tree struct {
	snap    *snapshot
	lsub    bool
	entries map[string]*Entry
}

func newTree(lsub bool, root *Entry) *tree {
	t := &tree{lsub: lsub, entries: make(map[string]*Entry)}
	t.put(root)
	return t
}

func (t *tree) get(path string) *Entry {
	return t.entries[path]
}

func (t *tree) root() *Entry {
	return t.entries[""]
}

func (t *tree) put(e *Entry) {
	e.owner = t
	e.lsub = t.lsub
	t.entries[e.fullPath] = e
}

func (t *tree) len() int {
	return len(t.entries)
}

// link makes child a child of parent.
func (t *tree) link(parent, child *Entry) {
	if old, ok := child.ParentPath(); ok && old != parent.fullPath {
		if p := t.get(old); p != nil {
			p.removeChild(child)
		}
	}
	child.setParent(parent)
	parent.addChild(child)
}

// linkOrRoot links e below its parent path, or below the root when that parent is unknown.
func (t *tree) linkOrRoot(e *Entry) {
	if e.IsRoot() {
		return
	}
	parent := t.get(e.parentPathOf())
	if parent == nil {
		parent = t.root()
	}
	t.link(parent, e)
}

// attach links e below its parent path, synthesizing dummy ancestors as needed.
func (t *tree) attach(e *Entry, ns Namespaces) {
	for !e.IsRoot() {
		parentPath := e.parentPathOf()
		if parent := t.get(parentPath); parent != nil {
			t.link(parent, e)
			return
		}
		parent := newDummy(parentPath, e.separator, ns)
		t.put(parent)
		t.link(parent, e)
		e = parent
	}
}

// newDummy synthesizes an ancestor that was never reported by the server.
func newDummy(path string, separator rune, ns Namespaces) *Entry {
	d := NewEntry([]string{`\NoSelect`, `\HasChildren`}, separator, path)
	d.dummy = true
	d.namespace = ns.IsNamespaceRoot(d.fullPath)
	return d
}

// newNamespaceRoot synthesizes a shared or other-user namespace root the server did not list.
func newNamespaceRoot(path string, separator rune) *Entry {
	e := NewEntry([]string{`\NoSelect`, `\HasNoChildren`}, separator, path)
	e.dummy = true
	e.namespace = true
	return e
}

// removeSubtree deletes path and all descendants, unlinking it from its parent. It returns the
// removed entries, parents first.
func (t *tree) removeSubtree(path string) []*Entry {
	e := t.get(path)
	if e == nil || e.IsRoot() {
		return nil
	}
	if parent := e.Parent(); parent != nil {
		parent.removeChild(e)
	}
	var removed []*Entry
	var walk func(*Entry)
	walk = func(n *Entry) {
		removed = append(removed, n)
		delete(t.entries, n.fullPath)
		for child := range n.children {
			if c := t.get(child); c != nil {
				walk(c)
			}
		}
	}
	walk(e)
	return removed
}

// descendants returns e's subtree paths (e included) by prefix, which also catches entries
// whose links are incomplete.
func (t *tree) descendants(e *Entry) []*Entry {
	out := []*Entry{e}
	if e.separator == 0 {
		return out
	}
	prefix := e.fullPath + string(e.separator)
	for p, c := range t.entries {
		if strings.HasPrefix(p, prefix) {
			out = append(out, c)
		}
	}
	sortEntries(out)
	return out
}

// sorted returns all entries ordered by path, parents before children.
func (t *tree) sorted() []*Entry {
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func (t *tree) clone() *tree {
	c := &tree{lsub: t.lsub, entries: make(map[string]*Entry, len(t.entries))}
	for _, e := range t.entries {
		c.put(e.clone())
	}
	return c
}

// depth counts the parent hops from e to the root; -1 means the chain is broken.
func (t *tree) depth(e *Entry) int {
	hops := 0
	for !e.IsRoot() {
		parent := e.Parent()
		if parent == nil || hops > len(t.entries) {
			return -1
		}
		e = parent
		hops++
	}
	return hops
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Compare(entries[j]) < 0 })
}
