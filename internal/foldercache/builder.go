package foldercache

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// builder turns one unordered batch of listing records into a linked tree.
type builder struct {
	t       *tree
	ns      Namespaces
	pending map[string][]*Entry
	special specialIndex
	log     *logrus.Entry
}

// buildTree runs the full build for one view. Special-use tags are only indexed for LIST.
func buildTree(root *Entry, records []Record, lsub bool, ns Namespaces, log *logrus.Entry) (*tree, specialIndex) {
	b := &builder{
		t:       newTree(lsub, root),
		ns:      ns,
		pending: make(map[string][]*Entry),
		special: newSpecialIndex(),
		log:     log,
	}
	for _, e := range b.parse(records) {
		b.insert(e)
	}
	b.resolvePending()
	if !lsub {
		b.addNamespaceRoots()
	}
	return b.t, b.special
}

// parse converts records to entries sorted by path. Malformed records are skipped.
func (b *builder) parse(records []Record) []*Entry {
	entries := make([]*Entry, 0, len(records))
	for _, r := range records {
		e, err := r.toEntry()
		if err != nil {
			b.log.WithError(err).Warn("Skipping malformed listing record")
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Compare(entries[j]) < 0 })
	return entries
}

func (b *builder) insert(e *Entry) {
	if e.IsRoot() {
		return
	}
	e.namespace = b.ns.IsNamespaceRoot(e.fullPath)

	if existing := b.t.get(e.fullPath); existing != nil {
		// A path reported twice in one batch: the later record wins, links stay.
		existing.setAttributes(e.Attributes())
		existing.separator = e.separator
		existing.originalPath = e.originalPath
		existing.dummy = false
		e = existing
	} else {
		b.t.put(e)
		parentPath := e.parentPathOf()
		if parent := b.t.get(parentPath); parent != nil {
			b.t.link(parent, e)
		} else {
			b.pending[parentPath] = append(b.pending[parentPath], e)
		}
	}

	if !b.t.lsub {
		b.special.record(e)
	}
}

// resolvePending links deferred children, synthesizing dummies for parents that never showed
// up. Each round may defer the dummies' own parents to the next one.
func (b *builder) resolvePending() {
	for len(b.pending) > 0 {
		next := make(map[string][]*Entry)
		for _, parentPath := range sortedKeys(b.pending) {
			children := b.pending[parentPath]
			parent := b.t.get(parentPath)
			if parent == nil {
				parent = newDummy(parentPath, children[0].separator, b.ns)
				b.t.put(parent)
				grandParentPath := parent.parentPathOf()
				if gp := b.t.get(grandParentPath); gp != nil {
					b.t.link(gp, parent)
				} else {
					next[grandParentPath] = append(next[grandParentPath], parent)
				}
			}
			for _, child := range children {
				b.t.link(parent, child)
			}
		}
		b.pending = next
	}
}

// addNamespaceRoots makes every shared and other-user namespace visible in LIST, even when
// the server did not list it. Namespace roots are never selectable.
func (b *builder) addNamespaceRoots() {
	for _, n := range b.ns.nonPersonal() {
		path := n.Path()
		if path == "" {
			continue
		}
		if e := b.t.get(path); e != nil {
			e.canOpen = false
			e.namespace = true
			continue
		}
		e := newNamespaceRoot(path, n.Delimiter)
		b.t.put(e)
		b.t.linkOrRoot(e)
	}
}

func sortedKeys(m map[string][]*Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return comparePaths(keys[i], keys[j]) < 0 })
	return keys
}
