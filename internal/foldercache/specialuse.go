package foldercache

import "sort"

// SpecialUse is an RFC 6154 mailbox role.
type SpecialUse string

const (
	Drafts  SpecialUse = "drafts"
	Junk    SpecialUse = "junk"
	Sent    SpecialUse = "sent"
	Trash   SpecialUse = "trash"
	Archive SpecialUse = "archive"
)

// SpecialUses lists the roles that are indexed.
var SpecialUses = []SpecialUse{Drafts, Junk, Sent, Trash, Archive}

// specialIndex maps each role to the set of LIST paths carrying it.
type specialIndex map[SpecialUse]map[string]struct{}

func newSpecialIndex() specialIndex {
	idx := make(specialIndex, len(SpecialUses))
	for _, use := range SpecialUses {
		idx[use] = make(map[string]struct{})
	}
	return idx
}

// record indexes e under every role it carries.
func (idx specialIndex) record(e *Entry) {
	for _, use := range SpecialUses {
		if e.HasAttribute(string(use)) {
			idx[use][e.fullPath] = struct{}{}
		}
	}
}

// retain copies the tags of prior whose paths still exist in t.
func (idx specialIndex) retain(prior specialIndex, t *tree) {
	for use, paths := range prior {
		for p := range paths {
			if t.get(p) != nil {
				idx[use][p] = struct{}{}
			}
		}
	}
}

func (idx specialIndex) drop(path string) {
	for _, paths := range idx {
		delete(paths, path)
	}
}

func (idx specialIndex) clone() specialIndex {
	c := newSpecialIndex()
	for use, paths := range idx {
		for p := range paths {
			c[use][p] = struct{}{}
		}
	}
	return c
}

func (idx specialIndex) sorted(use SpecialUse) []string {
	out := make([]string, 0, len(idx[use]))
	for p := range idx[use] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return comparePaths(out[i], out[j]) < 0 })
	return out
}
