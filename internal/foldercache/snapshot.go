package foldercache

// snapshot is one immutable generation of a Collection's data. Mutations build a new snapshot
// and swap it in.
type snapshot struct {
	list    *tree
	lsub    *tree
	special specialIndex
	mbox    Tristate
}

func newSnapshot(list, lsub *tree, special specialIndex) *snapshot {
	s := &snapshot{list: list, lsub: lsub, special: special}
	list.snap = s
	lsub.snap = s
	s.mbox = considerMbox(list)
	return s
}

func (s *snapshot) clone() *snapshot {
	return newSnapshot(s.list.clone(), s.lsub.clone(), s.special.clone())
}

// separator returns the root hierarchy delimiter.
func (s *snapshot) separator() rune {
	return s.list.root().separator
}

// normalize applies path normalization using the root delimiter, for lookups by caller input.
func (s *snapshot) normalize(path string) string {
	return NormalizePath(path, s.separator())
}

// reindexSpecialUse rebuilds the special-use index from LIST attributes, keeping the prior
// tags of paths that still exist.
func (s *snapshot) reindexSpecialUse(prior specialIndex) {
	idx := newSpecialIndex()
	for _, e := range s.list.entries {
		idx.record(e)
	}
	if prior != nil {
		idx.retain(prior, s.list)
	}
	s.special = idx
}

// considerMbox guesses whether the store is mbox-like, where a folder holds either messages or
// subfolders but never both.
func considerMbox(list *tree) Tristate {
	seen := false
	for _, e := range list.entries {
		if e.IsRoot() || e.dummy || e.namespace || e.fullPath == inbox {
			continue
		}
		seen = true
		if e.canOpen && e.hasInferiors {
			return No
		}
	}
	if !seen {
		return Unknown
	}
	return Yes
}
