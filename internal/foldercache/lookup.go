package foldercache

import "context"

// List returns the LIST entry for path, or nil when the folder is unknown. It fails with
// ErrCacheDeprecated unless the data is initialized.
func (c *Collection) List(path string) (*Entry, error) {
	if c.IsDeprecated() {
		return nil, ErrCacheDeprecated
	}
	return c.ListIgnoreDeprecated(path), nil
}

// Lsub is List for the subscribed view.
func (c *Collection) Lsub(path string) (*Entry, error) {
	if c.IsDeprecated() {
		return nil, ErrCacheDeprecated
	}
	return c.LsubIgnoreDeprecated(path), nil
}

// ListIgnoreDeprecated looks path up in whatever data is currently published.
func (c *Collection) ListIgnoreDeprecated(path string) *Entry {
	return c.lookup(path, false)
}

// LsubIgnoreDeprecated is ListIgnoreDeprecated for the subscribed view.
func (c *Collection) LsubIgnoreDeprecated(path string) *Entry {
	return c.lookup(path, true)
}

func (c *Collection) lookup(path string, lsub bool) *Entry {
	c.touch()
	s := c.snap.Load()
	if s == nil {
		c.metrics.lookup(context.Background(), false)
		return nil
	}
	t := s.list
	if lsub {
		t = s.lsub
	}
	e := t.get(s.normalize(path))
	c.metrics.lookup(context.Background(), e != nil)
	return e
}

// Root returns the LIST root, or nil before the first build.
func (c *Collection) Root() *Entry {
	s := c.snap.Load()
	if s == nil {
		return nil
	}
	return s.list.root()
}

// ListEntries returns every LIST entry, root included, ordered by path.
func (c *Collection) ListEntries() []*Entry {
	c.touch()
	s := c.snap.Load()
	if s == nil {
		return nil
	}
	return s.list.sorted()
}

// LsubEntries returns every LSUB entry, root included, ordered by path.
func (c *Collection) LsubEntries() []*Entry {
	c.touch()
	s := c.snap.Load()
	if s == nil {
		return nil
	}
	return s.lsub.sorted()
}

// SpecialUse returns the LIST entries that carry the role, ordered by path.
func (c *Collection) SpecialUse(use SpecialUse) []*Entry {
	s := c.snap.Load()
	if s == nil {
		return nil
	}
	paths := s.special.sorted(use)
	out := make([]*Entry, 0, len(paths))
	for _, p := range paths {
		if e := s.list.get(p); e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (c *Collection) Drafts() []*Entry  { return c.SpecialUse(Drafts) }
func (c *Collection) Junk() []*Entry    { return c.SpecialUse(Junk) }
func (c *Collection) Sent() []*Entry    { return c.SpecialUse(Sent) }
func (c *Collection) Trash() []*Entry   { return c.SpecialUse(Trash) }
func (c *Collection) Archive() []*Entry { return c.SpecialUse(Archive) }

// ConsideredMbox reports whether the store looks like one where a folder holds either
// messages or subfolders.
func (c *Collection) ConsideredMbox() Tristate {
	s := c.snap.Load()
	if s == nil {
		return Unknown
	}
	return s.mbox
}
