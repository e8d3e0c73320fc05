package foldercache

import (
	"context"

	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"
)

// checkConsistency reconciles LSUB against LIST on a freshly built snapshot.
//
// A subscription without a LIST counterpart is kept only when it lies in a shared or other-user
// namespace and the server confirms the folder exists; it is then added to LIST as well. Every
// other orphan is dropped together with its subtree. Afterwards, namespace dummies left without
// children are pruned from both views.
func (c *Collection) checkConsistency(ctx context.Context, s *snapshot, exec CommandExecutor) {
	// Children first, so that an adopted folder brings its synthesized parents into LIST
	// before those parents are checked.
	subs := s.lsub.sorted()
	for i := len(subs) - 1; i >= 0; i-- {
		sub := subs[i]
		if sub.IsRoot() || s.lsub.get(sub.fullPath) != sub {
			continue
		}
		if s.list.get(sub.fullPath) != nil {
			continue
		}
		if c.ns.Covers(sub.fullPath) && c.exists(ctx, exec, sub) {
			adopted := sub.clone()
			adopted.children = make(map[string]struct{})
			adopted.parent, adopted.hasParent = "", false
			s.list.put(adopted)
			s.list.attach(adopted, c.ns)
			continue
		}

		removed := s.lsub.removeSubtree(sub.fullPath)
		c.log.WithFields(logrus.Fields{
			"path":    sub.fullPath,
			"removed": len(removed),
		}).Debug("Dropping subscription to a missing folder")
		if c.opts.UnsubscribeOrphans {
			c.unsubscribe(ctx, exec, removed)
		}
	}

	pruneNamespaceDummies(s.list)
	pruneNamespaceDummies(s.lsub)
}

func (c *Collection) exists(ctx context.Context, exec CommandExecutor, e *Entry) bool {
	ok, err := exec.Exists(ctx, e.ServerPath())
	if err != nil {
		c.log.WithError(err).WithField("path", e.fullPath).Warn("Existence probe failed, treating folder as missing")
		return false
	}
	return ok
}

// unsubscribe removes server-side subscriptions on a best-effort basis.
func (c *Collection) unsubscribe(ctx context.Context, exec CommandExecutor, removed []*Entry) {
	subscribed := xslices.Filter(removed, func(e *Entry) bool { return !e.dummy })
	for _, e := range subscribed {
		if err := exec.Unsubscribe(ctx, e.ServerPath()); err != nil {
			c.log.WithError(err).WithField("path", e.fullPath).Warn("Failed to unsubscribe orphaned folder")
		}
	}
}

// pruneNamespaceDummies removes synthesized namespace roots that ended up without children.
// Removing one may leave its own synthesized parent empty, so it repeats until stable.
func pruneNamespaceDummies(t *tree) {
	for {
		pruned := false
		for _, e := range t.sorted() {
			if e.IsRoot() || !e.namespace || !e.dummy || len(e.children) > 0 {
				continue
			}
			if t.get(e.fullPath) == e {
				t.removeSubtree(e.fullPath)
				pruned = true
			}
		}
		if !pruned {
			return
		}
	}
}
