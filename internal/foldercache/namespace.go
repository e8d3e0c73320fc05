package foldercache

import "strings"

// Namespace is one NAMESPACE descriptor (RFC 2342).
type Namespace struct {
	Prefix    string
	Delimiter rune
}

// Path returns the mailbox path that represents the namespace root: the prefix without its
// trailing delimiter, normalized like any other path.
func (n Namespace) Path() string {
	p := n.Prefix
	if n.Delimiter != 0 {
		p = strings.TrimSuffix(p, string(n.Delimiter))
	}
	return NormalizePath(p, n.Delimiter)
}

// Namespaces is the result of one NAMESPACE round trip.
type Namespaces struct {
	Personal  []Namespace
	OtherUser []Namespace
	Shared    []Namespace
}

// nonPersonal returns the shared and other-user namespaces in that order.
func (ns Namespaces) nonPersonal() []Namespace {
	out := make([]Namespace, 0, len(ns.Shared)+len(ns.OtherUser))
	out = append(out, ns.Shared...)
	return append(out, ns.OtherUser...)
}

// IsNamespaceRoot reports whether path is exactly the root of a shared or other-user namespace.
func (ns Namespaces) IsNamespaceRoot(path string) bool {
	for _, n := range ns.nonPersonal() {
		if p := n.Path(); p != "" && p == path {
			return true
		}
	}
	return false
}

// Covers reports whether path is a shared or other-user namespace root or lies below one.
func (ns Namespaces) Covers(path string) bool {
	for _, n := range ns.nonPersonal() {
		root := n.Path()
		if root == "" {
			continue
		}
		if path == root {
			return true
		}
		if n.Delimiter != 0 && strings.HasPrefix(path, root+string(n.Delimiter)) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no namespace at all was advertised.
func (ns Namespaces) IsEmpty() bool {
	return len(ns.Personal) == 0 && len(ns.OtherUser) == 0 && len(ns.Shared) == 0
}
