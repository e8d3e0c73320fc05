package foldercache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tristate is a boolean that may not be known.
type Tristate int8

const (
	Unknown Tristate = iota
	Yes
	No
)

func tristateOf(b bool) Tristate {
	if b {
		return Yes
	}
	return No
}

func (t Tristate) String() string {
	switch t {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// ChangeState is derived from the \Marked and \Unmarked attributes.
type ChangeState int8

const (
	ChangeUndefined ChangeState = iota
	ChangeChanged
	ChangeUnchanged
)

// Attribute names as stored on an Entry: lower-cased, without the leading backslash.
const (
	AttrMarked        = "marked"
	AttrUnmarked      = "unmarked"
	AttrNoSelect      = "noselect"
	AttrNoInferiors   = "noinferiors"
	AttrHasChildren   = "haschildren"
	AttrHasNoChildren = "hasnochildren"
	AttrNonExistent   = "nonexistent"
)

const inbox = "INBOX"

// MessageCounts are the STATUS counters remembered on an Entry.
type MessageCounts struct {
	Total  uint32
	Recent uint32
	Unseen uint32
}

// ACE is one access control entry (RFC 4314 identifier and rights).
type ACE struct {
	Identifier string
	Rights     string
}

// advisory holds opportunistically remembered data. It is shared between copies of the same
// Entry, and last writer wins.
type advisory struct {
	mu     sync.Mutex
	counts *MessageCounts
	acl    []ACE
}

// Entry is one mailbox path of the LIST or LSUB view.
//
// Parent and children are kept as paths into the tree that owns the entry; the tree is
// authoritative, the links are lookups. Entries handed out by a Collection are never
// structurally modified afterwards: every mutation of the Collection works on copies.
type Entry struct {
	fullPath     string
	originalPath string
	separator    rune
	attributes   map[string]struct{}

	canOpen      bool
	hasInferiors bool
	hasChildren  Tristate
	changeState  ChangeState

	namespace  bool
	dummy      bool
	subscribed Tristate
	lsub       bool

	parent    string
	hasParent bool
	children  map[string]struct{}

	owner    *tree
	advisory *advisory
}

// NewEntry builds an unlinked Entry from raw attribute tokens, a separator (0 for NIL) and a
// path as reported by the server.
func NewEntry(attributes []string, separator rune, path string) *Entry {
	fullPath := NormalizePath(path, separator)
	e := &Entry{
		fullPath:     fullPath,
		separator:    separator,
		attributes:   make(map[string]struct{}, len(attributes)),
		canOpen:      true,
		hasInferiors: true,
		children:     make(map[string]struct{}),
		advisory:     &advisory{},
	}
	if fullPath != path {
		e.originalPath = path
	}
	e.setAttributes(attributes)
	return e
}

func (e *Entry) setAttributes(attributes []string) {
	e.attributes = make(map[string]struct{}, len(attributes))
	e.canOpen = true
	e.hasInferiors = true
	e.hasChildren = Unknown
	e.changeState = ChangeUndefined
	for _, raw := range attributes {
		attr := normalizeAttribute(raw)
		if attr == "" {
			continue
		}
		e.attributes[attr] = struct{}{}
		switch attr {
		case AttrMarked:
			e.changeState = ChangeChanged
		case AttrUnmarked:
			e.changeState = ChangeUnchanged
		case AttrNoSelect:
			e.canOpen = false
		case AttrNoInferiors:
			e.hasInferiors = false
		case AttrHasChildren:
			e.hasChildren = Yes
		case AttrHasNoChildren:
			e.hasChildren = No
		}
	}
}

func normalizeAttribute(raw string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), `\`))
}

// NormalizePath returns the canonical form of a server path: the separator alone denotes the
// root (""), and a leading INBOX component is folded to upper case.
func NormalizePath(path string, separator rune) string {
	if separator != 0 && path == string(separator) {
		return ""
	}
	if len(path) < len(inbox) || !strings.EqualFold(path[:len(inbox)], inbox) {
		return path
	}
	if len(path) == len(inbox) {
		return inbox
	}
	if separator != 0 && strings.HasPrefix(path[len(inbox):], string(separator)) {
		return inbox + path[len(inbox):]
	}
	return path
}

// FullPath returns the canonical path; the root is "".
func (e *Entry) FullPath() string { return e.fullPath }

// OriginalPath returns the path as reported by the server when it differs from FullPath.
func (e *Entry) OriginalPath() (string, bool) {
	return e.originalPath, e.originalPath != ""
}

// ServerPath returns the form the server expects on subsequent commands.
func (e *Entry) ServerPath() string {
	if e.originalPath != "" {
		return e.originalPath
	}
	return e.fullPath
}

// Name returns the last path component.
func (e *Entry) Name() string {
	if e.separator == 0 {
		return e.fullPath
	}
	if i := strings.LastIndex(e.fullPath, string(e.separator)); i >= 0 {
		return e.fullPath[i+1:]
	}
	return e.fullPath
}

func (e *Entry) Separator() rune { return e.separator }
func (e *Entry) CanOpen() bool { return e.canOpen }
func (e *Entry) HasInferiors() bool { return e.hasInferiors }
func (e *Entry) HasChildren() Tristate { return e.hasChildren }
func (e *Entry) ChangeState() ChangeState { return e.changeState }
func (e *Entry) IsNamespace() bool { return e.namespace }
func (e *Entry) IsDummy() bool { return e.dummy }
func (e *Entry) IsRoot() bool { return e.fullPath == "" }
func (e *Entry) ExplicitSubscription() Tristate { return e.subscribed }

// Attributes returns the sorted attribute set.
func (e *Entry) Attributes() []string {
	out := make([]string, 0, len(e.attributes))
	for attr := range e.attributes {
		out = append(out, attr)
	}
	sort.Strings(out)
	return out
}

// HasAttribute reports whether the attribute is set; the leading backslash and case are ignored.
func (e *Entry) HasAttribute(attr string) bool {
	_, ok := e.attributes[normalizeAttribute(attr)]
	return ok
}

// IsSubscribed uses the explicit flag when known. Otherwise an LSUB entry is always
// subscribed and a LIST entry is subscribed when its path is in the paired LSUB view.
func (e *Entry) IsSubscribed() bool {
	if e.subscribed != Unknown {
		return e.subscribed == Yes
	}
	if e.lsub {
		return true
	}
	if e.owner == nil || e.owner.snap == nil || e.owner.snap.lsub == nil {
		return false
	}
	sub := e.owner.snap.lsub.get(e.fullPath)
	return sub != nil && !sub.dummy
}

// ParentPath returns the path of the parent; the root has none.
func (e *Entry) ParentPath() (string, bool) {
	return e.parent, e.hasParent
}

// Parent resolves the parent in the owning tree.
func (e *Entry) Parent() *Entry {
	if !e.hasParent || e.owner == nil {
		return nil
	}
	return e.owner.get(e.parent)
}

// ChildPaths returns the children's paths, sorted.
func (e *Entry) ChildPaths() []string {
	out := make([]string, 0, len(e.children))
	for p := range e.children {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return comparePaths(out[i], out[j]) < 0 })
	return out
}

// Children resolves the children in the owning tree, sorted by path.
func (e *Entry) Children() []*Entry {
	if e.owner == nil {
		return nil
	}
	paths := e.ChildPaths()
	out := make([]*Entry, 0, len(paths))
	for _, p := range paths {
		if c := e.owner.get(p); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// MessageCounts returns the remembered STATUS counters.
func (e *Entry) MessageCounts() (MessageCounts, bool) {
	e.advisory.mu.Lock()
	defer e.advisory.mu.Unlock()
	if e.advisory.counts == nil {
		return MessageCounts{}, false
	}
	return *e.advisory.counts, true
}

// RememberCounts stores STATUS counters on the entry.
func (e *Entry) RememberCounts(counts MessageCounts) {
	e.advisory.mu.Lock()
	defer e.advisory.mu.Unlock()
	e.advisory.counts = &counts
}

// ACL returns the remembered access control list.
func (e *Entry) ACL() ([]ACE, bool) {
	e.advisory.mu.Lock()
	defer e.advisory.mu.Unlock()
	if e.advisory.acl == nil {
		return nil, false
	}
	return append([]ACE(nil), e.advisory.acl...), true
}

// RememberACL stores an access control list on the entry.
func (e *Entry) RememberACL(acl []ACE) {
	e.advisory.mu.Lock()
	defer e.advisory.mu.Unlock()
	e.advisory.acl = append([]ACE{}, acl...)
}

// Compare orders entries by path, case-insensitively.
func (e *Entry) Compare(other *Entry) int {
	return comparePaths(e.fullPath, other.fullPath)
}

// Equal reports whether both entries denote the same path.
func (e *Entry) Equal(other *Entry) bool {
	return other != nil && e.fullPath == other.fullPath
}

func (e *Entry) String() string {
	return fmt.Sprintf("%q %c %v", e.fullPath, e.separatorOrSpace(), e.Attributes())
}

func (e *Entry) separatorOrSpace() rune {
	if e.separator == 0 {
		return ' '
	}
	return e.separator
}

func (e *Entry) setParent(parent *Entry) {
	if parent == nil {
		e.parent, e.hasParent = "", false
		return
	}
	e.parent, e.hasParent = parent.fullPath, true
}

func (e *Entry) addChild(child *Entry) {
	e.children[child.fullPath] = struct{}{}
}

func (e *Entry) removeChild(child *Entry) {
	e.removeChildByFullName(child.fullPath)
}

func (e *Entry) removeChildByFullName(fullName string) {
	delete(e.children, fullName)
}

// parentPathOf derives the parent path by dropping the last separator-delimited component.
// The result is normalized, so a parent that denotes the root comes back as "".
func (e *Entry) parentPathOf() string {
	if e.separator == 0 {
		return ""
	}
	if i := strings.LastIndex(e.fullPath, string(e.separator)); i > 0 {
		return NormalizePath(e.fullPath[:i], e.separator)
	}
	return ""
}

// clone copies the entry without its owner. Advisory data stays shared.
func (e *Entry) clone() *Entry {
	c := *e
	c.owner = nil
	c.attributes = make(map[string]struct{}, len(e.attributes))
	for a := range e.attributes {
		c.attributes[a] = struct{}{}
	}
	c.children = make(map[string]struct{}, len(e.children))
	for p := range e.children {
		c.children[p] = struct{}{}
	}
	return &c
}

func (e *Entry) addAttribute(attr string) {
	e.attributes[normalizeAttribute(attr)] = struct{}{}
}

// comparePaths orders paths ASCII case-insensitively, falling back to a byte comparison so
// the order is total.
func comparePaths(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ca, cb := lowerASCII(a[i]), lowerASCII(b[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
