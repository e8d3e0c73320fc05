package foldercache

import (
	"context"
	"fmt"
	"strings"
)

// AccountKey identifies one mail account of one user within one context (tenant).
type AccountKey struct {
	UserID    string
	ContextID int
	AccountID int
}

func (k AccountKey) String() string {
	return fmt.Sprintf("%d/%s/%d", k.ContextID, k.UserID, k.AccountID)
}

func (k AccountKey) user() userKey {
	return userKey{UserID: k.UserID, ContextID: k.ContextID}
}

type userKey struct {
	UserID    string
	ContextID int
}

func (k userKey) String() string {
	return fmt.Sprintf("%d/%s", k.ContextID, k.UserID)
}

// CommandExecutor issues the listing commands a Collection needs. Every call is a synchronous
// round trip bounded by the transport's own timeout.
type CommandExecutor interface {
	// List issues LIST "" <pattern>. An empty pattern asks for the root and its delimiter.
	List(ctx context.Context, pattern string) ([]Record, error)
	// Lsub issues LSUB "" <pattern>.
	Lsub(ctx context.Context, pattern string) ([]Record, error)
	// ListSpecialUse issues LIST (SPECIAL-USE) "" "*".
	ListSpecialUse(ctx context.Context) ([]Record, error)
	// Exists probes whether the mailbox currently exists.
	Exists(ctx context.Context, path string) (bool, error)
	// Unsubscribe removes the subscription for path.
	Unsubscribe(ctx context.Context, path string) error
}

// Executor is a CommandExecutor that also answers the per-session questions the Registry
// memoizes.
type Executor interface {
	CommandExecutor
	Namespace(ctx context.Context) (Namespaces, error)
	Capabilities(ctx context.Context) (Capabilities, error)
	Status(ctx context.Context, path string) (MessageCounts, error)
}

// Connector hands out executors for an account. The release function must always be called.
// forceNewConnection asks for a connection that was not used before.
type Connector interface {
	Executor(ctx context.Context, key AccountKey, forceNewConnection bool) (Executor, func(), error)
}

// Capabilities is the CAPABILITY set, keyed by upper-case name.
type Capabilities map[string]bool

// Has reports whether the capability is advertised, ignoring case.
func (c Capabilities) Has(name string) bool {
	return c[strings.ToUpper(name)]
}
