package imap

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/vdavid/mailfolders/internal/foldercache"
)

// Executor runs the folder listing commands on one logged-in connection.
// The caller must hold the connection (see IMAPPool.GetClient) for as long as the Executor is used.
type Executor struct {
	client *client.Client
}

var _ foldercache.Executor = (*Executor)(nil)

// NewExecutor wraps an authenticated client.
func NewExecutor(c *client.Client) *Executor {
	return &Executor{client: c}
}

func (e *Executor) list(ctx context.Context, name, selection, pattern string) ([]foldercache.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := &listCommand{name: name, selection: selection, pattern: pattern}
	h := &listHandler{name: name}
	status, err := e.client.Execute(cmd, h)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", name, err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("%s rejected: %w", name, err)
	}
	return h.records, nil
}

// List issues LIST "" pattern.
func (e *Executor) List(ctx context.Context, pattern string) ([]foldercache.Record, error) {
	return e.list(ctx, "LIST", "", pattern)
}

// Lsub issues LSUB "" pattern.
func (e *Executor) Lsub(ctx context.Context, pattern string) ([]foldercache.Record, error) {
	return e.list(ctx, "LSUB", "", pattern)
}

// ListSpecialUse issues LIST (SPECIAL-USE) "" "*".
func (e *Executor) ListSpecialUse(ctx context.Context) ([]foldercache.Record, error) {
	return e.list(ctx, "LIST", "SPECIAL-USE", "*")
}

// Exists lists the path itself. A \NonExistent answer counts as missing.
func (e *Executor) Exists(ctx context.Context, path string) (bool, error) {
	records, err := e.List(ctx, path)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.Name != path {
			continue
		}
		if hasAttribute(rec.Attributes, foldercache.AttrNonExistent) {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

func hasAttribute(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(strings.TrimPrefix(a, `\`), want) {
			return true
		}
	}
	return false
}

// Unsubscribe removes the subscription for path.
func (e *Executor) Unsubscribe(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.client.Unsubscribe(path); err != nil {
		return fmt.Errorf("failed to unsubscribe %q: %w", path, err)
	}
	return nil
}

// Namespace issues NAMESPACE. Servers without the extension get empty namespaces.
func (e *Executor) Namespace(ctx context.Context) (foldercache.Namespaces, error) {
	if err := ctx.Err(); err != nil {
		return foldercache.Namespaces{}, err
	}

	supported, err := e.client.Support("NAMESPACE")
	if err != nil {
		return foldercache.Namespaces{}, fmt.Errorf("failed to check NAMESPACE support: %w", err)
	}
	if !supported {
		return foldercache.Namespaces{}, nil
	}

	h := &namespaceHandler{}
	status, err := e.client.Execute(namespaceCommand{}, h)
	if err != nil {
		return foldercache.Namespaces{}, fmt.Errorf("failed to run NAMESPACE: %w", err)
	}
	if err := status.Err(); err != nil {
		return foldercache.Namespaces{}, fmt.Errorf("NAMESPACE rejected: %w", err)
	}
	return h.namespaces, nil
}

// Capabilities returns the CAPABILITY set with upper-case names.
func (e *Executor) Capabilities(ctx context.Context) (foldercache.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	caps, err := e.client.Capability()
	if err != nil {
		return nil, fmt.Errorf("failed to get capabilities: %w", err)
	}
	out := make(foldercache.Capabilities, len(caps))
	for name, ok := range caps {
		if ok {
			out[strings.ToUpper(name)] = true
		}
	}
	return out, nil
}

// Status returns the message counts of path without selecting it.
func (e *Executor) Status(ctx context.Context, path string) (foldercache.MessageCounts, error) {
	if err := ctx.Err(); err != nil {
		return foldercache.MessageCounts{}, err
	}

	items := []imap.StatusItem{imap.StatusMessages, imap.StatusRecent, imap.StatusUnseen}
	st, err := e.client.Status(path, items)
	if err != nil {
		return foldercache.MessageCounts{}, fmt.Errorf("failed to get status of %q: %w", path, err)
	}
	return foldercache.MessageCounts{Total: st.Messages, Recent: st.Recent, Unseen: st.Unseen}, nil
}
