package imap

import (
	"fmt"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-imap/utf7"
	"github.com/vdavid/mailfolders/internal/foldercache"
)

// namespaceCommand is the RFC 2342 NAMESPACE command.
type namespaceCommand struct{}

func (namespaceCommand) Command() *imap.Command {
	return &imap.Command{Name: "NAMESPACE"}
}

type namespaceHandler struct {
	namespaces foldercache.Namespaces
	seen       bool
}

func (h *namespaceHandler) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != "NAMESPACE" {
		return responses.ErrUnhandled
	}
	if len(fields) < 3 {
		return fmt.Errorf("NAMESPACE: expected 3 fields, got %d", len(fields))
	}

	groups := make([][]foldercache.Namespace, 3)
	for i := range groups {
		ns, err := parseNamespaceGroup(fields[i])
		if err != nil {
			return fmt.Errorf("NAMESPACE: %w", err)
		}
		groups[i] = ns
	}
	h.namespaces = foldercache.Namespaces{Personal: groups[0], OtherUser: groups[1], Shared: groups[2]}
	h.seen = true
	return nil
}

// parseNamespaceGroup parses NIL or a list of (prefix delimiter [extensions]) descriptors.
func parseNamespaceGroup(field interface{}) ([]foldercache.Namespace, error) {
	if field == nil {
		return nil, nil
	}
	list, ok := field.([]interface{})
	if !ok {
		return nil, fmt.Errorf("namespace group is not a list")
	}

	out := make([]foldercache.Namespace, 0, len(list))
	for _, item := range list {
		desc, ok := item.([]interface{})
		if !ok || len(desc) < 2 {
			return nil, fmt.Errorf("malformed namespace descriptor")
		}
		raw, err := imap.ParseString(desc[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse prefix: %w", err)
		}
		prefix, err := utf7.Encoding.NewDecoder().String(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode prefix %q: %w", raw, err)
		}

		var delimiter rune
		if desc[1] != nil {
			d, err := imap.ParseString(desc[1])
			if err != nil {
				return nil, fmt.Errorf("failed to parse delimiter: %w", err)
			}
			delimiter, _ = utf8.DecodeRuneInString(d)
		}
		out = append(out, foldercache.Namespace{Prefix: prefix, Delimiter: delimiter})
	}
	return out, nil
}
