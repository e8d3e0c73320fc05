package imap

import (
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-imap/utf7"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailfolders/internal/foldercache"
)

// listCommand is LIST or LSUB with an optional selection option, as in
// LIST (SPECIAL-USE) "" "*".
type listCommand struct {
	name      string
	selection string
	pattern   string
}

func (cmd *listCommand) Command() *imap.Command {
	pattern, err := utf7.Encoding.NewEncoder().String(cmd.pattern)
	if err != nil {
		pattern = cmd.pattern
	}
	args := make([]interface{}, 0, 3)
	if cmd.selection != "" {
		args = append(args, []interface{}{imap.RawString(cmd.selection)})
	}
	args = append(args, "", pattern)
	return &imap.Command{Name: cmd.name, Arguments: args}
}

// listHandler collects LIST or LSUB responses without touching the mailbox names beyond the
// modified UTF-7 decoding. Records that cannot be parsed are skipped.
type listHandler struct {
	name    string
	records []foldercache.Record
	skipped int
}

func (h *listHandler) Handle(resp imap.Resp) error {
	name, fields, ok := imap.ParseNamedResp(resp)
	if !ok || name != h.name {
		return responses.ErrUnhandled
	}

	rec, err := parseListFields(fields)
	if err != nil {
		h.skipped++
		logrus.WithError(err).WithField("command", h.name).Warn("Skipping malformed listing response")
		return nil
	}
	h.records = append(h.records, rec)
	return nil
}

func parseListFields(fields []interface{}) (foldercache.Record, error) {
	if len(fields) < 3 {
		return foldercache.Record{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}

	attrs, err := imap.ParseStringList(fields[0])
	if err != nil {
		return foldercache.Record{}, fmt.Errorf("failed to parse attributes: %w", err)
	}

	var delimiter string
	if fields[1] != nil {
		if delimiter, err = imap.ParseString(fields[1]); err != nil {
			return foldercache.Record{}, fmt.Errorf("failed to parse delimiter: %w", err)
		}
	}

	raw, err := imap.ParseString(fields[2])
	if err != nil {
		return foldercache.Record{}, fmt.Errorf("failed to parse mailbox name: %w", err)
	}
	name, err := utf7.Encoding.NewDecoder().String(raw)
	if err != nil {
		return foldercache.Record{}, fmt.Errorf("failed to decode mailbox name %q: %w", raw, err)
	}

	return foldercache.Record{Attributes: attrs, Delimiter: delimiter, Name: name}, nil
}
