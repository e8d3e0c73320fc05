package foldercache

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Record is one untagged LIST or LSUB response as delivered by the command executor.
// Name is already decoded from modified UTF-7 but otherwise exactly as the server sent it.
type Record struct {
	Attributes []string
	Delimiter  string
	Name       string
}

var errMalformedRecord = errors.New("malformed listing record")

// delimiterRune returns the hierarchy delimiter of the record, or 0 for a NIL delimiter.
func (r Record) delimiterRune() (rune, error) {
	if r.Delimiter == "" {
		return 0, nil
	}
	d, size := utf8.DecodeRuneInString(r.Delimiter)
	if d == utf8.RuneError || size != len(r.Delimiter) {
		return 0, fmt.Errorf("%w: delimiter %q", errMalformedRecord, r.Delimiter)
	}
	return d, nil
}

// toEntry validates the record and turns it into an unlinked Entry.
func (r Record) toEntry() (*Entry, error) {
	sep, err := r.delimiterRune()
	if err != nil {
		return nil, err
	}
	if !utf8.ValidString(r.Name) || strings.ContainsAny(r.Name, "\x00\r\n") {
		return nil, fmt.Errorf("%w: path %q", errMalformedRecord, r.Name)
	}
	if sep != 0 && strings.Contains(r.Name, string([]rune{sep, sep})) {
		return nil, fmt.Errorf("%w: empty component in path %q", errMalformedRecord, r.Name)
	}
	for _, attr := range r.Attributes {
		if attr == "" || strings.ContainsAny(attr, " ()\x00") {
			return nil, fmt.Errorf("%w: attribute %q", errMalformedRecord, attr)
		}
	}
	return NewEntry(r.Attributes, sep, r.Name), nil
}
