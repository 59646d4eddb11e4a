// Package identity implements the codec for the cross-system correlation
// marker embedded in event descriptions.
//
// Wire format: the last line of the description is exactly
//
//	[event_id: <uuid>]
//
// where <uuid> is the database GUID rendered as lowercase hyphenated hex.
// A record whose final line is marker-shaped but fails to parse is treated
// as unidentified, the same as a record with no marker at all.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentity is returned when embedding a value that is not a UUID.
var ErrInvalidIdentity = fmt.Errorf("identity: not a valid UUID")

var markerRe = regexp.MustCompile(`^\[event_id:\s*([^\]]*)\]$`)

// Extract returns the identity embedded in a description, if any.
// The second return is false when no marker is present or the marker does
// not decode to a UUID; callers must treat both the same way (unidentified).
func Extract(description string) (string, bool) {
	line, ok := lastLine(description)
	if !ok {
		return "", false
	}
	m := markerRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	id, err := uuid.Parse(strings.TrimSpace(m[1]))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// Embed returns the description with a marker line for id appended as the
// final line. An existing marker line (well-formed or not) is replaced, so
// embedding twice with the same identity is a no-op.
func Embed(description, id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
	}
	body := Strip(description)
	marker := fmt.Sprintf("[event_id: %s]", u.String())
	if body == "" {
		return marker, nil
	}
	return body + "\n" + marker, nil
}

// Strip returns the description without its trailing marker line, if one is
// present. The marker line is system-injected and not part of business
// content, so comparisons must run on the stripped form.
func Strip(description string) string {
	lines := strings.Split(strings.ReplaceAll(description, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if markerRe.MatchString(trimmed) {
			lines = lines[:i]
		}
		break
	}
	return strings.TrimRight(strings.Join(lines, "\n"), " \t\n")
}

// lastLine returns the final non-empty line of s, trimmed of surrounding
// whitespace.
func lastLine(s string) (string, bool) {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line, true
		}
	}
	return "", false
}
