// Package identity derives conversation keys from peer identities.
package identity

import (
	"regexp"
	"sort"
	"strings"

	"pier2pier.dev/go/pier2pier/internal/fault"
)

const (
	// Default stands in for an absent identity.
	Default = "default"

	// Separator joins the two identities of a conversation key.
	Separator = ":"

	// MinLength and MaxLength bound a non-empty user identity.
	MinLength = 3
	MaxLength = 32
)

var userPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ConversationID returns the key two peers converge on independently.
// Absent identities are replaced with Default, the pair is sorted and
// joined with Separator, so ConversationID(a, b) == ConversationID(b, a).
func ConversationID(local, remote string) string {
	ids := []string{orDefault(local), orDefault(remote)}
	sort.Strings(ids)
	return strings.Join(ids, Separator)
}

// Normalize validates a user identity and maps the empty identity to
// Default.
func Normalize(user string) (string, error) {
	if user == "" {
		return Default, nil
	}
	if len(user) < MinLength || len(user) > MaxLength {
		return "", fault.Validationf("user id must be between %d and %d characters", MinLength, MaxLength)
	}
	if !userPattern.MatchString(user) {
		return "", fault.Validationf("user id can only contain letters, numbers, underscores, and hyphens")
	}
	return user, nil
}

func orDefault(id string) string {
	if id == "" {
		return Default
	}
	return id
}
