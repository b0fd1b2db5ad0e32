package models

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidDomain = errors.New("invalid domain")

// BlockedWebsite is one user-configured domain to block. Domains are stored
// normalized (lowercase, no scheme, no www, no path) and are unique per user.
type BlockedWebsite struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

func (w BlockedWebsite) EntityID() string { return w.ID }
func (w BlockedWebsite) OwnerID() string  { return w.UserID }

// NormalizeDomain reduces user input like "https://www.Twitter.com/home?x=1"
// to the canonical blocked form "twitter.com".
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return "", ErrInvalidDomain
	}

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	// Drop path, query and fragment.
	for _, sep := range []string{"/", "?", "#"} {
		if i := strings.Index(s, sep); i >= 0 {
			s = s[:i]
		}
	}

	// Drop credentials and port.
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}

	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, ".")

	if s == "" || !strings.Contains(s, ".") {
		return "", ErrInvalidDomain
	}

	return s, nil
}
