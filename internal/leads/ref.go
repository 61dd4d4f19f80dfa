// Package leads addresses client records across the current and legacy
// schemas and validates the agent input written against them.
package leads

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"leaddesk/api/internal/store"
)

const LegacyPrefix = "legacy-"

var ErrInvalidLeadID = errors.New("invalid lead id")

// ParseRef resolves a lead id. "legacy-<n>" addresses legacy_leads by its
// positive integer key; anything else must be a UUID from leads.
func ParseRef(id string) (store.LeadRef, error) {
	id = strings.TrimSpace(id)
	if rest, ok := strings.CutPrefix(id, LegacyPrefix); ok {
		n, err := strconv.ParseInt(rest, 10, 64)
		// Only the canonical form is accepted so one lead has one cache key.
		if err != nil || n <= 0 || strconv.FormatInt(n, 10) != rest {
			return store.LeadRef{}, ErrInvalidLeadID
		}
		return store.LeadRef{ID: LegacyPrefix + strconv.FormatInt(n, 10), Legacy: true, LegacyID: n}, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.LeadRef{}, ErrInvalidLeadID
	}
	return store.LeadRef{ID: parsed.String()}, nil
}

// LegacyID renders the external id of a legacy lead key.
func LegacyID(n int64) string {
	return LegacyPrefix + strconv.FormatInt(n, 10)
}
