package proposal

import (
	"regexp"
	"strings"
	"time"
)

// Status is the persisted state token of a proposal. Anything on disk that is
// not one of the known tokens decodes as StatusUnknown; unknown is never
// treated as pending.
type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusFailed  Status = "failed"
	StatusUnknown Status = "unknown"
)

// ParseStatus normalizes a raw on-disk token.
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending
	case StatusApplied:
		return StatusApplied
	case StatusFailed:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool { return s == StatusApplied || s == StatusFailed }

// Proposal is one queued change request. The identifier doubles as the
// directory name under the store root.
type Proposal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
	LogPath   string    `json:"log_path,omitempty"`
}

// StampLayout is the identifier timestamp prefix. Second granularity keeps
// identifiers sortable and collision-free for a single creator.
const StampLayout = "20060102-150405"

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowers the title and collapses non-alphanumeric runs into single
// dashes. An empty result falls back to "proposal".
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "proposal"
	}
	return s
}

// NewID builds a sortable identifier from a creation time and title.
func NewID(at time.Time, title string) string {
	return at.Format(StampLayout) + "_" + Slugify(title)
}

// CreatedAtFromID recovers the creation time encoded in an identifier.
func CreatedAtFromID(id string) (time.Time, bool) {
	if len(id) < len(StampLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(StampLayout, id[:len(StampLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
