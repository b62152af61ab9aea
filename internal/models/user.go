package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MaxCoachingFlags bounds the per-user flag collection.
const MaxCoachingFlags = 10

var (
	ErrTooManyFlags   = errors.New("too many coaching flags")
	ErrNoEnabledFlags = errors.New("at least one coaching flag must remain enabled")
	ErrFlagNotFound   = errors.New("coaching flag not found")
)

// OperationKind names a quota-gated operation.
type OperationKind string

const (
	OpAutoCoach OperationKind = "auto_coach"
	OpRephrase  OperationKind = "rephrase"
	OpFeedback  OperationKind = "feedback"
)

// CoachingFlag is one named communication issue a user wants caught.
type CoachingFlag struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// User is one person within a workspace.
type User struct {
	ID                uuid.UUID      `json:"id"`
	WorkspaceID       uuid.UUID      `json:"workspaceId"`
	SlackUserID       string         `json:"slackUserId"`
	DisplayName       string         `json:"displayName"`
	Onboarded         bool           `json:"onboarded"`
	Active            bool           `json:"active"`
	UserToken         string         `json:"-"`
	CoachingFlags     []CoachingFlag `json:"coachingFlags"`
	AutoCoachChannels []string       `json:"autoCoachChannels"`
	UsageAutoCoach    int            `json:"usageAutoCoach"`
	UsageRephrase     int            `json:"usageRephrase"`
	UsageFeedback     int            `json:"usageFeedback"`
	UsageResetsAt     time.Time      `json:"usageResetsAt"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Usage returns the current counter for the given operation kind.
func (u *User) Usage(op OperationKind) int {
	switch op {
	case OpAutoCoach:
		return u.UsageAutoCoach
	case OpRephrase:
		return u.UsageRephrase
	case OpFeedback:
		return u.UsageFeedback
	}
	return 0
}

// DefaultCoachingFlags is the starter set assigned at onboarding.
func DefaultCoachingFlags() []CoachingFlag {
	return []CoachingFlag{
		{Name: "abrasive tone", Description: "Blunt or harsh phrasing that reads as hostile in text", Enabled: true},
		{Name: "buried ask", Description: "The actual request is hidden at the end or missing entirely", Enabled: true},
		{Name: "vague urgency", Description: "Pressure words (ASAP, urgent) without a concrete deadline", Enabled: true},
		{Name: "passive aggression", Description: "Indirect criticism phrased as a question or joke", Enabled: false},
	}
}

// ChannelEnabled reports whether the user opted the channel into
// auto-coaching. The stored set is the explicit enabled-set; absence
// means no monitoring.
func (u *User) ChannelEnabled(channelID string) bool {
	for _, c := range u.AutoCoachChannels {
		if c == channelID {
			return true
		}
	}
	return false
}

// EnabledFlags returns the flags currently switched on, in order.
func (u *User) EnabledFlags() []CoachingFlag {
	out := make([]CoachingFlag, 0, len(u.CoachingFlags))
	for _, f := range u.CoachingFlags {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// ValidateFlagSet enforces the collection invariants: bounded size and
// at least one enabled flag. Callers apply it to the prospective set
// BEFORE persisting, so a rejected change leaves the stored set intact.
func ValidateFlagSet(flags []CoachingFlag) error {
	if len(flags) > MaxCoachingFlags {
		return ErrTooManyFlags
	}
	for _, f := range flags {
		if f.Enabled {
			return nil
		}
	}
	return ErrNoEnabledFlags
}

// SetFlagEnabled returns a copy of the user's flags with the named flag
// toggled. Disabling the last enabled flag fails and the input is
// returned unchanged.
func (u *User) SetFlagEnabled(name string, enabled bool) ([]CoachingFlag, error) {
	next := make([]CoachingFlag, len(u.CoachingFlags))
	copy(next, u.CoachingFlags)

	found := false
	for i := range next {
		if next[i].Name == name {
			next[i].Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		return u.CoachingFlags, ErrFlagNotFound
	}
	if err := ValidateFlagSet(next); err != nil {
		return u.CoachingFlags, err
	}
	return next, nil
}
