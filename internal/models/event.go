package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InboundEvent is the ephemeral view of a message event. It is never
// persisted; only its side effects (usage increments, delivered
// messages) are.
type InboundEvent struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Text      string `json:"text"`
	Timestamp string `json:"ts"` // Slack ts, "1712345678.000200"
	BotID     string `json:"botId,omitempty"`
	Subtype   string `json:"subtype,omitempty"`
}

// Time parses the Slack ts into a wall-clock time.
func (e *InboundEvent) Time() (time.Time, error) {
	sec, frac, _ := strings.Cut(e.Timestamp, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse event ts %q: %w", e.Timestamp, err)
	}
	var micros int64
	if frac != "" {
		// Pad/truncate the fraction to microseconds.
		for len(frac) < 6 {
			frac += "0"
		}
		micros, err = strconv.ParseInt(frac[:6], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse event ts %q: %w", e.Timestamp, err)
		}
	}
	return time.Unix(s, micros*1000), nil
}

// Age returns now minus the event's own timestamp.
func (e *InboundEvent) Age(now time.Time) (time.Duration, error) {
	t, err := e.Time()
	if err != nil {
		return 0, err
	}
	return now.Sub(t), nil
}
