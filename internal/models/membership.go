package models

import (
	"time"

	"github.com/google/uuid"
)

// ChannelMembership records that the service's bot is a member of a
// channel. Existence of a row is the sole authority for "is this
// channel observable"; event metadata is never trusted instead.
type ChannelMembership struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	ChannelID   string    `json:"channelId"`
	ChannelName string    `json:"channelName"`
	JoinedAt    time.Time `json:"joinedAt"`
}
