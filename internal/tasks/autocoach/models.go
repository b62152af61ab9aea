package autocoach

import "slackcoach/internal/models"

type Input struct {
	Workspace *models.Workspace    `json:"workspace"`
	User      *models.User         `json:"user"`
	Event     *models.InboundEvent `json:"event"`
}

type Output struct {
	Flagged   bool     `json:"flagged"`
	Flags     []string `json:"flags"`
	Delivered bool     `json:"delivered"`
}
