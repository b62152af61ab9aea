package feedback

import "slackcoach/internal/models"

type Input struct {
	Workspace *models.Workspace `json:"workspace"`
	User      *models.User      `json:"user"`
}

type Output struct {
	Samples   int  `json:"samples"`
	Delivered bool `json:"delivered"`
}
