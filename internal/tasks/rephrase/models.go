package rephrase

import "slackcoach/internal/models"

type Input struct {
	Workspace   *models.Workspace `json:"workspace"`
	User        *models.User      `json:"user"`
	Text        string            `json:"text"`
	ResponseURL string            `json:"responseUrl"`
}

type Output struct {
	Improved  string `json:"improved"`
	Delivered bool   `json:"delivered"`
}
