// Package autocoach is the deferred task behind automatic message
// coaching: fetch conversation context, analyze the triggering message
// against the author's enabled flags, and deliver an ephemeral card
// when something trips.
package autocoach

import (
	"context"

	"github.com/slack-go/slack"

	"slackcoach/internal/coach"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/models"
	"slackcoach/internal/quota"
	"slackcoach/internal/slackapi"
)

const TaskType = "auto_coach"

type contextFetcher interface {
	RecentMessages(ctx context.Context, channelID, excludeTS string, limit int) ([]slackapi.ConversationMessage, error)
}

type deliverer interface {
	SendEphemeral(ctx context.Context, channelID, userID, text string, blocks ...slack.Block) (string, error)
}

type quotaConsumer interface {
	Consume(ctx context.Context, ws *models.Workspace, user *models.User, op models.OperationKind) (*quota.Access, error)
}

type Handler struct {
	config   *Config
	analyzer coach.Analyzer
	quota    quotaConsumer
	logger   logger.Logger
}

func NewHandler(config *Config, analyzer coach.Analyzer, gate quotaConsumer, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		analyzer: analyzer,
		quota:    gate,
		logger:   log.WithFields(map[string]interface{}{"task_type": TaskType}),
	}
}

// Handle is the scheduler entry point. Automatic coaching was never
// asked for, so failures stay silent: no apology message, just the
// error for the scheduler to count.
func (h *Handler) Handle(ctx context.Context, input *Input, slackClient *slackapi.Client) error {
	_, err := h.Execute(ctx, input, slackClient, slackClient)
	return err
}

func (h *Handler) Execute(ctx context.Context, input *Input, fetcher contextFetcher, delivery deliverer) (*Output, error) {
	ev := input.Event

	// Context is best effort. Coaching on the message alone beats
	// dropping the task because history was unavailable.
	history, err := fetcher.RecentMessages(ctx, ev.ChannelID, ev.Timestamp, h.config.ContextMessages)
	if err != nil {
		h.logger.Warn("proceeding without conversation context", map[string]interface{}{
			"channel": ev.ChannelID,
			"error":   err.Error(),
		})
		history = nil
	}

	analysis, err := h.analyzer.Analyze(ctx, &coach.Request{
		Mode:    coach.ModeAutoCoach,
		Text:    ev.Text,
		Flags:   input.User.EnabledFlags(),
		Context: history,
	})
	if err != nil {
		return nil, err
	}

	if !analysis.Flagged {
		h.logger.Debug("message clean", map[string]interface{}{
			"channel": ev.ChannelID,
			"user":    ev.UserID,
		})
		return &Output{Flagged: false}, nil
	}

	ref := coach.SuggestionRef{
		ChannelID: ev.ChannelID,
		MessageTS: ev.Timestamp,
		Improved:  analysis.Improved,
	}
	blocks := coach.CoachingBlocks(analysis, ref)

	if _, err := delivery.SendEphemeral(ctx, ev.ChannelID, ev.UserID, "Coaching suggestion", blocks...); err != nil {
		return nil, err
	}

	// Quota goes down only on confirmed delivery. A raced increment
	// past the limit just means this card was the accepted overshoot.
	h.consumeQuota(ctx, input)

	h.logger.Info("coaching card delivered", map[string]interface{}{
		"channel": ev.ChannelID,
		"user":    ev.UserID,
		"flags":   analysis.Flags,
	})
	return &Output{Flagged: true, Flags: analysis.Flags, Delivered: true}, nil
}

func (h *Handler) consumeQuota(ctx context.Context, input *Input) {
	access, err := h.quota.Consume(ctx, input.Workspace, input.User, models.OpAutoCoach)
	if err != nil {
		h.logger.Error("usage increment failed", map[string]interface{}{
			"user":  input.User.SlackUserID,
			"error": err.Error(),
		})
		return
	}
	if !access.Allowed {
		h.logger.Warn("usage increment lost the limit race", map[string]interface{}{
			"user": input.User.SlackUserID,
		})
	}
}
