// Package feedback is the deferred task behind /coach report: collect
// the user's recent writing from their enabled channels, have the
// analyzer summarize patterns, and DM the result.
package feedback

import (
	"context"

	"github.com/slack-go/slack"

	"slackcoach/internal/coach"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/models"
	"slackcoach/internal/quota"
	"slackcoach/internal/slackapi"
)

const TaskType = "feedback"

const (
	apologyText    = "Sorry, I couldn't put your feedback report together right now. Please try again later."
	noActivityText = "I don't have enough recent messages from you in your coached channels to build a report yet. Check back after you've been more active."
)

type contextFetcher interface {
	RecentMessages(ctx context.Context, channelID, excludeTS string, limit int) ([]slackapi.ConversationMessage, error)
}

type dmSender interface {
	SendDirect(ctx context.Context, userID, text string, blocks ...slack.Block) (string, error)
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

// Handle is the scheduler entry point. Like rephrase, this was asked
// for, so failures produce an apology DM on a fresh context.
func (h *Handler) Handle(ctx context.Context, input *Input, slackClient *slackapi.Client) error {
	_, err := h.Execute(ctx, input, slackClient, slackClient)
	if err != nil {
		apologyCtx, cancel := context.WithTimeout(context.Background(), slackapi.ApologyTimeout)
		defer cancel()
		if _, aErr := slackClient.SendDirect(apologyCtx, input.User.SlackUserID, apologyText); aErr != nil {
			h.logger.Error("apology delivery failed", map[string]interface{}{
				"error": aErr.Error(),
			})
		}
	}
	return err
}

func (h *Handler) Execute(ctx context.Context, input *Input, fetcher contextFetcher, delivery dmSender) (*Output, error) {
	samples := h.collectSamples(ctx, input, fetcher)
	if len(samples) == 0 {
		if _, err := delivery.SendDirect(ctx, input.User.SlackUserID, noActivityText); err != nil {
			return nil, err
		}
		return &Output{Samples: 0, Delivered: true}, nil
	}

	analysis, err := h.analyzer.Analyze(ctx, &coach.Request{
		Mode:    coach.ModeFeedback,
		Flags:   input.User.EnabledFlags(),
		Context: samples,
	})
	if err != nil {
		return nil, err
	}

	blocks := coach.FeedbackBlocks(input.User, analysis)
	if _, err := delivery.SendDirect(ctx, input.User.SlackUserID, "Your communication feedback", blocks...); err != nil {
		return nil, err
	}

	// Allowance is spent on a delivered report. The no-activity notice
	// above never analyzed anything and stays free.
	if access, err := h.quota.Consume(ctx, input.Workspace, input.User, models.OpFeedback); err != nil {
		h.logger.Error("usage increment failed", map[string]interface{}{
			"user":  input.User.SlackUserID,
			"error": err.Error(),
		})
	} else if !access.Allowed {
		h.logger.Warn("usage increment lost the limit race", map[string]interface{}{
			"user": input.User.SlackUserID,
		})
	}

	h.logger.Info("feedback report delivered", map[string]interface{}{
		"user":    input.User.SlackUserID,
		"samples": len(samples),
	})
	return &Output{Samples: len(samples), Delivered: true}, nil
}

// collectSamples walks the user's enabled channels and keeps only
// messages they authored. A channel that fails to fetch is skipped;
// the report degrades to whatever was reachable.
func (h *Handler) collectSamples(ctx context.Context, input *Input, fetcher contextFetcher) []slackapi.ConversationMessage {
	var samples []slackapi.ConversationMessage
	for _, channelID := range input.User.AutoCoachChannels {
		if len(samples) >= h.config.MaxSamples {
			break
		}
		history, err := fetcher.RecentMessages(ctx, channelID, "", h.config.MessagesPerChannel)
		if err != nil {
			h.logger.Warn("skipping channel in report", map[string]interface{}{
				"channel": channelID,
				"error":   err.Error(),
			})
			continue
		}
		for _, m := range history {
			if m.UserID != input.User.SlackUserID {
				continue
			}
			samples = append(samples, m)
			if len(samples) >= h.config.MaxSamples {
				break
			}
		}
	}
	return samples
}
