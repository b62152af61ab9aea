// Package rephrase is the deferred task behind the /rephrase command.
package rephrase

import (
	"context"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"slackcoach/internal/coach"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/models"
	"slackcoach/internal/quota"
	"slackcoach/internal/slackapi"
)

const TaskType = "rephrase"

const apologyText = "Sorry, I couldn't rephrase that right now. Please try again in a moment."

type responder interface {
	RespondEphemeral(ctx context.Context, responseURL, text string, blocks ...slack.Block) error
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

// Handle is the scheduler entry point. The user explicitly asked for
// this, so a failed task still owes them an answer: the apology goes
// out on a fresh context because the task one may already be dead.
func (h *Handler) Handle(ctx context.Context, input *Input, slackClient *slackapi.Client) error {
	_, err := h.Execute(ctx, input, slackClient)
	if err != nil {
		apologyCtx, cancel := context.WithTimeout(context.Background(), slackapi.ApologyTimeout)
		defer cancel()
		if aErr := slackClient.RespondEphemeral(apologyCtx, input.ResponseURL, apologyText); aErr != nil {
			h.logger.Error("apology delivery failed", map[string]interface{}{
				"error": aErr.Error(),
			})
		}
	}
	return err
}

func (h *Handler) Execute(ctx context.Context, input *Input, delivery responder) (*Output, error) {
	text := input.Text
	if len(text) > h.config.MaxInputLen {
		// Back up to a rune boundary so the cut never sends the
		// analyzer broken UTF-8.
		cut := h.config.MaxInputLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	analysis, err := h.analyzer.Analyze(ctx, &coach.Request{
		Mode:  coach.ModeRephrase,
		Text:  text,
		Flags: input.User.EnabledFlags(),
	})
	if err != nil {
		return nil, err
	}

	// The service echoes the original when it finds nothing to fix.
	if analysis.Improved == "" {
		analysis.Improved = text
	}

	blocks := coach.RephraseBlocks(text, analysis)
	if err := delivery.RespondEphemeral(ctx, input.ResponseURL, "Rephrased message", blocks...); err != nil {
		return nil, err
	}

	// A failed rephrase never costs allowance; only the delivered
	// answer does.
	if access, err := h.quota.Consume(ctx, input.Workspace, input.User, models.OpRephrase); err != nil {
		h.logger.Error("usage increment failed", map[string]interface{}{
			"user":  input.User.SlackUserID,
			"error": err.Error(),
		})
	} else if !access.Allowed {
		h.logger.Warn("usage increment lost the limit race", map[string]interface{}{
			"user": input.User.SlackUserID,
		})
	}

	h.logger.Info("rephrase delivered", map[string]interface{}{
		"user":    input.User.SlackUserID,
		"flagged": analysis.Flagged,
	})
	return &Output{Improved: analysis.Improved, Delivered: true}, nil
}
