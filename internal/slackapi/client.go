package slackapi

import (
	"context"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"slackcoach/internal/common/errors"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/common/metrics"
)

// ApologyTimeout bounds the fallback message a failed user-initiated
// task sends, since the task's own context is usually already expired.
const ApologyTimeout = 10 * time.Second

// Client is the outbound delivery channel for one workspace. All
// visible output (ephemeral coaching cards, DM reports, suggestion
// replacements) flows through it so delivery failures are counted and
// logged in one place.
type Client struct {
	api    *slack.Client
	apiURL string
	logger logger.Logger
}

// Factory builds a workspace-scoped Client from its bot token. The
// server holds one Factory and resolves tokens per request.
type Factory func(botToken string) *Client

// NewFactory returns a Factory bound to an API base URL. An empty
// apiURL uses Slack's production endpoint; tests point it at a local
// httptest server.
func NewFactory(apiURL string, log logger.Logger) Factory {
	return func(botToken string) *Client {
		return newClient(botToken, apiURL, log)
	}
}

func newClient(token, apiURL string, log logger.Logger) *Client {
	opts := []slack.Option{}
	if apiURL != "" {
		// slack-go requires a trailing slash on custom endpoints.
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Client{
		api:    slack.New(token, opts...),
		apiURL: apiURL,
		logger: log,
	}
}

// API exposes the underlying slack-go client for calls the wrapper
// does not cover, such as opening modals.
func (c *Client) API() *slack.Client {
	return c.api
}

// SendEphemeral posts a message only the target user can see. Returns
// the message timestamp on success.
func (c *Client) SendEphemeral(ctx context.Context, channelID, userID, text string, blocks ...slack.Block) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	ts, err := c.api.PostEphemeralContext(ctx, channelID, userID, opts...)
	if err != nil {
		metrics.Deliveries.WithLabelValues("ephemeral", "error").Inc()
		return "", errors.Wrap(errors.ErrCodeDeliveryFailure, "post ephemeral failed", err)
	}
	metrics.Deliveries.WithLabelValues("ephemeral", "ok").Inc()
	return ts, nil
}

// SendDirect opens (or reuses) the IM conversation with a user and
// posts into it.
func (c *Client) SendDirect(ctx context.Context, userID, text string, blocks ...slack.Block) (string, error) {
	ch, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		metrics.Deliveries.WithLabelValues("dm", "error").Inc()
		return "", errors.Wrap(errors.ErrCodeDeliveryFailure, "open conversation failed", err)
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	_, ts, err := c.api.PostMessageContext(ctx, ch.ID, opts...)
	if err != nil {
		metrics.Deliveries.WithLabelValues("dm", "error").Inc()
		return "", errors.Wrap(errors.ErrCodeDeliveryFailure, "post direct message failed", err)
	}
	metrics.Deliveries.WithLabelValues("dm", "ok").Inc()
	return ts, nil
}

// RespondEphemeral answers a slash command through its response_url,
// which stays valid for thirty minutes. Deferred task results use this
// so the reply lands where the command was typed.
func (c *Client) RespondEphemeral(ctx context.Context, responseURL, text string, blocks ...slack.Block) error {
	msg := &slack.WebhookMessage{
		Text:         text,
		ResponseType: slack.ResponseTypeEphemeral,
	}
	if len(blocks) > 0 {
		msg.Blocks = &slack.Blocks{BlockSet: blocks}
	}
	if err := slack.PostWebhookContext(ctx, responseURL, msg); err != nil {
		metrics.Deliveries.WithLabelValues("command_response", "error").Inc()
		return errors.Wrap(errors.ErrCodeDeliveryFailure, "command response failed", err)
	}
	metrics.Deliveries.WithLabelValues("command_response", "ok").Inc()
	return nil
}

// ReplaceOriginal rewrites the interactive message the user acted on,
// using the short-lived response_url Slack attached to the action.
func (c *Client) ReplaceOriginal(ctx context.Context, responseURL, text string, blocks ...slack.Block) error {
	msg := &slack.WebhookMessage{
		Text:            text,
		ReplaceOriginal: true,
	}
	if len(blocks) > 0 {
		msg.Blocks = &slack.Blocks{BlockSet: blocks}
	}
	if err := slack.PostWebhookContext(ctx, responseURL, msg); err != nil {
		metrics.Deliveries.WithLabelValues("replace", "error").Inc()
		return errors.Wrap(errors.ErrCodeDeliveryFailure, "replace original failed", err)
	}
	metrics.Deliveries.WithLabelValues("replace", "ok").Inc()
	return nil
}

// DeleteOriginal retracts the interactive message the user acted on.
func (c *Client) DeleteOriginal(ctx context.Context, responseURL string) error {
	msg := &slack.WebhookMessage{DeleteOriginal: true}
	if err := slack.PostWebhookContext(ctx, responseURL, msg); err != nil {
		metrics.Deliveries.WithLabelValues("retract", "error").Inc()
		return errors.Wrap(errors.ErrCodeDeliveryFailure, "delete original failed", err)
	}
	metrics.Deliveries.WithLabelValues("retract", "ok").Inc()
	return nil
}

// UpdateUserMessage edits a message the user themselves authored,
// which requires their user token rather than the workspace bot token.
func (c *Client) UpdateUserMessage(ctx context.Context, userToken, channelID, ts, newText string) error {
	if userToken == "" {
		return errors.New(errors.ErrCodeMissingUserToken, "no user token on file")
	}

	opts := []slack.Option{}
	if c.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(c.apiURL))
	}
	userAPI := slack.New(userToken, opts...)

	_, _, _, err := userAPI.UpdateMessageContext(ctx, channelID, ts, slack.MsgOptionText(newText, false))
	if err != nil {
		metrics.Deliveries.WithLabelValues("update", "error").Inc()
		return errors.Wrap(errors.ErrCodeDeliveryFailure, "update user message failed", err)
	}
	metrics.Deliveries.WithLabelValues("update", "ok").Inc()
	return nil
}

// ConversationMessage is one human-authored message from the recent
// channel history, in chronological order.
type ConversationMessage struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// RecentMessages fetches up to limit human-authored messages preceding
// the trigger message in a channel. Bot messages, messages with a
// subtype, and the trigger itself are skipped; results come back oldest
// first so they read as a transcript.
func (c *Client) RecentMessages(ctx context.Context, channelID, excludeTS string, limit int) ([]ConversationMessage, error) {
	// Over-fetch so bot chatter does not starve the window.
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     limit * 3,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeContextFetchFailed, "conversation history fetch failed", err)
	}

	// Slack returns newest first.
	out := make([]ConversationMessage, 0, limit)
	for _, m := range resp.Messages {
		if len(out) >= limit {
			break
		}
		if m.BotID != "" || m.SubType != "" || m.User == "" {
			continue
		}
		if m.Timestamp == excludeTS {
			continue
		}
		out = append(out, ConversationMessage{
			UserID:    m.User,
			Text:      m.Text,
			Timestamp: m.Timestamp,
		})
	}

	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
