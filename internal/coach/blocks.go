package coach

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"slackcoach/internal/models"
)

// Action ids carried on interactive buttons. The interaction handler
// dispatches on these.
const (
	ActionAcceptSuggestion  = "accept_suggestion"
	ActionDismissSuggestion = "dismiss_suggestion"
	ActionUpgrade           = "upgrade_plan"
)

// SuggestionRef is round-tripped through the accept button's value so
// the interaction handler can edit the original message without any
// server-side task state.
type SuggestionRef struct {
	ChannelID string `json:"channel_id"`
	MessageTS string `json:"message_ts"`
	Improved  string `json:"improved"`
}

func (r SuggestionRef) Encode() string {
	b, _ := json.Marshal(r)
	return string(b)
}

func DecodeSuggestionRef(value string) (SuggestionRef, error) {
	var r SuggestionRef
	if err := json.Unmarshal([]byte(value), &r); err != nil {
		return SuggestionRef{}, fmt.Errorf("decode suggestion ref: %w", err)
	}
	return r, nil
}

// CoachingBlocks renders the ephemeral card shown when a monitored
// message trips one or more flags.
func CoachingBlocks(analysis *Analysis, ref SuggestionRef) []slack.Block {
	var sb strings.Builder
	sb.WriteString(":eyes: *Heads up before this lands*\n")
	sb.WriteString("Your message tripped: *" + strings.Join(analysis.Flags, "*, *") + "*")
	if analysis.Rationale != "" {
		sb.WriteString("\n" + analysis.Rationale)
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", sb.String(), false, false),
			nil, nil,
		),
	}

	if analysis.Improved != "" {
		blocks = append(blocks,
			slack.NewSectionBlock(
				slack.NewTextBlockObject("mrkdwn",
					fmt.Sprintf("*Suggested rewrite:*\n> %s", strings.ReplaceAll(analysis.Improved, "\n", "\n> ")),
					false, false),
				nil, nil,
			),
			slack.NewActionBlock("coach_suggestion",
				slack.NewButtonBlockElement(
					ActionAcceptSuggestion,
					ref.Encode(),
					slack.NewTextBlockObject("plain_text", "Use this", false, false),
				).WithStyle(slack.StylePrimary),
				slack.NewButtonBlockElement(
					ActionDismissSuggestion,
					"dismiss",
					slack.NewTextBlockObject("plain_text", "Dismiss", false, false),
				),
			),
		)
	}
	return blocks
}

// RephraseBlocks renders the result of an explicit /rephrase request.
func RephraseBlocks(original string, analysis *Analysis) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn",
				fmt.Sprintf("*Original:*\n> %s", strings.ReplaceAll(original, "\n", "\n> ")),
				false, false),
			nil, nil,
		),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn",
				fmt.Sprintf("*Rephrased:*\n> %s", strings.ReplaceAll(analysis.Improved, "\n", "\n> ")),
				false, false),
			nil, nil,
		),
	}
	if analysis.Rationale != "" {
		blocks = append(blocks, slack.NewContextBlock("rephrase_rationale",
			slack.NewTextBlockObject("mrkdwn", analysis.Rationale, false, false),
		))
	}
	return blocks
}

// FeedbackBlocks renders the weekly-style communication report sent by
// DM for /coach report.
func FeedbackBlocks(user *models.User, analysis *Analysis) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject("plain_text", "Your communication feedback", false, false),
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", analysis.Rationale, false, false),
			nil, nil,
		),
	}
	if len(analysis.Flags) > 0 {
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewSectionBlock(
				slack.NewTextBlockObject("mrkdwn",
					"*Patterns worth watching:* "+strings.Join(analysis.Flags, ", "),
					false, false),
				nil, nil,
			),
		)
	}
	blocks = append(blocks, slack.NewContextBlock("feedback_flags",
		slack.NewTextBlockObject("mrkdwn",
			fmt.Sprintf("Based on your %d active coaching flags. Adjust them with `/coach settings`.", len(user.EnabledFlags())),
			false, false),
	))
	return blocks
}

// QuotaDeniedBlocks renders a quota denial. Free tier users get an
// upgrade prompt; paid users are pointed at support.
func QuotaDeniedBlocks(op models.OperationKind, upgradeRequired bool, resetDate string) []slack.Block {
	label := map[models.OperationKind]string{
		models.OpAutoCoach: "automatic coaching",
		models.OpRephrase:  "rephrase",
		models.OpFeedback:  "feedback report",
	}[op]

	text := fmt.Sprintf("You've used this month's %s allowance. It resets on %s.", label, resetDate)
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", text, false, false),
			nil, nil,
		),
	}
	if upgradeRequired {
		blocks = append(blocks, slack.NewActionBlock("quota_upgrade",
			slack.NewButtonBlockElement(
				ActionUpgrade,
				string(op),
				slack.NewTextBlockObject("plain_text", "Upgrade to Pro", false, false),
			).WithStyle(slack.StylePrimary),
		))
	} else {
		blocks = append(blocks, slack.NewContextBlock("quota_support",
			slack.NewTextBlockObject("mrkdwn", "Need more? Contact support to raise your limits.", false, false),
		))
	}
	return blocks
}
