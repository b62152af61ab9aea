package coach

import (
	"encoding/json"
	"fmt"

	"github.com/slack-go/slack"

	"slackcoach/internal/common/validation"
	"slackcoach/internal/models"
)

// Modal identifiers shared with the interaction handler.
const (
	SettingsCallbackID = "coach_settings"
	SettingsBlockID    = "flags_json"
	SettingsActionID   = "flags_input"
)

// SettingsModal builds the flag editor. Flags are edited as a JSON
// document in a multiline input; the submission handler validates it
// against the schema before anything persists.
func SettingsModal(user *models.User) slack.ModalViewRequest {
	current, _ := json.MarshalIndent(user.CoachingFlags, "", "  ")

	input := slack.NewPlainTextInputBlockElement(
		slack.NewTextBlockObject("plain_text", "Coaching flags as JSON", false, false),
		SettingsActionID,
	)
	input.Multiline = true
	input.InitialValue = string(current)

	return slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: SettingsCallbackID,
		Title:      slack.NewTextBlockObject("plain_text", "Coaching settings", false, false),
		Submit:     slack.NewTextBlockObject("plain_text", "Save", false, false),
		Close:      slack.NewTextBlockObject("plain_text", "Cancel", false, false),
		Blocks: slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewSectionBlock(
					slack.NewTextBlockObject("mrkdwn",
						fmt.Sprintf("Each flag needs a `name`, a `description`, and `enabled`. Up to %d flags; at least one must stay enabled.", models.MaxCoachingFlags),
						false, false),
					nil, nil,
				),
				slack.NewInputBlock(
					SettingsBlockID,
					slack.NewTextBlockObject("plain_text", "Flags", false, false),
					nil,
					input,
				),
			},
		},
	}
}

// ParseSettingsSubmission validates and decodes the modal's JSON value
// into a flag set. The returned message, when non-empty, is shown to
// the user as the input block's error.
func ParseSettingsSubmission(raw string) ([]models.CoachingFlag, string) {
	var asMaps []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &asMaps); err != nil {
		return nil, "That isn't valid JSON. Expecting an array of flag objects."
	}

	result, err := validation.ValidateCoachingFlags(asMaps)
	if err != nil {
		return nil, "Couldn't validate that input. Please check the format."
	}
	if !result.Valid {
		if len(result.Errors) > 0 {
			e := result.Errors[0]
			return nil, fmt.Sprintf("%s: %s", e.Field, e.Message)
		}
		return nil, "That flag set isn't valid."
	}

	var flags []models.CoachingFlag
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, "Couldn't read those flags. Please check the format."
	}
	if err := models.ValidateFlagSet(flags); err != nil {
		switch err {
		case models.ErrTooManyFlags:
			return nil, fmt.Sprintf("You can have at most %d flags.", models.MaxCoachingFlags)
		case models.ErrNoEnabledFlags:
			return nil, "At least one flag must stay enabled."
		}
		return nil, "That flag set isn't valid."
	}
	return flags, ""
}
