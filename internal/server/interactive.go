package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/slack-go/slack"

	"slackcoach/internal/coach"
	commonerrors "slackcoach/internal/common/errors"
	"slackcoach/internal/models"
)

// handleInteractive receives button clicks and modal submissions. The
// payload arrives form-encoded under a single "payload" field.
func (s *Server) handleInteractive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &callback); err != nil {
		s.Logger.Warn("unparseable interaction payload", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusOK)
		return
	}

	ws, ok := s.workspaceFor(r.Context(), callback.Team.ID)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		s.handleBlockActions(r.Context(), ws, &callback)
		w.WriteHeader(http.StatusOK)

	case slack.InteractionTypeViewSubmission:
		s.handleViewSubmission(r.Context(), w, ws, &callback)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleBlockActions(ctx context.Context, ws *models.Workspace, callback *slack.InteractionCallback) {
	if len(callback.ActionCallback.BlockActions) == 0 {
		return
	}
	action := callback.ActionCallback.BlockActions[0]
	client := s.Clients(ws.BotToken)

	switch action.ActionID {
	case coach.ActionAcceptSuggestion:
		s.acceptSuggestion(ctx, ws, callback, action.Value)

	case coach.ActionDismissSuggestion:
		if err := client.DeleteOriginal(ctx, callback.ResponseURL); err != nil {
			s.Logger.Warn("dismiss failed", map[string]interface{}{
				"team":  ws.SlackTeamID,
				"error": err.Error(),
			})
		}

	case coach.ActionUpgrade:
		client.ReplaceOriginal(ctx, callback.ResponseURL,
			"Upgrades are managed by your workspace admin. Point them at the app's billing page to move to Pro.")

	default:
		s.Logger.Debug("ignoring action", map[string]interface{}{
			"action_id": action.ActionID,
		})
	}
}

// acceptSuggestion edits the user's original message to the suggested
// text. That edit runs as the user, so it needs their user token; users
// who never authorized one get pointed at the connect flow instead.
func (s *Server) acceptSuggestion(ctx context.Context, ws *models.Workspace, callback *slack.InteractionCallback, value string) {
	client := s.Clients(ws.BotToken)

	ref, err := coach.DecodeSuggestionRef(value)
	if err != nil {
		s.Logger.Warn("bad suggestion ref", map[string]interface{}{
			"team":  ws.SlackTeamID,
			"error": err.Error(),
		})
		client.ReplaceOriginal(ctx, callback.ResponseURL,
			"Sorry, this suggestion has expired. Copy the text manually if you still want it.")
		return
	}

	user, err := s.Users.GetBySlackID(ctx, ws.ID, callback.User.ID)
	if err != nil {
		client.ReplaceOriginal(ctx, callback.ResponseURL,
			"Sorry, something went wrong applying the suggestion.")
		return
	}

	err = client.UpdateUserMessage(ctx, user.UserToken, ref.ChannelID, ref.MessageTS, ref.Improved)
	switch {
	case err == nil:
		client.ReplaceOriginal(ctx, callback.ResponseURL, ":white_check_mark: Message updated.")
	case commonerrors.Is(err, commonerrors.ErrCodeMissingUserToken):
		client.ReplaceOriginal(ctx, callback.ResponseURL,
			"I can't edit messages on your behalf until you connect your account in the app's settings. Until then, copy the suggested text manually.")
	default:
		s.Logger.Error("suggestion apply failed", map[string]interface{}{
			"team":  ws.SlackTeamID,
			"user":  callback.User.ID,
			"error": err.Error(),
		})
		client.ReplaceOriginal(ctx, callback.ResponseURL,
			"Sorry, I couldn't update that message. Copy the suggested text manually.")
	}
}

// handleViewSubmission persists the settings modal. Validation errors
// go back as a response_action so Slack renders them inline.
func (s *Server) handleViewSubmission(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, callback *slack.InteractionCallback) {
	if callback.View.CallbackID != coach.SettingsCallbackID {
		w.WriteHeader(http.StatusOK)
		return
	}

	raw := callback.View.State.Values[coach.SettingsBlockID][coach.SettingsActionID].Value
	flags, errMsg := coach.ParseSettingsSubmission(raw)
	if errMsg != "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(slack.NewErrorsViewSubmissionResponse(map[string]string{
			coach.SettingsBlockID: errMsg,
		}))
		return
	}

	user, err := s.Users.GetBySlackID(ctx, ws.ID, callback.User.ID)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(slack.NewErrorsViewSubmissionResponse(map[string]string{
			coach.SettingsBlockID: "Couldn't load your settings. Please try again.",
		}))
		return
	}

	if err := s.Users.UpdateSettings(ctx, ws.ID, user.SlackUserID, flags, user.AutoCoachChannels); err != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(slack.NewErrorsViewSubmissionResponse(map[string]string{
			coach.SettingsBlockID: "Couldn't save your settings. Please try again.",
		}))
		return
	}

	s.Logger.Info("coaching flags updated", map[string]interface{}{
		"team":  ws.SlackTeamID,
		"user":  user.SlackUserID,
		"flags": len(flags),
	})
	w.WriteHeader(http.StatusOK)
}
