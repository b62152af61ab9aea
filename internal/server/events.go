package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/slack-go/slack/slackevents"

	"slackcoach/internal/models"
	"slackcoach/internal/tasks/autocoach"
)

// handleEvents is the Events API endpoint. Slack expects a 200 within
// three seconds no matter what happened to the event, so every path
// through here acknowledges; real work is deferred to the scheduler.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body := rawBody(r)

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		s.Logger.Warn("unparseable event payload", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusOK)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))
		return

	case slackevents.CallbackEvent:
		s.dispatchCallback(r.Context(), body, event)
		w.WriteHeader(http.StatusOK)
		return

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) dispatchCallback(ctx context.Context, body []byte, event slackevents.EventsAPIEvent) {
	teamID := event.TeamID
	if teamID == "" {
		var outer struct {
			TeamID string `json:"team_id"`
		}
		json.Unmarshal(body, &outer)
		teamID = outer.TeamID
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		s.handleMessage(ctx, teamID, ev)

	case *slackevents.MemberJoinedChannelEvent:
		s.handleMemberJoined(ctx, teamID, ev)

	case *slackevents.MemberLeftChannelEvent:
		s.handleMemberLeft(ctx, teamID, ev)

	case *slackevents.AppUninstalledEvent:
		s.handleUninstall(ctx, teamID, "app_uninstalled")

	case *slackevents.TokensRevokedEvent:
		s.handleTokensRevoked(ctx, teamID, ev)

	default:
		s.Logger.Debug("ignoring event type", map[string]interface{}{
			"type": event.InnerEvent.Type,
		})
	}
}

// handleMessage runs the admission pipeline and, for events that make
// it through the quota gate, schedules the coaching task.
func (s *Server) handleMessage(ctx context.Context, teamID string, ev *slackevents.MessageEvent) {
	ws, ok := s.workspaceFor(ctx, teamID)
	if !ok {
		return
	}

	inbound := &models.InboundEvent{
		TeamID:    teamID,
		ChannelID: ev.Channel,
		UserID:    ev.User,
		Text:      ev.Text,
		Timestamp: ev.TimeStamp,
		BotID:     ev.BotID,
		Subtype:   ev.SubType,
	}

	decision, err := s.Filter.Check(ctx, ws, inbound)
	if err != nil {
		s.Logger.Error("admission check failed", map[string]interface{}{
			"team":  teamID,
			"error": err.Error(),
		})
		return
	}
	if !decision.Admitted {
		return
	}

	// Gate before scheduling; the increment itself happens inside the
	// task after confirmed delivery, so clean messages and failed tasks
	// never spend allowance.
	access, err := s.Gate.CheckAccess(ctx, ws, decision.User.SlackUserID, models.OpAutoCoach)
	if err != nil {
		s.Logger.Error("quota check failed", map[string]interface{}{
			"team":  teamID,
			"user":  ev.User,
			"error": err.Error(),
		})
		return
	}
	if !access.Allowed {
		// Silent for automatic coaching: the user did not ask for
		// anything, so a denial message would be noise.
		return
	}

	input := &autocoach.Input{Workspace: ws, User: decision.User, Event: inbound}
	client := s.Clients(ws.BotToken)
	taskID, err := s.Scheduler.Schedule(autocoach.TaskType, func(taskCtx context.Context) error {
		return s.AutoCoach.Handle(taskCtx, input, client)
	})
	if err != nil {
		s.Logger.Error("task scheduling failed", map[string]interface{}{
			"team":  teamID,
			"error": err.Error(),
		})
		return
	}

	s.Logger.Info("coaching task scheduled", map[string]interface{}{
		"task_id": taskID,
		"team":    teamID,
		"channel": ev.Channel,
		"user":    ev.User,
	})
}

// handleMemberJoined records channel membership, but only for our own
// bot user: user joins are not membership signals for routing.
func (s *Server) handleMemberJoined(ctx context.Context, teamID string, ev *slackevents.MemberJoinedChannelEvent) {
	ws, ok := s.workspaceFor(ctx, teamID)
	if !ok {
		return
	}
	if ev.User != ws.BotUserID {
		return
	}
	if err := s.Members.RecordJoin(ctx, ws.ID, ev.Channel, ""); err != nil {
		s.Logger.Error("record join failed", map[string]interface{}{
			"team":    teamID,
			"channel": ev.Channel,
			"error":   err.Error(),
		})
		return
	}
	s.Logger.Info("bot joined channel", map[string]interface{}{
		"team":    teamID,
		"channel": ev.Channel,
	})
}

func (s *Server) handleMemberLeft(ctx context.Context, teamID string, ev *slackevents.MemberLeftChannelEvent) {
	ws, ok := s.workspaceFor(ctx, teamID)
	if !ok {
		return
	}
	if ev.User != ws.BotUserID {
		return
	}
	if err := s.Members.RecordLeave(ctx, ws.ID, ev.Channel); err != nil {
		s.Logger.Error("record leave failed", map[string]interface{}{
			"team":    teamID,
			"channel": ev.Channel,
			"error":   err.Error(),
		})
		return
	}
	s.Logger.Info("bot left channel", map[string]interface{}{
		"team":    teamID,
		"channel": ev.Channel,
	})
}

// handleTokensRevoked clears revoked per-user tokens so message edits
// stop using dead credentials. A revoked bot token is as dead as an
// uninstall and tears the workspace down.
func (s *Server) handleTokensRevoked(ctx context.Context, teamID string, ev *slackevents.TokensRevokedEvent) {
	ws, ok := s.workspaceFor(ctx, teamID)
	if !ok {
		return
	}
	for _, userID := range ev.Tokens.Oauth {
		if err := s.Users.SetUserToken(ctx, ws.ID, userID, ""); err != nil {
			s.Logger.Warn("user token clear failed", map[string]interface{}{
				"team":  teamID,
				"user":  userID,
				"error": err.Error(),
			})
			continue
		}
		s.Logger.Info("user token revoked", map[string]interface{}{
			"team": teamID,
			"user": userID,
		})
	}
	if len(ev.Tokens.Bot) > 0 {
		s.handleUninstall(ctx, teamID, "tokens_revoked")
	}
}

// handleUninstall tears the workspace down.
func (s *Server) handleUninstall(ctx context.Context, teamID, cause string) {
	if err := s.Workspaces.Deactivate(ctx, teamID); err != nil {
		s.Logger.Error("workspace deactivation failed", map[string]interface{}{
			"team":  teamID,
			"cause": cause,
			"error": err.Error(),
		})
		return
	}
	s.Logger.Info("workspace deactivated", map[string]interface{}{
		"team":  teamID,
		"cause": cause,
	})
}
