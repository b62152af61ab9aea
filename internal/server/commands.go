package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"slackcoach/internal/coach"
	"slackcoach/internal/models"
	"slackcoach/internal/quota"
	"slackcoach/internal/tasks/feedback"
	"slackcoach/internal/tasks/rephrase"
)

const coachHelpText = "*Commands:*\n" +
	"`/coach start` - set up coaching for your account\n" +
	"`/coach on` / `/coach off` - toggle coaching in this channel\n" +
	"`/coach report` - get a feedback report on your recent messages by DM\n" +
	"`/coach status` - see your usage and active flags\n" +
	"`/coach settings` - edit your coaching flags\n" +
	"`/coach flag <name> on|off` - quick-toggle one flag\n" +
	"`/rephrase <message>` - rewrite a draft before you send it"

// handleCommands dispatches slash commands. Denials and usage errors
// answer synchronously in the command response; real work defers.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		s.Logger.Warn("unparseable slash command", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusOK)
		return
	}

	ws, ok := s.workspaceFor(r.Context(), cmd.TeamID)
	if !ok {
		respondText(w, "This workspace isn't set up. Reinstall the app to get started.")
		return
	}

	switch cmd.Command {
	case "/rephrase":
		s.commandRephrase(r.Context(), w, ws, cmd)
	case "/coach":
		s.commandCoach(r.Context(), w, ws, cmd)
	default:
		respondText(w, "Unknown command.")
	}
}

func (s *Server) commandRephrase(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, cmd slack.SlashCommand) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		respondText(w, "Usage: `/rephrase <the message you want help with>`")
		return
	}

	user, ok := s.onboardedUser(ctx, w, ws, cmd.UserID)
	if !ok {
		return
	}

	if !s.checkQuota(ctx, w, ws, user, models.OpRephrase) {
		return
	}

	input := &rephrase.Input{Workspace: ws, User: user, Text: text, ResponseURL: cmd.ResponseURL}
	client := s.Clients(ws.BotToken)
	if _, err := s.Scheduler.Schedule(rephrase.TaskType, func(taskCtx context.Context) error {
		return s.Rephrase.Handle(taskCtx, input, client)
	}); err != nil {
		respondText(w, "Something went wrong scheduling that. Please try again.")
		return
	}

	respondText(w, ":hourglass_flowing_sand: Working on it. Your rephrased message will appear here shortly.")
}

func (s *Server) commandCoach(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, cmd slack.SlashCommand) {
	sub, rest, _ := strings.Cut(strings.TrimSpace(cmd.Text), " ")

	if sub == "start" {
		s.coachStart(ctx, w, ws, cmd)
		return
	}

	user, ok := s.onboardedUser(ctx, w, ws, cmd.UserID)
	if !ok {
		return
	}

	switch sub {
	case "on":
		s.coachToggleChannel(ctx, w, ws, user, cmd.ChannelID, true)
	case "off":
		s.coachToggleChannel(ctx, w, ws, user, cmd.ChannelID, false)
	case "report":
		s.coachReport(ctx, w, ws, user)
	case "status":
		s.coachStatus(w, ws, user)
	case "settings":
		s.coachSettings(ctx, w, ws, user, cmd.TriggerID)
	case "flag":
		s.coachFlag(ctx, w, ws, user, rest)
	case "", "help":
		respondText(w, coachHelpText)
	default:
		respondText(w, fmt.Sprintf("I don't know `%s`.\n%s", sub, coachHelpText))
	}
}

func (s *Server) coachStart(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, cmd slack.SlashCommand) {
	user, err := s.Users.Onboard(ctx, ws.ID, cmd.UserID, cmd.UserName)
	if err != nil {
		s.Logger.Error("onboarding failed", map[string]interface{}{
			"team":  ws.SlackTeamID,
			"user":  cmd.UserID,
			"error": err.Error(),
		})
		respondText(w, "Something went wrong setting you up. Please try again.")
		return
	}
	respondText(w, fmt.Sprintf(
		"Welcome! You're set up with %d coaching flags. Run `/coach on` in a channel the bot has been invited to, and I'll start watching for them. `/coach help` lists everything else.",
		len(user.EnabledFlags())))
}

func (s *Server) coachToggleChannel(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, user *models.User, channelID string, enable bool) {
	if enable {
		member, err := s.Members.IsMember(ctx, ws.ID, channelID)
		if err != nil {
			respondText(w, "Couldn't check this channel right now. Please try again.")
			return
		}
		if !member {
			respondText(w, "I'm not in this channel yet. `/invite` the bot first, then run `/coach on` again.")
			return
		}
		if user.ChannelEnabled(channelID) {
			respondText(w, "Coaching is already on in this channel.")
			return
		}
		channels := append(append([]string{}, user.AutoCoachChannels...), channelID)
		if err := s.Users.UpdateSettings(ctx, ws.ID, user.SlackUserID, user.CoachingFlags, channels); err != nil {
			respondText(w, "Couldn't save that. Please try again.")
			return
		}
		respondText(w, ":white_check_mark: Coaching is on in this channel. I'll nudge you privately when a message trips one of your flags.")
		return
	}

	if !user.ChannelEnabled(channelID) {
		respondText(w, "Coaching wasn't on in this channel.")
		return
	}
	channels := make([]string, 0, len(user.AutoCoachChannels))
	for _, c := range user.AutoCoachChannels {
		if c != channelID {
			channels = append(channels, c)
		}
	}
	if err := s.Users.UpdateSettings(ctx, ws.ID, user.SlackUserID, user.CoachingFlags, channels); err != nil {
		respondText(w, "Couldn't save that. Please try again.")
		return
	}
	respondText(w, "Coaching is off in this channel.")
}

func (s *Server) coachReport(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, user *models.User) {
	if !s.checkQuota(ctx, w, ws, user, models.OpFeedback) {
		return
	}

	input := &feedback.Input{Workspace: ws, User: user}
	client := s.Clients(ws.BotToken)
	if _, err := s.Scheduler.Schedule(feedback.TaskType, func(taskCtx context.Context) error {
		return s.Feedback.Handle(taskCtx, input, client)
	}); err != nil {
		respondText(w, "Something went wrong scheduling your report. Please try again.")
		return
	}

	respondText(w, ":hourglass_flowing_sand: Building your report. It'll arrive by DM in a minute or two.")
}

func (s *Server) coachStatus(w http.ResponseWriter, ws *models.Workspace, user *models.User) {
	limits := quota.LimitsFor(ws.Tier)

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Plan:* %s\n", ws.Tier)
	fmt.Fprintf(&sb, "*This period:* coaching %d/%d, rephrase %d/%d, reports %d/%d\n",
		user.UsageAutoCoach, limits.AutoCoach,
		user.UsageRephrase, limits.Rephrase,
		user.UsageFeedback, limits.Feedback)
	fmt.Fprintf(&sb, "*Resets:* %s\n", user.UsageResetsAt.Format("Jan 2, 2006"))
	fmt.Fprintf(&sb, "*Coached channels:* %d\n", len(user.AutoCoachChannels))

	sb.WriteString("*Flags:*")
	for _, f := range user.CoachingFlags {
		state := "off"
		if f.Enabled {
			state = "on"
		}
		fmt.Fprintf(&sb, "\n  • %s (%s)", f.Name, state)
	}
	respondText(w, sb.String())
}

func (s *Server) coachFlag(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, user *models.User, args string) {
	name, state, _ := cutLast(strings.TrimSpace(args))
	if name == "" || (state != "on" && state != "off") {
		respondText(w, "Usage: `/coach flag <name> on|off`")
		return
	}

	next, err := user.SetFlagEnabled(name, state == "on")
	switch {
	case err == models.ErrFlagNotFound:
		respondText(w, fmt.Sprintf("No flag named `%s`. `/coach status` lists yours.", name))
		return
	case err == models.ErrNoEnabledFlags:
		respondText(w, "That's your last enabled flag. Enable another one first.")
		return
	case err != nil:
		respondText(w, "Couldn't change that flag.")
		return
	}

	if err := s.Users.UpdateSettings(ctx, ws.ID, user.SlackUserID, next, user.AutoCoachChannels); err != nil {
		respondText(w, "Couldn't save that. Please try again.")
		return
	}
	respondText(w, fmt.Sprintf("Flag `%s` is now %s.", name, state))
}

// coachSettings opens the flag editor modal.
func (s *Server) coachSettings(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, user *models.User, triggerID string) {
	client := s.Clients(ws.BotToken)
	view := coach.SettingsModal(user)
	if _, err := client.API().OpenViewContext(ctx, triggerID, view); err != nil {
		s.Logger.Error("settings modal failed to open", map[string]interface{}{
			"team":  ws.SlackTeamID,
			"user":  user.SlackUserID,
			"error": err.Error(),
		})
		respondText(w, "Couldn't open the settings editor. Please try again.")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// onboardedUser resolves an active, onboarded user or writes the
// appropriate nudge.
func (s *Server) onboardedUser(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, slackUserID string) (*models.User, bool) {
	user, err := s.Users.GetBySlackID(ctx, ws.ID, slackUserID)
	if err != nil || !user.Onboarded || !user.Active {
		respondText(w, "You're not set up yet. Run `/coach start` first.")
		return nil, false
	}
	return user, true
}

// checkQuota evaluates the gate without spending allowance; the task
// increments after confirmed delivery. When denied, the denial is
// written to the command response and false comes back.
func (s *Server) checkQuota(ctx context.Context, w http.ResponseWriter, ws *models.Workspace, user *models.User, op models.OperationKind) bool {
	access, err := s.Gate.CheckAccess(ctx, ws, user.SlackUserID, op)
	if err != nil {
		respondText(w, "Something went wrong. Please try again.")
		return false
	}
	if access.Allowed {
		return true
	}
	switch access.Reason {
	case quota.DenyLimitReached:
		respondBlocks(w, coach.QuotaDeniedBlocks(op, access.UpgradeRequired, access.ResetDate.Format("Jan 2")))
	case quota.DenyWorkspaceInactive, quota.DenySubscription:
		respondText(w, "This workspace's subscription isn't active. Ask an admin to check the billing settings.")
	default:
		respondText(w, "Something went wrong. Please try again.")
	}
	return false
}

// cutLast splits "some flag name on" into ("some flag name", "on").
func cutLast(s string) (string, string, bool) {
	i := strings.LastIndex(s, " ")
	if i < 0 {
		return s, "", false
	}
	return strings.TrimSpace(s[:i]), s[i+1:], true
}

func respondText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(slack.Msg{
		ResponseType: slack.ResponseTypeEphemeral,
		Text:         text,
	})
}

func respondBlocks(w http.ResponseWriter, blocks []slack.Block) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(slack.Msg{
		ResponseType: slack.ResponseTypeEphemeral,
		Blocks:       slack.Blocks{BlockSet: blocks},
	})
}
