// Package admission decides whether an inbound message event earns a
// background coaching task. Checks run cheapest first so the common
// rejections (bot chatter, replays) never touch Postgres.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"slackcoach/internal/common/config"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/common/metrics"
	"slackcoach/internal/models"
	"slackcoach/internal/store"
)

// Rejection reasons, used as the metric label and in debug logs.
const (
	ReasonBotMessage      = "bot_message"
	ReasonStale           = "stale"
	ReasonDuplicate       = "duplicate"
	ReasonUserUnknown     = "user_unknown"
	ReasonUserInactive    = "user_inactive"
	ReasonNotOnboarded    = "not_onboarded"
	ReasonNotMember       = "bot_not_in_channel"
	ReasonChannelDisabled = "channel_not_enabled"
)

// Decision is the filter verdict. When Admitted is true, User carries
// the resolved identity so downstream stages skip a second lookup.
type Decision struct {
	Admitted bool
	Reason   string
	User     *models.User
}

type userGetter interface {
	GetBySlackID(ctx context.Context, workspaceID uuid.UUID, slackUserID string) (*models.User, error)
}

type memberChecker interface {
	IsMember(ctx context.Context, workspaceID uuid.UUID, channelID string) (bool, error)
}

// Filter applies the ordered admission checks for message events.
type Filter struct {
	users   userGetter
	members memberChecker
	redis   *redis.Client
	cfg     config.PipelineConfig
	logger  logger.Logger
	now     func() time.Time
}

func NewFilter(users userGetter, members memberChecker, rdb *redis.Client, cfg config.PipelineConfig, log logger.Logger) *Filter {
	return &Filter{
		users:   users,
		members: members,
		redis:   rdb,
		cfg:     cfg,
		logger:  log,
		now:     time.Now,
	}
}

// Check runs the admission pipeline for one event. An error return
// means a dependency failed mid-check; the caller still answers Slack
// with 200 and drops the event.
func (f *Filter) Check(ctx context.Context, ws *models.Workspace, ev *models.InboundEvent) (*Decision, error) {
	if f.isBotAuthored(ws, ev) {
		return f.rejected(ev, ReasonBotMessage), nil
	}

	age, err := ev.Age(f.now())
	if err != nil {
		return f.rejected(ev, ReasonStale), nil
	}
	if age > time.Duration(f.cfg.MaxEventAgeMS)*time.Millisecond {
		return f.rejected(ev, ReasonStale), nil
	}

	if f.seenBefore(ctx, ev) {
		return f.rejected(ev, ReasonDuplicate), nil
	}

	user, err := f.users.GetBySlackID(ctx, ws.ID, ev.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return f.rejected(ev, ReasonUserUnknown), nil
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return f.rejected(ev, ReasonUserInactive), nil
	}
	if !user.Onboarded {
		return f.rejected(ev, ReasonNotOnboarded), nil
	}

	member, err := f.members.IsMember(ctx, ws.ID, ev.ChannelID)
	if err != nil {
		return nil, err
	}
	if !member {
		return f.rejected(ev, ReasonNotMember), nil
	}

	if !user.ChannelEnabled(ev.ChannelID) {
		return f.rejected(ev, ReasonChannelDisabled), nil
	}

	metrics.EventsAdmitted.Inc()
	return &Decision{Admitted: true, User: user}, nil
}

// isBotAuthored catches every bot marker Slack attaches, plus the
// degenerate empty message. Matching our own bot user id closes the
// echo loop even when the bot_id field is absent.
func (f *Filter) isBotAuthored(ws *models.Workspace, ev *models.InboundEvent) bool {
	if ev.BotID != "" || ev.Subtype != "" {
		return true
	}
	if ev.UserID == "" || ev.Text == "" {
		return true
	}
	return ws.BotUserID != "" && ev.UserID == ws.BotUserID
}

// seenBefore claims the event key in redis with SET NX. A redis outage
// degrades to admit: the timestamp age check still bounds how long a
// replay storm can last, and a duplicate coaching card beats a silent
// drop of a legitimate event.
func (f *Filter) seenBefore(ctx context.Context, ev *models.InboundEvent) bool {
	key := fmt.Sprintf("evt:%s:%s:%s", ev.TeamID, ev.ChannelID, ev.Timestamp)
	ttl := time.Duration(f.cfg.DedupTTLMinutes) * time.Minute

	claimed, err := f.redis.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		f.logger.Warn("dedup check unavailable, admitting event", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}
	return !claimed
}

func (f *Filter) rejected(ev *models.InboundEvent, reason string) *Decision {
	metrics.EventsRejected.WithLabelValues(reason).Inc()
	f.logger.Debug("event rejected", map[string]interface{}{
		"reason":  reason,
		"team":    ev.TeamID,
		"channel": ev.ChannelID,
		"ts":      ev.Timestamp,
	})
	return &Decision{Reason: reason}
}
