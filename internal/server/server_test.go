package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"slackcoach/internal/admission"
	"slackcoach/internal/coach"
	"slackcoach/internal/common/config"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/models"
	"slackcoach/internal/quota"
	"slackcoach/internal/scheduler"
	"slackcoach/internal/slackapi"
	"slackcoach/internal/store"
	"slackcoach/internal/tasks/autocoach"
	"slackcoach/internal/tasks/feedback"
	"slackcoach/internal/tasks/rephrase"
)

const testSigningSecret = "test-signing-secret"

// memStore is a single in-memory backing for all three repositories.
type memStore struct {
	mu         sync.Mutex
	workspaces map[string]*models.Workspace // by slack team id
	users      map[string]*models.User      // by slack user id
	members    map[string]bool              // by channel id
}

func newMemStore() *memStore {
	return &memStore{
		workspaces: map[string]*models.Workspace{},
		users:      map[string]*models.User{},
		members:    map[string]bool{},
	}
}

func (m *memStore) GetBySlackTeamID(_ context.Context, teamID string) (*models.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[teamID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (m *memStore) Deactivate(_ context.Context, teamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ws, ok := m.workspaces[teamID]; ok {
		ws.Active = false
		ws.BotToken = ""
	}
	return nil
}

func (m *memStore) GetBySlackID(_ context.Context, _ uuid.UUID, slackUserID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[slackUserID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) Onboard(_ context.Context, workspaceID uuid.UUID, slackUserID, displayName string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[slackUserID]; ok {
		u.Onboarded = true
		u.Active = true
		cp := *u
		return &cp, nil
	}
	u := &models.User{
		ID:            uuid.New(),
		WorkspaceID:   workspaceID,
		SlackUserID:   slackUserID,
		DisplayName:   displayName,
		Onboarded:     true,
		Active:        true,
		CoachingFlags: models.DefaultCoachingFlags(),
		UsageResetsAt: time.Now().AddDate(0, 1, 0),
	}
	m.users[slackUserID] = u
	cp := *u
	return &cp, nil
}

func (m *memStore) UpdateSettings(_ context.Context, _ uuid.UUID, slackUserID string, flags []models.CoachingFlag, channels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[slackUserID]
	if !ok {
		return store.ErrNotFound
	}
	u.CoachingFlags = flags
	u.AutoCoachChannels = channels
	return nil
}

func (m *memStore) SetUserToken(_ context.Context, _ uuid.UUID, slackUserID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[slackUserID]
	if !ok {
		return store.ErrNotFound
	}
	u.UserToken = token
	return nil
}

func (m *memStore) RolloverUsage(_ context.Context, u *models.User, next time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.users[u.SlackUserID]
	if !ok || !stored.UsageResetsAt.Equal(u.UsageResetsAt) {
		return false, nil
	}
	stored.UsageAutoCoach = 0
	stored.UsageRephrase = 0
	stored.UsageFeedback = 0
	stored.UsageResetsAt = next
	return true, nil
}

func (m *memStore) IncrementUsage(_ context.Context, _ uuid.UUID, slackUserID string, op models.OperationKind, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[slackUserID]
	if !ok {
		return store.ErrNotFound
	}
	if u.Usage(op) >= limit {
		return store.ErrLimitReached
	}
	switch op {
	case models.OpAutoCoach:
		u.UsageAutoCoach++
	case models.OpRephrase:
		u.UsageRephrase++
	case models.OpFeedback:
		u.UsageFeedback++
	}
	return nil
}

func (m *memStore) RecordJoin(_ context.Context, _ uuid.UUID, channelID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[channelID] = true
	return nil
}

func (m *memStore) RecordLeave(_ context.Context, _ uuid.UUID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, channelID)
	return nil
}

func (m *memStore) IsMember(_ context.Context, _ uuid.UUID, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[channelID], nil
}

func (m *memStore) user(slackUserID string) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.users[slackUserID]
	return &cp
}

// slackCall is one recorded request against the fake Slack API.
type slackCall struct {
	Path string
	Form url.Values
	Body string
}

// fakeSlack emulates the handful of Web API methods and response_url
// webhooks the service touches.
type fakeSlack struct {
	mu    sync.Mutex
	calls []slackCall
	srv   *httptest.Server
}

func newFakeSlack(t *testing.T) *fakeSlack {
	t.Helper()
	f := &fakeSlack{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		r.ParseForm()

		f.mu.Lock()
		f.calls = append(f.calls, slackCall{Path: r.URL.Path, Form: r.PostForm, Body: string(body)})
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "conversations.open"):
			fmt.Fprint(w, `{"ok":true,"channel":{"id":"D900"}}`)
		case strings.HasSuffix(r.URL.Path, "conversations.history"):
			fmt.Fprint(w, `{"ok":true,"messages":[]}`)
		case strings.HasSuffix(r.URL.Path, "chat.postEphemeral"):
			fmt.Fprint(w, `{"ok":true,"message_ts":"1712345678.000500"}`)
		case strings.HasSuffix(r.URL.Path, "chat.postMessage"):
			fmt.Fprint(w, `{"ok":true,"channel":"D900","ts":"1712345678.000600"}`)
		case strings.HasSuffix(r.URL.Path, "chat.update"):
			fmt.Fprint(w, `{"ok":true,"channel":"C100","ts":"1712345678.000200"}`)
		case strings.HasSuffix(r.URL.Path, "views.open"):
			fmt.Fprint(w, `{"ok":true,"view":{"id":"V100"}}`)
		default:
			fmt.Fprint(w, `{"ok":true}`)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// waitFor polls until a call whose path contains frag arrives.
func (f *fakeSlack) waitFor(t *testing.T, frag string) slackCall {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, c := range f.calls {
			if strings.Contains(c.Path, frag) {
				f.mu.Unlock()
				return c
			}
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no call matching %q reached the fake Slack API", frag)
	return slackCall{}
}

func (f *fakeSlack) countCalls(frag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.Path, frag) {
			n++
		}
	}
	return n
}

type fixedAnalyzer struct {
	analysis *coach.Analysis
	err      error
}

func (f *fixedAnalyzer) Analyze(_ context.Context, _ *coach.Request) (*coach.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.analysis
	return &cp, nil
}

// harness wires a full server against in-memory stores, miniredis, and
// the fake Slack API.
type harness struct {
	server *Server
	store  *memStore
	slack  *fakeSlack
	sched  *scheduler.Scheduler
}

func newHarness(t *testing.T, analyzer coach.Analyzer) *harness {
	t.Helper()

	mem := newMemStore()
	fake := newFakeSlack(t)
	log := logger.NewNoOpLogger()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{}
	cfg.Server = config.ServerConfig{
		ReadTimeout:  5,
		WriteTimeout: 5,
		MaxBodyBytes: 1 << 20,
	}
	cfg.Slack = config.SlackConfig{
		SigningSecret: testSigningSecret,
		APIURL:        fake.srv.URL + "/api/",
	}
	cfg.Pipeline = config.PipelineConfig{
		MaxEventAgeMS:      10000,
		DedupTTLMinutes:    15,
		ContextMessages:    5,
		MaxConcurrentTasks: 4,
		TaskTimeout:        10,
	}

	filter := admission.NewFilter(mem, mem, rdb, cfg.Pipeline, log)
	gate := quota.NewGate(mem, log)
	sched := scheduler.New(cfg.Pipeline, nil, log)
	t.Cleanup(func() { sched.Shutdown(context.Background()) })

	srv := New(Deps{
		Config:     cfg,
		Verifier:   slackapi.NewVerifier(testSigningSecret),
		Clients:    slackapi.NewFactory(cfg.Slack.APIURL, log),
		Workspaces: mem,
		Users:      mem,
		Members:    mem,
		Filter:     filter,
		Gate:       gate,
		Scheduler:  sched,
		AutoCoach:  autocoach.NewHandler(autocoach.LoadConfig(cfg.Pipeline.ContextMessages), analyzer, gate, log),
		Rephrase:   rephrase.NewHandler(rephrase.LoadConfig(), analyzer, gate, log),
		Feedback:   feedback.NewHandler(feedback.LoadConfig(), analyzer, gate, log),
		Logger:     log,
	})

	return &harness{server: srv, store: mem, slack: fake, sched: sched}
}

// seed installs a workspace with one onboarded user and one channel
// the bot is a member of and the user has enabled.
func (h *harness) seed(t *testing.T, tier string) (*models.Workspace, *models.User) {
	t.Helper()
	ws := &models.Workspace{
		ID:                 uuid.New(),
		SlackTeamID:        "T100",
		TeamName:           "Acme",
		BotToken:           "xoxb-test",
		BotUserID:          "UBOT",
		Tier:               tier,
		SubscriptionStatus: models.SubscriptionActive,
		Active:             true,
	}
	u := &models.User{
		ID:                uuid.New(),
		WorkspaceID:       ws.ID,
		SlackUserID:       "U100",
		DisplayName:       "sam",
		Onboarded:         true,
		Active:            true,
		CoachingFlags:     models.DefaultCoachingFlags(),
		AutoCoachChannels: []string{"C100"},
		UsageResetsAt:     time.Now().AddDate(0, 0, 20),
	}
	h.store.mu.Lock()
	h.store.workspaces[ws.SlackTeamID] = ws
	h.store.users[u.SlackUserID] = u
	h.store.members["C100"] = true
	h.store.mu.Unlock()
	return ws, u
}

// post signs and delivers a request the way Slack would.
func (h *harness) post(t *testing.T, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", contentType)

	ts := slackapi.FormatTimestamp(time.Now())
	v := slackapi.NewVerifier(testSigningSecret)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", v.Sign(ts, body))

	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func (h *harness) postEvent(t *testing.T, payload map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return h.post(t, "/slack/events", "application/json", body)
}

func (h *harness) postCommand(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return h.post(t, "/slack/commands", "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func (h *harness) postInteraction(t *testing.T, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	form := url.Values{"payload": {string(raw)}}
	return h.post(t, "/slack/interactive", "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func messageEvent(ts string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "event_callback",
		"team_id": "T100",
		"event": map[string]interface{}{
			"type":    "message",
			"channel": "C100",
			"user":    "U100",
			"text":    "this is taking forever, hurry up",
			"ts":      ts,
		},
	}
}

func nowTS() string {
	return fmt.Sprintf("%d.%06d", time.Now().Unix(), time.Now().Nanosecond()/1000%1000000)
}

func flaggedAnalysis() *coach.Analysis {
	return &coach.Analysis{
		Flagged:   true,
		Flags:     []string{"abrasive tone"},
		Improved:  "Any update on this? Let me know if something is blocking you.",
		Rationale: "Direct pressure without context lands poorly.",
	}
}
