// Package server is the HTTP edge: Slack webhook endpoints behind
// signature verification, plus the ops surface (health, metrics).
package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"slackcoach/internal/admission"
	"slackcoach/internal/common/config"
	commonerrors "slackcoach/internal/common/errors"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/common/metrics"
	"slackcoach/internal/models"
	"slackcoach/internal/quota"
	"slackcoach/internal/scheduler"
	"slackcoach/internal/slackapi"
	"slackcoach/internal/tasks/autocoach"
	"slackcoach/internal/tasks/feedback"
	"slackcoach/internal/tasks/rephrase"
)

type workspaceStore interface {
	GetBySlackTeamID(ctx context.Context, teamID string) (*models.Workspace, error)
	Deactivate(ctx context.Context, teamID string) error
}

type userStore interface {
	GetBySlackID(ctx context.Context, workspaceID uuid.UUID, slackUserID string) (*models.User, error)
	Onboard(ctx context.Context, workspaceID uuid.UUID, slackUserID, displayName string) (*models.User, error)
	UpdateSettings(ctx context.Context, workspaceID uuid.UUID, slackUserID string, flags []models.CoachingFlag, channels []string) error
	SetUserToken(ctx context.Context, workspaceID uuid.UUID, slackUserID, token string) error
}

type membershipStore interface {
	RecordJoin(ctx context.Context, workspaceID uuid.UUID, channelID, channelName string) error
	RecordLeave(ctx context.Context, workspaceID uuid.UUID, channelID string) error
	IsMember(ctx context.Context, workspaceID uuid.UUID, channelID string) (bool, error)
}

// Deps carries everything the handlers need. All fields are required.
type Deps struct {
	Config     *config.Config
	Verifier   *slackapi.Verifier
	Clients    slackapi.Factory
	Workspaces workspaceStore
	Users      userStore
	Members    membershipStore
	Filter     *admission.Filter
	Gate       *quota.Gate
	Scheduler  *scheduler.Scheduler
	AutoCoach  *autocoach.Handler
	Rephrase   *rephrase.Handler
	Feedback   *feedback.Handler
	Logger     logger.Logger
}

type Server struct {
	Deps
	router chi.Router
}

func New(deps Deps) *Server {
	s := &Server{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(deps.Config.Server.WriteTimeout) * time.Second))

	r.Route("/slack", func(r chi.Router) {
		r.Use(s.verifySlackRequest)
		r.Post("/events", s.handleEvents)
		r.Post("/commands", s.handleCommands)
		r.Post("/interactive", s.handleInteractive)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ctxKey int

const rawBodyKey ctxKey = 0

// verifySlackRequest reads the raw body, checks the Slack signature
// against it, and makes both the body bytes and a replayable r.Body
// available to handlers. Anything that fails here gets a 401 and no
// further processing.
func (s *Server) verifySlackRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, s.Config.Server.MaxBodyBytes))
		r.Body.Close()
		if err != nil {
			metrics.WebhookRequests.WithLabelValues(r.URL.Path, "read_error").Inc()
			se := commonerrors.Wrap(commonerrors.ErrCodeMalformedRequest, "unreadable request body", err)
			http.Error(w, se.Message, commonerrors.HTTPStatus(se.Code))
			return
		}

		sig := r.Header.Get("X-Slack-Signature")
		ts := r.Header.Get("X-Slack-Request-Timestamp")
		if err := s.Verifier.Verify(sig, ts, body); err != nil {
			metrics.WebhookRequests.WithLabelValues(r.URL.Path, "auth_rejected").Inc()
			s.Logger.Warn("rejected unsigned request", map[string]interface{}{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			se := commonerrors.Wrap(commonerrors.ErrCodeAuthRejected, "invalid signature", err)
			http.Error(w, se.Message, commonerrors.HTTPStatus(se.Code))
			return
		}

		metrics.WebhookRequests.WithLabelValues(r.URL.Path, "accepted").Inc()
		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), rawBodyKey, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func rawBody(r *http.Request) []byte {
	body, _ := r.Context().Value(rawBodyKey).([]byte)
	return body
}

// workspaceFor resolves the installed, active workspace for a team id.
func (s *Server) workspaceFor(ctx context.Context, teamID string) (*models.Workspace, bool) {
	ws, err := s.Workspaces.GetBySlackTeamID(ctx, teamID)
	if err != nil {
		s.Logger.Warn("workspace lookup failed", map[string]interface{}{
			"team":  teamID,
			"error": err.Error(),
		})
		return nil, false
	}
	if !ws.Active {
		return nil, false
	}
	return ws, true
}

// Ops returns the separate health and metrics handler served on the
// ops listener.
func Ops(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metricsHandler)
	return r
}
