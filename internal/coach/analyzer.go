// Package coach talks to the text analysis service and turns its
// verdicts into Slack-ready output.
package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slackcoach/internal/common/config"
	"slackcoach/internal/common/errors"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/models"
	"slackcoach/internal/slackapi"
)

// Analysis modes. They share the wire format; the service weighs the
// response differently per mode.
const (
	ModeAutoCoach = "auto_coach"
	ModeRephrase  = "rephrase"
	ModeFeedback  = "feedback"
)

const maxRetries = 2

// Request is one analysis job sent to the service.
type Request struct {
	Mode    string                         `json:"mode"`
	Text    string                         `json:"text"`
	Flags   []models.CoachingFlag          `json:"flags"`
	Context []slackapi.ConversationMessage `json:"context,omitempty"`
}

// Analysis is the service verdict.
type Analysis struct {
	Flagged   bool     `json:"flagged"`
	Flags     []string `json:"flags"`
	Improved  string   `json:"improved"`
	Rationale string   `json:"rationale"`
}

// Analyzer is the analysis port. The HTTP implementation below is the
// only production one; tests substitute fakes.
type Analyzer interface {
	Analyze(ctx context.Context, req *Request) (*Analysis, error)
}

// HTTPAnalyzer calls the analysis service over HTTP with bearer auth.
type HTTPAnalyzer struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  logger.Logger
}

func NewHTTPAnalyzer(cfg config.AnalyzerConfig, log logger.Logger) *HTTPAnalyzer {
	return &HTTPAnalyzer{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		timeout: time.Duration(cfg.Timeout) * time.Second,
		// No client timeout; the configured deadline below bounds each
		// Analyze call inside the task context.
		client: &http.Client{},
		logger: log,
	}
}

// Analyze posts the request and retries transient failures with
// exponential backoff. A context deadline maps to ANALYSIS_TIMEOUT so
// callers can tell "service slow" from "service wrong".
func (a *HTTPAnalyzer) Analyze(ctx context.Context, req *Request) (*Analysis, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAnalysisFailed, "encode analysis request", err)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var resp *http.Response
	var lastErr error
	retryable := true

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errors.Wrap(errors.ErrCodeAnalysisTimeout, "analysis deadline passed", ctx.Err())
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/analyze", bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeAnalysisFailed, "build analysis request", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

		resp, lastErr = a.client.Do(httpReq)
		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			status := resp.StatusCode
			resp.Body.Close()
			lastErr = fmt.Errorf("analyzer status %d", status)
			resp = nil
			// Client errors are not going to improve on retry.
			if status >= 400 && status < 500 {
				retryable = false
				break
			}
		}

		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCodeAnalysisTimeout, "analysis deadline passed", ctx.Err())
		}
	}

	if resp == nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.ErrCodeAnalysisTimeout, "analysis deadline passed", ctx.Err()).
				WithRetryable(true).WithMetadata("mode", req.Mode)
		}
		return nil, errors.Wrap(errors.ErrCodeAnalysisFailed, "analysis request failed", lastErr).
			WithRetryable(retryable).WithMetadata("mode", req.Mode)
	}
	defer resp.Body.Close()

	var out Analysis
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(errors.ErrCodeAnalysisFailed, "decode analysis response", err)
	}

	// A flagged verdict with no named flags is not actionable; treat
	// it as clean rather than show the user an empty card.
	if out.Flagged && len(out.Flags) == 0 {
		out.Flagged = false
	}

	a.logger.Debug("analysis completed", map[string]interface{}{
		"mode":    req.Mode,
		"flagged": out.Flagged,
		"flags":   len(out.Flags),
	})
	return &out, nil
}
