package rephrase

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackcoach/internal/coach"
	"slackcoach/internal/common/logger"
	"slackcoach/internal/models"
	"slackcoach/internal/quota"
)

type fakeGate struct {
	consumed []models.OperationKind
}

func (f *fakeGate) Consume(_ context.Context, _ *models.Workspace, _ *models.User, op models.OperationKind) (*quota.Access, error) {
	f.consumed = append(f.consumed, op)
	return &quota.Access{Allowed: true}, nil
}

type fakeAnalyzer struct {
	analysis *coach.Analysis
	err      error
	lastReq  *coach.Request
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req *coach.Request) (*coach.Analysis, error) {
	f.lastReq = req
	return f.analysis, f.err
}

type fakeResponder struct {
	calls  int
	err    error
	url    string
	text   string
	blocks []slack.Block
}

func (f *fakeResponder) RespondEphemeral(_ context.Context, responseURL, text string, blocks ...slack.Block) error {
	f.calls++
	f.url = responseURL
	f.text = text
	f.blocks = blocks
	return f.err
}

func testInput(text string) *Input {
	return &Input{
		Workspace: &models.Workspace{ID: uuid.New(), SlackTeamID: "T100", Tier: models.TierFree},
		User: &models.User{
			SlackUserID:   "U100",
			CoachingFlags: models.DefaultCoachingFlags(),
		},
		Text:        text,
		ResponseURL: "https://hooks.slack.test/commands/T100/123",
	}
}

func newTestHandler(a coach.Analyzer, gate *fakeGate) *Handler {
	return NewHandler(LoadConfig(), a, gate, logger.NewNoOpLogger())
}

func TestExecute_DeliversRephrasedText(t *testing.T) {
	an := &fakeAnalyzer{analysis: &coach.Analysis{
		Flagged:   true,
		Flags:     []string{"vague urgency"},
		Improved:  "Could you finish this by end of day Friday?",
		Rationale: "Named the deadline instead of saying ASAP.",
	}}
	resp := &fakeResponder{}
	gate := &fakeGate{}

	h := newTestHandler(an, gate)
	out, err := h.Execute(context.Background(), testInput("I need this ASAP"), resp)
	require.NoError(t, err)

	assert.True(t, out.Delivered)
	assert.Equal(t, "Could you finish this by end of day Friday?", out.Improved)
	assert.Equal(t, 1, resp.calls)
	assert.Equal(t, "https://hooks.slack.test/commands/T100/123", resp.url)
	assert.NotEmpty(t, resp.blocks)
	assert.Equal(t, coach.ModeRephrase, an.lastReq.Mode)
	assert.Equal(t, []models.OperationKind{models.OpRephrase}, gate.consumed)
}

func TestExecute_EmptyImprovementEchoesOriginal(t *testing.T) {
	an := &fakeAnalyzer{analysis: &coach.Analysis{Flagged: false}}
	resp := &fakeResponder{}

	h := newTestHandler(an, &fakeGate{})
	out, err := h.Execute(context.Background(), testInput("see you at standup"), resp)
	require.NoError(t, err)
	assert.Equal(t, "see you at standup", out.Improved)
}

func TestExecute_TruncatesOversizedInput(t *testing.T) {
	an := &fakeAnalyzer{analysis: &coach.Analysis{Improved: "shorter"}}
	resp := &fakeResponder{}

	h := newTestHandler(an, &fakeGate{})
	long := strings.Repeat("a", 5000)
	_, err := h.Execute(context.Background(), testInput(long), resp)
	require.NoError(t, err)
	assert.Len(t, an.lastReq.Text, h.config.MaxInputLen)
}

func TestExecute_TruncationKeepsValidUTF8(t *testing.T) {
	an := &fakeAnalyzer{analysis: &coach.Analysis{Improved: "shorter"}}
	resp := &fakeResponder{}

	h := newTestHandler(an, &fakeGate{})
	// Three-byte runes behind an ASCII prefix put the byte limit in
	// the middle of a rune.
	long := "ab" + strings.Repeat("界", h.config.MaxInputLen)
	_, err := h.Execute(context.Background(), testInput(long), resp)
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(an.lastReq.Text))
	assert.LessOrEqual(t, len(an.lastReq.Text), h.config.MaxInputLen)
}

func TestExecute_AnalyzerFailurePropagates(t *testing.T) {
	an := &fakeAnalyzer{err: fmt.Errorf("analyzer unavailable")}
	resp := &fakeResponder{}
	gate := &fakeGate{}

	h := newTestHandler(an, gate)
	_, err := h.Execute(context.Background(), testInput("hello"), resp)
	require.Error(t, err)
	assert.Zero(t, resp.calls)
	assert.Empty(t, gate.consumed)
}

func TestExecute_DeliveryFailurePropagates(t *testing.T) {
	an := &fakeAnalyzer{analysis: &coach.Analysis{Improved: "better"}}
	resp := &fakeResponder{err: fmt.Errorf("expired_url")}
	gate := &fakeGate{}

	h := newTestHandler(an, gate)
	_, err := h.Execute(context.Background(), testInput("hello"), resp)
	require.Error(t, err)
	assert.Empty(t, gate.consumed)
}
