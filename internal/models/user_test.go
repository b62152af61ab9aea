package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFlagSet(t *testing.T) {
	tests := []struct {
		name    string
		flags   []CoachingFlag
		wantErr error
	}{
		{
			name:  "default set is valid",
			flags: DefaultCoachingFlags(),
		},
		{
			name: "single enabled flag is valid",
			flags: []CoachingFlag{
				{Name: "tone", Description: "d", Enabled: true},
			},
		},
		{
			name: "all flags disabled",
			flags: []CoachingFlag{
				{Name: "a", Description: "d", Enabled: false},
				{Name: "b", Description: "d", Enabled: false},
			},
			wantErr: ErrNoEnabledFlags,
		},
		{
			name:    "empty set",
			flags:   []CoachingFlag{},
			wantErr: ErrNoEnabledFlags,
		},
		{
			name: "over the size bound",
			flags: func() []CoachingFlag {
				out := make([]CoachingFlag, MaxCoachingFlags+1)
				for i := range out {
					out[i] = CoachingFlag{Name: "f", Description: "d", Enabled: true}
				}
				return out
			}(),
			wantErr: ErrTooManyFlags,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFlagSet(tt.flags)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUser_SetFlagEnabled(t *testing.T) {
	u := &User{CoachingFlags: []CoachingFlag{
		{Name: "abrasive tone", Enabled: true},
		{Name: "buried ask", Enabled: false},
	}}

	t.Run("enables a disabled flag", func(t *testing.T) {
		next, err := u.SetFlagEnabled("buried ask", true)
		require.NoError(t, err)
		assert.True(t, next[1].Enabled)
		// The user's own set is untouched until the caller persists.
		assert.False(t, u.CoachingFlags[1].Enabled)
	})

	t.Run("cannot disable the last enabled flag", func(t *testing.T) {
		next, err := u.SetFlagEnabled("abrasive tone", false)
		assert.ErrorIs(t, err, ErrNoEnabledFlags)
		assert.Equal(t, u.CoachingFlags, next)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := u.SetFlagEnabled("no such flag", true)
		assert.ErrorIs(t, err, ErrFlagNotFound)
	})
}

func TestUser_EnabledFlags(t *testing.T) {
	u := &User{CoachingFlags: DefaultCoachingFlags()}
	enabled := u.EnabledFlags()
	require.Len(t, enabled, 3)
	for _, f := range enabled {
		assert.True(t, f.Enabled)
	}
}

func TestUser_ChannelEnabled(t *testing.T) {
	u := &User{AutoCoachChannels: []string{"C1", "C2"}}
	assert.True(t, u.ChannelEnabled("C1"))
	assert.False(t, u.ChannelEnabled("C9"))

	empty := &User{}
	assert.False(t, empty.ChannelEnabled("C1"))
}

func TestUser_Usage(t *testing.T) {
	u := &User{UsageAutoCoach: 3, UsageRephrase: 2, UsageFeedback: 1}
	assert.Equal(t, 3, u.Usage(OpAutoCoach))
	assert.Equal(t, 2, u.Usage(OpRephrase))
	assert.Equal(t, 1, u.Usage(OpFeedback))
	assert.Equal(t, 0, u.Usage(OperationKind("unknown")))
}
