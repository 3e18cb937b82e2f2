package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

func TestDecide_DefaultTable(t *testing.T) {
	p := NewPolicy()
	tests := []struct {
		kind    apperrors.ErrorKind
		attempt int
		want    protocol.RecoveryAction
	}{
		{apperrors.KindDeadlineExceeded, 1, protocol.ActionWaitLonger},
		{apperrors.KindDeadlineExceeded, 2, protocol.ActionRestartAgent},
		{apperrors.KindDeadlineExceeded, 3, protocol.ActionPartialStateReset},
		{apperrors.KindDeadlineExceeded, 4, protocol.ActionFullStateReset},
		{apperrors.KindDeadlineExceeded, 9, protocol.ActionFullStateReset},
		{apperrors.KindConnectionRefused, 1, protocol.ActionRestartAgent},
		{apperrors.KindNetworkError, 2, protocol.ActionRetestPrerequisites},
		{apperrors.KindNetworkError, 7, protocol.ActionPartialStateReset},
		{apperrors.KindVerificationFailed, 1, protocol.ActionWaitLonger},
		{apperrors.KindUnknown, 2, protocol.ActionWaitLonger},
		{apperrors.KindUnknown, 3, protocol.ActionRestartAgent},
		{apperrors.KindInvalidCredential, 1, protocol.ActionNone},
		{apperrors.KindInvalidCredential, 3, protocol.ActionNone},
		{apperrors.ErrorKind("SomethingNew"), 1, protocol.ActionWaitLonger},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Decide(tt.kind, tt.attempt).Action, "%s #%d", tt.kind, tt.attempt)
	}
}

func TestDefaultLaddersAreMonotone(t *testing.T) {
	p := NewPolicy()
	for kind, ladder := range DefaultLadders() {
		require.NoError(t, ladder.Validate(), kind)
		prev := 0
		for attempt := 1; attempt <= 10; attempt++ {
			r := p.Decide(kind, attempt).Action.Rank()
			assert.GreaterOrEqual(t, r, prev, "%s attempt %d", kind, attempt)
			prev = r
		}
	}
}

func TestDecide_Deterministic(t *testing.T) {
	p := NewPolicy()
	assert.Equal(t, p.Decide(apperrors.KindNetworkError, 3), p.Decide(apperrors.KindNetworkError, 3))
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig(protocol.RecoveryConfig{
		Ladders: map[string][]string{"ConnectionRefused": {"WaitLonger", "FullStateReset"}},
		Waits:   map[string]protocol.Duration{"WaitLonger": protocol.Duration(time.Second)},
	})
	require.NoError(t, err)
	d := p.Decide(apperrors.KindConnectionRefused, 1)
	assert.Equal(t, protocol.ActionWaitLonger, d.Action)
	assert.Equal(t, time.Second, d.Wait)
	assert.Equal(t, protocol.ActionFullStateReset, p.Decide(apperrors.KindConnectionRefused, 5).Action)
	assert.Equal(t, protocol.ActionWaitLonger, p.Decide(apperrors.KindDeadlineExceeded, 1).Action, "other ladders keep defaults")
}

func TestFromConfig_Rejects(t *testing.T) {
	cases := map[string]protocol.RecoveryConfig{
		"de-escalating":  {Ladders: map[string][]string{"Unknown": {"RestartAgent", "WaitLonger"}}},
		"unknown kind":   {Ladders: map[string][]string{"Bogus": {"WaitLonger"}}},
		"unknown action": {Ladders: map[string][]string{"Unknown": {"Reboot"}}},
		"empty ladder":   {Ladders: map[string][]string{"Unknown": {}}},
		"bad wait":       {Waits: map[string]protocol.Duration{"Nap": protocol.Duration(time.Second)}},
	}
	for name, cfg := range cases {
		_, err := FromConfig(cfg)
		assert.Error(t, err, name)
	}
}
