package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/meshconverge/pkg/errors"
)

func TestReadinessCheckSet(t *testing.T) {
	assert.False(t, ReadinessCheckSet{}.AllPassed(), "empty set is not ready")

	set := ReadinessCheckSet{
		{Name: CheckServiceRunning, Passed: true},
		{Name: CheckDaemonResponding, Passed: false},
		{Name: CheckStateStoreWritable, Passed: false},
	}
	assert.False(t, set.AllPassed())
	assert.Equal(t, []string{CheckDaemonResponding, CheckStateStoreWritable}, set.Failed())

	set[1].Passed, set[2].Passed = true, true
	assert.True(t, set.AllPassed())
	assert.Empty(t, set.Failed())
}

func TestPrereqReportKind(t *testing.T) {
	tests := []struct {
		name   string
		checks []PrereqCheck
		want   errors.ErrorKind
	}{
		{"all pass", []PrereqCheck{{Name: PrereqValidCredential, Critical: true, Passed: true}}, errors.KindNone},
		{"advisory failure ignored", []PrereqCheck{{Name: PrereqFirewallEgress, Passed: false}}, errors.KindNone},
		{"credential", []PrereqCheck{{Name: PrereqValidCredential, Critical: true}}, errors.KindInvalidCredential},
		{"endpoint", []PrereqCheck{{Name: PrereqEndpointReachable, Critical: true}}, errors.KindNetworkError},
		{"conflict", []PrereqCheck{{Name: PrereqNoConflict, Critical: true}}, errors.KindUnknown},
		{"first critical failure wins", []PrereqCheck{
			{Name: PrereqEndpointReachable, Critical: true},
			{Name: PrereqValidCredential, Critical: true},
		}, errors.KindNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PrereqReport{Checks: tt.checks}.Kind())
		})
	}
}

func TestPrereqReportCheck(t *testing.T) {
	r := PrereqReport{Checks: []PrereqCheck{{Name: PrereqStorageHeadroom, Passed: true}}}
	c, ok := r.Check(PrereqStorageHeadroom)
	assert.True(t, ok)
	assert.True(t, c.Passed)
	_, ok = r.Check(PrereqNoConflict)
	assert.False(t, ok)
}

func TestActionRankIsMonotone(t *testing.T) {
	order := []RecoveryAction{ActionWaitLonger, ActionRetestPrerequisites, ActionRestartAgent,
		ActionPartialStateReset, ActionFullStateReset, ActionNone}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(), order[i])
	}
	assert.Zero(t, RecoveryAction("Reboot").Rank())

	a, ok := ParseAction("RestartAgent")
	assert.True(t, ok)
	assert.Equal(t, ActionRestartAgent, a)
	_, ok = ParseAction("restartagent")
	assert.False(t, ok)
}

func TestConvergenceResultExitCode(t *testing.T) {
	assert.Equal(t, 0, ConvergenceResult{Success: true}.ExitCode())
	assert.Equal(t, 0, ConvergenceResult{Success: true, Skipped: true}.ExitCode())
	assert.Equal(t, 12, ConvergenceResult{LastErrorKind: errors.KindInvalidCredential}.ExitCode())
	assert.Equal(t, 14, ConvergenceResult{LastErrorKind: errors.KindVerificationFailed}.ExitCode())
	assert.Equal(t, 15, ConvergenceResult{}.ExitCode(), "failure without a kind is Unknown")
}

func TestHasIndicator(t *testing.T) {
	s := StatusSnapshot{RawIndicators: []string{"needslogin"}}
	assert.True(t, s.HasIndicator("needslogin"))
	assert.False(t, s.HasIndicator("connection refused"))
}
