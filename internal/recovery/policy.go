// Package recovery maps a classified failure and attempt number to the next
// remedy. Decisions are pure table lookups.
package recovery

import (
	"fmt"
	"time"

	apperrors "github.com/turtacn/meshconverge/pkg/errors"
	"github.com/turtacn/meshconverge/pkg/protocol"
)

// Decision is the action to take and how long to pause after it.
type Decision struct {
	Action protocol.RecoveryAction
	Wait   time.Duration
}

// Ladder is the escalation sequence for one error kind.
type Ladder []protocol.RecoveryAction

// DefaultLadders returns the built-in escalation table.
func DefaultLadders() map[apperrors.ErrorKind]Ladder {
	return map[apperrors.ErrorKind]Ladder{
		apperrors.KindDeadlineExceeded: {
			protocol.ActionWaitLonger, protocol.ActionRestartAgent,
			protocol.ActionPartialStateReset, protocol.ActionFullStateReset,
		},
		apperrors.KindConnectionRefused: {
			protocol.ActionRestartAgent, protocol.ActionRestartAgent,
			protocol.ActionPartialStateReset, protocol.ActionFullStateReset,
		},
		apperrors.KindNetworkError: {
			protocol.ActionWaitLonger, protocol.ActionRetestPrerequisites,
			protocol.ActionRestartAgent, protocol.ActionPartialStateReset,
		},
		apperrors.KindVerificationFailed: {
			protocol.ActionWaitLonger, protocol.ActionRestartAgent,
			protocol.ActionPartialStateReset, protocol.ActionFullStateReset,
		},
		apperrors.KindUnknown: {
			protocol.ActionWaitLonger, protocol.ActionWaitLonger,
			protocol.ActionRestartAgent, protocol.ActionRestartAgent,
		},
		apperrors.KindInvalidCredential: {protocol.ActionNone},
	}
}

// DefaultWaits returns the pause taken after each action.
func DefaultWaits() map[protocol.RecoveryAction]time.Duration {
	return map[protocol.RecoveryAction]time.Duration{
		protocol.ActionWaitLonger:          10 * time.Second,
		protocol.ActionRetestPrerequisites: 5 * time.Second,
		protocol.ActionRestartAgent:        5 * time.Second,
		protocol.ActionPartialStateReset:   5 * time.Second,
		protocol.ActionFullStateReset:      5 * time.Second,
	}
}

// Policy holds the ladder table.
type Policy struct {
	ladders map[apperrors.ErrorKind]Ladder
	waits   map[protocol.RecoveryAction]time.Duration
}

// NewPolicy builds the default policy.
func NewPolicy() *Policy {
	return &Policy{ladders: DefaultLadders(), waits: DefaultWaits()}
}

// FromConfig overlays configured ladders and waits on the defaults. Every
// ladder is checked for monotone escalation.
func FromConfig(cfg protocol.RecoveryConfig) (*Policy, error) {
	p := NewPolicy()
	for kindName, names := range cfg.Ladders {
		kind, ok := apperrors.ParseKind(kindName)
		if !ok || kind == apperrors.KindNone {
			return nil, fmt.Errorf("recovery.ladders: unknown error kind %q", kindName)
		}
		ladder := make(Ladder, 0, len(names))
		for _, n := range names {
			a, ok := protocol.ParseAction(n)
			if !ok {
				return nil, fmt.Errorf("recovery.ladders.%s: unknown action %q", kindName, n)
			}
			ladder = append(ladder, a)
		}
		if err := ladder.Validate(); err != nil {
			return nil, fmt.Errorf("recovery.ladders.%s: %w", kindName, err)
		}
		p.ladders[kind] = ladder
	}
	for name, d := range cfg.Waits {
		a, ok := protocol.ParseAction(name)
		if !ok {
			return nil, fmt.Errorf("recovery.waits: unknown action %q", name)
		}
		if d < 0 {
			return nil, fmt.Errorf("recovery.waits.%s: negative wait", name)
		}
		p.waits[a] = d.Std()
	}
	return p, nil
}

// Validate rejects empty ladders and ladders that de-escalate.
func (l Ladder) Validate() error {
	if len(l) == 0 {
		return fmt.Errorf("ladder is empty")
	}
	for i := 1; i < len(l); i++ {
		if l[i].Rank() < l[i-1].Rank() {
			return fmt.Errorf("step %d (%s) is less aggressive than step %d (%s)", i+1, l[i], i, l[i-1])
		}
	}
	return nil
}

// Decide returns the action for the attempt-th failure (1-based) of kind.
func (p *Policy) Decide(kind apperrors.ErrorKind, attempt int) Decision {
	ladder, ok := p.ladders[kind]
	if !ok || len(ladder) == 0 {
		return p.decision(protocol.ActionWaitLonger)
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(ladder) {
		i = len(ladder) - 1
	}
	return p.decision(ladder[i])
}

func (p *Policy) decision(a protocol.RecoveryAction) Decision {
	return Decision{Action: a, Wait: p.waits[a]}
}

// Ladder returns a copy of the ladder for kind.
func (p *Policy) Ladder(kind apperrors.ErrorKind) Ladder {
	return append(Ladder(nil), p.ladders[kind]...)
}

// Personal.AI order the ending
