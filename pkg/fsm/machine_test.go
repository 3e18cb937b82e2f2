package fsm

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_Deadlock(t *testing.T) {
	sm := New(State("initial"))

	sm.AddTransition(State("initial"), State("intermediate"), Event("first"), func(from, to State, event Event) error {
		return sm.Fire(Event("second"))
	})

	sm.AddTransition(State("intermediate"), State("final"), Event("second"), nil)

	done := make(chan error, 1)
	go func() {
		done <- sm.Fire(Event("first"))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
		if sm.Current() != State("final") {
			t.Errorf("Expected state final, got %s", sm.Current())
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Deadlock detected: Fire did not return within 1 second")
	}
}

func TestStateMachine_Basic(t *testing.T) {
	sm := New(State("off"))
	sm.AddTransition(State("off"), State("on"), Event("push"), nil)

	if sm.Current() != State("off") {
		t.Errorf("Expected off, got %s", sm.Current())
	}

	err := sm.Fire(Event("push"))
	if err != nil {
		t.Fatal(err)
	}

	if sm.Current() != State("on") {
		t.Errorf("Expected on, got %s", sm.Current())
	}
}

func TestStateMachine_InvalidTransition(t *testing.T) {
	sm := New(State("start"))
	assert.False(t, sm.Can(Event("unknown")))
	err := sm.Fire(Event("unknown"))
	if err == nil {
		t.Fatal("Expected error for unknown event")
	}
	assert.Equal(t, State("start"), sm.Current())
	assert.Empty(t, sm.History())
}

func TestStateMachine_HandlerError(t *testing.T) {
	sm := New(State("A"))
	sm.AddTransition(State("A"), State("B"), Event("go"), func(from, to State, event Event) error {
		return fmt.Errorf("handler failed")
	})

	err := sm.Fire(Event("go"))
	if err == nil || err.Error() != "handler failed" {
		t.Fatalf("Expected handler failed error, got %v", err)
	}

	if sm.Current() != State("B") {
		t.Errorf("Expected state B even if handler failed, got %s", sm.Current())
	}
}

func TestStateMachine_StateConsistencyInHandler(t *testing.T) {
	sm := New(State("A"))
	var stateInHandler State
	var gotFrom State
	sm.AddTransition(State("A"), State("B"), Event("go"), func(from, to State, event Event) error {
		stateInHandler = sm.Current()
		gotFrom = from
		return nil
	})

	require.NoError(t, sm.Fire(Event("go")))
	if stateInHandler != State("B") {
		t.Errorf("Expected handler to see state B, saw %s", stateInHandler)
	}
	assert.Equal(t, State("A"), gotFrom)
}

func TestStateMachine_History(t *testing.T) {
	sm := New(State("a"))
	sm.AddTransition(State("a"), State("b"), Event("x"), nil)
	sm.AddTransition(State("b"), State("a"), Event("y"), nil)

	require.NoError(t, sm.Fire(Event("x")))
	require.NoError(t, sm.Fire(Event("y")))

	h := sm.History()
	require.Len(t, h, 2)
	assert.Equal(t, Transition{From: "a", To: "b", Event: "x"}, h[0])
	assert.Equal(t, Transition{From: "b", To: "a", Event: "y"}, h[1])

	h[0].To = "mutated"
	assert.Equal(t, State("b"), sm.History()[0].To)
}
