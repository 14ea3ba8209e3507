package learnstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_Message(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeSubscribed, "User is now subscribed to id: run-1"},
		{OutcomeAlreadySubscribed, "User is already subscribed to id: run-1!"},
		{OutcomeUnsubscribed, "User is now unsubscribed from id: run-1"},
		{OutcomeNotSubscribed, "User is not subscribed to id: run-1"},
		{OutcomeSessionNotFound, "id: run-1 doesn't exist"},
	}

	for _, tt := range tests {
		t.Run(tt.outcome.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Result{Outcome: tt.outcome, SessionID: "run-1"}.Message())
		})
	}
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "already_subscribed", OutcomeAlreadySubscribed.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}

func TestOutcome_Changed(t *testing.T) {
	assert.True(t, OutcomeSubscribed.Changed())
	assert.True(t, OutcomeUnsubscribed.Changed())
	assert.False(t, OutcomeAlreadySubscribed.Changed())
	assert.False(t, OutcomeNotSubscribed.Changed())
	assert.False(t, OutcomeSessionNotFound.Changed())
}
