package sender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vitalis-app/telemetry-agent/internal/telemetry"
)

func TestState_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateCollected, StateSending, true},
		{StateCollected, StateEncodeFailed, true},
		{StateCollected, StateCompressFailed, true},
		{StateSending, StateDelivered, true},
		{StateSending, StateRateLimited, true},
		{StateRateLimited, StateBuffered, true},
		{StateRetriesExhausted, StateBuffered, true},
		{StateEncodeFailed, StateDropped, true},
		{StateBufferFailed, StateDropped, true},
		{StateBuffered, StateSending, true},

		{StateCollected, StateDelivered, false},
		{StateEncodeFailed, StateBuffered, false},
		{StateRateLimited, StateSending, false},
		{StateDelivered, StateSending, false},
		{StateDropped, StateSending, false},
		{StateSending, StateBuffered, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateDelivered, StateBuffered, StateDropped} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{StateCollected, StateSending, StateRateLimited, StateRetriesExhausted, StateEncodeFailed} {
		assert.False(t, s.Terminal(), s.String())
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "retries_exhausted", StateRetriesExhausted.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestFinish_FlagsNonTerminalState(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(Options{MachineToken: "tok"}, nil, nil, zap.New(core), telemetry.New())

	s.finish(Result{State: StateDelivered, Path: []State{StateCollected, StateSending, StateDelivered}})
	assert.Zero(t, logs.FilterLevelExact(zapcore.DPanicLevel).Len())

	s.finish(Result{State: StateSending, Path: []State{StateCollected, StateSending}})
	flagged := logs.FilterLevelExact(zapcore.DPanicLevel).All()
	require.Len(t, flagged, 1)
	assert.Equal(t, "sending", flagged[0].ContextMap()["state"])
}
