package stageexec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/consensustypes"
	"github.com/hivetechs/consensus/internal/costtracker"
	"github.com/hivetechs/consensus/internal/eventbus"
	"github.com/hivetechs/consensus/internal/perftracker"
	"github.com/hivetechs/consensus/internal/upstream"
)

type fakeStreamer struct {
	calls     []string
	failFor   map[string]int
	failCount map[string]int
}

func (f *fakeStreamer) Stream(ctx context.Context, model string, messages []consensustypes.Message, temperature float64, maxTokens *int, onChunk func(upstream.StreamChunk)) (consensustypes.Usage, error) {
	f.calls = append(f.calls, model)
	if f.failCount == nil {
		f.failCount = map[string]int{}
	}
	if remaining := f.failFor[model] - f.failCount[model]; remaining > 0 {
		f.failCount[model]++
		return consensustypes.Usage{}, assertError("simulated upstream failure")
	}
	onChunk(upstream.StreamChunk{Delta: "hel"})
	onChunk(upstream.StreamChunk{Delta: "lo"})
	onChunk(upstream.StreamChunk{Done: true})
	return consensustypes.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func (f *fakeStreamer) HasAPIKey() bool { return true }

type assertError string

func (e assertError) Error() string { return string(e) }

func newExecutor(streamer *fakeStreamer) (*Executor, *eventbus.Bus) {
	perf := perftracker.New(60, zap.NewNop())
	cost := costtracker.New("", costtracker.BudgetConfig{}, zap.NewNop())
	bus := eventbus.New(nil, zap.NewNop())
	return New(streamer, perf, cost, bus, zap.NewNop()), bus
}

func TestRunSuccessEmitsLifecycleEvents(t *testing.T) {
	streamer := &fakeStreamer{}
	exec, bus := newExecutor(streamer)

	ch := bus.Subscribe("conv-1")
	defer bus.Unsubscribe("conv-1", ch)

	entry := consensustypes.ProfileEntry{ModelID: "m1", Temperature: 0.7}
	result, err := exec.Run(context.Background(), "conv-1", consensustypes.Generator, "what is go", "", "", entry)
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Answer)
	assert.Equal(t, "m1", result.Model)
	require.NotNil(t, result.Usage)
	assert.Equal(t, 15, result.Usage.TotalTokens)

	var types []eventbus.EventType
	for i := 0; i < 3; i++ {
		select {
		case evt := <-ch:
			types = append(types, evt.Type)
		default:
		}
	}
	assert.Contains(t, types, eventbus.EventStageStarted)
}

func TestRunBuildsRefinerPromptWithPriorBlock(t *testing.T) {
	streamer := &fakeStreamer{}
	exec, _ := newExecutor(streamer)

	entry := consensustypes.ProfileEntry{ModelID: "m1"}
	_, err := exec.Run(context.Background(), "conv-2", consensustypes.Refiner, "original query", "prior answer text", "", entry)
	require.NoError(t, err)
}

func TestRunFallsBackToSecondaryModelOnFailure(t *testing.T) {
	streamer := &fakeStreamer{failFor: map[string]int{"m1": 10}}
	exec, bus := newExecutor(streamer)
	ch := bus.Subscribe("conv-3")
	defer bus.Unsubscribe("conv-3", ch)

	perf := exec.perf
	perf.ConfigureFallback("m1", []string{"m2"})

	entry := consensustypes.ProfileEntry{ModelID: "m1"}
	result, err := exec.Run(context.Background(), "conv-3", consensustypes.Generator, "q", "", "", entry)
	require.NoError(t, err)
	assert.Equal(t, "m2", result.Model)
	assert.True(t, result.Analytics.Fallback)
}

func TestRunReturnsCancelledWhenContextAlreadyDone(t *testing.T) {
	streamer := &fakeStreamer{}
	exec, _ := newExecutor(streamer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entry := consensustypes.ProfileEntry{ModelID: "m1"}
	_, err := exec.Run(ctx, "conv-4", consensustypes.Generator, "q", "", "", entry)
	require.Error(t, err)
}
