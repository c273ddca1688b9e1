package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelgate/modelgate/core"
	"github.com/modelgate/modelgate/provider"
	"github.com/modelgate/modelgate/provider/plugins/mock"
)

type fakeResolver struct {
	clients map[string]provider.LlmProvider
}

func (r *fakeResolver) GetProvider(_ context.Context, modelID string) (provider.LlmProvider, error) {
	c, ok := r.clients[modelID]
	if !ok {
		return nil, core.NewNotFoundError("router.GetProvider", modelID)
	}
	return c, nil
}

func (r *fakeResolver) GetProviderModel(_ context.Context, modelID string) (string, error) {
	if _, ok := r.clients[modelID]; !ok {
		return "", core.NewNotFoundError("router.GetProviderModel", modelID)
	}
	return "upstream-" + modelID, nil
}

func noSleep(e *Executor) {
	e.sleep = func(context.Context, time.Duration) error { return nil }
}

func testChain(steps ...core.ChainStep) *core.Chain {
	return &core.Chain{ID: "chain-1", Name: "test", Steps: steps, Enabled: true}
}

func step(modelID string, behavior core.FallbackBehavior, maxRetries int) core.ChainStep {
	return core.ChainStep{
		ModelID:          modelID,
		Retry:            core.RetryConfig{MaxRetries: maxRetries, InitialDelayMs: 1, MaxDelayMs: 10, BackoffMultiplier: 2},
		FallbackBehavior: behavior,
	}
}

func TestExecuteSingleSuccessfulStep(t *testing.T) {
	ok := mock.NewClient()
	ok.SetResponses("hello")
	e := NewExecutor(&fakeResolver{clients: map[string]provider.LlmProvider{"a": ok}})
	noSleep(e)

	result, err := e.Execute(context.Background(), testChain(step("a", core.FallbackContinue, 0)), &core.ChatRequest{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("success = false, error = %q", result.Error)
	}
	if len(result.StepResults) != 1 || result.StepResults[0].Attempts != 1 {
		t.Fatalf("step results = %+v, want one step with one attempt", result.StepResults)
	}
	if result.Response == nil || result.Response.Message.Content != "hello" {
		t.Fatalf("response = %+v, want content %q", result.Response, "hello")
	}
	if ok.LastModel != "upstream-a" {
		t.Errorf("provider called with model %q, want upstream-a", ok.LastModel)
	}
}

func TestExecuteRejectsDisabledAndEmptyChains(t *testing.T) {
	e := NewExecutor(&fakeResolver{})

	disabled := testChain(step("a", core.FallbackContinue, 0))
	disabled.Enabled = false
	if _, err := e.Execute(context.Background(), disabled, &core.ChatRequest{}); !errors.Is(err, core.ErrChainDisabled) {
		t.Errorf("disabled chain error = %v, want ErrChainDisabled", err)
	}

	empty := testChain()
	if _, err := e.Execute(context.Background(), empty, &core.ChatRequest{}); !errors.Is(err, core.ErrChainEmpty) {
		t.Errorf("empty chain error = %v, want ErrChainEmpty", err)
	}
}

func TestFallbackSucceedsOnSecondModel(t *testing.T) {
	failing := mock.NewClient()
	failing.SetError(errors.New("upstream unavailable"))
	backup := mock.NewClient()
	backup.SetResponses("Fallback response")

	e := NewExecutor(&fakeResolver{clients: map[string]provider.LlmProvider{"a": failing, "b": backup}})
	noSleep(e)

	result, err := e.Execute(context.Background(), testChain(
		step("a", core.FallbackContinue, 0),
		step("b", core.FallbackContinue, 0),
	), &core.ChatRequest{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("success = false, error = %q", result.Error)
	}
	if len(result.StepResults) != 2 {
		t.Fatalf("step results = %d, want 2", len(result.StepResults))
	}
	first, second := result.StepResults[0], result.StepResults[1]
	if first.Success || first.Attempts != 1 || first.ModelID != "a" {
		t.Errorf("first step = %+v, want failed single attempt on a", first)
	}
	if !second.Success || second.ModelID != "b" {
		t.Errorf("second step = %+v, want success on b", second)
	}
	if result.Response.Message.Content != "Fallback response" {
		t.Errorf("response content = %q", result.Response.Message.Content)
	}
}

func TestStopOnFailureHaltsChain(t *testing.T) {
	failing := mock.NewClient()
	failing.SetError(errors.New("upstream unavailable"))
	backup := mock.NewClient()
	backup.SetResponses("never seen")

	e := NewExecutor(&fakeResolver{clients: map[string]provider.LlmProvider{"a": failing, "b": backup}})
	noSleep(e)

	result, err := e.Execute(context.Background(), testChain(
		step("a", core.FallbackStop, 0),
		step("b", core.FallbackContinue, 0),
	), &core.ChatRequest{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("success = true, want failure")
	}
	if len(result.StepResults) != 1 {
		t.Fatalf("step results = %d, want 1", len(result.StepResults))
	}
	if result.Error == "" || result.Error != result.StepResults[0].Error {
		t.Errorf("chain error = %q, want first step's error %q", result.Error, result.StepResults[0].Error)
	}
	if backup.Calls() != 0 {
		t.Errorf("backup provider called %d times, want 0", backup.Calls())
	}
}

func TestSkipStopsWithoutError(t *testing.T) {
	failing := mock.NewClient()
	failing.SetError(errors.New("upstream unavailable"))

	e := NewExecutor(&fakeResolver{clients: map[string]provider.LlmProvider{"a": failing}})
	noSleep(e)

	result, err := e.Execute(context.Background(), testChain(
		step("a", core.FallbackSkip, 0),
		step("b", core.FallbackContinue, 0),
	), &core.ChatRequest{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("success = true, want partial failure")
	}
	if result.Error != "" {
		t.Errorf("chain error = %q, want empty for Skip", result.Error)
	}
	if len(result.StepResults) != 1 {
		t.Errorf("step results = %d, want 1", len(result.StepResults))
	}
}

func TestRetryExhaustionAndDelays(t *testing.T) {
	failing := mock.NewClient()
	failing.SetError(errors.New("upstream unavailable"))

	e := NewExecutor(&fakeResolver{clients: map[string]provider.LlmProvider{"a": failing}})
	var delays []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	result, err := e.Execute(context.Background(), testChain(step("a", core.FallbackContinue, 2)), &core.ChatRequest{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.StepResults[0].Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", result.StepResults[0].Attempts)
	}
	if failing.Calls() != 3 {
		t.Fatalf("provider calls = %d, want 3", failing.Calls())
	}

	// first retry waits the initial delay, second waits initial*multiplier
	want := []time.Duration{1 * time.Millisecond, 2 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, delays[i], want[i])
		}
	}
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	failing := mock.NewClient()
	failing.SetError(errors.New("upstream unavailable"))

	e := NewExecutor(
		&fakeResolver{clients: map[string]provider.LlmProvider{"a": failing}},
		WithBreakerPolicy(2, time.Minute),
	)
	noSleep(e)

	ch := testChain(step("a", core.FallbackContinue, 0))
	for i := 0; i < 2; i++ {
		if _, err := e.Execute(context.Background(), ch, &core.ChatRequest{}); err != nil {
			t.Fatalf("execution %d: %v", i+1, err)
		}
	}
	if got := e.CircuitState("a"); got != BreakerOpen {
		t.Fatalf("circuit state after 2 failures = %s, want open", got)
	}

	result, err := e.Execute(context.Background(), ch, &core.ChatRequest{})
	if err != nil {
		t.Fatalf("third execution: %v", err)
	}
	sr := result.StepResults[0]
	if sr.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 when short-circuited", sr.Attempts)
	}
	if sr.Error != "Circuit breaker is open" {
		t.Errorf("error = %q, want circuit breaker message", sr.Error)
	}
	if failing.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2 (short-circuited step never attempted)", failing.Calls())
	}
}

func TestResolverFailureIsStepFailure(t *testing.T) {
	e := NewExecutor(&fakeResolver{clients: map[string]provider.LlmProvider{}})
	noSleep(e)

	result, err := e.Execute(context.Background(), testChain(step("ghost", core.FallbackContinue, 0)), &core.ChatRequest{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("success = true, want step failure for dangling model reference")
	}
	if result.StepResults[0].Error == "" {
		t.Error("step error is empty, want resolver failure message")
	}
}

func TestStepTimeout(t *testing.T) {
	slow := mock.NewClient()
	slow.SetResponses("late")
	slow.LatencyFn = func() { time.Sleep(50 * time.Millisecond) }

	e := NewExecutor(&fakeResolver{clients: map[string]provider.LlmProvider{"a": slow}})
	noSleep(e)

	ch := testChain(core.ChainStep{
		ModelID:          "a",
		MaxLatencyMs:     10,
		FallbackBehavior: core.FallbackContinue,
	})
	result, err := e.Execute(context.Background(), ch, &core.ChatRequest{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("success = true, want timeout failure")
	}
	if want := "mock timed out after 10ms"; result.StepResults[0].Error != want {
		t.Errorf("error = %q, want %q", result.StepResults[0].Error, want)
	}
}

func TestMetricsAggregation(t *testing.T) {
	failing := mock.NewClient()
	failing.SetError(errors.New("upstream unavailable"))
	ok := mock.NewClient()
	ok.SetResponses("fine")

	e := NewExecutor(&fakeResolver{clients: map[string]provider.LlmProvider{"a": failing, "b": ok}})
	noSleep(e)

	ch := testChain(
		step("a", core.FallbackContinue, 1),
		step("b", core.FallbackContinue, 0),
	)
	for i := 0; i < 3; i++ {
		if _, err := e.Execute(context.Background(), ch, &core.ChatRequest{}); err != nil {
			t.Fatalf("execution %d: %v", i+1, err)
		}
	}

	snap := e.MetricsSnapshot()
	cm, ok2 := snap["chain-1"]
	if !ok2 {
		t.Fatal("no metrics recorded for chain-1")
	}
	if cm.Executions != 3 || cm.Successes != 3 {
		t.Errorf("chain metrics = %+v, want 3 executions and 3 successes", cm)
	}

	sa := cm.Steps["a"]
	if sa == nil {
		t.Fatal("no metrics for step a")
	}
	if sa.Attempts != 6 || sa.Retries != 3 || sa.Failures != 3 {
		t.Errorf("step a metrics = %+v, want attempts=6 retries=3 failures=3", sa)
	}

	sb := cm.Steps["b"]
	if sb == nil {
		t.Fatal("no metrics for step b")
	}
	if sb.Successes != 3 || sb.Retries != 0 {
		t.Errorf("step b metrics = %+v, want successes=3 retries=0", sb)
	}
	if sb.AvgLatencyMs < 0 {
		t.Errorf("avg latency = %f, want non-negative", sb.AvgLatencyMs)
	}
}
