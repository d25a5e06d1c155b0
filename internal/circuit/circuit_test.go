package circuit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          200 * time.Millisecond,
		OperationTimeout: time.Second,
		Enabled:          true,
	}
}

var errOp = errors.New("op failed")

func TestCircuitOpensOnFiveFailures(t *testing.T) {
	f := New(testConfig())
	ctx := context.Background()
	failing := func(context.Context) error { return errOp }

	for i := 0; i < 5; i++ {
		if err := f.Execute(ctx, "peer_connection", failing); !errors.Is(err, errOp) {
			t.Fatalf("call %d: err = %v, want errOp", i, err)
		}
	}

	err := f.Execute(ctx, "peer_connection", failing)
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("6th call err = %v, want *OpenError", err)
	}

	if snap := f.Snapshot("peer_connection"); snap.State != Open {
		t.Fatalf("state = %v, want Open", snap.State)
	}

	time.Sleep(250 * time.Millisecond)

	called := false
	probe := func(context.Context) error { called = true; return nil }
	if err := f.Execute(ctx, "peer_connection", probe); err != nil {
		t.Fatalf("probe after timeout: err = %v, want nil", err)
	}
	if !called {
		t.Fatal("probe op was not invoked after recovery window elapsed")
	}
	if snap := f.Snapshot("peer_connection"); snap.State != HalfOpen {
		t.Fatalf("state after first probe = %v, want HalfOpen", snap.State)
	}
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	f := New(testConfig())
	ctx := context.Background()
	failing := func(context.Context) error { return errOp }
	for i := 0; i < 5; i++ {
		_ = f.Execute(ctx, "dht_bootstrap", failing)
	}
	time.Sleep(250 * time.Millisecond)

	succeed := func(context.Context) error { return nil }
	if err := f.Execute(ctx, "dht_bootstrap", succeed); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if snap := f.Snapshot("dht_bootstrap"); snap.State != HalfOpen {
		t.Fatalf("state after 1 success = %v, want HalfOpen", snap.State)
	}
	if err := f.Execute(ctx, "dht_bootstrap", succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if snap := f.Snapshot("dht_bootstrap"); snap.State != Closed {
		t.Fatalf("state after 2 successes = %v, want Closed", snap.State)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	f := New(testConfig())
	ctx := context.Background()
	failing := func(context.Context) error { return errOp }
	for i := 0; i < 5; i++ {
		_ = f.Execute(ctx, "direct_message", failing)
	}
	time.Sleep(250 * time.Millisecond)

	_ = f.Execute(ctx, "direct_message", failing) // probe fails
	if snap := f.Snapshot("direct_message"); snap.State != Open {
		t.Fatalf("state after failed probe = %v, want Open", snap.State)
	}
}

func TestOperationTimeoutCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.OperationTimeout = 20 * time.Millisecond
	f := New(cfg)
	ctx := context.Background()

	slow := func(callCtx context.Context) error {
		<-callCtx.Done()
		return callCtx.Err()
	}

	for i := 0; i < 5; i++ {
		err := f.Execute(ctx, "message_broadcast", slow)
		var timeoutErr *TimeoutError
		if !errors.As(err, &timeoutErr) {
			t.Fatalf("call %d: err = %v, want *TimeoutError", i, err)
		}
	}
	if snap := f.Snapshot("message_broadcast"); snap.State != Open {
		t.Fatalf("state = %v, want Open", snap.State)
	}
}

func TestClosedSuccessResetsFailureCount(t *testing.T) {
	f := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = f.Execute(ctx, "story_publish", func(context.Context) error { return errOp })
	}
	_ = f.Execute(ctx, "story_publish", func(context.Context) error { return nil })
	if snap := f.Snapshot("story_publish"); snap.Failures != 0 {
		t.Fatalf("failures after intervening success = %d, want 0", snap.Failures)
	}

	for i := 0; i < 3; i++ {
		_ = f.Execute(ctx, "story_publish", func(context.Context) error { return errOp })
	}
	if snap := f.Snapshot("story_publish"); snap.State != Closed {
		t.Fatalf("state = %v, want Closed (3 failures < threshold 5 after reset)", snap.State)
	}
}

func TestDisabledFabricIsNoOp(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	f := New(cfg)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		err := f.Execute(ctx, "peer_connection", func(context.Context) error { return errOp })
		if !errors.Is(err, errOp) {
			t.Fatalf("call %d: err = %v, want errOp passed through", i, err)
		}
	}
	if snap := f.Snapshot("peer_connection"); snap.State != Closed {
		t.Fatalf("disabled fabric mutated state to %v", snap.State)
	}
	if !f.CanExecute("peer_connection") {
		t.Fatal("CanExecute on disabled fabric = false, want true")
	}
}

func TestHealthAggregation(t *testing.T) {
	f := New(testConfig())
	ctx := context.Background()

	_ = f.Execute(ctx, "peer_connection", func(context.Context) error { return nil })
	for i := 0; i < 5; i++ {
		_ = f.Execute(ctx, "dht_bootstrap", func(context.Context) error { return errOp })
	}

	h := f.Health()
	if h.Total != 2 {
		t.Fatalf("Total = %d, want 2", h.Total)
	}
	if h.Healthy != 1 || h.Failed != 1 {
		t.Fatalf("Healthy/Failed = %d/%d, want 1/1", h.Healthy, h.Failed)
	}
	if h.OverallHealthy {
		t.Fatal("OverallHealthy = true, want false")
	}
}
