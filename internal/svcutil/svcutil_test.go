package svcutil

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/danmuck/prolink/internal/testutil/testlog"
)

func TestErrorWrappers(t *testing.T) {
	testlog.Start(t)
	base := errors.New("socket closed")

	ferr := AsFatalErr(base, "beat socket")
	if !errors.Is(ferr, suture.ErrTerminateSupervisorTree) || !errors.Is(ferr, base) {
		t.Fatalf("fatal error should match both sentinels: %v", ferr)
	}
	if AsFatalErr(ferr, "other") != ferr {
		t.Fatalf("fatal error should not be wrapped twice")
	}
	if ferr.Error() != "beat socket: socket closed" {
		t.Fatalf("unexpected message: %q", ferr.Error())
	}

	if !errors.Is(NoRestartErr(nil), suture.ErrDoNotRestart) {
		t.Fatalf("nil no-restart should be the sentinel")
	}
	nr := NoRestartErr(base)
	if !errors.Is(nr, suture.ErrDoNotRestart) || !errors.Is(nr, base) {
		t.Fatalf("no-restart error should match both: %v", nr)
	}
}

func TestFatalErrTerminatesSupervisor(t *testing.T) {
	sup := suture.New("test", Spec(testlog.Logger(t)))
	base := errors.New("bind failed")
	svc := AsService(func(ctx context.Context) error {
		return AsFatalErr(base, "")
	}, "failing")
	sup.Add(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sup.Serve(ctx)
	if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		t.Fatalf("expected tree termination, got %v", err)
	}
	if svc.String() != "failing" {
		t.Fatalf("unexpected name: %s", svc)
	}
}

func TestNoRestartServiceIsNotRestarted(t *testing.T) {
	sup := suture.New("test", Spec(testlog.Logger(t)))
	var runs atomic.Int32
	sup.Add(AsService(func(ctx context.Context) error {
		runs.Add(1)
		return NoRestartErr(errors.New("finished"))
	}, "once"))
	keep := make(chan struct{})
	sup.Add(AsService(func(ctx context.Context) error {
		<-ctx.Done()
		close(keep)
		return NoRestartErr(ctx.Err())
	}, "idle"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected supervisor result: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor did not stop")
	}
	<-keep
	if n := runs.Load(); n != 1 {
		t.Fatalf("service ran %d times, want 1", n)
	}
}
