package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"
)

func TestStopWaitsForInFlightTransition(t *testing.T) {
	s := NewLifecycleScheduler(LifecycleSchedulerParams{
		Logger: zerolog.Nop(),
	})

	entered := make(chan struct{})
	release := make(chan struct{})
	finished := false
	transition := func(ctx context.Context, auctionID uuid.UUID) error {
		close(entered)
		<-release
		finished = true
		// A transient failure keeps the schedule entry in place and skips
		// the removal round-trip.
		return errors.New("transient failure")
	}

	s.wg.Add(1)
	go s.fireBoundary(endScheduleKey, uuid.New(), transition)
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a boundary transition was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the transition finished")
	}
	check.True(t, finished)
}
