package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uppe-net/uppe/internal/executor"
	"github.com/uppe-net/uppe/internal/monitor"
)

func TestScheduleEmitsNoResultBeforeFirstTick(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(executor.New(0), 0)
	m := monitor.Monitor{
		UUID:            uuid.New(),
		Target:          srv.URL,
		CheckType:       monitor.CheckHTTP,
		IntervalSeconds: 10,
		TimeoutSeconds:  1,
	}
	// Ticker intervals are in seconds in production; exercise the timer
	// path directly with a short interval via a monitor copy is not
	// possible since Schedule derives period from IntervalSeconds. Use a
	// background context and Unschedule promptly instead of waiting out
	// a full ten-second tick.
	ctx := context.Background()
	s.Schedule(ctx, m)

	select {
	case <-s.Results():
		t.Fatal("did not expect a result before the first tick")
	case <-time.After(50 * time.Millisecond):
	}

	s.Unschedule(m.UUID)
	s.Stop()
}

func TestUnscheduleStopsProducingResults(t *testing.T) {
	s := New(executor.New(0), 0)
	id := uuid.New()
	m := monitor.Monitor{UUID: id, Target: "127.0.0.1:1", CheckType: monitor.CheckTCP, IntervalSeconds: 10, TimeoutSeconds: 1}

	ctx := context.Background()
	s.Schedule(ctx, m)
	s.Unschedule(id)

	select {
	case r := <-s.Results():
		t.Fatalf("unexpected result after unschedule: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}

	s.Stop()
}

func TestStopCancelsAllTasks(t *testing.T) {
	s := New(executor.New(0), 0)
	for i := 0; i < 3; i++ {
		s.Schedule(context.Background(), monitor.Monitor{
			UUID: uuid.New(), Target: "127.0.0.1:1", CheckType: monitor.CheckTCP,
			IntervalSeconds: 10, TimeoutSeconds: 1,
		})
	}
	s.Stop()
	// Stop must return (not hang) once every goroutine has exited.
}

func TestResultChannelHasMinimumCapacity(t *testing.T) {
	s := New(executor.New(0), 1)
	if cap(s.results) < MinResultChannelCapacity {
		t.Fatalf("expected channel capacity >= %d, got %d", MinResultChannelCapacity, cap(s.results))
	}
}
