package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg)

	s.TickStarted()
	s.TickStarted()
	s.TickCompleted(50*time.Millisecond, 3, nil)
	s.TickCompleted(10*time.Millisecond, 0, context.Canceled)

	if got := testutil.ToFloat64(s.ticksTotal); got != 2 {
		t.Fatalf("ticksTotal = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.tickErrorsTotal); got != 1 {
		t.Fatalf("tickErrorsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.rescheduled); got != 3 {
		t.Fatalf("rescheduled = %v, want 3", got)
	}

	s.JobClaimed(KindAlert)
	s.JobStale(KindAlert)
	s.JobDelivered(KindSpawn, 100*time.Millisecond)
	s.JobFailed(KindSpawn)
	s.QueueUnavailable()

	if got := testutil.ToFloat64(s.jobsClaimed.WithLabelValues(KindAlert)); got != 1 {
		t.Fatalf("jobsClaimed{alert} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.jobsStale.WithLabelValues(KindAlert)); got != 1 {
		t.Fatalf("jobsStale{alert} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.jobsDelivered.WithLabelValues(KindSpawn)); got != 1 {
		t.Fatalf("jobsDelivered{spawn} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.queueUnavailable); got != 1 {
		t.Fatalf("queueUnavailable = %v, want 1", got)
	}
}

func TestDuplicateRegistrationIsHarmless(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg)
	s := NewPrometheusSink(reg) // second registration silently loses export
	s.TickStarted()
}
