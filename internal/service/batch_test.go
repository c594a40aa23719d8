package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/client/bolt"
	"fleetsync/internal/models"
)

func TestBatchRunSplitsNinetyOneDaysIntoThirteenWindows(t *testing.T) {
	repo := newStubRepo()
	b := &stubBolt{companies: []int64{42}}
	o := newTestOrchestrator(repo, b, &stubHeetch{}, nil)
	batch := NewBatchOrchestrator(o, nil, zap.NewNop(), 7)

	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -91)
	report := batch.Run(context.Background(), "org-1", models.ProviderBolt, models.ResourceTrips, start, end)

	if report.Windows != 13 {
		t.Fatalf("windows = %d, want 13", report.Windows)
	}
	if report.Status != StatusSuccess {
		t.Fatalf("status = %s", report.Status)
	}
	if len(b.orderCalls) != 13 {
		t.Fatalf("order fetches = %d, want one per window", len(b.orderCalls))
	}
	for i, q := range b.orderCalls {
		span := q.EndTS - q.StartTS
		if span > int64(7*24*time.Hour/time.Second) {
			t.Errorf("window %d span = %ds, exceeds 7d", i, span)
		}
		if i > 0 && q.StartTS < b.orderCalls[i-1].EndTS-int64(24*time.Hour/time.Second) {
			t.Errorf("window %d overlaps previous by more than the resume second", i)
		}
	}
}

func TestBatchRunContinuesPastFailedWindow(t *testing.T) {
	repo := newStubRepo()
	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -21)
	failStart := start.AddDate(0, 0, 7).Unix()

	b := &stubBolt{
		companies: []int64{42},
		failOrderFor: func(q bolt.RangeQuery) error {
			if q.StartTS == failStart {
				return errors.New("window fetch failed")
			}
			return nil
		},
	}
	o := newTestOrchestrator(repo, b, &stubHeetch{}, nil)
	batch := NewBatchOrchestrator(o, nil, zap.NewNop(), 7)

	report := batch.Run(context.Background(), "org-1", models.ProviderBolt, models.ResourceTrips, start, end)
	if report.Windows != 3 {
		t.Fatalf("windows = %d, want 3", report.Windows)
	}
	if report.Failed != 1 {
		t.Fatalf("failed = %d, want 1", report.Failed)
	}
	if report.Status != StatusPartial {
		t.Fatalf("status = %s, want partial", report.Status)
	}
	if len(b.orderCalls) != 3 {
		t.Errorf("order fetches = %d, later windows should still run", len(b.orderCalls))
	}
}

func TestBatchRunAllWindowsFailed(t *testing.T) {
	repo := newStubRepo()
	b := &stubBolt{
		companies: []int64{42},
		ordersErr: errors.New("endpoint down"),
	}
	o := newTestOrchestrator(repo, b, &stubHeetch{}, nil)
	batch := NewBatchOrchestrator(o, nil, zap.NewNop(), 7)

	end := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	report := batch.Run(context.Background(), "org-1", models.ProviderBolt, models.ResourceTrips, end.AddDate(0, 0, -14), end)
	if report.Status != StatusError {
		t.Fatalf("status = %s, want error when every window fails", report.Status)
	}
	if report.Failed != report.Windows {
		t.Fatalf("failed %d of %d windows", report.Failed, report.Windows)
	}
}
