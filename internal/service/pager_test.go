package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type pagedItem struct {
	key string
	ts  int64
}

func fetchFromPages(pages [][]pagedItem) func(ctx context.Context, limit, offset int) ([]pagedItem, error) {
	return func(ctx context.Context, limit, offset int) ([]pagedItem, error) {
		var all []pagedItem
		for _, p := range pages {
			all = append(all, p...)
		}
		if offset >= len(all) {
			return nil, nil
		}
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		return all[offset:end], nil
	}
}

func runTestPaged(t *testing.T, repo *stubRepo, startCursor int64, limit, maxPages int, persisted map[string]struct{}, pages [][]pagedItem) (pageResult, map[string]struct{}, error) {
	t.Helper()
	saved := make(map[string]struct{})
	spec := pageSpec{OrgID: "org-1", Provider: "bolt", Resource: "trips", Limit: limit, MaxPages: maxPages}
	res, err := runPaged(context.Background(), repo, zap.NewNop(), spec, startCursor, nil,
		fetchFromPages(pages),
		func(it pagedItem) string { return it.key },
		func(it pagedItem) int64 { return it.ts },
		persisted,
		func(ctx context.Context, tx *gorm.DB, items []pagedItem) error {
			for _, it := range items {
				saved[it.key] = struct{}{}
			}
			return nil
		})
	return res, saved, err
}

func TestRunPagedTerminatesOnShortPage(t *testing.T) {
	repo := newStubRepo()
	pages := [][]pagedItem{{{"a", 10}, {"b", 20}}, {{"c", 30}}}
	res, saved, err := runTestPaged(t, repo, 0, 2, 10, nil, pages)
	if err != nil {
		t.Fatalf("runPaged: %v", err)
	}
	if res.Saved != 3 || res.Pages != 2 {
		t.Fatalf("saved %d pages %d, want 3 and 2", res.Saved, res.Pages)
	}
	if len(saved) != 3 {
		t.Fatalf("persisted %d items, want 3", len(saved))
	}
	if res.LastTS != 30 {
		t.Fatalf("cursor = %d, want 30", res.LastTS)
	}
}

func TestRunPagedSavedPlusSkippedCoversAll(t *testing.T) {
	repo := newStubRepo()
	// "b" repeats across pages; "c" is already in the store.
	pages := [][]pagedItem{{{"a", 10}, {"b", 20}}, {{"b", 20}, {"c", 30}}}
	persisted := map[string]struct{}{"c": {}}
	res, _, err := runTestPaged(t, repo, 0, 2, 10, persisted, pages)
	if err != nil {
		t.Fatalf("runPaged: %v", err)
	}
	if res.Saved != 2 {
		t.Errorf("saved = %d, want 2", res.Saved)
	}
	if res.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", res.Skipped)
	}
	if total := res.Saved + res.Skipped; total != 4 {
		t.Errorf("saved+skipped = %d, want all 4 fetched items accounted for", total)
	}
}

func TestRunPagedSecondRunSavesNothing(t *testing.T) {
	repo := newStubRepo()
	pages := [][]pagedItem{{{"a", 10}, {"b", 20}}}
	first, _, err := runTestPaged(t, repo, 0, 10, 10, nil, pages)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	persisted := map[string]struct{}{"a": {}, "b": {}}
	second, _, err := runTestPaged(t, repo, first.LastTS, 10, 10, persisted, pages)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Saved != 0 {
		t.Errorf("second run saved %d, want 0", second.Saved)
	}
	if second.LastTS != first.LastTS {
		t.Errorf("cursor moved from %d to %d on no-op run", first.LastTS, second.LastTS)
	}
}

func TestRunPagedCursorNeverRegresses(t *testing.T) {
	repo := newStubRepo()
	pages := [][]pagedItem{{{"old", 50}}}
	res, _, err := runTestPaged(t, repo, 100, 10, 10, nil, pages)
	if err != nil {
		t.Fatalf("runPaged: %v", err)
	}
	if res.LastTS != 100 {
		t.Fatalf("cursor = %d, regressed below 100", res.LastTS)
	}
}

func TestRunPagedMaxPagesCap(t *testing.T) {
	repo := newStubRepo()
	pages := [][]pagedItem{{
		{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}, {"e", 5}, {"f", 6},
	}}
	res, _, err := runTestPaged(t, repo, 0, 2, 2, nil, pages)
	if err != nil {
		t.Fatalf("runPaged: %v", err)
	}
	if res.Pages != 2 || res.Saved != 4 {
		t.Fatalf("pages %d saved %d, want capped at 2 pages / 4 items", res.Pages, res.Saved)
	}
}

func TestRunPagedFailureRecordsCursorError(t *testing.T) {
	repo := newStubRepo()
	repo.failUpserts = true
	pages := [][]pagedItem{{{"a", 10}}}
	_, _, err := runTestPaged(t, repo, 0, 10, 10, nil, pages)
	if err == nil {
		t.Fatal("want upsert failure to surface")
	}
	cursor, _ := repo.GetSyncCursor(context.Background(), "org-1", "bolt", "trips")
	if cursor == nil || cursor.LastError == nil {
		t.Fatal("failed run should record last_error on the cursor")
	}
	if cursor.LastTimestamp != 0 {
		t.Errorf("failed run advanced cursor to %d", cursor.LastTimestamp)
	}
}

func TestResolveSpanCursorResume(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	start, end := resolveSpan(1000000000, nil, now, 480*24*time.Hour)
	if got := start.Unix(); got != 1000000001 {
		t.Errorf("start = %d, want cursor+1", got)
	}
	if !end.Equal(now) {
		t.Errorf("end = %v, want now", end)
	}
}

func TestResolveSpanLookbackFloor(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	lookback := 480 * 24 * time.Hour
	req := &TimeRange{Start: now.AddDate(-3, 0, 0)}
	start, _ := resolveSpan(0, req, now, lookback)
	if floor := now.Add(-lookback); !start.Equal(floor) {
		t.Errorf("start = %v, want clamped to retention floor %v", start, floor)
	}
}

func runTestWindowed(t *testing.T, repo *stubRepo, startCursor int64, start, end time.Time, span time.Duration, items []pagedItem) (pageResult, []window, error) {
	t.Helper()
	var fetched []window
	spec := pageSpec{OrgID: "org-1", Provider: "bolt", Resource: "trips", Limit: 100, MaxPages: 10}
	res, err := runWindowed(context.Background(), repo, zap.NewNop(), spec, startCursor, start, end, span,
		func(ctx context.Context, w window, limit, offset int) ([]pagedItem, error) {
			if offset == 0 {
				fetched = append(fetched, w)
			}
			if offset > 0 {
				return nil, nil
			}
			var out []pagedItem
			for _, it := range items {
				if ts := time.Unix(it.ts, 0); !ts.Before(w.start) && ts.Before(w.end) {
					out = append(out, it)
				}
			}
			return out, nil
		},
		func(it pagedItem) string { return it.key },
		func(it pagedItem) int64 { return it.ts },
		nil,
		func(ctx context.Context, tx *gorm.DB, batch []pagedItem) error { return nil })
	return res, fetched, err
}

func TestRunWindowedWalksFullSpan(t *testing.T) {
	repo := newStubRepo()
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 45)
	items := []pagedItem{
		{"early", start.AddDate(0, 0, 3).Unix()},
		{"late", start.AddDate(0, 0, 40).Unix()},
	}
	res, fetched, err := runTestWindowed(t, repo, 0, start, end, 30*24*time.Hour, items)
	if err != nil {
		t.Fatalf("runWindowed: %v", err)
	}
	if len(fetched) != 2 {
		t.Fatalf("fetched %d windows, want 2 over 45 days with a 30-day ceiling", len(fetched))
	}
	if res.Saved != 2 {
		t.Errorf("saved = %d, want both records across windows", res.Saved)
	}
	if want := items[1].ts; res.LastTS != want {
		t.Errorf("cursor = %d, want latest record timestamp %d", res.LastTS, want)
	}
}

func TestRunWindowedEmptyWindowAdvancesCursor(t *testing.T) {
	repo := newStubRepo()
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 45)
	// Data only in the second window; the first must still move the
	// cursor forward or every later run would rescan it.
	items := []pagedItem{{"recent", start.AddDate(0, 0, 40).Unix()}}
	res, fetched, err := runTestWindowed(t, repo, 0, start, end, 30*24*time.Hour, items)
	if err != nil {
		t.Fatalf("runWindowed: %v", err)
	}
	if len(fetched) != 2 {
		t.Fatalf("fetched %d windows, want 2", len(fetched))
	}
	if res.LastTS != items[0].ts {
		t.Errorf("cursor = %d, want the recent record timestamp %d", res.LastTS, items[0].ts)
	}
	cursor, _ := repo.GetSyncCursor(context.Background(), "org-1", "bolt", "trips")
	if cursor == nil {
		t.Fatal("no cursor row written")
	}
	if cursor.LastTimestamp < start.AddDate(0, 0, 30).Unix() {
		t.Errorf("persisted cursor = %d, never passed the empty first window", cursor.LastTimestamp)
	}
}

func TestRunWindowedAllWindowsEmptyStillProgresses(t *testing.T) {
	repo := newStubRepo()
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 45)
	res, _, err := runTestWindowed(t, repo, 0, start, end, 30*24*time.Hour, nil)
	if err != nil {
		t.Fatalf("runWindowed: %v", err)
	}
	if res.Saved != 0 {
		t.Errorf("saved = %d, want 0", res.Saved)
	}
	if res.LastTS != end.Unix() {
		t.Errorf("cursor = %d, want span end %d after an empty walk", res.LastTS, end.Unix())
	}
	cursor, _ := repo.GetSyncCursor(context.Background(), "org-1", "bolt", "trips")
	if cursor == nil || cursor.LastTimestamp != end.Unix() {
		t.Error("empty walk must persist a cursor row at the span end")
	}
}

func TestSplitWindowsFortyFiveDaysByThirty(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 45)
	windows := splitWindows(start, end, 30*24*time.Hour)
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(windows))
	}
	if d := windows[0].end.Sub(windows[0].start); d != 30*24*time.Hour {
		t.Errorf("first window = %v, want 30d", d)
	}
	if d := windows[1].end.Sub(windows[1].start); d != 15*24*time.Hour {
		t.Errorf("second window = %v, want 15d remainder", d)
	}
}

func TestSplitWindowsNinetyOneDaysBySeven(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 91)
	windows := splitWindows(start, end, 7*24*time.Hour)
	if len(windows) != 13 {
		t.Fatalf("got %d windows, want 13", len(windows))
	}
	for i, w := range windows {
		if d := w.end.Sub(w.start); d != 7*24*time.Hour {
			t.Errorf("window %d = %v, want 7d", i, d)
		}
	}
	if !windows[12].end.Equal(end) {
		t.Errorf("last window ends %v, want %v", windows[12].end, end)
	}
}
