package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"fleetsync/internal/models"
	"fleetsync/internal/repository"
)

// TimeRange is an optional explicit sync window. Zero fields fall back
// to cursor or lookback defaults.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// SyncReport summarizes one sync run for one (org, provider, resource).
type SyncReport struct {
	OrgID       string    `json:"org_id"`
	Provider    string    `json:"provider"`
	Resource    string    `json:"resource"`
	Status      string    `json:"status"`
	Saved       int       `json:"saved"`
	Skipped     int       `json:"skipped"`
	Pages       int       `json:"pages"`
	Cursor      int64     `json:"cursor"`
	WindowStart time.Time `json:"window_start,omitempty"`
	WindowEnd   time.Time `json:"window_end,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
}

// resolveSpan computes the full fetch range for a timestamped
// resource, before it is cut into partner-sized windows. Incremental
// runs resume one second past the cursor; the start never reaches back
// beyond the partner's retention floor.
func resolveSpan(cursorTS int64, req *TimeRange, now time.Time, lookback time.Duration) (time.Time, time.Time) {
	floor := now.Add(-lookback)

	var start time.Time
	switch {
	case req != nil && !req.Start.IsZero():
		start = req.Start
	case cursorTS > 0:
		start = time.Unix(cursorTS+1, 0).UTC()
	default:
		start = floor
	}
	if start.Before(floor) {
		start = floor
	}

	end := now
	if req != nil && !req.End.IsZero() && req.End.Before(now) {
		end = req.End
	}
	if end.Before(start) {
		end = start
	}
	return start.UTC(), end.UTC()
}

// window is one slice of a batch backfill.
type window struct {
	start time.Time
	end   time.Time
}

// splitWindows cuts [start, end) into consecutive spans of at most
// span. The last window carries the remainder.
func splitWindows(start, end time.Time, span time.Duration) []window {
	if !start.Before(end) || span <= 0 {
		return nil
	}
	var out []window
	for cur := start; cur.Before(end); cur = cur.Add(span) {
		wEnd := cur.Add(span)
		if wEnd.After(end) {
			wEnd = end
		}
		out = append(out, window{start: cur, end: wEnd})
	}
	return out
}

// pageSpec addresses one paged sync run.
type pageSpec struct {
	OrgID    string
	Provider string
	Resource string
	Limit    int
	MaxPages int
}

// pageResult accumulates across pages of one run.
type pageResult struct {
	Saved   int
	Skipped int
	Pages   int
	LastTS  int64
}

// runPaged walks a paged partner endpoint and commits every page in
// its own transaction together with the cursor, so a mid-run crash
// loses at most one page of progress. Records already written in this
// run or already present in the window are skipped, and the cursor
// only ever moves forward. A nil seen map starts a fresh run; a
// windowed walk passes one map across its windows so boundary records
// are not saved twice.
func runPaged[T any](
	ctx context.Context,
	repo repository.Repository,
	log *zap.Logger,
	spec pageSpec,
	startCursor int64,
	seen map[string]struct{},
	fetch func(ctx context.Context, limit, offset int) ([]T, error),
	key func(T) string,
	ts func(T) int64,
	persisted map[string]struct{},
	upsert func(ctx context.Context, tx *gorm.DB, items []T) error,
) (pageResult, error) {
	res := pageResult{LastTS: startCursor}
	if seen == nil {
		seen = make(map[string]struct{})
	}
	offset := 0

	for page := 0; spec.MaxPages <= 0 || page < spec.MaxPages; page++ {
		items, err := fetch(ctx, spec.Limit, offset)
		if err != nil {
			serr := classify(err)
			writeSyncError(ctx, repo, log, spec, res.LastTS, serr)
			return res, serr
		}
		if len(items) == 0 {
			break
		}

		batch := make([]T, 0, len(items))
		pageMax := res.LastTS
		for _, it := range items {
			k := key(it)
			if _, dup := seen[k]; dup {
				res.Skipped++
				continue
			}
			seen[k] = struct{}{}
			if persisted != nil {
				if _, dup := persisted[k]; dup {
					res.Skipped++
					continue
				}
			}
			if t := ts(it); t > pageMax {
				pageMax = t
			}
			batch = append(batch, it)
		}

		now := time.Now().UTC()
		err = repo.InTx(ctx, func(tx *gorm.DB) error {
			if len(batch) > 0 {
				if err := upsert(ctx, tx, batch); err != nil {
					return err
				}
			}
			return repo.SaveSyncCursorTx(ctx, tx, &models.SyncCursor{
				OrgID:         spec.OrgID,
				Provider:      spec.Provider,
				Resource:      spec.Resource,
				LastTimestamp: pageMax,
				LastSuccessAt: &now,
				LastAttemptAt: &now,
				StatsJSON:     pageStats(res.Saved+len(batch), res.Skipped, res.Pages+1),
			})
		})
		if err != nil {
			writeSyncError(ctx, repo, log, spec, res.LastTS, err)
			return res, err
		}

		res.LastTS = pageMax
		res.Saved += len(batch)
		res.Pages++
		offset += len(items)

		log.Debug("synced page",
			zap.String("org_id", spec.OrgID),
			zap.String("provider", spec.Provider),
			zap.String("resource", spec.Resource),
			zap.Int("page", page),
			zap.Int("fetched", len(items)),
			zap.Int("saved", len(batch)))

		if len(items) < spec.Limit {
			break
		}
	}
	return res, nil
}

// runWindowed cuts [start, end) by the partner's span ceiling and runs
// the page loop once per slice, so one incremental run covers the full
// range instead of stalling on the first ceiling-sized window. A slice
// that completes without records still checkpoints the cursor at its
// end; without that, sparse history would pin every later run to the
// same empty window.
func runWindowed[T any](
	ctx context.Context,
	repo repository.Repository,
	log *zap.Logger,
	spec pageSpec,
	startCursor int64,
	start, end time.Time,
	maxSpan time.Duration,
	fetch func(ctx context.Context, w window, limit, offset int) ([]T, error),
	key func(T) string,
	ts func(T) int64,
	persisted map[string]struct{},
	upsert func(ctx context.Context, tx *gorm.DB, items []T) error,
) (pageResult, error) {
	var windows []window
	if maxSpan > 0 {
		windows = splitWindows(start, end, maxSpan)
	} else if start.Before(end) {
		windows = []window{{start: start, end: end}}
	}

	total := pageResult{LastTS: startCursor}
	seen := make(map[string]struct{})
	for _, w := range windows {
		w := w
		res, err := runPaged(ctx, repo, log, spec, total.LastTS, seen,
			func(ctx context.Context, limit, offset int) ([]T, error) {
				return fetch(ctx, w, limit, offset)
			},
			key, ts, persisted, upsert)
		total.Saved += res.Saved
		total.Skipped += res.Skipped
		total.Pages += res.Pages
		if res.LastTS > total.LastTS {
			total.LastTS = res.LastTS
		}
		if err != nil {
			return total, err
		}
		if wEnd := w.end.Unix(); res.Pages == 0 && wEnd > total.LastTS {
			if err := checkpointCursor(ctx, repo, spec, wEnd, total); err != nil {
				writeSyncError(ctx, repo, log, spec, total.LastTS, err)
				return total, err
			}
			total.LastTS = wEnd
		}
	}
	return total, nil
}

// checkpointCursor persists cursor progress outside a page commit,
// used when a completed window produced nothing to upsert.
func checkpointCursor(ctx context.Context, repo repository.Repository, spec pageSpec, ts int64, res pageResult) error {
	now := time.Now().UTC()
	return repo.InTx(ctx, func(tx *gorm.DB) error {
		return repo.SaveSyncCursorTx(ctx, tx, &models.SyncCursor{
			OrgID:         spec.OrgID,
			Provider:      spec.Provider,
			Resource:      spec.Resource,
			LastTimestamp: ts,
			LastSuccessAt: &now,
			LastAttemptAt: &now,
			StatsJSON:     pageStats(res.Saved, res.Skipped, res.Pages),
		})
	})
}

func pageStats(saved, skipped, pages int) datatypes.JSON {
	raw, err := json.Marshal(map[string]int{
		"saved": saved, "skipped": skipped, "pages": pages,
	})
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

// writeSyncError records a failed attempt without advancing the
// cursor. Best effort: a failure here is logged, not returned.
func writeSyncError(ctx context.Context, repo repository.Repository, log *zap.Logger, spec pageSpec, lastTS int64, cause error) {
	now := time.Now().UTC()
	msg := cause.Error()
	cursor := &models.SyncCursor{
		OrgID:         spec.OrgID,
		Provider:      spec.Provider,
		Resource:      spec.Resource,
		LastTimestamp: lastTS,
		LastAttemptAt: &now,
		LastError:     &msg,
	}
	// Keep the last success marker from the previous run.
	if prev, err := repo.GetSyncCursor(ctx, spec.OrgID, spec.Provider, spec.Resource); err == nil && prev != nil {
		cursor.LastSuccessAt = prev.LastSuccessAt
		cursor.StatsJSON = prev.StatsJSON
	}
	err := repo.InTx(ctx, func(tx *gorm.DB) error {
		return repo.SaveSyncCursorTx(ctx, tx, cursor)
	})
	if err != nil {
		log.Warn("record sync failure",
			zap.String("org_id", spec.OrgID),
			zap.String("provider", spec.Provider),
			zap.String("resource", spec.Resource),
			zap.Error(err))
	}
}
