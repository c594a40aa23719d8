package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"fleetsync/internal/models"
)

// stubRepo is an in-memory Repository for service tests.
type stubRepo struct {
	mu        sync.Mutex
	drivers   map[string]models.Driver
	vehicles  map[string]models.Vehicle
	trips     map[string]models.Trip
	earnings  map[string]models.Earning
	payments  map[string]models.Payment
	stateLogs map[string]models.StateLog
	cursors   map[string]models.SyncCursor
	creds     []models.SessionCredential
	mappings  map[string]models.CompanyMapping

	failUpserts bool
	nextCredID  uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		drivers:   make(map[string]models.Driver),
		vehicles:  make(map[string]models.Vehicle),
		trips:     make(map[string]models.Trip),
		earnings:  make(map[string]models.Earning),
		payments:  make(map[string]models.Payment),
		stateLogs: make(map[string]models.StateLog),
		cursors:   make(map[string]models.SyncCursor),
		mappings:  make(map[string]models.CompanyMapping),
	}
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) UpsertDriversTx(ctx context.Context, tx *gorm.DB, items []models.Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts {
		return errors.New("stub upsert failure")
	}
	for _, d := range items {
		r.drivers[d.ID+"|"+d.OrgID+"|"+d.Provider] = d
	}
	return nil
}

func (r *stubRepo) UpsertVehiclesTx(ctx context.Context, tx *gorm.DB, items []models.Vehicle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts {
		return errors.New("stub upsert failure")
	}
	for _, v := range items {
		r.vehicles[v.ID+"|"+v.OrgID+"|"+v.Provider] = v
	}
	return nil
}

func (r *stubRepo) UpsertTripsTx(ctx context.Context, tx *gorm.DB, items []models.Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts {
		return errors.New("stub upsert failure")
	}
	for _, t := range items {
		r.trips[t.OrderReference+"|"+t.OrgID] = t
	}
	return nil
}

func (r *stubRepo) UpsertEarningsTx(ctx context.Context, tx *gorm.DB, items []models.Earning) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts {
		return errors.New("stub upsert failure")
	}
	for _, e := range items {
		r.earnings[e.ID+"|"+e.OrgID] = e
	}
	return nil
}

func (r *stubRepo) UpsertPaymentsTx(ctx context.Context, tx *gorm.DB, items []models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts {
		return errors.New("stub upsert failure")
	}
	for _, p := range items {
		r.payments[p.ID+"|"+p.OrgID] = p
	}
	return nil
}

func (r *stubRepo) UpsertStateLogsTx(ctx context.Context, tx *gorm.DB, items []models.StateLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpserts {
		return errors.New("stub upsert failure")
	}
	for _, sl := range items {
		r.stateLogs[sl.ID+"|"+sl.OrgID] = sl
	}
	return nil
}

func (r *stubRepo) ListTripRefsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, t := range r.trips {
		if t.OrgID == orgID && t.OrderCreatedTS >= startTS && t.OrderCreatedTS <= endTS {
			out = append(out, t.OrderReference)
		}
	}
	return out, nil
}

func (r *stubRepo) ListStateLogIDsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, sl := range r.stateLogs {
		if sl.OrgID == orgID && sl.Created >= startTS && sl.Created <= endTS {
			out = append(out, sl.ID)
		}
	}
	return out, nil
}

func (r *stubRepo) ListPaymentIDsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.payments {
		if p.OrgID == orgID && p.EventTS >= startTS && p.EventTS <= endTS {
			out = append(out, p.ID)
		}
	}
	return out, nil
}

func (r *stubRepo) CountRecords(ctx context.Context, orgID, resource string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch resource {
	case models.ResourceDrivers:
		return int64(len(r.drivers)), nil
	case models.ResourceTrips:
		return int64(len(r.trips)), nil
	case models.ResourceEarnings:
		return int64(len(r.earnings)), nil
	}
	return 0, nil
}

func cursorKey(orgID, provider, resource string) string {
	return fmt.Sprintf("%s|%s|%s", orgID, provider, resource)
}

func (r *stubRepo) GetSyncCursor(ctx context.Context, orgID, provider, resource string) (*models.SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[cursorKey(orgID, provider, resource)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *stubRepo) SaveSyncCursorTx(ctx context.Context, tx *gorm.DB, cursor *models.SyncCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[cursorKey(cursor.OrgID, cursor.Provider, cursor.Resource)] = *cursor
	return nil
}

func (r *stubRepo) ListSyncCursors(ctx context.Context, orgID string) ([]models.SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SyncCursor
	for _, c := range r.cursors {
		if c.OrgID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *stubRepo) GetSessionCredential(ctx context.Context, orgID, phone string) (*models.SessionCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.SessionCredential
	for i := range r.creds {
		c := r.creds[i]
		if c.OrgID != orgID || c.PhoneNumber != phone || c.InvalidatedAt != nil {
			continue
		}
		if time.Now().UTC().After(c.ExpiresAt) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			cc := c
			latest = &cc
		}
	}
	return latest, nil
}

func (r *stubRepo) CreateSessionCredential(ctx context.Context, cred *models.SessionCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCredID++
	cred.ID = r.nextCredID
	r.creds = append(r.creds, *cred)
	return nil
}

func (r *stubRepo) InvalidateSessionCredential(ctx context.Context, id uint64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.creds {
		if r.creds[i].ID == id && r.creds[i].InvalidatedAt == nil {
			t := at
			r.creds[i].InvalidatedAt = &t
		}
	}
	return nil
}

func (r *stubRepo) GetCompanyMapping(ctx context.Context, orgID, provider string) (*models.CompanyMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[orgID+"|"+provider]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *stubRepo) SaveCompanyMapping(ctx context.Context, mapping *models.CompanyMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[mapping.OrgID+"|"+mapping.Provider] = *mapping
	return nil
}
