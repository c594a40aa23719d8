package gormrepository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleetsync/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- synced records ---------------------------------------------------------

func (s *Store) UpsertDriversTx(ctx context.Context, tx *gorm.DB, items []models.Driver) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}, {Name: "org_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"first_name",
			"last_name",
			"email",
			"phone",
			"image_url",
			"active",
			"last_seen_at",
			"raw_json",
		}),
	}), items, 200)
}

func (s *Store) UpsertVehiclesTx(ctx context.Context, tx *gorm.DB, items []models.Vehicle) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}, {Name: "org_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plate",
			"model",
			"year",
			"active",
			"last_seen_at",
			"raw_json",
		}),
	}), items, 200)
}

func (s *Store) UpsertTripsTx(ctx context.Context, tx *gorm.DB, items []models.Trip) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_reference"}, {Name: "org_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"company_id",
			"driver_uuid",
			"driver_name",
			"driver_phone",
			"payment_method",
			"order_status",
			"order_created_ts",
			"accepted_ts",
			"pickup_ts",
			"drop_off_ts",
			"finished_ts",
			"pickup_address",
			"ride_distance",
			"ride_price",
			"booking_fee",
			"toll_fee",
			"cancellation_fee",
			"tip",
			"net_earnings",
			"currency",
			"vehicle_model",
			"vehicle_plate",
			"last_seen_at",
			"raw_json",
		}),
	}), items, 200)
}

func (s *Store) UpsertEarningsTx(ctx context.Context, tx *gorm.DB, items []models.Earning) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}, {Name: "org_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"driver_id",
			"period",
			"start_date",
			"end_date",
			"gross_earnings",
			"net_earnings",
			"cash_collected",
			"card_gross_earnings",
			"cash_commission_fees",
			"card_commission_fees",
			"cancellation_fees",
			"bonuses",
			"terminated_rides",
			"cancelled_rides",
			"currency",
			"last_seen_at",
			"raw_json",
		}),
	}), items, 200)
}

func (s *Store) UpsertPaymentsTx(ctx context.Context, tx *gorm.DB, items []models.Payment) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}, {Name: "org_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"driver_id",
			"category",
			"amount",
			"currency",
			"event_ts",
			"last_seen_at",
			"raw_json",
		}),
	}), items, 200)
}

func (s *Store) UpsertStateLogsTx(ctx context.Context, tx *gorm.DB, items []models.StateLog) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}, {Name: "org_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider",
			"driver_uuid",
			"vehicle_uuid",
			"created",
			"state",
			"lat",
			"lng",
			"active_categories",
			"last_seen_at",
		}),
	}), items, 500)
}

// --- window dedup lookups ---------------------------------------------------

func (s *Store) ListTripRefsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var refs []string
	err := s.db.WithContext(ctx).Model(&models.Trip{}).
		Where("org_id = ?", orgID).
		Where("order_created_ts >= ? AND order_created_ts <= ?", startTS, endTS).
		Pluck("order_reference", &refs).Error
	return refs, err
}

func (s *Store) ListStateLogIDsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.StateLog{}).
		Where("org_id = ?", orgID).
		Where("created >= ? AND created <= ?", startTS, endTS).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) ListPaymentIDsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("org_id = ?", orgID).
		Where("event_ts >= ? AND event_ts <= ?", startTS, endTS).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) CountRecords(ctx context.Context, orgID, resource string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var model any
	switch resource {
	case models.ResourceDrivers:
		model = &models.Driver{}
	case models.ResourceVehicles:
		model = &models.Vehicle{}
	case models.ResourceTrips:
		model = &models.Trip{}
	case models.ResourceEarnings:
		model = &models.Earning{}
	case models.ResourcePayments:
		model = &models.Payment{}
	case models.ResourceStateLogs:
		model = &models.StateLog{}
	default:
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(model).Where("org_id = ?", orgID).Count(&count).Error
	return count, err
}

// --- sync cursors -----------------------------------------------------------

func (s *Store) GetSyncCursor(ctx context.Context, orgID, provider, resource string) (*models.SyncCursor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var cursor models.SyncCursor
	err := s.db.WithContext(ctx).
		First(&cursor, "org_id = ? AND provider = ? AND resource = ?", orgID, provider, resource).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (s *Store) SaveSyncCursorTx(ctx context.Context, tx *gorm.DB, cursor *models.SyncCursor) error {
	if cursor == nil {
		return nil
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}, {Name: "provider"}, {Name: "resource"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_timestamp",
			"last_success_at",
			"last_attempt_at",
			"last_error",
			"stats_json",
		}),
	}).Create(cursor).Error
}

func (s *Store) ListSyncCursors(ctx context.Context, orgID string) ([]models.SyncCursor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var cursors []models.SyncCursor
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("provider asc, resource asc").
		Find(&cursors).Error
	return cursors, err
}

// --- session credentials ----------------------------------------------------

// GetSessionCredential returns the newest unexpired, non-invalidated
// credential for the (org, phone) pair, or nil.
func (s *Store) GetSessionCredential(ctx context.Context, orgID, phone string) (*models.SessionCredential, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var cred models.SessionCredential
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND phone_number = ?", orgID, phone).
		Where("invalidated_at IS NULL").
		Where("expires_at > ?", time.Now().UTC()).
		Order("created_at desc").
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *Store) CreateSessionCredential(ctx context.Context, cred *models.SessionCredential) error {
	if s == nil || s.db == nil || cred == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(cred).Error
}

// InvalidateSessionCredential soft-deletes: the row stays for audit.
func (s *Store) InvalidateSessionCredential(ctx context.Context, id uint64, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.SessionCredential{}).
		Where("id = ?", id).
		Where("invalidated_at IS NULL").
		Update("invalidated_at", at).Error
}

// --- company mappings -------------------------------------------------------

func (s *Store) GetCompanyMapping(ctx context.Context, orgID, provider string) (*models.CompanyMapping, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var mapping models.CompanyMapping
	err := s.db.WithContext(ctx).
		First(&mapping, "org_id = ? AND provider = ?", orgID, provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

func (s *Store) SaveCompanyMapping(ctx context.Context, mapping *models.CompanyMapping) error {
	if s == nil || s.db == nil || mapping == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"company_id",
			"name",
			"updated_at",
		}),
	}).Create(mapping).Error
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := db.CreateInBatches(items[i:end], batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}
