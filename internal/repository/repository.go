package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"fleetsync/internal/models"
)

// Repository is the storage surface of the sync subsystem. Cursor and
// credential rows are owned exclusively by this package's callers; the
// read API consumes only the synced record tables.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	UpsertDriversTx(ctx context.Context, tx *gorm.DB, items []models.Driver) error
	UpsertVehiclesTx(ctx context.Context, tx *gorm.DB, items []models.Vehicle) error
	UpsertTripsTx(ctx context.Context, tx *gorm.DB, items []models.Trip) error
	UpsertEarningsTx(ctx context.Context, tx *gorm.DB, items []models.Earning) error
	UpsertPaymentsTx(ctx context.Context, tx *gorm.DB, items []models.Payment) error
	UpsertStateLogsTx(ctx context.Context, tx *gorm.DB, items []models.StateLog) error

	ListTripRefsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error)
	ListStateLogIDsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error)
	ListPaymentIDsInWindow(ctx context.Context, orgID string, startTS, endTS int64) ([]string, error)
	CountRecords(ctx context.Context, orgID, resource string) (int64, error)

	GetSyncCursor(ctx context.Context, orgID, provider, resource string) (*models.SyncCursor, error)
	SaveSyncCursorTx(ctx context.Context, tx *gorm.DB, cursor *models.SyncCursor) error
	ListSyncCursors(ctx context.Context, orgID string) ([]models.SyncCursor, error)

	GetSessionCredential(ctx context.Context, orgID, phone string) (*models.SessionCredential, error)
	CreateSessionCredential(ctx context.Context, cred *models.SessionCredential) error
	InvalidateSessionCredential(ctx context.Context, id uint64, at time.Time) error

	GetCompanyMapping(ctx context.Context, orgID, provider string) (*models.CompanyMapping, error)
	SaveCompanyMapping(ctx context.Context, mapping *models.CompanyMapping) error
}
