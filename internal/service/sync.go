package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"fleetsync/internal/client/bolt"
	"fleetsync/internal/client/heetch"
	"fleetsync/internal/client/uber"
	"fleetsync/internal/models"
	"fleetsync/internal/repository"
)

// BoltAPI is the slice of the Bolt client the orchestrator needs.
type BoltAPI interface {
	GetCompanies(ctx context.Context) ([]int64, error)
	GetDrivers(ctx context.Context, companyID int64, limit, offset int) ([]bolt.Driver, error)
	GetVehicles(ctx context.Context, companyID int64, limit, offset int) ([]bolt.Vehicle, error)
	GetFleetOrders(ctx context.Context, q bolt.RangeQuery) ([]bolt.Order, error)
	GetFleetStateLogs(ctx context.Context, q bolt.RangeQuery) ([]bolt.StateLog, error)
}

// UberAPI is the slice of the Uber client the orchestrator needs.
type UberAPI interface {
	GetDrivers(ctx context.Context, limit, offset int) ([]uber.Driver, error)
	GetVehicles(ctx context.Context, limit, offset int) ([]uber.Vehicle, error)
	GetPayments(ctx context.Context, limit, offset int, startTS, endTS int64) ([]uber.Payment, error)
}

// HeetchAPI is the slice of the Heetch client the orchestrator needs.
type HeetchAPI interface {
	GetEarnings(ctx context.Context, cookies []heetch.Cookie, date time.Time, period string) (*heetch.EarningsResponse, error)
}

// ProviderLimits carries a partner's paging and retention bounds.
type ProviderLimits struct {
	PageLimit int
	MaxPages  int
	MaxSpan   time.Duration
	Lookback  time.Duration
}

// Orchestrator runs full and incremental syncs against all partners
// and keeps the resource ordering contract: drivers before anything
// that references them.
type Orchestrator struct {
	repo     repository.Repository
	bolt     BoltAPI
	uber     UberAPI
	heetch   HeetchAPI
	sessions *SessionAuthManager
	logger   *zap.Logger

	boltLimits          ProviderLimits
	uberLimits          ProviderLimits
	heetchLookbackWeeks int

	now func() time.Time

	companyMu sync.Mutex
	companies map[string]int64
}

type OrchestratorParams struct {
	Repo                repository.Repository
	Bolt                BoltAPI
	Uber                UberAPI
	Heetch              HeetchAPI
	Sessions            *SessionAuthManager
	Logger              *zap.Logger
	BoltLimits          ProviderLimits
	UberLimits          ProviderLimits
	HeetchLookbackWeeks int
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	if p.HeetchLookbackWeeks <= 0 {
		p.HeetchLookbackWeeks = 8
	}
	return &Orchestrator{
		repo:                p.Repo,
		bolt:                p.Bolt,
		uber:                p.Uber,
		heetch:              p.Heetch,
		sessions:            p.Sessions,
		logger:              p.Logger,
		boltLimits:          p.BoltLimits,
		uberLimits:          p.UberLimits,
		heetchLookbackWeeks: p.HeetchLookbackWeeks,
		now:                 func() time.Time { return time.Now().UTC() },
		companies:           make(map[string]int64),
	}
}

// Sync runs one resource for one org. A nil tr means incremental from
// the stored cursor.
func (o *Orchestrator) Sync(ctx context.Context, orgID, provider, resource string, tr *TimeRange) (SyncReport, error) {
	switch provider {
	case models.ProviderBolt:
		switch resource {
		case models.ResourceDrivers:
			return o.syncBoltDrivers(ctx, orgID)
		case models.ResourceVehicles:
			return o.syncBoltVehicles(ctx, orgID)
		case models.ResourceTrips:
			return o.syncBoltTrips(ctx, orgID, tr)
		case models.ResourceStateLogs:
			return o.syncBoltStateLogs(ctx, orgID, tr)
		}
	case models.ProviderUber:
		switch resource {
		case models.ResourceDrivers:
			return o.syncUberDrivers(ctx, orgID)
		case models.ResourceVehicles:
			return o.syncUberVehicles(ctx, orgID)
		case models.ResourcePayments:
			return o.syncUberPayments(ctx, orgID, tr)
		}
	case models.ProviderHeetch:
		if resource == models.ResourceEarnings {
			return o.syncHeetchEarnings(ctx, orgID)
		}
	default:
		return SyncReport{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return SyncReport{}, fmt.Errorf("%w: %s/%s", ErrUnknownResource, provider, resource)
}

// SyncAll runs every resource a provider exposes, in dependency
// order. A driver roster failure is fatal because the downstream
// resources key on driver ids; any later failure degrades the run to
// partial instead of aborting it.
func (o *Orchestrator) SyncAll(ctx context.Context, orgID, provider string) ([]SyncReport, error) {
	var order []string
	switch provider {
	case models.ProviderBolt:
		order = []string{models.ResourceDrivers, models.ResourceVehicles, models.ResourceTrips, models.ResourceStateLogs}
	case models.ProviderUber:
		order = []string{models.ResourceDrivers, models.ResourceVehicles, models.ResourcePayments}
	case models.ProviderHeetch:
		order = []string{models.ResourceEarnings}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	reports := make([]SyncReport, 0, len(order))
	for _, resource := range order {
		report, err := o.Sync(ctx, orgID, provider, resource, nil)
		reports = append(reports, report)
		if err != nil {
			if resource == models.ResourceDrivers {
				return reports, &FatalError{Resource: resource, Err: err}
			}
			o.logger.Warn("resource sync failed, continuing",
				zap.String("org_id", orgID),
				zap.String("provider", provider),
				zap.String("resource", resource),
				zap.Error(err))
		}
	}
	return reports, nil
}

// resolveCompany maps org to the Bolt company id, caching the result
// and persisting the mapping for restarts.
func (o *Orchestrator) resolveCompany(ctx context.Context, orgID string) (int64, error) {
	o.companyMu.Lock()
	defer o.companyMu.Unlock()
	if id, ok := o.companies[orgID]; ok {
		return id, nil
	}
	if mapping, err := o.repo.GetCompanyMapping(ctx, orgID, models.ProviderBolt); err == nil && mapping != nil {
		o.companies[orgID] = mapping.CompanyID
		return mapping.CompanyID, nil
	}

	ids, err := o.bolt.GetCompanies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list companies: %w", classify(err))
	}
	if len(ids) == 0 {
		return 0, errors.New("credentials grant access to no company")
	}
	companyID := ids[0]
	if err := o.repo.SaveCompanyMapping(ctx, &models.CompanyMapping{
		OrgID:     orgID,
		Provider:  models.ProviderBolt,
		CompanyID: companyID,
		UpdatedAt: o.now(),
	}); err != nil {
		o.logger.Warn("persist company mapping", zap.String("org_id", orgID), zap.Error(err))
	}
	o.companies[orgID] = companyID
	return companyID, nil
}

func (o *Orchestrator) baseReport(orgID, provider, resource string) SyncReport {
	return SyncReport{OrgID: orgID, Provider: provider, Resource: resource, Status: StatusSuccess}
}

func (o *Orchestrator) finishReport(report *SyncReport, res pageResult, err error) error {
	report.Saved = res.Saved
	report.Skipped = res.Skipped
	report.Pages = res.Pages
	report.Cursor = res.LastTS
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		if res.Saved > 0 {
			report.Status = StatusPartial
		} else {
			report.Status = StatusError
		}
	}
	return err
}

func (o *Orchestrator) cursorStart(ctx context.Context, orgID, provider, resource string) int64 {
	cursor, err := o.repo.GetSyncCursor(ctx, orgID, provider, resource)
	if err != nil || cursor == nil {
		return 0
	}
	return cursor.LastTimestamp
}

func (o *Orchestrator) syncBoltDrivers(ctx context.Context, orgID string) (SyncReport, error) {
	report := o.baseReport(orgID, models.ProviderBolt, models.ResourceDrivers)
	companyID, err := o.resolveCompany(ctx, orgID)
	if err != nil {
		return report, o.finishReport(&report, pageResult{}, err)
	}
	spec := pageSpec{OrgID: orgID, Provider: models.ProviderBolt, Resource: models.ResourceDrivers,
		Limit: o.boltLimits.PageLimit, MaxPages: o.boltLimits.MaxPages}
	now := o.now()
	res, err := runPaged(ctx, o.repo, o.logger, spec,
		o.cursorStart(ctx, orgID, spec.Provider, spec.Resource), nil,
		func(ctx context.Context, limit, offset int) ([]bolt.Driver, error) {
			return o.bolt.GetDrivers(ctx, companyID, limit, offset)
		},
		func(d bolt.Driver) string { return d.UUID },
		func(bolt.Driver) int64 { return 0 },
		nil,
		func(ctx context.Context, tx *gorm.DB, items []bolt.Driver) error {
			drivers := make([]models.Driver, 0, len(items))
			for _, d := range items {
				drivers = append(drivers, boltDriverModel(orgID, d, now))
			}
			return o.repo.UpsertDriversTx(ctx, tx, drivers)
		})
	return report, o.finishReport(&report, res, err)
}

func (o *Orchestrator) syncBoltVehicles(ctx context.Context, orgID string) (SyncReport, error) {
	report := o.baseReport(orgID, models.ProviderBolt, models.ResourceVehicles)
	companyID, err := o.resolveCompany(ctx, orgID)
	if err != nil {
		return report, o.finishReport(&report, pageResult{}, err)
	}
	spec := pageSpec{OrgID: orgID, Provider: models.ProviderBolt, Resource: models.ResourceVehicles,
		Limit: o.boltLimits.PageLimit, MaxPages: o.boltLimits.MaxPages}
	now := o.now()
	res, err := runPaged(ctx, o.repo, o.logger, spec,
		o.cursorStart(ctx, orgID, spec.Provider, spec.Resource), nil,
		func(ctx context.Context, limit, offset int) ([]bolt.Vehicle, error) {
			return o.bolt.GetVehicles(ctx, companyID, limit, offset)
		},
		func(v bolt.Vehicle) string { return v.UUID },
		func(bolt.Vehicle) int64 { return 0 },
		nil,
		func(ctx context.Context, tx *gorm.DB, items []bolt.Vehicle) error {
			vehicles := make([]models.Vehicle, 0, len(items))
			for _, v := range items {
				vehicles = append(vehicles, boltVehicleModel(orgID, v, now))
			}
			return o.repo.UpsertVehiclesTx(ctx, tx, vehicles)
		})
	return report, o.finishReport(&report, res, err)
}

func (o *Orchestrator) syncBoltTrips(ctx context.Context, orgID string, tr *TimeRange) (SyncReport, error) {
	report := o.baseReport(orgID, models.ProviderBolt, models.ResourceTrips)
	companyID, err := o.resolveCompany(ctx, orgID)
	if err != nil {
		return report, o.finishReport(&report, pageResult{}, err)
	}
	spec := pageSpec{OrgID: orgID, Provider: models.ProviderBolt, Resource: models.ResourceTrips,
		Limit: o.boltLimits.PageLimit, MaxPages: o.boltLimits.MaxPages}
	cursorTS := o.cursorStart(ctx, orgID, spec.Provider, spec.Resource)
	start, end := resolveSpan(cursorTS, tr, o.now(), o.boltLimits.Lookback)
	report.WindowStart, report.WindowEnd = start, end

	persisted, err := asSet(o.repo.ListTripRefsInWindow(ctx, orgID, start.Unix(), end.Unix()))
	if err != nil {
		return report, o.finishReport(&report, pageResult{}, err)
	}
	now := o.now()
	res, err := runWindowed(ctx, o.repo, o.logger, spec, cursorTS, start, end, o.boltLimits.MaxSpan,
		func(ctx context.Context, w window, limit, offset int) ([]bolt.Order, error) {
			return o.bolt.GetFleetOrders(ctx, bolt.RangeQuery{
				CompanyID: companyID, Limit: limit, Offset: offset,
				StartTS: w.start.Unix(), EndTS: w.end.Unix(),
			})
		},
		func(ord bolt.Order) string { return ord.OrderReference },
		func(ord bolt.Order) int64 { return ord.OrderCreatedTimestamp },
		persisted,
		func(ctx context.Context, tx *gorm.DB, items []bolt.Order) error {
			trips := make([]models.Trip, 0, len(items))
			for _, ord := range items {
				trips = append(trips, boltTripModel(orgID, companyID, ord, now))
			}
			return o.repo.UpsertTripsTx(ctx, tx, trips)
		})
	return report, o.finishReport(&report, res, err)
}

func (o *Orchestrator) syncBoltStateLogs(ctx context.Context, orgID string, tr *TimeRange) (SyncReport, error) {
	report := o.baseReport(orgID, models.ProviderBolt, models.ResourceStateLogs)
	companyID, err := o.resolveCompany(ctx, orgID)
	if err != nil {
		return report, o.finishReport(&report, pageResult{}, err)
	}
	spec := pageSpec{OrgID: orgID, Provider: models.ProviderBolt, Resource: models.ResourceStateLogs,
		Limit: o.boltLimits.PageLimit, MaxPages: o.boltLimits.MaxPages}
	cursorTS := o.cursorStart(ctx, orgID, spec.Provider, spec.Resource)
	start, end := resolveSpan(cursorTS, tr, o.now(), o.boltLimits.Lookback)
	report.WindowStart, report.WindowEnd = start, end

	persisted, err := asSet(o.repo.ListStateLogIDsInWindow(ctx, orgID, start.Unix(), end.Unix()))
	if err != nil {
		return report, o.finishReport(&report, pageResult{}, err)
	}
	now := o.now()
	res, err := runWindowed(ctx, o.repo, o.logger, spec, cursorTS, start, end, o.boltLimits.MaxSpan,
		func(ctx context.Context, w window, limit, offset int) ([]bolt.StateLog, error) {
			return o.bolt.GetFleetStateLogs(ctx, bolt.RangeQuery{
				CompanyID: companyID, Limit: limit, Offset: offset,
				StartTS: w.start.Unix(), EndTS: w.end.Unix(),
			})
		},
		func(sl bolt.StateLog) string { return stateLogID(sl.DriverUUID, sl.Created) },
		func(sl bolt.StateLog) int64 { return sl.Created },
		persisted,
		func(ctx context.Context, tx *gorm.DB, items []bolt.StateLog) error {
			logs := make([]models.StateLog, 0, len(items))
			for _, sl := range items {
				logs = append(logs, boltStateLogModel(orgID, sl, now))
			}
			return o.repo.UpsertStateLogsTx(ctx, tx, logs)
		})
	return report, o.finishReport(&report, res, err)
}

func (o *Orchestrator) syncUberDrivers(ctx context.Context, orgID string) (SyncReport, error) {
	report := o.baseReport(orgID, models.ProviderUber, models.ResourceDrivers)
	spec := pageSpec{OrgID: orgID, Provider: models.ProviderUber, Resource: models.ResourceDrivers,
		Limit: o.uberLimits.PageLimit, MaxPages: o.uberLimits.MaxPages}
	now := o.now()
	res, err := runPaged(ctx, o.repo, o.logger, spec,
		o.cursorStart(ctx, orgID, spec.Provider, spec.Resource), nil,
		func(ctx context.Context, limit, offset int) ([]uber.Driver, error) {
			return o.uber.GetDrivers(ctx, limit, offset)
		},
		func(d uber.Driver) string { return d.UUID },
		func(uber.Driver) int64 { return 0 },
		nil,
		func(ctx context.Context, tx *gorm.DB, items []uber.Driver) error {
			drivers := make([]models.Driver, 0, len(items))
			for _, d := range items {
				drivers = append(drivers, uberDriverModel(orgID, d, now))
			}
			return o.repo.UpsertDriversTx(ctx, tx, drivers)
		})
	return report, o.finishReport(&report, res, err)
}

func (o *Orchestrator) syncUberVehicles(ctx context.Context, orgID string) (SyncReport, error) {
	report := o.baseReport(orgID, models.ProviderUber, models.ResourceVehicles)
	spec := pageSpec{OrgID: orgID, Provider: models.ProviderUber, Resource: models.ResourceVehicles,
		Limit: o.uberLimits.PageLimit, MaxPages: o.uberLimits.MaxPages}
	now := o.now()
	res, err := runPaged(ctx, o.repo, o.logger, spec,
		o.cursorStart(ctx, orgID, spec.Provider, spec.Resource), nil,
		func(ctx context.Context, limit, offset int) ([]uber.Vehicle, error) {
			return o.uber.GetVehicles(ctx, limit, offset)
		},
		func(v uber.Vehicle) string { return v.UUID },
		func(uber.Vehicle) int64 { return 0 },
		nil,
		func(ctx context.Context, tx *gorm.DB, items []uber.Vehicle) error {
			vehicles := make([]models.Vehicle, 0, len(items))
			for _, v := range items {
				vehicles = append(vehicles, uberVehicleModel(orgID, v, now))
			}
			return o.repo.UpsertVehiclesTx(ctx, tx, vehicles)
		})
	return report, o.finishReport(&report, res, err)
}

func (o *Orchestrator) syncUberPayments(ctx context.Context, orgID string, tr *TimeRange) (SyncReport, error) {
	report := o.baseReport(orgID, models.ProviderUber, models.ResourcePayments)
	spec := pageSpec{OrgID: orgID, Provider: models.ProviderUber, Resource: models.ResourcePayments,
		Limit: o.uberLimits.PageLimit, MaxPages: o.uberLimits.MaxPages}
	cursorTS := o.cursorStart(ctx, orgID, spec.Provider, spec.Resource)
	start, end := resolveSpan(cursorTS, tr, o.now(), o.uberLimits.Lookback)
	report.WindowStart, report.WindowEnd = start, end

	persisted, err := asSet(o.repo.ListPaymentIDsInWindow(ctx, orgID, start.Unix(), end.Unix()))
	if err != nil {
		return report, o.finishReport(&report, pageResult{}, err)
	}
	now := o.now()
	res, err := runWindowed(ctx, o.repo, o.logger, spec, cursorTS, start, end, o.uberLimits.MaxSpan,
		func(ctx context.Context, w window, limit, offset int) ([]uber.Payment, error) {
			return o.uber.GetPayments(ctx, limit, offset, w.start.Unix(), w.end.Unix())
		},
		func(p uber.Payment) string { return p.PaymentID },
		func(p uber.Payment) int64 { return p.EventTime },
		persisted,
		func(ctx context.Context, tx *gorm.DB, items []uber.Payment) error {
			payments := make([]models.Payment, 0, len(items))
			for _, p := range items {
				payments = append(payments, uberPaymentModel(orgID, p, now))
			}
			return o.repo.UpsertPaymentsTx(ctx, tx, payments)
		})
	return report, o.finishReport(&report, res, err)
}

// syncHeetchEarnings walks Monday-aligned weeks back from today and
// fetches the weekly earnings report for each. The portal embeds the
// driver roster and availability events in the same payload, so one
// pass feeds three tables.
func (o *Orchestrator) syncHeetchEarnings(ctx context.Context, orgID string) (SyncReport, error) {
	report := o.baseReport(orgID, models.ProviderHeetch, models.ResourceEarnings)
	spec := pageSpec{OrgID: orgID, Provider: models.ProviderHeetch, Resource: models.ResourceEarnings}

	cookies, credID, err := o.sessions.Cookies(ctx, orgID)
	if err != nil {
		writeSyncError(ctx, o.repo, o.logger, spec, o.cursorStart(ctx, orgID, spec.Provider, spec.Resource), err)
		report.Status = StatusError
		report.Errors = append(report.Errors, err.Error())
		return report, err
	}

	now := o.now()
	res := pageResult{LastTS: o.cursorStart(ctx, orgID, spec.Provider, spec.Resource)}
	thisWeek := mondayOf(now)
	firstWeek := thisWeek.AddDate(0, 0, -7*(o.heetchLookbackWeeks-1))
	if res.LastTS > 0 {
		if resumed := mondayOf(time.Unix(res.LastTS, 0).UTC()); resumed.After(firstWeek) {
			firstWeek = resumed
		}
	}

	// One bad week must not block the rest of the walk; only an
	// expired session or a cancelled context ends it early.
	var abortErr error
	var weekErrs []string
	for week := firstWeek; !week.After(thisWeek); week = week.AddDate(0, 0, 7) {
		if ctx.Err() != nil {
			abortErr = ctx.Err()
			break
		}
		resp, err := o.heetch.GetEarnings(ctx, cookies, week, "weekly")
		if err != nil {
			if errors.Is(err, heetch.ErrSessionExpired) {
				o.sessions.Invalidate(ctx, orgID, credID)
				abortErr = classify(err)
				break
			}
			weekErrs = append(weekErrs, fmt.Sprintf("week %s: %v", week.Format("2006-01-02"), err))
			o.logger.Warn("heetch week fetch failed, continuing",
				zap.String("org_id", orgID),
				zap.Time("week", week),
				zap.Error(err))
			continue
		}

		drivers, earnings, stateLogs := heetchWeekModels(orgID, week, resp, now)
		weekTS := week.Unix()
		commitTS := res.LastTS
		if weekTS > commitTS {
			commitTS = weekTS
		}
		commitAt := o.now()
		err = o.repo.InTx(ctx, func(tx *gorm.DB) error {
			if err := o.repo.UpsertDriversTx(ctx, tx, drivers); err != nil {
				return err
			}
			if err := o.repo.UpsertEarningsTx(ctx, tx, earnings); err != nil {
				return err
			}
			if err := o.repo.UpsertStateLogsTx(ctx, tx, stateLogs); err != nil {
				return err
			}
			return o.repo.SaveSyncCursorTx(ctx, tx, &models.SyncCursor{
				OrgID:         spec.OrgID,
				Provider:      spec.Provider,
				Resource:      spec.Resource,
				LastTimestamp: commitTS,
				LastSuccessAt: &commitAt,
				LastAttemptAt: &commitAt,
				StatsJSON:     pageStats(res.Saved+len(earnings), res.Skipped, res.Pages+1),
			})
		})
		if err != nil {
			weekErrs = append(weekErrs, fmt.Sprintf("week %s: %v", week.Format("2006-01-02"), err))
			continue
		}
		res.LastTS = commitTS
		res.Saved += len(earnings)
		res.Pages++
	}

	report.Errors = append(report.Errors, weekErrs...)
	runErr := abortErr
	if runErr == nil && len(weekErrs) > 0 {
		runErr = fmt.Errorf("heetch earnings: %d weeks failed", len(weekErrs))
	}
	if runErr != nil {
		writeSyncError(ctx, o.repo, o.logger, spec, res.LastTS, runErr)
	}
	return report, o.finishReport(&report, res, runErr)
}

// mondayOf truncates t to the Monday that starts its week. The portal
// rejects weekly queries anchored on any other day.
func mondayOf(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	back := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -back)
}

func stateLogID(driverUUID string, created int64) string {
	return fmt.Sprintf("%s_%d", driverUUID, created)
}

func asSet(keys []string, err error) (map[string]struct{}, error) {
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

func rawJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func decFromPtr(f *float64) decimal.Decimal {
	if f == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*f)
}

func boltDriverModel(orgID string, d bolt.Driver, now time.Time) models.Driver {
	return models.Driver{
		ID:         d.UUID,
		OrgID:      orgID,
		Provider:   models.ProviderBolt,
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		Email:      d.Email,
		Phone:      d.Phone,
		Active:     strings.EqualFold(d.State, "active"),
		LastSeenAt: now,
		RawJSON:    rawJSON(d),
	}
}

func boltVehicleModel(orgID string, v bolt.Vehicle, now time.Time) models.Vehicle {
	model := v.Model
	year := v.Year
	return models.Vehicle{
		ID:         v.UUID,
		OrgID:      orgID,
		Provider:   models.ProviderBolt,
		Plate:      v.RegNumber,
		Model:      &model,
		Year:       &year,
		Active:     strings.EqualFold(v.State, "active"),
		LastSeenAt: now,
		RawJSON:    rawJSON(v),
	}
}

func boltTripModel(orgID string, companyID int64, ord bolt.Order, now time.Time) models.Trip {
	var net *decimal.Decimal
	if ord.NetEarnings != nil {
		d := decimal.NewFromFloat(*ord.NetEarnings)
		net = &d
	}
	currency := ord.Currency
	if currency == "" {
		currency = "EUR"
	}
	return models.Trip{
		OrderReference:  ord.OrderReference,
		OrgID:           orgID,
		Provider:        models.ProviderBolt,
		CompanyID:       &companyID,
		DriverUUID:      &ord.DriverUUID,
		DriverName:      &ord.DriverName,
		PaymentMethod:   &ord.PaymentMethod,
		OrderStatus:     &ord.OrderStatus,
		OrderCreatedTS:  ord.OrderCreatedTimestamp,
		AcceptedTS:      ord.OrderAcceptedTS,
		PickupTS:        ord.OrderPickupTS,
		FinishedTS:      ord.OrderFinishedTS,
		PickupAddress:   ord.PickupAddress,
		RidePrice:       decFromPtr(ord.RidePrice),
		BookingFee:      decFromPtr(ord.BookingFee),
		TollFee:         decFromPtr(ord.TollFee),
		CancellationFee: decFromPtr(ord.CancellationFee),
		Tip:             decFromPtr(ord.TipAmount),
		NetEarnings:     net,
		Currency:        currency,
		LastSeenAt:      now,
		RawJSON:         rawJSON(ord),
	}
}

func boltStateLogModel(orgID string, sl bolt.StateLog, now time.Time) models.StateLog {
	return models.StateLog{
		ID:               stateLogID(sl.DriverUUID, sl.Created),
		OrgID:            orgID,
		Provider:         models.ProviderBolt,
		DriverUUID:       sl.DriverUUID,
		VehicleUUID:      sl.VehicleUUID,
		Created:          sl.Created,
		State:            sl.State,
		Lat:              sl.Lat,
		Lng:              sl.Lng,
		ActiveCategories: rawJSON(sl.ActiveCategories),
		LastSeenAt:       now,
	}
}

func uberDriverModel(orgID string, d uber.Driver, now time.Time) models.Driver {
	return models.Driver{
		ID:         d.UUID,
		OrgID:      orgID,
		Provider:   models.ProviderUber,
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		Email:      d.Email,
		Phone:      d.Phone,
		ImageURL:   d.ImageURL,
		Active:     strings.EqualFold(d.Status, "active"),
		LastSeenAt: now,
		RawJSON:    rawJSON(d),
	}
}

func uberVehicleModel(orgID string, v uber.Vehicle, now time.Time) models.Vehicle {
	model := strings.TrimSpace(v.Make + " " + v.Model)
	year := v.Year
	return models.Vehicle{
		ID:         v.UUID,
		OrgID:      orgID,
		Provider:   models.ProviderUber,
		Plate:      v.LicensePlate,
		Model:      &model,
		Year:       &year,
		Active:     strings.EqualFold(v.Status, "active"),
		LastSeenAt: now,
		RawJSON:    rawJSON(v),
	}
}

func uberPaymentModel(orgID string, p uber.Payment, now time.Time) models.Payment {
	driverID := p.DriverUUID
	category := p.Category
	currency := p.Currency
	if currency == "" {
		currency = "EUR"
	}
	return models.Payment{
		ID:         p.PaymentID,
		OrgID:      orgID,
		Provider:   models.ProviderUber,
		DriverID:   &driverID,
		Category:   &category,
		Amount:     decimal.NewFromFloat(p.Amount),
		Currency:   currency,
		EventTS:    p.EventTime,
		LastSeenAt: now,
		RawJSON:    rawJSON(p),
	}
}

// heetchWeekModels flattens one weekly earnings payload into driver,
// earning, and state log rows. The portal has no native ids: the
// driver id is the email, and earnings are keyed by email, week start,
// and period kind.
func heetchWeekModels(orgID string, week time.Time, resp *heetch.EarningsResponse, now time.Time) ([]models.Driver, []models.Earning, []models.StateLog) {
	var drivers []models.Driver
	var earnings []models.Earning
	var stateLogs []models.StateLog

	period := resp.Period
	if period == "" {
		period = "weekly"
	}
	currency := resp.Currency
	if currency == "" {
		currency = "EUR"
	}
	weekEnd := week.AddDate(0, 0, 6)

	for _, de := range resp.Drivers {
		if de.Email == "" {
			continue
		}
		mail := de.Email

		drivers = append(drivers, models.Driver{
			ID:         de.Email,
			OrgID:      orgID,
			Provider:   models.ProviderHeetch,
			FirstName:  de.FirstName,
			LastName:   de.LastName,
			Email:      &mail,
			Phone:      de.Phone,
			ImageURL:   de.ImageURL,
			Active:     true,
			LastSeenAt: now,
			RawJSON:    rawJSON(de),
		})

		earnings = append(earnings, models.Earning{
			ID:                 fmt.Sprintf("%s_%s_%s", de.Email, week.Format("2006-01-02"), period),
			OrgID:              orgID,
			Provider:           models.ProviderHeetch,
			DriverID:           de.Email,
			Period:             period,
			StartDate:          week,
			EndDate:            weekEnd,
			GrossEarnings:      decimal.NewFromFloat(de.Earnings.GrossEarnings),
			NetEarnings:        decimal.NewFromFloat(de.Earnings.NetEarnings),
			CashCollected:      decimal.NewFromFloat(de.Earnings.CashCollected),
			CardGrossEarnings:  decimal.NewFromFloat(de.Earnings.CardGrossEarnings),
			CashCommissionFees: decimal.NewFromFloat(de.Earnings.CashCommissionFees),
			CardCommissionFees: decimal.NewFromFloat(de.Earnings.CardCommissionFees),
			CancellationFees:   decimal.NewFromFloat(de.Earnings.CancellationFees),
			Bonuses:            decimal.NewFromFloat(de.Earnings.Bonuses),
			TerminatedRides:    de.Earnings.TerminatedRides,
			CancelledRides:     de.Earnings.CancelledRides,
			Currency:           currency,
			LastSeenAt:         now,
			RawJSON:            rawJSON(de),
		})

		for _, ev := range de.StatusEvents {
			stateLogs = append(stateLogs, models.StateLog{
				ID:         stateLogID(de.Email, ev.Created),
				OrgID:      orgID,
				Provider:   models.ProviderHeetch,
				DriverUUID: de.Email,
				Created:    ev.Created,
				State:      ev.Status,
				LastSeenAt: now,
			})
		}
	}
	return drivers, earnings, stateLogs
}
