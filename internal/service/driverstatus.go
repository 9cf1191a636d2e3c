package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/repository"
)

// DriverStatusService tracks driver availability with optimistic version
// control. Reserve (available=false) and release (available=true) go
// through the same Update path; a driver already reserved cannot be
// reserved again because its availability flip bumped the version the
// second caller expects.
type DriverStatusService struct {
	repo repository.DriverRepository
	log  *logrus.Entry
}

// NewDriverStatusService creates the service over the given store.
func NewDriverStatusService(repo repository.DriverRepository, log *logrus.Entry) *DriverStatusService {
	return &DriverStatusService{repo: repo, log: log}
}

// UpdateDriverStatus sets availability. A repeated idempotency key replays
// the stored result; otherwise the write is compare-and-set on
// expectedVersion.
func (s *DriverStatusService) UpdateDriverStatus(ctx context.Context, driverID string, available bool, expectedVersion int64, idempotencyKey string) (*model.DriverStatus, error) {
	if driverID == "" {
		return nil, errs.InvalidArgument("driver_id is required")
	}
	if expectedVersion < 1 {
		return nil, errs.InvalidArgument("expected_version must be >= 1")
	}

	ds, err := s.repo.Update(ctx, driverID, available, expectedVersion, idempotencyKey)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"driver_id": driverID,
		"available": ds.Available,
		"version":   ds.Version,
	}).Info("driver status updated")
	return ds, nil
}

// GetDriverStatus fetches the current record.
func (s *DriverStatusService) GetDriverStatus(ctx context.Context, driverID string) (*model.DriverStatus, error) {
	if driverID == "" {
		return nil, errs.InvalidArgument("driver_id is required")
	}
	return s.repo.Get(ctx, driverID)
}

// RegisterDriver onboards (or refreshes) a driver record.
func (s *DriverStatusService) RegisterDriver(ctx context.Context, ds *model.DriverStatus) error {
	if ds.DriverID == "" {
		return errs.InvalidArgument("driver_id is required")
	}
	if !ds.Location.Valid() {
		return errs.InvalidArgument("driver location must be finite coordinates")
	}
	return s.repo.Upsert(ctx, ds)
}
