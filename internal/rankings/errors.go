package rankings

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingCatalog  = errors.New("leaderboard catalog is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opComputerNew      = "rankings.computer.new"
	opCompute          = "rankings.compute"
	opSnapshotStoreNew = "rankings.snapshot_store.new"
	opSnapshotLoad     = "rankings.snapshot_load"
	opSnapshotUpsert   = "rankings.snapshot_upsert"
	opSnapshotPrune    = "rankings.snapshot_prune"
	opSnapshotApply    = "rankings.snapshot_apply"
)

const (
	reasonMissingDatabase = "missing_database"
	reasonMissingCatalog  = "missing_catalog"
	reasonCatalogFailed   = "catalog_failed"
	reasonQueryFailed     = "query_failed"
	reasonUpsertFailed    = "upsert_failed"
	reasonPruneFailed     = "prune_failed"
	reasonVacateFailed    = "vacate_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func logServiceError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("rankings service error", attrs...)
}
