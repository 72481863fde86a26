// Package persistence stores a fleet either in a local JSON blob or in a
// MongoDB database. The two backends implement one contract and are selected
// exactly once at startup; nothing downstream ever branches on which one is
// active beyond the declared Realtime capability.
package persistence

import (
	"context"
	"errors"

	"github.com/ukydev/taxi-maintenance/internal/models"
)

var (
	// ErrNotFound means the vehicle or history entry no longer exists.
	ErrNotFound = errors.New("persistence: not found")
	// ErrPermissionDenied means the backend rejected the operation for
	// authorization reasons. It is surfaced distinctly so callers can point
	// at access rules instead of showing a generic failure.
	ErrPermissionDenied = errors.New("persistence: permission denied")
)

// FleetPersistence is the storage contract for one owner's fleet. Watch
// channels deliver full snapshots: the current state is sent immediately on
// subscription, and a realtime backend keeps sending a fresh snapshot after
// every committed change until the context is cancelled. The latest snapshot
// is always authoritative; callers must not patch ahead of it.
type FleetPersistence interface {
	// Realtime reports whether watch channels push changes after the initial
	// snapshot. A snapshot-only backend requires the caller to re-read after
	// each mutation.
	Realtime() bool

	WatchFleet(ctx context.Context) (<-chan []models.Vehicle, error)
	ListFleet(ctx context.Context) ([]models.Vehicle, error)
	CreateVehicle(ctx context.Context, v models.Vehicle) (string, error)
	UpdateVehicle(ctx context.Context, id string, patch models.VehiclePatch) error
	// DeleteVehicle removes the vehicle and cascades to its history.
	DeleteVehicle(ctx context.Context, id string) error

	WatchHistory(ctx context.Context, vehicleID string) (<-chan []models.MaintenanceEvent, error)
	ListHistory(ctx context.Context, vehicleID string) ([]models.MaintenanceEvent, error)
	AppendHistory(ctx context.Context, vehicleID string, e models.MaintenanceEvent) (string, error)
	UpdateHistory(ctx context.Context, vehicleID, eventID string, patch models.EventPatch) error
	DeleteHistory(ctx context.Context, vehicleID, eventID string) error

	// LogMaintenance appends the event and applies the vehicle patch as one
	// atomic operation, so the running counters and the history trail cannot
	// diverge under concurrent loggers.
	LogMaintenance(ctx context.Context, vehicleID string, e models.MaintenanceEvent, patch models.VehiclePatch) (string, error)
}
