// Package fleet holds the in-memory fleet state and the command surface the
// rest of the system drives it through. The store wires persistence change
// notifications to derived view state: commands go down to the backend, the
// backend's snapshot stream comes back up, and status is recomputed on every
// read.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/taxi-maintenance/internal/models"
	"github.com/ukydev/taxi-maintenance/internal/persistence"
	"github.com/ukydev/taxi-maintenance/internal/status"
)

// View is one vehicle together with its status derived at read time.
type View struct {
	models.Vehicle
	Status status.Derived `json:"status"`
}

// AddVehicleInput seeds a new taxi. InitialKm becomes both the current
// odometer reading and the last service point.
type AddVehicleInput struct {
	Plate             string `json:"plate"`
	Model             string `json:"model"`
	InitialKm         int    `json:"initial_km"`
	AfocatDate        string `json:"afocat_date"`
	ReviewDate        string `json:"review_date"`
	InitialGreaseDate string `json:"initial_grease_date,omitempty"`
}

// Store owns one owner's vehicle list and per-vehicle history cache. It
// consumes the backend's snapshot stream in the background and treats the
// latest snapshot as the only truth; nothing patches ahead of it. For a
// snapshot-only backend the store re-reads after every command instead.
type Store struct {
	backend persistence.FleetPersistence
	now     func() time.Time

	mu       sync.RWMutex
	vehicles []models.Vehicle
	history  map[string][]models.MaintenanceEvent

	cancel context.CancelFunc
	log    *log.Entry
}

// NewStore opens the fleet stream and blocks until the initial snapshot is
// in, so a freshly constructed store is immediately readable.
func NewStore(ctx context.Context, backend persistence.FleetPersistence) (*Store, error) {
	wctx, cancel := context.WithCancel(ctx)
	ch, err := backend.WatchFleet(wctx)
	if err != nil {
		cancel()
		return nil, err
	}
	s := &Store{
		backend: backend,
		now:     time.Now,
		history: make(map[string][]models.MaintenanceEvent),
		cancel:  cancel,
		log:     log.WithField("component", "fleet"),
	}
	select {
	case snapshot, ok := <-ch:
		if ok {
			s.setFleet(snapshot)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
	go s.consumeFleet(ch)
	return s, nil
}

// Close stops the background stream.
func (s *Store) Close() { s.cancel() }

func (s *Store) consumeFleet(ch <-chan []models.Vehicle) {
	for snapshot := range ch {
		s.setFleet(snapshot)
	}
}

func (s *Store) setFleet(vehicles []models.Vehicle) {
	s.mu.Lock()
	s.vehicles = vehicles
	s.mu.Unlock()
}

// refresh re-reads the snapshot after a command when the backend does not
// push. For a realtime backend the stream is authoritative and the command
// result is deliberately not folded into the cache.
func (s *Store) refresh(ctx context.Context) error {
	if s.backend.Realtime() {
		return nil
	}
	vehicles, err := s.backend.ListFleet(ctx)
	if err != nil {
		return err
	}
	s.setFleet(vehicles)
	return nil
}

func (s *Store) refreshHistory(ctx context.Context, vehicleID string) error {
	if s.backend.Realtime() {
		return nil
	}
	events, err := s.backend.ListHistory(ctx, vehicleID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.history[vehicleID] = events
	s.mu.Unlock()
	return nil
}

// AddVehicle creates a taxi with its counters seeded: the initial odometer
// reading doubles as the last service point, so a new vehicle starts healthy
// on the distance axis.
func (s *Store) AddVehicle(ctx context.Context, in AddVehicleInput) (string, error) {
	if in.Plate == "" {
		return "", ErrPlateRequired
	}
	if in.InitialKm < 0 {
		return "", ErrNegativeKm
	}
	for _, d := range []struct{ field, value string }{
		{"afocat_date", in.AfocatDate},
		{"review_date", in.ReviewDate},
		{"initial_grease_date", in.InitialGreaseDate},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, d.value); err != nil {
			return "", &status.ParseError{Field: d.field, Value: d.value, Err: err}
		}
	}

	v := models.Vehicle{
		Plate:           in.Plate,
		Model:           in.Model,
		CurrentKm:       in.InitialKm,
		LastServiceKm:   in.InitialKm,
		LastServiceDate: s.now().Format(models.DateLayout),
		AfocatDate:      in.AfocatDate,
		ReviewDate:      in.ReviewDate,
	}
	if in.InitialGreaseDate != "" {
		v.LastGreaseDate = in.InitialGreaseDate
		v.LastGreaseKm = in.InitialKm
	}

	id, err := s.backend.CreateVehicle(ctx, v)
	if err != nil {
		return "", err
	}
	if err := s.refresh(ctx); err != nil {
		return id, err
	}
	s.log.WithFields(log.Fields{"vehicle": id, "plate": in.Plate}).Info("vehicle added")
	return id, nil
}

// LogMaintenance applies the event to the vehicle's counters and persists
// the history append and the counter patch as one atomic pair.
func (s *Store) LogMaintenance(ctx context.Context, vehicleID string, e models.MaintenanceEvent) (string, error) {
	v, err := s.Vehicle(vehicleID)
	if err != nil {
		return "", err
	}
	patch, err := ApplyEvent(v, e)
	if err != nil {
		return "", err
	}
	id, err := s.backend.LogMaintenance(ctx, vehicleID, e, patch)
	if err != nil {
		return "", err
	}
	if err := s.refresh(ctx); err != nil {
		return id, err
	}
	if err := s.refreshHistory(ctx, vehicleID); err != nil {
		return id, err
	}
	s.log.WithFields(log.Fields{"vehicle": vehicleID, "event": id, "km": e.Km}).
		Info("maintenance logged")
	return id, nil
}

// EditHistoryEntry patches one history record. The parent vehicle's counters
// are intentionally left alone: history is an audit trail, and the deployed
// tracker never recomputed counters from it.
func (s *Store) EditHistoryEntry(ctx context.Context, vehicleID, eventID string, patch models.EventPatch) error {
	if patch.Date != nil {
		if _, err := time.Parse(models.DateLayout, *patch.Date); err != nil {
			return &status.ParseError{Field: "date", Value: *patch.Date, Err: err}
		}
	}
	if patch.Km != nil && *patch.Km < 0 {
		return ErrNegativeKm
	}
	if err := s.backend.UpdateHistory(ctx, vehicleID, eventID, patch); err != nil {
		return err
	}
	return s.refreshHistory(ctx, vehicleID)
}

// DeleteHistoryEntry removes one history record, again without touching the
// parent vehicle's counters.
func (s *Store) DeleteHistoryEntry(ctx context.Context, vehicleID, eventID string) error {
	if err := s.backend.DeleteHistory(ctx, vehicleID, eventID); err != nil {
		return err
	}
	return s.refreshHistory(ctx, vehicleID)
}

// DeleteVehicle removes the vehicle and its entire history.
func (s *Store) DeleteVehicle(ctx context.Context, vehicleID string) error {
	if err := s.backend.DeleteVehicle(ctx, vehicleID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.history, vehicleID)
	s.mu.Unlock()
	return s.refresh(ctx)
}

// Vehicles returns the cached fleet list.
func (s *Store) Vehicles() []models.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Vehicle, len(s.vehicles))
	copy(out, s.vehicles)
	return out
}

// Vehicle returns one cached vehicle.
func (s *Store) Vehicle(id string) (models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.vehicles {
		if v.ID == id {
			return v, nil
		}
	}
	return models.Vehicle{}, fmt.Errorf("vehicle %s: %w", id, persistence.ErrNotFound)
}

// History returns a vehicle's history. Against a realtime backend the cache
// only converges through an open watch stream, so a plain read goes to the
// backend to stay consistent with the latest committed change; the
// snapshot-only backend's cache is refreshed after every command and can be
// served directly.
func (s *Store) History(ctx context.Context, vehicleID string) ([]models.MaintenanceEvent, error) {
	if !s.backend.Realtime() {
		s.mu.RLock()
		events, ok := s.history[vehicleID]
		s.mu.RUnlock()
		if ok {
			return events, nil
		}
	}
	events, err := s.backend.ListHistory(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.history[vehicleID] = events
	s.mu.Unlock()
	return events, nil
}

// OpenHistory subscribes to a vehicle's history stream. The returned stop
// function must be called when the consumer (a history view) goes away;
// leaking it leaves the backend listener open. Snapshots passing through are
// folded into the store's history cache.
func (s *Store) OpenHistory(ctx context.Context, vehicleID string) (<-chan []models.MaintenanceEvent, func(), error) {
	wctx, cancel := context.WithCancel(ctx)
	ch, err := s.backend.WatchHistory(wctx, vehicleID)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	out := make(chan []models.MaintenanceEvent, 1)
	go func() {
		defer close(out)
		for events := range ch {
			s.mu.Lock()
			s.history[vehicleID] = events
			s.mu.Unlock()
			select {
			case out <- events:
			case <-wctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

// DeriveView computes the vehicle's health state as of now. The result is
// never cached; every render pass gets a fresh computation.
func (s *Store) DeriveView(vehicleID string) (View, error) {
	v, err := s.Vehicle(vehicleID)
	if err != nil {
		return View{}, err
	}
	derived, err := status.Compute(status.FromVehicle(v), s.now())
	if err != nil {
		return View{}, err
	}
	return View{Vehicle: v, Status: derived}, nil
}

// Views derives the whole fleet for a list render.
func (s *Store) Views() ([]View, error) {
	vehicles := s.Vehicles()
	now := s.now()
	views := make([]View, 0, len(vehicles))
	for _, v := range vehicles {
		derived, err := status.Compute(status.FromVehicle(v), now)
		if err != nil {
			return nil, fmt.Errorf("vehicle %s: %w", v.ID, err)
		}
		views = append(views, View{Vehicle: v, Status: derived})
	}
	return views, nil
}
