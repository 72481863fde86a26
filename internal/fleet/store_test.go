package fleet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/taxi-maintenance/internal/models"
	"github.com/ukydev/taxi-maintenance/internal/persistence"
	"github.com/ukydev/taxi-maintenance/internal/status"
)

// fakeBackend is an in-memory FleetPersistence. With realtime set it pushes a
// fresh snapshot to open watchers after every mutation; without it the watch
// is a one-shot snapshot like the local store's.
type fakeBackend struct {
	realtime bool

	mu       sync.Mutex
	vehicles []models.Vehicle
	history  map[string][]models.MaintenanceEvent
	watchers []chan []models.Vehicle
	nextID   int

	logCalls int
}

func newFakeBackend(realtime bool) *fakeBackend {
	return &fakeBackend{
		realtime: realtime,
		history:  make(map[string][]models.MaintenanceEvent),
	}
}

func (f *fakeBackend) Realtime() bool { return f.realtime }

func (f *fakeBackend) WatchFleet(ctx context.Context) (<-chan []models.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []models.Vehicle, 16)
	ch <- f.snapshotLocked()
	if !f.realtime {
		close(ch)
		return ch, nil
	}
	f.watchers = append(f.watchers, ch)
	return ch, nil
}

func (f *fakeBackend) pushLocked() {
	if !f.realtime {
		return
	}
	snapshot := f.snapshotLocked()
	for _, ch := range f.watchers {
		ch <- snapshot
	}
}

func (f *fakeBackend) snapshotLocked() []models.Vehicle {
	out := make([]models.Vehicle, len(f.vehicles))
	copy(out, f.vehicles)
	return out
}

func (f *fakeBackend) ListFleet(context.Context) ([]models.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked(), nil
}

func (f *fakeBackend) CreateVehicle(_ context.Context, v models.Vehicle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	v.ID = fmt.Sprintf("v%d", f.nextID)
	f.vehicles = append(f.vehicles, v)
	f.pushLocked()
	return v.ID, nil
}

func (f *fakeBackend) UpdateVehicle(_ context.Context, id string, patch models.VehiclePatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.vehicles {
		if f.vehicles[i].ID == id {
			patch.Apply(&f.vehicles[i])
			f.pushLocked()
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (f *fakeBackend) DeleteVehicle(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.vehicles {
		if f.vehicles[i].ID == id {
			f.vehicles = append(f.vehicles[:i], f.vehicles[i+1:]...)
			delete(f.history, id)
			f.pushLocked()
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (f *fakeBackend) WatchHistory(_ context.Context, vehicleID string) (<-chan []models.MaintenanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []models.MaintenanceEvent, 1)
	ch <- append([]models.MaintenanceEvent(nil), f.history[vehicleID]...)
	close(ch)
	return ch, nil
}

func (f *fakeBackend) ListHistory(_ context.Context, vehicleID string) ([]models.MaintenanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MaintenanceEvent(nil), f.history[vehicleID]...), nil
}

func (f *fakeBackend) AppendHistory(_ context.Context, vehicleID string, e models.MaintenanceEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendLocked(vehicleID, e), nil
}

func (f *fakeBackend) UpdateHistory(_ context.Context, vehicleID, eventID string, patch models.EventPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.history[vehicleID]
	for i := range events {
		if events[i].ID == eventID {
			patch.Apply(&events[i])
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (f *fakeBackend) DeleteHistory(_ context.Context, vehicleID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.history[vehicleID]
	for i := range events {
		if events[i].ID == eventID {
			f.history[vehicleID] = append(events[:i], events[i+1:]...)
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (f *fakeBackend) LogMaintenance(_ context.Context, vehicleID string, e models.MaintenanceEvent, patch models.VehiclePatch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls++
	for i := range f.vehicles {
		if f.vehicles[i].ID == vehicleID {
			patch.Apply(&f.vehicles[i])
			id := f.appendLocked(vehicleID, e)
			f.pushLocked()
			return id, nil
		}
	}
	return "", persistence.ErrNotFound
}

func (f *fakeBackend) appendLocked(vehicleID string, e models.MaintenanceEvent) string {
	f.nextID++
	e.ID = fmt.Sprintf("e%d", f.nextID)
	e.VehicleID = vehicleID
	f.history[vehicleID] = append(f.history[vehicleID], e)
	return e.ID
}

var _ persistence.FleetPersistence = (*fakeBackend)(nil)

func fixedNow() time.Time {
	return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T, backend persistence.FleetPersistence) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), backend)
	require.NoError(t, err)
	store.now = fixedNow
	t.Cleanup(store.Close)
	return store
}

func addInput() AddVehicleInput {
	return AddVehicleInput{
		Plate:      "ABC-123",
		Model:      "Toyota Yaris",
		InitialKm:  50000,
		AfocatDate: "2024-06-01",
		ReviewDate: "2024-05-01",
	}
}

func TestStoreAddVehicleSeedsCounters(t *testing.T) {
	store := newTestStore(t, newFakeBackend(false))

	id, err := store.AddVehicle(context.Background(), addInput())
	require.NoError(t, err)

	v, err := store.Vehicle(id)
	require.NoError(t, err)
	assert.Equal(t, 50000, v.CurrentKm)
	assert.Equal(t, 50000, v.LastServiceKm)
	assert.Equal(t, 0, v.ServiceCount)
	assert.Equal(t, 0, v.ChangesSinceGrease)
	assert.Equal(t, fixedNow().Format(models.DateLayout), v.LastServiceDate)
}

func TestStoreAddVehicleValidation(t *testing.T) {
	store := newTestStore(t, newFakeBackend(false))
	ctx := context.Background()

	_, err := store.AddVehicle(ctx, AddVehicleInput{Model: "no plate"})
	assert.ErrorIs(t, err, ErrPlateRequired)

	in := addInput()
	in.InitialKm = -5
	_, err = store.AddVehicle(ctx, in)
	assert.ErrorIs(t, err, ErrNegativeKm)

	in = addInput()
	in.AfocatDate = "junk"
	_, err = store.AddVehicle(ctx, in)
	var parseErr *status.ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestStoreLogMaintenance(t *testing.T) {
	backend := newFakeBackend(false)
	store := newTestStore(t, backend)
	ctx := context.Background()

	id, err := store.AddVehicle(ctx, addInput())
	require.NoError(t, err)

	eventID, err := store.LogMaintenance(ctx, id, models.MaintenanceEvent{
		Date:           "2024-03-10",
		Km:             54000,
		FiltersChanged: []string{models.FilterOil},
	})
	require.NoError(t, err)
	require.NotEmpty(t, eventID)

	// counters and history moved together through one backend call
	assert.Equal(t, 1, backend.logCalls)

	v, err := store.Vehicle(id)
	require.NoError(t, err)
	assert.Equal(t, 54000, v.CurrentKm)
	assert.Equal(t, 1, v.ServiceCount)
	assert.Equal(t, 1, v.ChangesSinceGrease)

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, eventID, history[0].ID)
}

func TestStoreLogMaintenanceUnknownVehicle(t *testing.T) {
	store := newTestStore(t, newFakeBackend(false))
	_, err := store.LogMaintenance(context.Background(), "missing", models.MaintenanceEvent{Date: "2024-03-10", Km: 1})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStoreDeleteHistoryKeepsCounters(t *testing.T) {
	store := newTestStore(t, newFakeBackend(false))
	ctx := context.Background()

	id, err := store.AddVehicle(ctx, addInput())
	require.NoError(t, err)
	eventID, err := store.LogMaintenance(ctx, id, models.MaintenanceEvent{Date: "2024-03-10", Km: 54000})
	require.NoError(t, err)

	require.NoError(t, store.DeleteHistoryEntry(ctx, id, eventID))

	// history is an audit trail: removing the entry does not roll the
	// vehicle's counters back
	v, err := store.Vehicle(id)
	require.NoError(t, err)
	assert.Equal(t, 1, v.ServiceCount)
	assert.Equal(t, 54000, v.CurrentKm)

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStoreEditHistoryKeepsCounters(t *testing.T) {
	store := newTestStore(t, newFakeBackend(false))
	ctx := context.Background()

	id, err := store.AddVehicle(ctx, addInput())
	require.NoError(t, err)
	eventID, err := store.LogMaintenance(ctx, id, models.MaintenanceEvent{Date: "2024-03-10", Km: 54000})
	require.NoError(t, err)

	km := 53000
	require.NoError(t, store.EditHistoryEntry(ctx, id, eventID, models.EventPatch{Km: &km}))

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 53000, history[0].Km)
	v, err := store.Vehicle(id)
	require.NoError(t, err)
	assert.Equal(t, 54000, v.CurrentKm)
}

func TestStoreDeleteVehicle(t *testing.T) {
	store := newTestStore(t, newFakeBackend(false))
	ctx := context.Background()

	id, err := store.AddVehicle(ctx, addInput())
	require.NoError(t, err)
	require.NoError(t, store.DeleteVehicle(ctx, id))

	_, err = store.Vehicle(id)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestStoreDeriveView(t *testing.T) {
	store := newTestStore(t, newFakeBackend(false))
	ctx := context.Background()

	in := addInput()
	in.AfocatDate = "2024-03-20" // 5 days out at fixedNow
	id, err := store.AddVehicle(ctx, in)
	require.NoError(t, err)

	view, err := store.DeriveView(id)
	require.NoError(t, err)
	assert.Equal(t, status.LevelWarning, view.Status.Afocat.Status)
	assert.Equal(t, 5, view.Status.Afocat.DaysUntil)
	assert.Equal(t, status.LevelOK, view.Status.Maintenance)
	assert.Equal(t, status.LevelWarning, view.Status.General)

	views, err := store.Views()
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, view.Status.General, views[0].Status.General)
}

func TestStoreRealtimeStreamIsAuthoritative(t *testing.T) {
	backend := newFakeBackend(true)
	store := newTestStore(t, backend)
	ctx := context.Background()

	id, err := store.AddVehicle(ctx, addInput())
	require.NoError(t, err)

	// the fake pushes after the create; the cache converges from the stream,
	// not from the command result
	require.Eventually(t, func() bool {
		_, err := store.Vehicle(id)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestStoreRealtimeHistoryReadAfterWrite(t *testing.T) {
	backend := newFakeBackend(true)
	store := newTestStore(t, backend)
	ctx := context.Background()

	id, err := store.AddVehicle(ctx, addInput())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := store.Vehicle(id)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	require.Empty(t, history)

	eventID, err := store.LogMaintenance(ctx, id, models.MaintenanceEvent{Date: "2024-03-10", Km: 54000})
	require.NoError(t, err)

	// no watch is open, so only a backend read can see the committed event
	history, err = store.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, eventID, history[0].ID)
}

func TestStoreOpenHistoryCancel(t *testing.T) {
	store := newTestStore(t, newFakeBackend(false))
	ctx := context.Background()

	id, err := store.AddVehicle(ctx, addInput())
	require.NoError(t, err)
	_, err = store.LogMaintenance(ctx, id, models.MaintenanceEvent{Date: "2024-03-10", Km: 54000})
	require.NoError(t, err)

	ch, stop, err := store.OpenHistory(ctx, id)
	require.NoError(t, err)
	defer stop()

	events, ok := <-ch
	require.True(t, ok)
	assert.Len(t, events, 1)

	_, ok = <-ch
	assert.False(t, ok, "snapshot-only history stream must close")
}
