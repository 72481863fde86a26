package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/taxi-maintenance/internal/models"
)

// localBlobVersion is the on-disk envelope version, bumped if the layout
// ever changes so old files can be migrated instead of misread.
const localBlobVersion = 1

// localBlob is the single serialized document the local store keeps on disk:
// one list of vehicles, each embedding its own history array. Every mutation
// rewrites the whole file.
type localBlob struct {
	Version  int              `json:"version"`
	Vehicles []models.Vehicle `json:"vehicles"`
}

// LocalStore is the offline backend. All operations are synchronous
// read-modify-write cycles over the blob, serialized on one mutex, and the
// file is persisted after every mutation. Watch channels carry exactly one
// snapshot and close: there is no push semantics to offer, so callers re-read
// after each command (Realtime reports false).
type LocalStore struct {
	path string

	mu   sync.Mutex
	blob localBlob
}

// NewLocalStore opens (or creates) the blob at path.
func NewLocalStore(path string) (*LocalStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("local store: create %s: %w", dir, err)
		}
	}
	s := &LocalStore{path: path, blob: localBlob{Version: localBlobVersion}}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run, empty fleet
	case err != nil:
		return nil, fmt.Errorf("local store: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &s.blob); err != nil {
			return nil, fmt.Errorf("local store: decode %s: %w", path, err)
		}
	}
	log.WithFields(log.Fields{"path": path, "vehicles": len(s.blob.Vehicles)}).
		Info("local store opened")
	return s, nil
}

// Realtime reports false: the local watch is an immediate snapshot read.
func (s *LocalStore) Realtime() bool { return false }

// WatchFleet delivers the current fleet once and closes the channel.
func (s *LocalStore) WatchFleet(ctx context.Context) (<-chan []models.Vehicle, error) {
	vehicles, err := s.ListFleet(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan []models.Vehicle, 1)
	ch <- vehicles
	close(ch)
	return ch, nil
}

func (s *LocalStore) ListFleet(_ context.Context) ([]models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Vehicle, len(s.blob.Vehicles))
	for i, v := range s.blob.Vehicles {
		v.History = nil // history travels through the history operations
		out[i] = v
	}
	return out, nil
}

func (s *LocalStore) CreateVehicle(_ context.Context, v models.Vehicle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = uuid.NewString()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.History = nil
	s.blob.Vehicles = append(s.blob.Vehicles, v)
	if err := s.persist(); err != nil {
		return "", err
	}
	return v.ID, nil
}

func (s *LocalStore) UpdateVehicle(_ context.Context, id string, patch models.VehiclePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.find(id)
	if v == nil {
		return fmt.Errorf("update vehicle %s: %w", id, ErrNotFound)
	}
	patch.Apply(v)
	return s.persist()
}

func (s *LocalStore) DeleteVehicle(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.blob.Vehicles {
		if v.ID == id {
			// embedded history goes with the vehicle
			s.blob.Vehicles = append(s.blob.Vehicles[:i], s.blob.Vehicles[i+1:]...)
			return s.persist()
		}
	}
	return fmt.Errorf("delete vehicle %s: %w", id, ErrNotFound)
}

// WatchHistory delivers the vehicle's history once and closes the channel.
func (s *LocalStore) WatchHistory(ctx context.Context, vehicleID string) (<-chan []models.MaintenanceEvent, error) {
	events, err := s.ListHistory(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	ch := make(chan []models.MaintenanceEvent, 1)
	ch <- events
	close(ch)
	return ch, nil
}

func (s *LocalStore) ListHistory(_ context.Context, vehicleID string) ([]models.MaintenanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.find(vehicleID)
	if v == nil {
		return nil, fmt.Errorf("list history of %s: %w", vehicleID, ErrNotFound)
	}
	out := make([]models.MaintenanceEvent, len(v.History))
	copy(out, v.History)
	sortEvents(out)
	return out, nil
}

func (s *LocalStore) AppendHistory(_ context.Context, vehicleID string, e models.MaintenanceEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.appendLocked(vehicleID, e)
	if err != nil {
		return "", err
	}
	return id, s.persist()
}

func (s *LocalStore) UpdateHistory(_ context.Context, vehicleID, eventID string, patch models.EventPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.find(vehicleID)
	if v == nil {
		return fmt.Errorf("update history of %s: %w", vehicleID, ErrNotFound)
	}
	for i := range v.History {
		if v.History[i].ID == eventID {
			patch.Apply(&v.History[i])
			return s.persist()
		}
	}
	return fmt.Errorf("update history entry %s: %w", eventID, ErrNotFound)
}

func (s *LocalStore) DeleteHistory(_ context.Context, vehicleID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.find(vehicleID)
	if v == nil {
		return fmt.Errorf("delete history of %s: %w", vehicleID, ErrNotFound)
	}
	for i := range v.History {
		if v.History[i].ID == eventID {
			v.History = append(v.History[:i], v.History[i+1:]...)
			return s.persist()
		}
	}
	return fmt.Errorf("delete history entry %s: %w", eventID, ErrNotFound)
}

// LogMaintenance appends the event and patches the vehicle under one lock
// acquisition and one file write, so the pair is atomic here by construction.
func (s *LocalStore) LogMaintenance(_ context.Context, vehicleID string, e models.MaintenanceEvent, patch models.VehiclePatch) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.appendLocked(vehicleID, e)
	if err != nil {
		return "", err
	}
	patch.Apply(s.find(vehicleID))
	return id, s.persist()
}

func (s *LocalStore) appendLocked(vehicleID string, e models.MaintenanceEvent) (string, error) {
	v := s.find(vehicleID)
	if v == nil {
		return "", fmt.Errorf("append history to %s: %w", vehicleID, ErrNotFound)
	}
	e.ID = uuid.NewString()
	e.VehicleID = vehicleID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	v.History = append(v.History, e)
	return e.ID, nil
}

func (s *LocalStore) find(id string) *models.Vehicle {
	for i := range s.blob.Vehicles {
		if s.blob.Vehicles[i].ID == id {
			return &s.blob.Vehicles[i]
		}
	}
	return nil
}

// persist rewrites the blob. Write errors (quota, permissions) surface to the
// caller; the in-memory state is already mutated at this point, matching the
// source's write-behind behavior.
func (s *LocalStore) persist() error {
	data, err := json.MarshalIndent(s.blob, "", "  ")
	if err != nil {
		return fmt.Errorf("local store: encode: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("local store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("local store: replace %s: %w", s.path, err)
	}
	return nil
}

// sortEvents orders history by date descending, newest entry first on ties.
func sortEvents(events []models.MaintenanceEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date > events[j].Date
		}
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
}

// DefaultLocalPath places the blob next to the user's data files.
func DefaultLocalPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "taxi-fleet.json"
	}
	return filepath.Join(dir, "taxi-maintenance", "fleet.json")
}
