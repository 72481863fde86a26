package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ukydev/taxi-maintenance/internal/models"
)

const (
	vehiclesCollection = "taxis"
	historyCollection  = "taxi_history"
)

// RemoteStore is the cloud backend: one owner's fleet in MongoDB, with
// change streams providing the realtime push that keeps every open session in
// sync. Writes that fail are surfaced to the caller; there is no silent
// redirect to the local store.
type RemoteStore struct {
	client   *mongo.Client
	vehicles *mongo.Collection
	history  *mongo.Collection
	ownerID  string
	log      *log.Entry
}

// NewRemoteStore scopes a store to one owner's documents.
func NewRemoteStore(client *mongo.Client, database, ownerID string) *RemoteStore {
	db := client.Database(database)
	return &RemoteStore{
		client:   client,
		vehicles: db.Collection(vehiclesCollection),
		history:  db.Collection(historyCollection),
		ownerID:  ownerID,
		log:      log.WithField("owner", ownerID),
	}
}

// Realtime reports true: watch channels keep pushing after the initial
// snapshot.
func (s *RemoteStore) Realtime() bool { return true }

// WatchFleet opens a change stream on the vehicles collection and emits a
// fresh full snapshot of the owner's fleet after every committed change. The
// initial snapshot is emitted before the first change. Cancelling the context
// closes the stream and the channel; leaking the context leaks an open
// server-side cursor.
func (s *RemoteStore) WatchFleet(ctx context.Context) (<-chan []models.Vehicle, error) {
	// Delete events carry no full document, so ownership cannot be filtered
	// server-side for them; re-listing below re-scopes to the owner anyway.
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.M{
		"$or": bson.A{
			bson.M{"fullDocument.owner_id": s.ownerID},
			bson.M{"operationType": "delete"},
		},
	}}}}
	stream, err := s.vehicles.Watch(ctx, pipeline)
	if err != nil {
		return nil, mapMongoError("watch fleet", err)
	}

	ch := make(chan []models.Vehicle, 1)
	initial, err := s.ListFleet(ctx)
	if err != nil {
		stream.Close(ctx)
		return nil, err
	}
	ch <- initial

	go func() {
		defer close(ch)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			snapshot, err := s.ListFleet(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.WithError(err).Error("fleet re-read after change failed")
				}
				return
			}
			select {
			case ch <- snapshot:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("fleet change stream closed")
		}
	}()
	return ch, nil
}

func (s *RemoteStore) ListFleet(ctx context.Context) ([]models.Vehicle, error) {
	cursor, err := s.vehicles.Find(ctx, bson.M{"owner_id": s.ownerID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, mapMongoError("list fleet", err)
	}
	vehicles := []models.Vehicle{}
	if err := cursor.All(ctx, &vehicles); err != nil {
		return nil, mapMongoError("decode fleet", err)
	}
	return vehicles, nil
}

func (s *RemoteStore) CreateVehicle(ctx context.Context, v models.Vehicle) (string, error) {
	v.ID = primitive.NewObjectID().Hex()
	v.OwnerID = s.ownerID
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.History = nil
	if _, err := s.vehicles.InsertOne(ctx, v); err != nil {
		return "", mapMongoError("create vehicle", err)
	}
	return v.ID, nil
}

func (s *RemoteStore) UpdateVehicle(ctx context.Context, id string, patch models.VehiclePatch) error {
	if patch.IsZero() {
		return nil
	}
	res, err := s.vehicles.UpdateOne(ctx,
		bson.M{"_id": id, "owner_id": s.ownerID},
		bson.M{"$set": patch.SetDocument()})
	if err != nil {
		return mapMongoError("update vehicle", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update vehicle %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteVehicle removes the vehicle document and every history entry under
// it, in one transaction so a crash cannot orphan the sub-collection.
func (s *RemoteStore) DeleteVehicle(ctx context.Context, id string) error {
	_, err := s.withTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.vehicles.DeleteOne(sc, bson.M{"_id": id, "owner_id": s.ownerID})
		if err != nil {
			return nil, err
		}
		if res.DeletedCount == 0 {
			return nil, fmt.Errorf("delete vehicle %s: %w", id, ErrNotFound)
		}
		_, err = s.history.DeleteMany(sc, bson.M{"vehicle_id": id})
		return nil, err
	})
	return err
}

// WatchHistory mirrors WatchFleet for one vehicle's history sub-collection.
func (s *RemoteStore) WatchHistory(ctx context.Context, vehicleID string) (<-chan []models.MaintenanceEvent, error) {
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.M{
		"$or": bson.A{
			bson.M{"fullDocument.vehicle_id": vehicleID},
			bson.M{"operationType": "delete"},
		},
	}}}}
	stream, err := s.history.Watch(ctx, pipeline)
	if err != nil {
		return nil, mapMongoError("watch history", err)
	}

	ch := make(chan []models.MaintenanceEvent, 1)
	initial, err := s.ListHistory(ctx, vehicleID)
	if err != nil {
		stream.Close(ctx)
		return nil, err
	}
	ch <- initial

	go func() {
		defer close(ch)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			events, err := s.ListHistory(ctx, vehicleID)
			if err != nil {
				if ctx.Err() == nil {
					s.log.WithError(err).Error("history re-read after change failed")
				}
				return
			}
			select {
			case ch <- events:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *RemoteStore) ListHistory(ctx context.Context, vehicleID string) ([]models.MaintenanceEvent, error) {
	cursor, err := s.history.Find(ctx, bson.M{"vehicle_id": vehicleID},
		options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, mapMongoError("list history", err)
	}
	events := []models.MaintenanceEvent{}
	if err := cursor.All(ctx, &events); err != nil {
		return nil, mapMongoError("decode history", err)
	}
	return events, nil
}

func (s *RemoteStore) AppendHistory(ctx context.Context, vehicleID string, e models.MaintenanceEvent) (string, error) {
	id, err := s.insertHistory(ctx, vehicleID, e)
	if err != nil {
		return "", mapMongoError("append history", err)
	}
	return id, nil
}

func (s *RemoteStore) UpdateHistory(ctx context.Context, vehicleID, eventID string, patch models.EventPatch) error {
	set := patch.SetDocument()
	if len(set) == 0 {
		return nil
	}
	res, err := s.history.UpdateOne(ctx,
		bson.M{"_id": eventID, "vehicle_id": vehicleID},
		bson.M{"$set": set})
	if err != nil {
		return mapMongoError("update history", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update history entry %s: %w", eventID, ErrNotFound)
	}
	return nil
}

func (s *RemoteStore) DeleteHistory(ctx context.Context, vehicleID, eventID string) error {
	res, err := s.history.DeleteOne(ctx, bson.M{"_id": eventID, "vehicle_id": vehicleID})
	if err != nil {
		return mapMongoError("delete history", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete history entry %s: %w", eventID, ErrNotFound)
	}
	return nil
}

// LogMaintenance runs the history append and the counter patch in one
// transaction. Two devices logging the same vehicle concurrently serialize at
// the server instead of interleaving the two writes.
func (s *RemoteStore) LogMaintenance(ctx context.Context, vehicleID string, e models.MaintenanceEvent, patch models.VehiclePatch) (string, error) {
	id, err := s.withTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := s.vehicles.UpdateOne(sc,
			bson.M{"_id": vehicleID, "owner_id": s.ownerID},
			bson.M{"$set": patch.SetDocument()})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, fmt.Errorf("log maintenance on %s: %w", vehicleID, ErrNotFound)
		}
		return s.insertHistory(sc, vehicleID, e)
	})
	if err != nil {
		return "", err
	}
	return id.(string), nil
}

func (s *RemoteStore) insertHistory(ctx context.Context, vehicleID string, e models.MaintenanceEvent) (string, error) {
	e.ID = primitive.NewObjectID().Hex()
	e.VehicleID = vehicleID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := s.history.InsertOne(ctx, e); err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *RemoteStore) withTransaction(ctx context.Context, fn func(mongo.SessionContext) (interface{}, error)) (interface{}, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, mapMongoError("start session", err)
	}
	defer session.EndSession(ctx)
	out, err := session.WithTransaction(ctx, fn)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, mapMongoError("transaction", err)
	}
	return out, nil
}

// mapMongoError folds driver errors into the package taxonomy so callers can
// tell a missing document from a rejected credential from a transient fault.
func mapMongoError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == 13 || cmdErr.Name == "Unauthorized") {
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %w", op, err)
}
