package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/recognition"
)

// Collection names.
const (
	usersCollection    = "users"
	facesCollection    = "faces"
	resultsCollection  = "results"
	settingsCollection = "settings"
)

type userDoc struct {
	ID   primitive.ObjectID `bson:"_id"`
	Name string             `bson:"name"`
}

type faceDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	UserID    primitive.ObjectID `bson:"user_id"`
	Data      []byte             `bson:"data"`
	FaceID    string             `bson:"faceId"`
	FaceIDAt  time.Time          `bson:"faceIdAt"`
	CreatedAt time.Time          `bson:"createdAt"`
}

type resultDoc struct {
	ID        primitive.ObjectID   `bson:"_id"`
	CreatedAt time.Time            `bson:"createdAt"`
	UserID    primitive.ObjectID   `bson:"user_id"`
	FaceID    *primitive.ObjectID  `bson:"face_id"`
	Data      []byte               `bson:"data"`
	Result    *recognition.Verdict `bson:"result"`
	Error     string               `bson:"error"`
}

type settingsDoc struct {
	Width     int            `bson:"width"`
	Height    int            `bson:"height"`
	Quality   float64        `bson:"quality"`
	Type      string         `bson:"type"`
	Grayscale bool           `bson:"grayscale"`
	Extra     map[string]any `bson:",inline"`
}

// MongoStore keeps users, faces, results and settings in four independent
// collections. References between them are plain ObjectIDs.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	faces    *mongo.Collection
	results  *mongo.Collection
	settings *mongo.Collection
	logger   *zap.Logger
}

// ConnectMongo opens a client for uri and pings it. A failed ping is logged and the
// store is still returned; operations then fail until the server becomes reachable.
func ConnectMongo(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, logging.NewOperationError("repository.mongo_connect", "", err)
	}

	store := NewMongoStore(client.Database(database), logger)
	if err := store.Ping(ctx); err != nil {
		store.logger.Error("mongo ping failed, continuing without a verified connection", zap.Error(err))
	} else {
		store.logger.Info("mongo connected", zap.String("database", database))
	}
	return store, nil
}

// NewMongoStore wraps an existing database handle.
func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	return &MongoStore{
		client:   db.Client(),
		users:    db.Collection(usersCollection),
		faces:    db.Collection(facesCollection),
		results:  db.Collection(resultsCollection),
		settings: db.Collection(settingsCollection),
		logger:   logger.Named("mongo_store"),
	}
}

// Ping checks that the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return logging.NewOperationError("repository.ping", "", s.client.Ping(ctx, readpref.Primary()))
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// FindUserByName returns the user with the given unique name.
func (s *MongoStore) FindUserByName(ctx context.Context, name string) (*User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.M{"name": name}).Decode(&doc); err != nil {
		return nil, notFoundOr("repository.find_user", err)
	}
	return &User{ID: doc.ID.Hex(), Name: doc.Name}, nil
}

// FindLatestFaceSample returns the most recently created sample of the user.
func (s *MongoStore) FindLatestFaceSample(ctx context.Context, userID string) (*FaceSample, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, logging.NewOperationError("repository.find_face", "", err)
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	var doc faceDoc
	if err := s.faces.FindOne(ctx, bson.M{"user_id": uid}, opts).Decode(&doc); err != nil {
		return nil, notFoundOr("repository.find_face", err)
	}
	return &FaceSample{
		ID:        doc.ID.Hex(),
		UserID:    doc.UserID.Hex(),
		Data:      doc.Data,
		FaceID:    doc.FaceID,
		FaceIDAt:  doc.FaceIDAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// InsertFaceSample stores sample and assigns its ID. The boolean reports whether
// the server acknowledged the write.
func (s *MongoStore) InsertFaceSample(ctx context.Context, sample *FaceSample) (bool, error) {
	uid, err := objectID(sample.UserID)
	if err != nil {
		return false, logging.NewOperationError("repository.insert_face", "", err)
	}

	doc := faceDoc{
		ID:        primitive.NewObjectID(),
		UserID:    uid,
		Data:      sample.Data,
		FaceID:    sample.FaceID,
		FaceIDAt:  sample.FaceIDAt,
		CreatedAt: sample.CreatedAt,
	}
	if _, err := s.faces.InsertOne(ctx, doc); err != nil {
		if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
			return false, nil
		}
		return false, logging.NewOperationError("repository.insert_face", "", err)
	}
	sample.ID = doc.ID.Hex()
	return true, nil
}

// UpdateFaceID replaces the cached face id and its timestamp in one update.
func (s *MongoStore) UpdateFaceID(ctx context.Context, sampleID, faceID string, faceIDAt time.Time) (bool, error) {
	id, err := objectID(sampleID)
	if err != nil {
		return false, logging.NewOperationError("repository.update_face_id", "", err)
	}

	update := bson.M{"$set": bson.M{"faceId": faceID, "faceIdAt": faceIDAt}}
	if _, err := s.faces.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		if errors.Is(err, mongo.ErrUnacknowledgedWrite) {
			return false, nil
		}
		return false, logging.NewOperationError("repository.update_face_id", "", err)
	}
	return true, nil
}

// InsertVerificationResult appends an audit record and assigns its ID.
func (s *MongoStore) InsertVerificationResult(ctx context.Context, result *VerificationResult) error {
	uid, err := objectID(result.UserID)
	if err != nil {
		return logging.NewOperationError("repository.insert_result", "", err)
	}

	doc := resultDoc{
		ID:        primitive.NewObjectID(),
		CreatedAt: result.CreatedAt,
		UserID:    uid,
		Data:      result.Data,
		Result:    result.Result,
		Error:     result.Error,
	}
	if result.FaceSampleID != "" {
		fid, err := objectID(result.FaceSampleID)
		if err != nil {
			return logging.NewOperationError("repository.insert_result", "", err)
		}
		doc.FaceID = &fid
	}

	if _, err := s.results.InsertOne(ctx, doc); err != nil && !errors.Is(err, mongo.ErrUnacknowledgedWrite) {
		return logging.NewOperationError("repository.insert_result", "", err)
	}
	result.ID = doc.ID.Hex()
	return nil
}

// CountVerificationResults counts every audit record ever written for the user.
func (s *MongoStore) CountVerificationResults(ctx context.Context, userID string) (int64, error) {
	uid, err := objectID(userID)
	if err != nil {
		return 0, logging.NewOperationError("repository.count_results", "", err)
	}
	n, err := s.results.CountDocuments(ctx, bson.M{"user_id": uid})
	if err != nil {
		return 0, logging.NewOperationError("repository.count_results", "", err)
	}
	return n, nil
}

// FindSettings returns the settings document without its _id.
func (s *MongoStore) FindSettings(ctx context.Context) (*Settings, error) {
	var doc settingsDoc
	if err := s.settings.FindOne(ctx, bson.D{}).Decode(&doc); err != nil {
		return nil, notFoundOr("repository.find_settings", err)
	}
	delete(doc.Extra, "_id")
	if len(doc.Extra) == 0 {
		doc.Extra = nil
	}
	return &Settings{
		Width:     doc.Width,
		Height:    doc.Height,
		Quality:   doc.Quality,
		Type:      doc.Type,
		Grayscale: doc.Grayscale,
		Extra:     doc.Extra,
	}, nil
}

func objectID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid object id %q: %w", hex, err)
	}
	return id, nil
}

func notFoundOr(operation string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return logging.NewOperationError(operation, "", err)
}
