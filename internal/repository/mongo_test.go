package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.uber.org/zap"

	"github.com/example/faceverify/internal/recognition"
)

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	userID := primitive.NewObjectID()
	faceID := primitive.NewObjectID()
	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("find user by name", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.users", mtest.FirstBatch,
			bson.D{{Key: "_id", Value: userID}, {Key: "name", Value: "alice"}}))

		user, err := store.FindUserByName(context.Background(), "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID != userID.Hex() || user.Name != "alice" {
			t.Fatalf("unexpected user: %+v", user)
		}
	})

	mt.Run("missing user maps to ErrNotFound", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.users", mtest.FirstBatch))

		if _, err := store.FindUserByName(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	mt.Run("latest face sample sorts by creation descending", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.faces", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: faceID},
			{Key: "user_id", Value: userID},
			{Key: "data", Value: []byte("jpeg")},
			{Key: "faceId", Value: "azure-1"},
			{Key: "faceIdAt", Value: createdAt},
			{Key: "createdAt", Value: createdAt},
		}))

		sample, err := store.FindLatestFaceSample(context.Background(), userID.Hex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sample.ID != faceID.Hex() || sample.FaceID != "azure-1" || string(sample.Data) != "jpeg" {
			t.Fatalf("unexpected sample: %+v", sample)
		}
		if !sample.FaceIDAt.Equal(createdAt) {
			t.Fatalf("unexpected faceIdAt: %s", sample.FaceIDAt)
		}

		evt := mt.GetStartedEvent()
		if evt == nil || evt.CommandName != "find" {
			t.Fatalf("expected find command, got %+v", evt)
		}
		if dir := evt.Command.Lookup("sort").Document().Lookup("createdAt").AsInt64(); dir != -1 {
			t.Fatalf("expected descending sort, got %d", dir)
		}
	})

	mt.Run("invalid user id is rejected before querying", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		if _, err := store.FindLatestFaceSample(context.Background(), "not-hex"); err == nil || errors.Is(err, ErrNotFound) {
			t.Fatalf("expected invalid id error, got %v", err)
		}
	})

	mt.Run("insert face sample assigns id", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		sample := &FaceSample{UserID: userID.Hex(), Data: []byte("jpeg"), FaceID: "azure-2", FaceIDAt: createdAt, CreatedAt: createdAt}
		ok, err := store.InsertFaceSample(context.Background(), sample)
		if err != nil || !ok {
			t.Fatalf("expected acknowledged insert, got ok=%v err=%v", ok, err)
		}
		if _, err := primitive.ObjectIDFromHex(sample.ID); err != nil {
			t.Fatalf("expected object id to be assigned, got %q", sample.ID)
		}
	})

	mt.Run("update face id sets both fields", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}))

		ok, err := store.UpdateFaceID(context.Background(), faceID.Hex(), "azure-3", createdAt)
		if err != nil || !ok {
			t.Fatalf("expected acknowledged update, got ok=%v err=%v", ok, err)
		}

		evt := mt.GetStartedEvent()
		set := evt.Command.Lookup("updates").Array().Index(0).Value().Document().
			Lookup("u").Document().Lookup("$set").Document()
		if set.Lookup("faceId").StringValue() != "azure-3" {
			t.Fatalf("unexpected $set: %s", set)
		}
		if set.Lookup("faceIdAt").Type != bsontype.DateTime {
			t.Fatalf("expected faceIdAt datetime, got %s", set.Lookup("faceIdAt").Type)
		}
	})

	mt.Run("verification result without sample stores null face_id", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		result := &VerificationResult{UserID: userID.Hex(), CreatedAt: createdAt, Data: []byte("img"), Error: "face not registered"}
		if err := store.InsertVerificationResult(context.Background(), result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		evt := mt.GetStartedEvent()
		doc := evt.Command.Lookup("documents").Array().Index(0).Value().Document()
		if doc.Lookup("face_id").Type != bsontype.Null {
			t.Fatalf("expected null face_id, got %s", doc.Lookup("face_id").Type)
		}
		if doc.Lookup("result").Type != bsontype.Null {
			t.Fatalf("expected null result, got %s", doc.Lookup("result").Type)
		}
		if doc.Lookup("error").StringValue() != "face not registered" {
			t.Fatalf("unexpected error field: %s", doc.Lookup("error"))
		}
	})

	mt.Run("verification result keeps verdict", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		result := &VerificationResult{
			UserID:       userID.Hex(),
			FaceSampleID: faceID.Hex(),
			CreatedAt:    createdAt,
			Result:       &recognition.Verdict{IsIdentical: true, Confidence: 0.9},
		}
		if err := store.InsertVerificationResult(context.Background(), result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		doc := mt.GetStartedEvent().Command.Lookup("documents").Array().Index(0).Value().Document()
		if doc.Lookup("face_id").ObjectID() != faceID {
			t.Fatalf("unexpected face_id: %s", doc.Lookup("face_id"))
		}
		if !doc.Lookup("result").Document().Lookup("isIdentical").Boolean() {
			t.Fatalf("unexpected result: %s", doc.Lookup("result"))
		}
	})

	mt.Run("count verification results", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.results", mtest.FirstBatch,
			bson.D{{Key: "n", Value: int64(2)}}))

		n, err := store.CountVerificationResults(context.Background(), userID.Hex())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2, got %d", n)
		}
	})

	mt.Run("count propagates command errors", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 8000, Name: "AtlasError", Message: "boom"}))

		if _, err := store.CountVerificationResults(context.Background(), userID.Hex()); err == nil {
			t.Fatal("expected error")
		}
	})

	mt.Run("settings strip the document id", func(mt *mtest.T) {
		store := NewMongoStore(mt.DB, zap.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.settings", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "width", Value: int32(640)},
			{Key: "height", Value: int32(480)},
			{Key: "quality", Value: 0.8},
			{Key: "type", Value: "image/jpeg"},
			{Key: "grayscale", Value: true},
			{Key: "mode", Value: "kiosk"},
		}))

		settings, err := store.FindSettings(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.Width != 640 || settings.Height != 480 || settings.Type != "image/jpeg" || !settings.Grayscale {
			t.Fatalf("unexpected settings: %+v", settings)
		}
		if _, ok := settings.Extra["_id"]; ok {
			t.Fatal("expected _id to be stripped")
		}
		if settings.Extra["mode"] != "kiosk" {
			t.Fatalf("expected extra field to survive, got %v", settings.Extra)
		}
	})
}
