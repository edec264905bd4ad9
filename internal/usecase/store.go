package usecase

import (
	"context"
	"time"

	"github.com/example/faceverify/internal/repository"
)

// Store is the identity store as seen by the verification flow.
type Store interface {
	FindUserByName(ctx context.Context, name string) (*repository.User, error)
	FindLatestFaceSample(ctx context.Context, userID string) (*repository.FaceSample, error)
	InsertFaceSample(ctx context.Context, sample *repository.FaceSample) (bool, error)
	UpdateFaceID(ctx context.Context, sampleID, faceID string, faceIDAt time.Time) (bool, error)
	InsertVerificationResult(ctx context.Context, result *repository.VerificationResult) error
	CountVerificationResults(ctx context.Context, userID string) (int64, error)
	FindSettings(ctx context.Context) (*repository.Settings, error)
}

var (
	_ Store = (*repository.MongoStore)(nil)
	_ Store = (*repository.GormStore)(nil)
	_ Store = repository.Unavailable{}
)
