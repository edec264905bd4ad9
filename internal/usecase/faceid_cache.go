package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/repository"
)

// DefaultFaceIDValidity is how long Azure keeps honouring a detected face id for our purposes.
const DefaultFaceIDValidity = 3 * time.Hour

// Face id lookup results reported to the Recorder.
const (
	faceIDHit         = "hit"
	faceIDRefreshed   = "refreshed"
	faceIDUnavailable = "unavailable"
)

type faceIDWriter interface {
	UpdateFaceID(ctx context.Context, sampleID, faceID string, faceIDAt time.Time) (bool, error)
}

// FaceIDCache hands out a usable Azure face id for a stored sample. The id stored on
// the sample is reused while it is younger than the validity window; after that the
// sample image is detected again and the fresh id is written back.
//
// The read and write-back are not synchronised. Two concurrent refreshes of the same
// sample may overwrite each other; the loser only costs another refresh later.
type FaceIDCache struct {
	store    faceIDWriter
	detector *Detector
	validity time.Duration
	now      func() time.Time
	recorder Recorder
	logger   *zap.Logger
}

func NewFaceIDCache(store faceIDWriter, detector *Detector, validity time.Duration, now func() time.Time, recorder Recorder, logger *zap.Logger) *FaceIDCache {
	if validity <= 0 {
		validity = DefaultFaceIDValidity
	}
	if now == nil {
		now = time.Now
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &FaceIDCache{
		store:    store,
		detector: detector,
		validity: validity,
		now:      now,
		recorder: recorder,
		logger:   logger.Named("faceid_cache"),
	}
}

// Resolve returns a valid face id for sample. ok is false when the id could not be
// refreshed: detection found no face or the store did not acknowledge the update.
// On a successful refresh sample is updated in place.
func (c *FaceIDCache) Resolve(ctx context.Context, sample *repository.FaceSample) (faceID string, ok bool, err error) {
	opLogger := logging.WithOperation(c.logger, "faceid_cache.resolve", logging.RequestIDFromContext(ctx)).
		With(zap.String("face_sample_id", sample.ID))

	if age := c.now().Sub(sample.FaceIDAt); age <= c.validity {
		opLogger.Debug("reusing cached face id", zap.Duration("age", age))
		c.recorder.ObserveFaceIDLookup(faceIDHit)
		return sample.FaceID, true, nil
	}

	faces, err := c.detector.Detect(ctx, sample.Data)
	if err != nil {
		return "", false, logging.NewOperationError("faceid_cache.detect", logging.RequestIDFromContext(ctx), err)
	}
	if len(faces) == 0 {
		opLogger.Warn("no face detected on registered sample")
		c.recorder.ObserveFaceIDLookup(faceIDUnavailable)
		return "", false, nil
	}

	fresh := faces[0]
	acknowledged, err := c.store.UpdateFaceID(ctx, sample.ID, fresh.FaceID, fresh.CreatedAt)
	if err != nil {
		return "", false, logging.NewOperationError("faceid_cache.update", logging.RequestIDFromContext(ctx), err)
	}
	if !acknowledged {
		opLogger.Warn("face id update not acknowledged")
		c.recorder.ObserveFaceIDLookup(faceIDUnavailable)
		return "", false, nil
	}

	sample.FaceID = fresh.FaceID
	sample.FaceIDAt = fresh.CreatedAt
	opLogger.Debug("refreshed face id")
	c.recorder.ObserveFaceIDLookup(faceIDRefreshed)
	return fresh.FaceID, true, nil
}
