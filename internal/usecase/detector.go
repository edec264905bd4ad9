package usecase

import (
	"context"
	"time"

	"github.com/example/faceverify/internal/recognition"
)

// Detector wraps recognition detection and stamps the first returned face with the
// time the call was made. Callers only ever consume that first face.
type Detector struct {
	client recognition.Client
	now    func() time.Time
}

func NewDetector(client recognition.Client, now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{client: client, now: now}
}

func (d *Detector) Detect(ctx context.Context, image []byte) ([]recognition.DetectedFace, error) {
	stamp := d.now()
	faces, err := d.client.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(faces) > 0 {
		faces[0].CreatedAt = stamp
	}
	return faces, nil
}
