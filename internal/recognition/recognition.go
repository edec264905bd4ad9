// Package recognition describes the external face recognition capability consumed
// by the verification flow.
package recognition

import (
	"context"
	"time"
)

// FaceRectangle locates a detected face inside the submitted image, in pixels.
type FaceRectangle struct {
	Top    int `json:"top" bson:"top"`
	Left   int `json:"left" bson:"left"`
	Width  int `json:"width" bson:"width"`
	Height int `json:"height" bson:"height"`
}

// DetectedFace is one face returned by detection. FaceID is an opaque token that
// the service only honours for a limited time.
type DetectedFace struct {
	FaceID        string
	FaceRectangle FaceRectangle
	// CreatedAt is zero unless the face was stamped by the detection adapter.
	CreatedAt time.Time
}

// Verdict is the comparison outcome between two face ids.
type Verdict struct {
	IsIdentical bool    `json:"isIdentical" bson:"isIdentical"`
	Confidence  float64 `json:"confidence" bson:"confidence"`
}

// Client exposes the subset of the recognition service used by the verification flow.
type Client interface {
	Detect(ctx context.Context, image []byte) ([]DetectedFace, error)
	Verify(ctx context.Context, faceID1, faceID2 string) (*Verdict, error)
}

// Rectangles projects detected faces onto their rectangles, preserving order.
func Rectangles(faces []DetectedFace) []FaceRectangle {
	rects := make([]FaceRectangle, 0, len(faces))
	for _, f := range faces {
		rects = append(rects, f.FaceRectangle)
	}
	return rects
}
