package repository

import (
	"context"
	"time"
)

// Unavailable stands in for a store that could not be opened at startup. Every
// operation fails with the startup error so requests surface as internal faults
// while the process keeps serving health and metrics.
type Unavailable struct {
	Err error
}

func (u Unavailable) Ping(context.Context) error  { return u.Err }
func (u Unavailable) Close(context.Context) error { return nil }

func (u Unavailable) FindUserByName(context.Context, string) (*User, error) {
	return nil, u.Err
}

func (u Unavailable) FindLatestFaceSample(context.Context, string) (*FaceSample, error) {
	return nil, u.Err
}

func (u Unavailable) InsertFaceSample(context.Context, *FaceSample) (bool, error) {
	return false, u.Err
}

func (u Unavailable) UpdateFaceID(context.Context, string, string, time.Time) (bool, error) {
	return false, u.Err
}

func (u Unavailable) InsertVerificationResult(context.Context, *VerificationResult) error {
	return u.Err
}

func (u Unavailable) CountVerificationResults(context.Context, string) (int64, error) {
	return 0, u.Err
}

func (u Unavailable) FindSettings(context.Context) (*Settings, error) {
	return nil, u.Err
}
