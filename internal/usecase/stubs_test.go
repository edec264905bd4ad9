package usecase

import (
	"context"
	"time"

	"github.com/example/faceverify/internal/recognition"
	"github.com/example/faceverify/internal/repository"
)

type faceIDUpdate struct {
	sampleID string
	faceID   string
	at       time.Time
}

type stubStore struct {
	users    map[string]*repository.User
	samples  []*repository.FaceSample
	results  []*repository.VerificationResult
	updates  []faceIDUpdate
	settings *repository.Settings

	findFaceErr      error
	insertResultErr  error
	updateErr        error
	updateNotAcked   bool
	insertNotAcked   bool
	countErr         error
	settingsErr      error
	settingsCalls    int
	insertFaceCalls  int
	findFaceRequests []string
}

func (s *stubStore) FindUserByName(ctx context.Context, name string) (*repository.User, error) {
	if u, ok := s.users[name]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubStore) FindLatestFaceSample(ctx context.Context, userID string) (*repository.FaceSample, error) {
	s.findFaceRequests = append(s.findFaceRequests, userID)
	if s.findFaceErr != nil {
		return nil, s.findFaceErr
	}
	var latest *repository.FaceSample
	for _, sample := range s.samples {
		if sample.UserID != userID {
			continue
		}
		if latest == nil || sample.CreatedAt.After(latest.CreatedAt) {
			latest = sample
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (s *stubStore) InsertFaceSample(ctx context.Context, sample *repository.FaceSample) (bool, error) {
	s.insertFaceCalls++
	if s.insertNotAcked {
		return false, nil
	}
	sample.ID = "sample-new"
	s.samples = append(s.samples, sample)
	return true, nil
}

func (s *stubStore) UpdateFaceID(ctx context.Context, sampleID, faceID string, faceIDAt time.Time) (bool, error) {
	if s.updateErr != nil {
		return false, s.updateErr
	}
	s.updates = append(s.updates, faceIDUpdate{sampleID: sampleID, faceID: faceID, at: faceIDAt})
	return !s.updateNotAcked, nil
}

func (s *stubStore) InsertVerificationResult(ctx context.Context, result *repository.VerificationResult) error {
	if s.insertResultErr != nil {
		return s.insertResultErr
	}
	result.ID = "result-1"
	s.results = append(s.results, result)
	return nil
}

func (s *stubStore) CountVerificationResults(ctx context.Context, userID string) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	var n int64
	for _, r := range s.results {
		if r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *stubStore) FindSettings(ctx context.Context) (*repository.Settings, error) {
	s.settingsCalls++
	if s.settingsErr != nil {
		return nil, s.settingsErr
	}
	if s.settings == nil {
		return nil, repository.ErrNotFound
	}
	return s.settings, nil
}

type stubRecognizer struct {
	// detections is consumed one entry per Detect call; once exhausted Detect finds nothing.
	detections  [][]recognition.DetectedFace
	detectErr   error
	detectCalls [][]byte

	verdict     *recognition.Verdict
	verifyErr   error
	verifyCalls [][2]string
}

func (s *stubRecognizer) Detect(ctx context.Context, image []byte) ([]recognition.DetectedFace, error) {
	s.detectCalls = append(s.detectCalls, image)
	if s.detectErr != nil {
		return nil, s.detectErr
	}
	if len(s.detections) == 0 {
		return []recognition.DetectedFace{}, nil
	}
	next := append([]recognition.DetectedFace(nil), s.detections[0]...)
	s.detections = s.detections[1:]
	return next, nil
}

func (s *stubRecognizer) Verify(ctx context.Context, faceID1, faceID2 string) (*recognition.Verdict, error) {
	s.verifyCalls = append(s.verifyCalls, [2]string{faceID1, faceID2})
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.verdict, nil
}

type stubRecorder struct {
	verifications []string
	lookups       []string
	registrations []string
}

func (s *stubRecorder) ObserveVerification(outcome string) {
	s.verifications = append(s.verifications, outcome)
}

func (s *stubRecorder) ObserveFaceIDLookup(result string) { s.lookups = append(s.lookups, result) }

func (s *stubRecorder) ObserveRegistration(result string) {
	s.registrations = append(s.registrations, result)
}

type stubCache struct {
	values  map[string][]byte
	getErrs []error
	setErrs []error
	getKeys []string
	setTTLs []time.Duration
}

func (s *stubCache) Get(ctx context.Context, key string) ([]byte, error) {
	s.getKeys = append(s.getKeys, key)
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return nil, ErrCacheMiss
}

func (s *stubCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.setTTLs = append(s.setTTLs, ttl)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	if s.values == nil {
		s.values = map[string][]byte{}
	}
	s.values[key] = value
	return nil
}

type transientCacheError struct{}

func (transientCacheError) Error() string   { return "redis transient" }
func (transientCacheError) Timeout() bool   { return true }
func (transientCacheError) Temporary() bool { return true }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func face(id string) recognition.DetectedFace {
	return recognition.DetectedFace{FaceID: id, FaceRectangle: recognition.FaceRectangle{Top: 1, Left: 2, Width: 30, Height: 40}}
}
