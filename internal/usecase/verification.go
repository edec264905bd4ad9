package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/recognition"
	"github.com/example/faceverify/internal/repository"
)

// Audit error strings recorded on VerificationResult.Error. The empty string marks
// a completed comparison.
const (
	ErrorNoFace          = "can't detect face"
	ErrorNotRegistered   = "face not registered"
	ErrorFaceIDNotUsable = "can't get azure FaceId from registered face"
)

// Verification outcomes reported to the Recorder.
const (
	OutcomeVerified      = "verified"
	OutcomeNoFace        = "no_face"
	OutcomeNotRegistered = "not_registered"
	OutcomeFaceIDFailed  = "face_id_unavailable"
)

// Registration results reported to the Recorder.
const (
	registrationStored         = "stored"
	registrationNoFace         = "no_face"
	registrationClosed         = "closed"
	registrationUnacknowledged = "unacknowledged"
)

var (
	ErrUserNotFound = errors.New("user not found")
	// ErrNoFaceDetected means the submitted capture contained no face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrRegistrationClosed means the user already attempted verification.
	ErrRegistrationClosed = errors.New("registration closed")
	// ErrRegistrationNotStored means the store did not acknowledge the new sample.
	ErrRegistrationNotStored = errors.New("registration not acknowledged")
)

// UserInfo is the registration gate read.
type UserInfo struct {
	Registered        bool `json:"registered"`
	AllowRegistration bool `json:"allow_registration"`
}

// CaptureVerification is the result of verifying a raw capture.
type CaptureVerification struct {
	Faces []recognition.DetectedFace
	// Verdict is nil when no comparison was made.
	Verdict *recognition.Verdict
}

// Options tunes a VerificationUseCase. Zero values pick the defaults.
type Options struct {
	FaceIDValidity          time.Duration
	EnforceRegistrationGate bool
	Cache                   Cache
	SettingsTTL             time.Duration
	Recorder                Recorder
	Now                     func() time.Time
}

// VerificationUseCase drives face registration and verification against the
// identity store and the recognition service.
type VerificationUseCase struct {
	store       Store
	recognizer  recognition.Client
	detector    *Detector
	faceIDs     *FaceIDCache
	settings    *SettingsCache
	recorder    Recorder
	enforceGate bool
	now         func() time.Time
	logger      *zap.Logger
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(store Store, recognizer recognition.Client, logger *zap.Logger, opts Options) *VerificationUseCase {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	logger = logger.Named("verification_usecase")
	detector := NewDetector(recognizer, now)

	return &VerificationUseCase{
		store:       store,
		recognizer:  recognizer,
		detector:    detector,
		faceIDs:     NewFaceIDCache(store, detector, opts.FaceIDValidity, now, recorder, logger),
		settings:    NewSettingsCache(store, opts.Cache, opts.SettingsTTL, logger),
		recorder:    recorder,
		enforceGate: opts.EnforceRegistrationGate,
		now:         now,
		logger:      logger,
	}
}

// FindUser resolves a user by name.
func (uc *VerificationUseCase) FindUser(ctx context.Context, name string) (*repository.User, error) {
	user, err := uc.store.FindUserByName(ctx, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, logging.NewOperationError("usecase.find_user", requestID(ctx), err)
	}
	return user, nil
}

// Detect runs face detection on image.
func (uc *VerificationUseCase) Detect(ctx context.Context, image []byte) ([]recognition.DetectedFace, error) {
	faces, err := uc.detector.Detect(ctx, image)
	if err != nil {
		return nil, logging.NewOperationError("usecase.detect", requestID(ctx), err)
	}
	return faces, nil
}

// Verify compares incoming, the face detected upstream on image, with the user's
// latest registered sample. Every call that gets past the sample lookup writes
// exactly one VerificationResult, including when no comparison could be made. A nil
// verdict with a nil error means no comparison was made.
func (uc *VerificationUseCase) Verify(ctx context.Context, user *repository.User, image []byte, incoming *recognition.DetectedFace) (*recognition.Verdict, error) {
	rid := requestID(ctx)
	ctx = logging.WithRequestID(ctx, rid)
	opLogger := logging.WithOperation(uc.logger, "usecase.verify", rid).With(zap.String("user_id", user.ID))

	sample, err := uc.latestSample(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	var (
		verdict *recognition.Verdict
		outcome string
		message string
	)
	switch {
	case incoming == nil:
		outcome, message = OutcomeNoFace, ErrorNoFace
	case sample == nil:
		outcome, message = OutcomeNotRegistered, ErrorNotRegistered
	default:
		storedID, ok, err := uc.faceIDs.Resolve(ctx, sample)
		if err != nil {
			opLogger.Error("resolving registered face id failed", zap.Error(err))
			return nil, err
		}
		if !ok {
			outcome, message = OutcomeFaceIDFailed, ErrorFaceIDNotUsable
			break
		}
		verdict, err = uc.recognizer.Verify(ctx, storedID, incoming.FaceID)
		if err != nil {
			wrapped := logging.NewOperationError("usecase.compare", rid, err)
			opLogger.Error("face comparison failed", zap.Error(wrapped))
			return nil, wrapped
		}
		outcome = OutcomeVerified
	}

	record := &repository.VerificationResult{
		CreatedAt: uc.now(),
		UserID:    user.ID,
		Data:      image,
		Result:    verdict,
		Error:     message,
	}
	if sample != nil {
		record.FaceSampleID = sample.ID
	}
	if err := uc.store.InsertVerificationResult(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.insert_result", rid, err)
		opLogger.Error("failed to persist verification result", zap.Error(wrapped))
		return nil, wrapped
	}

	uc.recorder.ObserveVerification(outcome)
	fields := []zap.Field{zap.String("outcome", outcome), zap.String("result_id", record.ID)}
	if verdict != nil {
		fields = append(fields, zap.Bool("identical", verdict.IsIdentical), zap.Float64("confidence", verdict.Confidence))
	}
	opLogger.Info("verification recorded", fields...)
	return verdict, nil
}

// VerifyCapture detects faces on image and verifies the first one.
func (uc *VerificationUseCase) VerifyCapture(ctx context.Context, user *repository.User, image []byte) (*CaptureVerification, error) {
	ctx = logging.WithRequestID(ctx, requestID(ctx))
	faces, err := uc.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	var incoming *recognition.DetectedFace
	if len(faces) > 0 {
		incoming = &faces[0]
	}
	verdict, err := uc.Verify(ctx, user, image, incoming)
	if err != nil {
		return nil, err
	}
	return &CaptureVerification{Faces: faces, Verdict: verdict}, nil
}

// UserInfo reports whether the user has a registered face and whether registration
// is still open. Registration closes for good once any verification attempt has been
// recorded, successful or not.
func (uc *VerificationUseCase) UserInfo(ctx context.Context, user *repository.User) (*UserInfo, error) {
	sample, err := uc.latestSample(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	count, err := uc.store.CountVerificationResults(ctx, user.ID)
	if err != nil {
		return nil, logging.NewOperationError("usecase.count_results", requestID(ctx), err)
	}
	return &UserInfo{
		Registered:        sample != nil,
		AllowRegistration: count == 0,
	}, nil
}

// Register stores a new face sample for user using face, detected on image. It does
// not consult the registration gate. The boolean reports whether the store
// acknowledged the insert.
func (uc *VerificationUseCase) Register(ctx context.Context, user *repository.User, image []byte, face recognition.DetectedFace) (bool, error) {
	sample := &repository.FaceSample{
		UserID:    user.ID,
		Data:      image,
		FaceID:    face.FaceID,
		FaceIDAt:  face.CreatedAt,
		CreatedAt: uc.now(),
	}
	ok, err := uc.store.InsertFaceSample(ctx, sample)
	if err != nil {
		return false, logging.NewOperationError("usecase.register", requestID(ctx), err)
	}
	logging.WithOperation(uc.logger, "usecase.register", requestID(ctx)).Info("face sample stored",
		zap.String("user_id", user.ID), zap.String("face_sample_id", sample.ID), zap.Bool("acknowledged", ok))
	return ok, nil
}

// RegisterCapture detects faces on image and registers the first one. When gate
// enforcement is enabled, users whose registration is closed get ErrRegistrationClosed.
func (uc *VerificationUseCase) RegisterCapture(ctx context.Context, user *repository.User, image []byte) ([]recognition.DetectedFace, error) {
	ctx = logging.WithRequestID(ctx, requestID(ctx))
	if uc.enforceGate {
		info, err := uc.UserInfo(ctx, user)
		if err != nil {
			return nil, err
		}
		if !info.AllowRegistration {
			uc.recorder.ObserveRegistration(registrationClosed)
			return nil, ErrRegistrationClosed
		}
	}

	faces, err := uc.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		uc.recorder.ObserveRegistration(registrationNoFace)
		return faces, ErrNoFaceDetected
	}

	ok, err := uc.Register(ctx, user, image, faces[0])
	if err != nil {
		return nil, err
	}
	if !ok {
		uc.recorder.ObserveRegistration(registrationUnacknowledged)
		return faces, ErrRegistrationNotStored
	}
	uc.recorder.ObserveRegistration(registrationStored)
	return faces, nil
}

// Settings returns the process-wide settings, or nil when none are stored.
func (uc *VerificationUseCase) Settings(ctx context.Context) (*repository.Settings, error) {
	return uc.settings.Get(ctx)
}

func (uc *VerificationUseCase) latestSample(ctx context.Context, userID string) (*repository.FaceSample, error) {
	sample, err := uc.store.FindLatestFaceSample(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, logging.NewOperationError("usecase.find_face", requestID(ctx), err)
	}
	return sample, nil
}

// requestID returns the request id carried by ctx, minting one for callers outside
// the HTTP stack.
func requestID(ctx context.Context) string {
	if rid := logging.RequestIDFromContext(ctx); rid != "" {
		return rid
	}
	return uuid.NewString()
}
