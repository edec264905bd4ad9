package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/faceverify/internal/logging"
)

type userRow struct {
	ID   string `gorm:"primaryKey;size:36"`
	Name string `gorm:"column:name;uniqueIndex;size:255"`
}

func (userRow) TableName() string { return "users" }

type faceSampleRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"column:user_id;index;size:36"`
	Data      []byte    `gorm:"column:data"`
	FaceID    string    `gorm:"column:face_id;size:64"`
	FaceIDAt  time.Time `gorm:"column:face_id_at"`
	CreatedAt time.Time `gorm:"column:created_at;index"`
}

func (faceSampleRow) TableName() string { return "face_samples" }

type verificationResultRow struct {
	ID           string    `gorm:"primaryKey;size:36"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UserID       string    `gorm:"column:user_id;index;size:36"`
	FaceSampleID *string   `gorm:"column:face_sample_id;size:36"`
	Data         []byte    `gorm:"column:data"`
	IsIdentical  *bool     `gorm:"column:is_identical"`
	Confidence   *float64  `gorm:"column:confidence"`
	Error        string    `gorm:"column:error;type:text"`
}

func (verificationResultRow) TableName() string { return "verification_results" }

type settingsRow struct {
	ID        uint           `gorm:"primaryKey"`
	Width     int            `gorm:"column:width"`
	Height    int            `gorm:"column:height"`
	Quality   float64        `gorm:"column:quality"`
	Type      string         `gorm:"column:type;size:64"`
	Grayscale bool           `gorm:"column:grayscale"`
	Extra     map[string]any `gorm:"column:extra;serializer:json"`
}

func (settingsRow) TableName() string { return "settings" }

// GormStore is the relational variant of the identity store. Tables mirror the
// document collections and, like them, carry no foreign keys.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenPostgres connects to dsn with the pool settings used in production.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, logging.NewOperationError("repository.postgres_open", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("repository.postgres_open", "", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	store := NewGormStore(db, logger)
	if err := store.AutoMigrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// NewGormStore wraps an existing gorm handle.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger.Named("gorm_store")}
}

// AutoMigrate ensures the schema is available.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(&userRow{}, &faceSampleRow{}, &verificationResultRow{}, &settingsRow{})
	return logging.NewOperationError("repository.auto_migrate", "", err)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return logging.NewOperationError("repository.ping", "", err)
	}
	return logging.NewOperationError("repository.ping", "", sqlDB.PingContext(ctx))
}

func (s *GormStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) FindUserByName(ctx context.Context, name string) (*User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		return nil, recordNotFoundOr("repository.find_user", err)
	}
	return &User{ID: row.ID, Name: row.Name}, nil
}

func (s *GormStore) FindLatestFaceSample(ctx context.Context, userID string) (*FaceSample, error) {
	var row faceSampleRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").First(&row).Error
	if err != nil {
		return nil, recordNotFoundOr("repository.find_face", err)
	}
	return &FaceSample{
		ID:        row.ID,
		UserID:    row.UserID,
		Data:      row.Data,
		FaceID:    row.FaceID,
		FaceIDAt:  row.FaceIDAt,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *GormStore) InsertFaceSample(ctx context.Context, sample *FaceSample) (bool, error) {
	row := faceSampleRow{
		ID:        uuid.NewString(),
		UserID:    sample.UserID,
		Data:      sample.Data,
		FaceID:    sample.FaceID,
		FaceIDAt:  sample.FaceIDAt,
		CreatedAt: sample.CreatedAt,
	}
	res := s.db.WithContext(ctx).Create(&row)
	if res.Error != nil {
		return false, logging.NewOperationError("repository.insert_face", "", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	sample.ID = row.ID
	return true, nil
}

func (s *GormStore) UpdateFaceID(ctx context.Context, sampleID, faceID string, faceIDAt time.Time) (bool, error) {
	err := s.db.WithContext(ctx).
		Model(&faceSampleRow{}).
		Where("id = ?", sampleID).
		Updates(map[string]any{"face_id": faceID, "face_id_at": faceIDAt}).Error
	if err != nil {
		return false, logging.NewOperationError("repository.update_face_id", "", err)
	}
	return true, nil
}

func (s *GormStore) InsertVerificationResult(ctx context.Context, result *VerificationResult) error {
	row := verificationResultRow{
		ID:        uuid.NewString(),
		CreatedAt: result.CreatedAt,
		UserID:    result.UserID,
		Data:      result.Data,
		Error:     result.Error,
	}
	if result.FaceSampleID != "" {
		id := result.FaceSampleID
		row.FaceSampleID = &id
	}
	if result.Result != nil {
		identical, confidence := result.Result.IsIdentical, result.Result.Confidence
		row.IsIdentical = &identical
		row.Confidence = &confidence
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return logging.NewOperationError("repository.insert_result", "", err)
	}
	result.ID = row.ID
	return nil
}

func (s *GormStore) CountVerificationResults(ctx context.Context, userID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&verificationResultRow{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, logging.NewOperationError("repository.count_results", "", err)
	}
	return n, nil
}

func (s *GormStore) FindSettings(ctx context.Context) (*Settings, error) {
	var row settingsRow
	if err := s.db.WithContext(ctx).Order("id").First(&row).Error; err != nil {
		return nil, recordNotFoundOr("repository.find_settings", err)
	}
	return &Settings{
		Width:     row.Width,
		Height:    row.Height,
		Quality:   row.Quality,
		Type:      row.Type,
		Grayscale: row.Grayscale,
		Extra:     row.Extra,
	}, nil
}

func recordNotFoundOr(operation string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return logging.NewOperationError(operation, "", err)
}
