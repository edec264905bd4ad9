package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers understood by the repository layer.
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP     HTTPConfig
	Store    StoreConfig
	Redis    RedisConfig
	Azure    AzureConfig
	Auth     AuthConfig
	Face     FaceConfig
	LogLevel string
}

// HTTPConfig governs the HTTP and gRPC health listeners.
type HTTPConfig struct {
	Addr            string
	HealthAddr      string
	HealthInterval  time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

// StoreConfig selects and configures the identity store.
type StoreConfig struct {
	Driver         string
	MongoURI       string
	MongoDB        string
	PostgresDSN    string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Addr        string
	SettingsTTL time.Duration
}

// AzureConfig points at the Azure Face API resource.
type AzureConfig struct {
	Endpoint         string
	Key              string
	RecognitionModel string
	DetectionModel   string
	Timeout          time.Duration
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
}

// FaceConfig holds verification policy knobs.
type FaceConfig struct {
	// FaceIDValidity is how long a cached Azure face id is reused before re-detection.
	FaceIDValidity          time.Duration
	EnforceRegistrationGate bool
}

const (
	defaultHTTPAddr         = ":8080"
	defaultHealthAddr       = ":9090"
	defaultHealthInterval   = 10 * time.Second
	defaultShutdownTimeout  = 15 * time.Second
	defaultMaxUploadBytes   = 8 << 20
	defaultMongoURI         = "mongodb://mongo:27017"
	defaultMongoDB          = "face"
	defaultPostgresDSN      = "host=postgres user=postgres password=postgres dbname=face port=5432 sslmode=disable"
	defaultConnectTimeout   = 10 * time.Second
	defaultRedisAddr        = "redis:6379"
	defaultSettingsTTL      = time.Minute
	defaultRecognitionModel = "recognition_04"
	defaultDetectionModel   = "detection_01"
	defaultAzureTimeout     = 10 * time.Second
	defaultFaceIDValidity   = 3 * time.Hour
	defaultJWTSecret        = "dev-secret"
)

// Load reads configuration from the environment, applying defaults. Files named in
// envFiles are loaded first when present; variables already set win over file values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            valueOrDefault("HTTP_ADDR", defaultHTTPAddr),
			HealthAddr:      valueOrDefault("GRPC_HEALTH_ADDR", defaultHealthAddr),
			HealthInterval:  parseDurationWithDefault("HEALTH_CHECK_INTERVAL", defaultHealthInterval),
			ShutdownTimeout: parseDurationWithDefault("SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			MaxUploadBytes:  int64(parseIntWithDefault("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		},
		Store: StoreConfig{
			Driver:         strings.ToLower(valueOrDefault("STORE_DRIVER", StoreMongo)),
			MongoURI:       valueOrDefault("FACE_DB", defaultMongoURI),
			MongoDB:        valueOrDefault("FACE_DB_NAME", defaultMongoDB),
			PostgresDSN:    valueOrDefault("DATABASE_DSN", defaultPostgresDSN),
			ConnectTimeout: parseDurationWithDefault("STORE_CONNECT_TIMEOUT", defaultConnectTimeout),
		},
		Redis: RedisConfig{
			Addr:        valueOrDefault("REDIS_ADDR", defaultRedisAddr),
			SettingsTTL: parseDurationWithDefault("SETTINGS_CACHE_TTL", defaultSettingsTTL),
		},
		Azure: AzureConfig{
			Endpoint:         strings.TrimRight(os.Getenv("AZURE_FACE_ENDPOINT"), "/"),
			Key:              os.Getenv("AZURE_FACE_KEY"),
			RecognitionModel: valueOrDefault("AZURE_FACE_RECOGNITION_MODEL", defaultRecognitionModel),
			DetectionModel:   valueOrDefault("AZURE_FACE_DETECTION_MODEL", defaultDetectionModel),
			Timeout:          parseDurationWithDefault("AZURE_FACE_TIMEOUT", defaultAzureTimeout),
		},
		Auth: AuthConfig{
			JWTSecret:   valueOrDefault("JWT_SECRET", defaultJWTSecret),
			JWTAudience: os.Getenv("JWT_AUDIENCE"),
		},
		Face: FaceConfig{
			FaceIDValidity:          parseDurationWithDefault("FACE_ID_VALIDITY", defaultFaceIDValidity),
			EnforceRegistrationGate: parseBoolWithDefault("ENFORCE_REGISTRATION_GATE", false),
		},
		LogLevel: valueOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot work at all.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case StoreMongo, StorePostgres:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Azure.Endpoint == "" {
		return errors.New("AZURE_FACE_ENDPOINT is required")
	}
	if c.Face.FaceIDValidity <= 0 {
		return errors.New("FACE_ID_VALIDITY must be positive")
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func valueOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseBoolWithDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseDurationWithDefault(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}
