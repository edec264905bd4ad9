package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/faceverify/internal/auth"
	"github.com/example/faceverify/internal/logging"
	"github.com/example/faceverify/internal/recognition"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/usecase"
)

const (
	messageOK                 = "OK"
	messageNoFace             = "detect face error"
	messageNotRegistered      = "face not registered"
	messageInternal           = "Internal Server Error"
	messageUserNotFound       = "user not found"
	messageRegistrationClosed = "registration closed"
)

// VerificationService is the use case surface used by the HTTP layer.
type VerificationService interface {
	FindUser(ctx context.Context, name string) (*repository.User, error)
	Detect(ctx context.Context, image []byte) ([]recognition.DetectedFace, error)
	VerifyCapture(ctx context.Context, user *repository.User, image []byte) (*usecase.CaptureVerification, error)
	RegisterCapture(ctx context.Context, user *repository.User, image []byte) ([]recognition.DetectedFace, error)
	UserInfo(ctx context.Context, user *repository.User) (*usecase.UserInfo, error)
	Settings(ctx context.Context) (*repository.Settings, error)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Options configures RegisterRoutes. Nil Health and Metrics leave those routes out.
type Options struct {
	Health         HealthChecker
	Metrics        http.Handler
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type api struct {
	svc      VerificationService
	maxBytes int64
	logger   *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc VerificationService, authMiddleware gin.HandlerFunc, opts Options) {
	a := &api{svc: svc, maxBytes: opts.MaxUploadBytes, logger: opts.Logger}
	if a.maxBytes <= 0 {
		a.maxBytes = MaxUploadSize
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}

	if opts.Health != nil {
		router.GET("/health", func(c *gin.Context) {
			if err := opts.Health.Ping(c.Request.Context()); err != nil {
				a.opLogger(c, "http.health").Warn("store ping failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := router.Group("/api/v1", authMiddleware)
	v1.POST("/detect", a.detect)
	v1.POST("/verify", a.verify)
	v1.POST("/faces", a.registerFace)
	v1.GET("/userinfo", a.userInfo)
	v1.GET("/settings", a.settings)
}

func (a *api) detect(c *gin.Context) {
	img, ok := a.bindCapture(c)
	if !ok {
		return
	}
	faces, err := a.svc.Detect(c.Request.Context(), img.Image)
	if err != nil {
		a.internalError(c, "http.detect", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       messageOK,
		"faceRectangle": recognition.Rectangles(faces),
	})
}

func (a *api) verify(c *gin.Context) {
	img, ok := a.bindCapture(c)
	if !ok {
		return
	}
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	res, err := a.svc.VerifyCapture(c.Request.Context(), user, img.Image)
	if err != nil {
		a.internalError(c, "http.verify", err)
		return
	}
	if len(res.Faces) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": messageNoFace})
		return
	}
	if res.Verdict == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": messageNotRegistered})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"isIdentical":   res.Verdict.IsIdentical,
		"confidence":    res.Verdict.Confidence,
		"faceRectangle": recognition.Rectangles(res.Faces),
	})
}

func (a *api) registerFace(c *gin.Context) {
	img, ok := a.bindCapture(c)
	if !ok {
		return
	}
	user, ok := a.currentUser(c)
	if !ok {
		return
	}

	faces, err := a.svc.RegisterCapture(c.Request.Context(), user, img.Image)
	switch {
	case errors.Is(err, usecase.ErrNoFaceDetected):
		c.JSON(http.StatusBadRequest, gin.H{"message": messageNoFace})
	case errors.Is(err, usecase.ErrRegistrationClosed):
		c.JSON(http.StatusForbidden, gin.H{"message": messageRegistrationClosed})
	case err != nil:
		a.internalError(c, "http.register", err)
	default:
		c.JSON(http.StatusOK, gin.H{"faceRectangle": recognition.Rectangles(faces)})
	}
}

func (a *api) userInfo(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		return
	}
	info, err := a.svc.UserInfo(c.Request.Context(), user)
	if err != nil {
		a.internalError(c, "http.userinfo", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *api) settings(c *gin.Context) {
	settings, err := a.svc.Settings(c.Request.Context())
	if err != nil {
		a.internalError(c, "http.settings", err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (a *api) bindCapture(c *gin.Context) (*capture, bool) {
	img, err := readCapture(c, a.maxBytes)
	if err != nil {
		c.String(captureErrorStatus(err), err.Error())
		c.Abort()
		return nil, false
	}
	return img, true
}

func (a *api) currentUser(c *gin.Context) (*repository.User, bool) {
	name, ok := auth.SubjectFromContext(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing subject"})
		return nil, false
	}
	user, err := a.svc.FindUser(c.Request.Context(), name)
	if errors.Is(err, usecase.ErrUserNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": messageUserNotFound})
		return nil, false
	}
	if err != nil {
		a.internalError(c, "http.find_user", err)
		return nil, false
	}
	return user, true
}

func (a *api) internalError(c *gin.Context, operation string, err error) {
	a.opLogger(c, operation).Error("request failed", zap.Error(err), zap.String("failed_operation", logging.OperationOf(err)))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": messageInternal})
}

func (a *api) opLogger(c *gin.Context, operation string) *zap.Logger {
	return logging.WithOperation(a.logger, operation, logging.RequestIDFromContext(c.Request.Context()))
}
