package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/faceverify/internal/logging"
)

// DialHealth returns a client for the gRPC health service exposed at addr.
func DialHealth(ctx context.Context, addr string, logger *zap.Logger) (*HealthProbe, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_health", "", err)
		logger.Error("failed to dial health service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &HealthProbe{client: healthpb.NewHealthClient(conn), logger: logger}, conn, nil
}

// HealthProbe queries a remote gRPC health service.
type HealthProbe struct {
	client healthpb.HealthClient
	logger *zap.Logger
}

// Check reports whether service is SERVING. An empty service asks for the overall status.
func (p *HealthProbe) Check(ctx context.Context, service string) (bool, error) {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.health_check", "", err)
		p.logger.Error("health check call failed", zap.Error(wrapped), zap.String("service", service))
		return false, wrapped
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}
