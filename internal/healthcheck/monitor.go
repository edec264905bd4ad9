// Package healthcheck publishes store reachability on the standard gRPC health service.
package healthcheck

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "faceverify"

const defaultProbeTimeout = 2 * time.Second

// Pinger is satisfied by the identity stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor probes the store periodically and mirrors the result onto a health server.
type Monitor struct {
	pinger   Pinger
	server   *health.Server
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	serving  bool
	probed   bool
}

func NewMonitor(pinger Pinger, server *health.Server, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		pinger:   pinger,
		server:   server,
		interval: interval,
		timeout:  defaultProbeTimeout,
		logger:   logger.Named("healthcheck"),
	}
}

// Check runs one probe and updates the health status. It reports whether the store answered.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(probeCtx)
	serving := err == nil
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)

	if !m.probed || serving != m.serving {
		if serving {
			m.logger.Info("store reachable")
		} else {
			m.logger.Warn("store unreachable", zap.Error(err))
		}
	}
	m.probed = true
	m.serving = serving
	return serving
}

// Run probes until ctx is done, then marks every service NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
