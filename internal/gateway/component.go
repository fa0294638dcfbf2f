package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/veesix-networks/osvlease/pkg/component"
	"github.com/veesix-networks/osvlease/pkg/leaseapi"
	"github.com/veesix-networks/osvlease/pkg/logger"
)

func init() {
	component.Register("gateway", New)
}

// Component serves the lease control API over gRPC.
type Component struct {
	*component.Base

	logger   *slog.Logger
	leases   leaseapi.Service
	bindAddr string
	server   *grpc.Server
	health   *health.Server

	mu   sync.RWMutex
	addr net.Addr
}

func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.API.Enabled {
		return nil, nil
	}
	if deps.Leases == nil {
		return nil, errors.New("gateway requires the lease service")
	}

	return &Component{
		Base:     component.NewBase("gateway"),
		logger:   logger.Get(logger.Gateway),
		leases:   deps.Leases,
		bindAddr: deps.Config.API.Listen,
	}, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting gateway component", "addr", c.bindAddr)

	lis, err := net.Listen("tcp", c.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	c.server = grpc.NewServer()
	leaseapi.Register(c.server, c.leases)

	c.health = health.NewServer()
	c.health.SetServingStatus(leaseapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(c.server, c.health)
	reflection.Register(c.server)

	c.mu.Lock()
	c.addr = lis.Addr()
	c.mu.Unlock()

	c.logger.Info("Gateway started", "addr", lis.Addr())

	c.Go(func() {
		if err := c.server.Serve(lis); err != nil {
			c.logger.Error("Gateway server error", "error", err)
		}
	})

	return nil
}

// Addr returns the address the server is bound to, nil before Start.
func (c *Component) Addr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.addr
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping gateway component")

	if c.health != nil {
		c.health.Shutdown()
	}
	if c.server != nil {
		c.server.GracefulStop()
	}

	c.StopContext()
	return nil
}
