package prometheus

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veesix-networks/osvlease/pkg/component"
	"github.com/veesix-networks/osvlease/pkg/events"
	"github.com/veesix-networks/osvlease/pkg/logger"
	"github.com/veesix-networks/osvlease/plugins/exporter/prometheus/metrics"
)

const Namespace = "exporter.prometheus"

func init() {
	component.Register(Namespace, New)
}

type Status struct {
	State         string `json:"state"`
	ListenAddress string `json:"listen_address,omitempty"`
	HandlerCount  int    `json:"handler_count,omitempty"`
	ServerRunning bool   `json:"server_running,omitempty"`
}

type Component struct {
	*component.Base
	logger   *slog.Logger
	addr     string
	path     string
	source   *metrics.Source
	registry *prometheus.Registry
	server   *http.Server
	subs     []events.Subscription

	mu            sync.RWMutex
	handlerCount  int
	serverRunning bool
	boundAddr     string
}

func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.Monitoring.Enabled {
		return nil, nil
	}

	return &Component{
		Base:   component.NewBase(Namespace),
		logger: logger.Get(logger.Exporter),
		addr:   deps.Config.Monitoring.Listen,
		path:   deps.Config.Monitoring.Path,
		source: &metrics.Source{
			Leases:    deps.Leases,
			WakeLocks: deps.WakeLocks,
			Bus:       deps.EventBus,
		},
	}, nil
}

// Addr returns the bound listen address once the server is up.
func (c *Component) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.boundAddr != "" {
		return c.boundAddr
	}
	return c.addr
}

func (c *Component) GetStatus() *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := "stopped"
	if c.serverRunning {
		state = "running"
	}

	return &Status{
		State:         state,
		ListenAddress: c.addr,
		HandlerCount:  c.handlerCount,
		ServerRunning: c.serverRunning,
	}
}

type prometheusCollector struct {
	source   *metrics.Source
	logger   *slog.Logger
	handlers []metrics.MetricHandler
}

func (pc *prometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, handler := range pc.handlers {
		handler.Describe(ch)
	}
}

func (pc *prometheusCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	for _, handler := range pc.handlers {
		if err := handler.Collect(ctx, pc.source, ch); err != nil {
			pc.logger.Error("Failed to collect metrics", "handler", handler.Name(), "error", err)
		}
	}
}

// Registry builds the metric registry. Handlers that count events are
// subscribed to the bus here.
func (c *Component) Registry() (*prometheus.Registry, error) {
	if c.registry != nil {
		return c.registry, nil
	}

	handlers, err := metrics.DefaultRegistry().CreateHandlers(c.logger)
	if err != nil {
		return nil, err
	}

	if c.source.Bus != nil {
		for _, h := range handlers {
			if eh, ok := h.(metrics.EventHandler); ok {
				c.subs = append(c.subs, eh.Subscribe(c.source.Bus)...)
			}
		}
	}

	c.mu.Lock()
	c.handlerCount = len(handlers)
	c.mu.Unlock()

	c.logger.Info("Registered metric handlers", "count", len(handlers))

	registry := prometheus.NewRegistry()
	registry.MustRegister(&prometheusCollector{
		source:   c.source,
		logger:   c.logger,
		handlers: handlers,
	})
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c.registry = registry
	return registry, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting Prometheus exporter", "addr", c.addr, "path", c.path)

	registry, err := c.Registry()
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", c.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(c.path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.mu.Lock()
	c.serverRunning = true
	c.boundAddr = lis.Addr().String()
	c.mu.Unlock()

	c.Go(func() {
		c.logger.Info("Prometheus HTTP server listening", "addr", lis.Addr())
		if err := c.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Prometheus HTTP server error", "error", err)
			c.mu.Lock()
			c.serverRunning = false
			c.mu.Unlock()
		}
	})

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping Prometheus exporter")

	for _, s := range c.subs {
		s.Unsubscribe()
	}
	c.subs = nil

	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Prometheus HTTP server shutdown", "error", err)
		}
	}

	c.mu.Lock()
	c.serverRunning = false
	c.mu.Unlock()

	c.StopContext()
	return nil
}
