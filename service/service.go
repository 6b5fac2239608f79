// Package service assembles the telemetry pipeline from configuration: one
// decoder per configured endpoint, the transports that feed them, the shared
// subscriber registry they deliver into, and the optional NATS output and
// Prometheus endpoint around them.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/svjp05/seismic-web-server/component"
	"github.com/svjp05/seismic-web-server/config"
	"github.com/svjp05/seismic-web-server/decoder"
	"github.com/svjp05/seismic-web-server/errors"
	"github.com/svjp05/seismic-web-server/metric"
	"github.com/svjp05/seismic-web-server/natsclient"
	natsoutput "github.com/svjp05/seismic-web-server/output/nats"
	"github.com/svjp05/seismic-web-server/simulator"
	"github.com/svjp05/seismic-web-server/subscribe"
	"github.com/svjp05/seismic-web-server/transport"
	"github.com/svjp05/seismic-web-server/transport/serial"
	"github.com/svjp05/seismic-web-server/transport/websocket"
)

// Service status values exported through the service status gauge.
const (
	statusStopped float64 = iota
	statusStarting
	statusRunning
	statusStopping
	statusFailed
)

const (
	natsConnectTimeout = 10 * time.Second
	stopTimeout        = 10 * time.Second
)

// Service owns the full pipeline for one process. Build it with New, then
// Run it; Run blocks until the context is cancelled or a component fails,
// and tears the pipeline down before returning.
type Service struct {
	name   string
	cfg    *config.Config
	logger *slog.Logger

	metricsRegistry *metric.MetricsRegistry
	metricsServer   *metric.Server
	registry        *subscribe.Registry
	natsClient      *natsclient.Client

	// consumers subscribe to the registry; producers feed it. Consumers
	// start first and stop last so no delivered batch is dropped.
	consumers []component.LifecycleComponent
	producers []component.LifecycleComponent
	decoders  []*decoder.Decoder

	running atomic.Bool
}

// New builds a service from validated configuration. Construction wires every
// enabled endpoint to its own decoder; nothing is opened or connected until
// Run.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil config"),
			"service", "New", "config validation")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		name:   cfg.Service.Name,
		cfg:    cfg,
		logger: logger.With("service", cfg.Service.Name),
	}

	if cfg.Metrics.Enabled {
		s.metricsRegistry = metric.NewMetricsRegistry()
		s.metricsServer = metric.NewServer(cfg.Metrics.Port, "/metrics", s.metricsRegistry)
	}

	s.registry = subscribe.NewRegistry(subscribe.RegistryDeps{
		MetricsRegistry: s.metricsRegistry,
		Logger:          s.logger.With("component", "subscribe-registry"),
	})

	step, err := cfg.Decoder.StepDuration()
	if err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled {
		if err := s.buildNATS(); err != nil {
			return nil, err
		}
	}
	if err := s.buildTransports(step); err != nil {
		return nil, err
	}
	if cfg.Simulator.Enabled {
		if err := s.buildSimulator(step); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Name returns the configured service name.
func (s *Service) Name() string { return s.name }

// Registry returns the shared subscriber registry. Callers may attach their
// own subscribers before Run.
func (s *Service) Registry() *subscribe.Registry { return s.registry }

// IsRunning reports whether Run is currently active.
func (s *Service) IsRunning() bool { return s.running.Load() }

func (s *Service) buildNATS() error {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(s.logger.With("component", "nats-client")),
		natsclient.WithClientName(s.name),
	}
	if s.cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(s.cfg.NATS.Token))
	}
	if s.metricsRegistry != nil {
		core := s.metricsRegistry.CoreMetrics()
		opts = append(opts,
			natsclient.WithDisconnectHandler(func(error) { core.NATSConnected.Set(0) }),
			natsclient.WithReconnectHandler(func() {
				core.NATSConnected.Set(1)
				core.NATSReconnects.Inc()
			}),
			natsclient.WithConnectionLostHandler(func(error) { core.NATSConnected.Set(0) }),
		)
	}

	client, err := natsclient.NewClient(s.cfg.NATS.URL, opts...)
	if err != nil {
		return err
	}
	s.natsClient = client

	out, err := natsoutput.NewOutput(natsoutput.Deps{
		Name:            "nats-output",
		Config:          natsoutput.Config{Subject: s.cfg.NATS.Subject},
		Registry:        s.registry,
		Publisher:       client,
		MetricsRegistry: s.metricsRegistry,
		Logger:          s.logger.With("component", "nats-output"),
	})
	if err != nil {
		return err
	}
	s.consumers = append(s.consumers, out)
	return nil
}

func (s *Service) buildTransports(step time.Duration) error {
	for _, ep := range s.cfg.Transports.Serial {
		if !ep.Enabled {
			continue
		}
		dec, err := s.newDecoder(ep.Name, "serial:"+ep.Serial.PortName, step)
		if err != nil {
			return err
		}
		tr, err := serial.New(serial.Deps{
			Name:            ep.Name,
			Config:          ep.Serial,
			Handler:         dec.HandleChunk,
			Callbacks:       s.callbacks(ep.Name),
			MetricsRegistry: s.metricsRegistry,
			Logger:          s.logger.With("component", ep.Name),
		})
		if err != nil {
			return err
		}
		s.producers = append(s.producers, tr)
	}

	for _, ep := range s.cfg.Transports.Websocket {
		if !ep.Enabled {
			continue
		}
		dec, err := s.newDecoder(ep.Name, "websocket:"+ep.Websocket.URL, step)
		if err != nil {
			return err
		}
		// Websocket messages arrive already delimited; only the serial
		// byte stream needs newline reassembly.
		tr, err := websocket.New(websocket.Deps{
			Name:            ep.Name,
			Config:          ep.Websocket,
			Handler:         dec.HandleMessage,
			Callbacks:       s.callbacks(ep.Name),
			MetricsRegistry: s.metricsRegistry,
			Logger:          s.logger.With("component", ep.Name),
		})
		if err != nil {
			return err
		}
		s.producers = append(s.producers, tr)
	}
	return nil
}

// buildSimulator loops the generator back through its own decoder, so
// simulated frames take the same decode path as real sensor traffic.
func (s *Service) buildSimulator(step time.Duration) error {
	dec, err := s.newDecoder("simulator", "simulator", step)
	if err != nil {
		return err
	}
	sim, err := simulator.New(simulator.Deps{
		Name:   "simulator",
		Config: s.cfg.Simulator.Simulator,
		Write: func(_ context.Context, data []byte) error {
			dec.HandleChunk(string(data))
			return nil
		},
		MetricsRegistry: s.metricsRegistry,
		Logger:          s.logger.With("component", "simulator"),
	})
	if err != nil {
		return err
	}
	s.producers = append(s.producers, sim)
	return nil
}

func (s *Service) newDecoder(name, source string, step time.Duration) (*decoder.Decoder, error) {
	dec, err := decoder.New(decoder.Deps{
		Name:            name + "-decoder",
		Source:          source,
		Step:            step,
		Registry:        s.registry,
		OnError:         s.trackError(name + "-decoder"),
		MetricsRegistry: s.metricsRegistry,
		Logger:          s.logger.With("component", name+"-decoder"),
	})
	if err != nil {
		return nil, err
	}
	s.decoders = append(s.decoders, dec)
	return dec, nil
}

func (s *Service) callbacks(name string) transport.Callbacks {
	return transport.Callbacks{
		OnConnect: func() {
			s.logger.Info("Transport connected", "transport", name)
		},
		OnDisconnect: func() {
			s.logger.Warn("Transport disconnected", "transport", name)
		},
		OnError: s.trackError(name),
	}
}

func (s *Service) trackError(name string) func(error) {
	return func(err error) {
		s.logger.Debug("Component error", "component", name, "error", err)
		if s.metricsRegistry != nil {
			s.metricsRegistry.CoreMetrics().ErrorsTotal.
				WithLabelValues(name, errors.Classify(err).String()).Inc()
		}
	}
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails, then shuts the pipeline down in reverse order.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(fmt.Errorf("service already running"),
			"service", "Run", "state check")
	}
	defer s.running.Store(false)

	s.setStatus(statusStarting)
	s.logger.Info("Starting service",
		"producers", len(s.producers), "consumers", len(s.consumers))

	for _, c := range s.startOrder() {
		if err := c.Initialize(); err != nil {
			s.setStatus(statusFailed)
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.metricsServer != nil {
		g.Go(s.metricsServer.Start)
	}

	if s.natsClient != nil {
		connectCtx, cancel := context.WithTimeout(gctx, natsConnectTimeout)
		err := s.natsClient.Connect(connectCtx)
		cancel()
		if err != nil {
			s.setStatus(statusFailed)
			s.stopMetricsServer()
			_ = g.Wait()
			return err
		}
		if s.metricsRegistry != nil {
			s.metricsRegistry.CoreMetrics().NATSConnected.Set(1)
		}
	}

	var started []component.LifecycleComponent
	for _, c := range s.startOrder() {
		if err := c.Start(gctx); err != nil {
			s.setStatus(statusFailed)
			s.stopComponents(started)
			s.closeDown()
			_ = g.Wait()
			return err
		}
		started = append(started, c)
	}

	s.setStatus(statusRunning)
	s.logger.Info("Service started")

	<-gctx.Done()

	s.setStatus(statusStopping)
	s.logger.Info("Stopping service")
	s.stopComponents(started)
	s.closeDown()
	err := g.Wait()
	s.setStatus(statusStopped)
	s.logger.Info("Service stopped")
	return err
}

// startOrder lists components consumers-first, so every subscriber is in
// place before the first producer delivers.
func (s *Service) startOrder() []component.LifecycleComponent {
	order := make([]component.LifecycleComponent, 0, len(s.consumers)+len(s.producers))
	order = append(order, s.consumers...)
	return append(order, s.producers...)
}

// stopComponents stops in reverse start order: producers drain before the
// consumers that receive their batches go away.
func (s *Service) stopComponents(started []component.LifecycleComponent) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(stopTimeout); err != nil {
			s.logger.Warn("Component stop failed",
				"component", started[i].Meta().Name, "error", err)
		}
	}
	for _, dec := range s.decoders {
		dec.Close()
	}
}

func (s *Service) closeDown() {
	if s.natsClient != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := s.natsClient.Close(closeCtx); err != nil {
			s.logger.Warn("NATS close failed", "error", err)
		}
		cancel()
		if s.metricsRegistry != nil {
			s.metricsRegistry.CoreMetrics().NATSConnected.Set(0)
		}
	}
	s.stopMetricsServer()
}

func (s *Service) stopMetricsServer() {
	if s.metricsServer == nil {
		return
	}
	if err := s.metricsServer.Stop(); err != nil {
		s.logger.Warn("Metrics server stop failed", "error", err)
	}
}

func (s *Service) setStatus(status float64) {
	if s.metricsRegistry == nil {
		return
	}
	s.metricsRegistry.CoreMetrics().ServiceStatus.WithLabelValues(s.name).Set(status)
}
