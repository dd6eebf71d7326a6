package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vinayprograms/drainkit/announce"
	"github.com/vinayprograms/drainkit/bus"
	"github.com/vinayprograms/drainkit/config"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/middleware"
	"github.com/vinayprograms/drainkit/shutdown"
	"github.com/vinayprograms/drainkit/status"
	"github.com/vinayprograms/drainkit/telemetry"
	"github.com/vinayprograms/drainkit/trigger"
)

// serverCloseTimeout bounds http.Server.Shutdown for connections that are
// still open after the drain window. Their requests are abandoned.
const serverCloseTimeout = 5 * time.Second

// maxWork caps the simulated work duration on /work.
const maxWork = time.Minute

// busCleaner is a message bus that can be registered as a cleanup task.
type busCleaner interface {
	bus.MessageBus
	shutdown.Cleaner
}

// app is the composition root: one coordinator, shared by reference with
// the request boundary, probes, announcers, and every resource owner.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	logOut  io.Closer
	coord   *shutdown.Coordinator
	metrics *middleware.Metrics

	bus       busCleaner
	nats      *bus.NATSBus
	status    status.Store
	heartbeat *announce.Heartbeat
	signals   *shutdown.SignalListener
	trigger   *trigger.FileTrigger

	server   *http.Server
	listener net.Listener
}

// newApp builds and wires every component. Cleanup tasks run in reverse
// registration order, so resources are registered in dependency order:
// telemetry and metrics first (flushed last), the HTTP server last (closed
// first).
//
// If a later step fails, everything registered so far is released through
// the coordinator before the error is returned.
func newApp(ctx context.Context, cfg *config.Config, stdout io.Writer, exit func(int)) (*app, error) {
	a := &app{cfg: cfg}

	logger := logging.New()
	logger.SetLevel(logging.ParseLevel(cfg.Log.Level))
	if cfg.Log.File != "" {
		out := logging.NewRotatingOutput(logging.RotationConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		logger.SetOutput(out)
		a.logOut = out
	} else {
		logger.SetOutput(stdout)
	}
	a.logger = logger.WithInstance(cfg.Service.InstanceID)

	a.coord = shutdown.NewCoordinator(shutdown.Config{
		DefaultTimeout: cfg.DrainTimeout(),
		PollInterval:   cfg.PollInterval(),
		TaskTimeout:    cfg.TaskTimeout(),
		Logger:         a.logger,
		Exit:           exit,
	})

	if err := a.wire(ctx); err != nil {
		a.logger.Error("startup_failed", logging.Fields{"error": err.Error()})
		a.coord.BeginShutdownFrom("startup_failure", time.Second)
		a.closeLog()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	tcfg := telemetry.ProviderConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version,
		InstanceID:     cfg.Service.InstanceID,
		DrainTimeout:   cfg.DrainTimeout(),
		TaskTimeout:    cfg.TaskTimeout(),
		Endpoint:       cfg.Telemetry.Endpoint,
		Protocol:       cfg.Telemetry.Protocol,
		Insecure:       cfg.Telemetry.Insecure,
	}
	res, err := telemetry.NewResource(ctx, tcfg)
	if err != nil {
		return err
	}
	if cfg.Telemetry.Endpoint != "" {
		provider, err := telemetry.InitProvider(ctx, tcfg)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		res = provider.Resource()
		if err := a.coord.RegisterCleanupTask("telemetry", provider); err != nil {
			return err
		}
	}

	meter := telemetry.NewMeter(res)
	if a.metrics, err = middleware.NewMetrics(meter); err != nil {
		return err
	}
	if err := a.coord.RegisterCleanupTask("metrics", meter); err != nil {
		return err
	}

	if err := a.wireBus(); err != nil {
		return err
	}
	if err := a.wireStatus(); err != nil {
		return err
	}
	if err := a.wireAnnouncers(ctx); err != nil {
		return err
	}

	if cfg.Trigger.File != "" {
		ft, err := trigger.NewFileTrigger(trigger.Config{
			Path:   cfg.Trigger.File,
			Logger: a.logger,
		}, a.coord)
		if err != nil {
			return fmt.Errorf("file trigger: %w", err)
		}
		a.trigger = ft
		if err := a.coord.RegisterCleanupTask("file_trigger", ft); err != nil {
			return err
		}
	}

	a.signals = shutdown.NewSignalListener(a.coord, cfg.DrainTimeout(), a.logger)
	if err := a.coord.RegisterFunc("signals", func(context.Context) error {
		a.signals.Stop()
		return nil
	}); err != nil {
		return err
	}

	return a.wireHTTP()
}

func (a *app) wireBus() error {
	cfg := a.cfg
	busCfg := bus.DefaultConfig()
	busCfg.DrainTimeout = time.Duration(cfg.Bus.DrainTimeoutSeconds) * time.Second
	if cfg.Bus.URL == "" {
		a.bus = bus.NewMemoryBus(busCfg)
	} else {
		natsCfg := bus.DefaultNATSConfig()
		natsCfg.Config = busCfg
		natsCfg.URL = cfg.Bus.URL
		natsCfg.Name = cfg.Service.Name + "-" + cfg.Service.InstanceID
		nb, err := bus.NewNATSBus(natsCfg)
		if err != nil {
			return err
		}
		a.bus = nb
		a.nats = nb
	}
	return a.coord.RegisterCleanupTask("bus", a.bus)
}

func (a *app) wireStatus() error {
	cfg := a.cfg
	if a.nats != nil {
		store, err := status.NewNATSStore(status.NATSStoreConfig{
			Conn:   a.nats.Conn(),
			Bucket: cfg.Status.Bucket,
			TTL:    cfg.StatusTTL(),
		})
		if err != nil {
			return fmt.Errorf("status store: %w", err)
		}
		a.status = store
	} else {
		a.status = status.NewMemoryStore(cfg.StatusTTL())
	}
	if err := a.coord.RegisterFunc("status_store", func(context.Context) error {
		return a.status.Close()
	}); err != nil {
		return err
	}

	rec, err := status.NewRecorder(status.RecorderConfig{
		Store:    a.status,
		Instance: cfg.Service.InstanceID,
		Service:  cfg.Service.Name,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	if err := rec.Register(a.coord); err != nil {
		return fmt.Errorf("status register: %w", err)
	}
	a.coord.AddObserver(rec)
	return nil
}

func (a *app) wireAnnouncers(ctx context.Context) error {
	cfg := a.cfg

	ba, err := announce.NewBusAnnouncer(announce.BusAnnouncerConfig{
		Bus:           a.bus,
		Instance:      cfg.Service.InstanceID,
		Service:       cfg.Service.Name,
		SubjectPrefix: cfg.Bus.SubjectPrefix,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}
	a.coord.AddObserver(ba)

	if cfg.Webhook.URL != "" {
		states := make([]shutdown.State, 0, len(cfg.Webhook.States))
		for _, s := range cfg.Webhook.States {
			st, ok := shutdown.ParseState(s)
			if !ok {
				return fmt.Errorf("webhook: unknown state %q", s)
			}
			states = append(states, st)
		}
		wa, err := announce.NewWebhookAnnouncer(announce.WebhookConfig{
			URL:      cfg.Webhook.URL,
			Instance: cfg.Service.InstanceID,
			Service:  cfg.Service.Name,
			States:   states,
			Headers:  cfg.Webhook.Headers,
			Timeout:  time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
			RetryMax: cfg.Webhook.RetryMax,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		a.coord.AddObserver(wa)
	}

	if cfg.Heartbeat.Enabled {
		hb, err := announce.NewHeartbeat(announce.HeartbeatConfig{
			Bus:      a.bus,
			Source:   a.coord,
			Instance: cfg.Service.InstanceID,
			Interval: time.Duration(cfg.Heartbeat.IntervalSeconds) * time.Second,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}
		hb.SetMetadata("service", cfg.Service.Name)
		hb.SetMetadata("version", version)
		if err := hb.Start(ctx); err != nil {
			return err
		}
		a.heartbeat = hb
		a.coord.AddObserver(hb)
		if err := a.coord.RegisterCleanupTask("heartbeat", hb); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) wireHTTP() error {
	cfg := a.cfg

	opts := middleware.DefaultOptions()
	opts.RetryAfter = cfg.RetryAfter()
	opts.ExemptPaths = cfg.HTTP.ExemptPaths
	opts.InstanceID = cfg.Service.InstanceID
	opts.Logger = a.logger
	opts.Metrics = a.metrics

	track, err := middleware.Track(a.coord.Tracker(), opts)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz/ready", middleware.Readiness(a.coord))
	mux.Handle("GET /livez", middleware.Liveness())
	mux.Handle("GET /metrics", a.metrics.Handler(a.coord))
	mux.Handle("GET /healthz/instances", status.Handler(a.status))
	mux.HandleFunc("GET /work", handleWork)
	mux.HandleFunc("POST /admin/shutdown", a.handleAdminShutdown)

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Addr, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           middleware.RequestLog(a.logger)(track(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a.coord.RegisterFunc("http_server", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, serverCloseTimeout)
		defer cancel()
		if err := a.server.Shutdown(ctx); err != nil {
			a.server.Close()
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
}

// handleWork simulates a request that takes ms milliseconds.
func handleWork(w http.ResponseWriter, r *http.Request) {
	d := 100 * time.Millisecond
	if v := r.URL.Query().Get("ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			http.Error(w, "ms must be a non-negative integer", http.StatusBadRequest)
			return
		}
		d = min(time.Duration(ms)*time.Millisecond, maxWork)
	}

	select {
	case <-time.After(d):
		fmt.Fprintf(w, "done in %s\n", d)
	case <-r.Context().Done():
	}
}

func (a *app) handleAdminShutdown(w http.ResponseWriter, _ *http.Request) {
	a.coord.Trigger("http:admin")
	w.WriteHeader(http.StatusAccepted)
}

// Addr returns the bound listen address.
func (a *app) Addr() string {
	return a.listener.Addr().String()
}

// run serves until shutdown completes and returns the process exit code.
func (a *app) run() int {
	go func() {
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http_serve_failed", logging.Fields{"error": err.Error()})
			a.coord.Trigger("http:serve_error")
		}
	}()
	a.signals.Start()

	a.logger.Info("started", logging.Fields{
		"service":       a.cfg.Service.Name,
		"addr":          a.Addr(),
		"drain_timeout": a.cfg.DrainTimeout().String(),
	})

	outcome := a.coord.Wait()
	defer a.closeLog()

	if outcome == nil {
		return exitFault
	}
	if outcome.State == shutdown.OutcomePartial {
		a.logger.Warn("exiting after partial shutdown", logging.Fields{
			"failed_tasks": outcome.FailedNames(),
		})
	}
	return exitOK
}

func (a *app) closeLog() {
	if a.logOut != nil {
		a.logOut.Close()
	}
}
