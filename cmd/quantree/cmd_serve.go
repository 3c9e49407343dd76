package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mExOms/quantree/internal/api"
	"github.com/mExOms/quantree/internal/jobs"
	"github.com/mExOms/quantree/internal/monitor"
	"github.com/mExOms/quantree/pkg/cache"
	natsclient "github.com/mExOms/quantree/pkg/nats"
	"github.com/mExOms/quantree/pkg/storage"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run submitted jobs in-process",
		RunE:  runServe,
	}
	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run jobs received over NATS",
		RunE:  runWorker,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{serveCmd, workerCmd} {
		cmd.Flags().String("addr", "", "Listen address")
		bind(settings, "server.addr", cmd.Flags().Lookup("addr"))
	}
}

// services holds the collaborators shared by serve and worker
type services struct {
	metrics *monitor.Metrics
	health  *monitor.HealthChecker
	prices  *priceStore
	nats    *natsclient.Client
	manager *jobs.Manager
}

func startServices(ctx context.Context, requireNATS bool) (*services, error) {
	logger := logrus.WithField("component", "services")
	rt := &services{
		metrics: monitor.NewMetrics(),
		health:  monitor.NewHealthChecker(version),
	}
	rt.prices = openPrices(ctx, rt.metrics)
	rt.health.RegisterCheck("data", monitor.DataDirHealthCheck(cfg.Data.Dir))
	if rt.prices.redis != nil {
		rt.health.RegisterCheck("redis", monitor.PingHealthCheck(rt.prices.redis.Ping, true))
	}

	var publisher jobs.Publisher = jobs.NopPublisher{}
	if cfg.NATS.Enabled || requireNATS {
		client, err := natsclient.NewClient(&natsclient.Config{
			URL:      cfg.NATS.URL,
			ClientID: cfg.NATS.ClientID,
			Streams:  natsclient.DefaultStreams(),
		})
		if err != nil {
			rt.prices.Close()
			return nil, err
		}
		rt.nats = client
		publisher = client
		rt.health.RegisterCheck("nats", monitor.PingHealthCheck(func(context.Context) error {
			if !client.Connected() {
				return errors.New("not connected")
			}
			return nil
		}, !requireNATS))
	}

	var store jobs.Store
	if cfg.Jobs.StoreDir != "" {
		fs, err := storage.NewFileStorage(cfg.Jobs.StoreDir, cfg.Jobs.Store)
		if err != nil {
			if rt.nats != nil {
				rt.nats.Close()
			}
			rt.prices.Close()
			return nil, err
		}
		store = fs
		rt.health.RegisterCheck("store", monitor.DataDirHealthCheck(cfg.Jobs.StoreDir))
	}

	rt.manager = jobs.NewManager(jobs.Options{
		Publisher:     publisher,
		Metrics:       rt.metrics,
		Retention:     cfg.Jobs.Retention,
		PruneSchedule: cfg.Jobs.PruneSchedule,
		Store:         store,
	})
	if err := rt.manager.Start(); err != nil {
		rt.Close()
		return nil, err
	}
	logger.Infof("Services ready (data dir %s)", cfg.Data.Dir)
	return rt, nil
}

func (rt *services) Close() {
	rt.manager.Stop()
	if rt.nats != nil {
		rt.nats.Close()
	}
	rt.prices.Close()
}

// listen serves handler until ctx ends, then shuts down gracefully
func listen(ctx context.Context, handler http.Handler) error {
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("HTTP server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := startServices(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	var limiter *cache.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = cache.NewRateLimiter(cfg.Server.RateLimit, time.Minute)
		defer limiter.Close()
	}

	server := api.NewServer(api.Options{
		Loader:     rt.prices.loader,
		Jobs:       rt.manager,
		Defaults:   defaults(),
		Robustness: cfg.Robustness,
		Metrics:    rt.metrics,
		Health:     rt.health,
		Limiter:    limiter,
	})
	return listen(ctx, server.Handler())
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := startServices(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger := logrus.WithField("component", "worker")
	jobSub, err := rt.nats.SubscribeJobs(cfg.NATS.Queue, func(subject string, env *natsclient.Envelope) error {
		var req jobs.Request
		if err := env.Decode(&req); err != nil {
			return err
		}
		if req.ID == "" {
			req.ID = env.JobID
		}
		job, err := req.Job(ctx, rt.prices.loader, defaults())
		if err != nil {
			return fmt.Errorf("job %s rejected: %w", req.ID, err)
		}
		record, err := rt.manager.Submit(job)
		if err != nil {
			return err
		}
		logger.WithField("job_id", record.ID).Info("Accepted job")
		return nil
	})
	if err != nil {
		return err
	}
	defer jobSub.Unsubscribe()

	cancelSub, err := rt.nats.SubscribeCancels(func(subject string, env *natsclient.Envelope) error {
		id := env.JobID
		if id == "" {
			_, fromSubject, err := natsclient.ParseSubject(subject)
			if err != nil {
				return err
			}
			id = fromSubject
		}
		// every worker sees every cancel; only the one running the job knows it
		if _, err := rt.manager.Cancel(id); err != nil && !errors.Is(err, jobs.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer cancelSub.Unsubscribe()

	router := mux.NewRouter()
	router.HandleFunc("/healthz", rt.health.HTTPHandler()).Methods("GET")
	router.Handle("/metrics", rt.metrics.Handler()).Methods("GET")
	return listen(ctx, router)
}
