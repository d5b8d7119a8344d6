package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/aq2208/storefront-api/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key load balancers probe.
const ServiceName = "storefront.v1.Checkout"

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type Options struct {
	CertFile string
	KeyFile  string
	Interval time.Duration
	Timeout  time.Duration
}

// HealthServer serves grpc.health.v1 and flips ServiceName between SERVING
// and NOT_SERVING from the registered checks.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	checks map[string]Check
	opts   Options
	log    *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

func NewHealthServer(checks map[string]Check, opts Options) (*HealthServer, error) {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}

	var sopts []grpc.ServerOption
	if opts.CertFile != "" {
		creds, err := credentials.NewServerTLSFromFile(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, err
		}
		sopts = append(sopts, grpc.Creds(creds))
	}

	hs := &HealthServer{
		srv:    grpc.NewServer(sopts...),
		health: health.NewServer(),
		checks: checks,
		opts:   opts,
		log:    logging.New("grpc-health"),
		stop:   make(chan struct{}),
	}
	healthpb.RegisterHealthServer(hs.srv, hs.health)
	hs.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return hs, nil
}

// Probe runs every check once and publishes the aggregate status.
func (hs *HealthServer) Probe(ctx context.Context) bool {
	ok := true
	for name, check := range hs.checks {
		cctx, cancel := context.WithTimeout(ctx, hs.opts.Timeout)
		err := check(cctx)
		cancel()
		if err != nil {
			hs.log.Warn("dependency unhealthy", "dep", name, "error", err)
			ok = false
		}
	}
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.health.SetServingStatus(ServiceName, st)
	return ok
}

// Serve blocks on lis, probing in the background until Stop.
func (hs *HealthServer) Serve(lis net.Listener) error {
	hs.Probe(context.Background())
	go hs.loop()
	hs.log.Info("grpc health listening", "addr", lis.Addr().String())
	if err := hs.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (hs *HealthServer) loop() {
	t := time.NewTicker(hs.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-hs.stop:
			return
		case <-t.C:
			hs.Probe(context.Background())
		}
	}
}

// Stop marks everything NOT_SERVING, then drains in-flight RPCs.
func (hs *HealthServer) Stop() {
	hs.stopOnce.Do(func() {
		close(hs.stop)
		hs.health.Shutdown()
		hs.srv.GracefulStop()
	})
}
