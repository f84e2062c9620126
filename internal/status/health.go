package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/joseph-ayodele/receipts-worker/constants"
)

// HealthServiceName is the gRPC health service name of a store.
func HealthServiceName(store string) string {
	return "receipts." + store
}

// HealthSink mirrors store status into a gRPC health server. A store is
// SERVING unless its last pass failed.
type HealthSink struct {
	server *health.Server
}

func NewHealthSink(server *health.Server) *HealthSink {
	return &HealthSink{server: server}
}

// Register marks stores as SERVING before their first pass.
func (s *HealthSink) Register(stores ...string) {
	s.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, store := range stores {
		s.server.SetServingStatus(HealthServiceName(store), healthpb.HealthCheckResponse_SERVING)
	}
}

func (s *HealthSink) Report(_ context.Context, r StoreReport) error {
	st := healthpb.HealthCheckResponse_SERVING
	if r.Status == constants.AppStatusFail {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.server.SetServingStatus(HealthServiceName(r.Store), st)
	return nil
}

// ServeHealth serves the health service (plus reflection for grpcurl) on
// addr until ctx is done.
func ServeHealth(ctx context.Context, addr string, hs *health.Server, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeHealthListener(ctx, lis, hs, logger)
}

// ServeHealthListener is ServeHealth on an existing listener.
func ServeHealthListener(ctx context.Context, lis net.Listener, hs *health.Server, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	logger.Info("health endpoint serving", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		hs.Shutdown()
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// ProbeResult is the health of one service as seen by a client.
type ProbeResult struct {
	Service  string
	Response *healthpb.HealthCheckResponse
	Err      error
}

// JSON renders the response the way grpcurl prints it.
func (p ProbeResult) JSON() string {
	if p.Response == nil {
		return "{}"
	}
	return protojson.MarshalOptions{EmitUnpopulated: true}.Format(p.Response)
}

// Probe asks a running worker at addr for the overall status and for
// every store in stores.
func Probe(ctx context.Context, addr string, stores []string, timeout time.Duration) ([]ProbeResult, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial health %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	client := healthpb.NewHealthClient(conn)
	services := append([]string{""}, storeServices(stores)...)
	out := make([]ProbeResult, 0, len(services))
	for _, svc := range services {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := client.Check(cctx, &healthpb.HealthCheckRequest{Service: svc})
		cancel()
		out = append(out, ProbeResult{Service: svc, Response: resp, Err: err})
	}
	return out, nil
}

func storeServices(stores []string) []string {
	out := make([]string, len(stores))
	for i, s := range stores {
		out[i] = HealthServiceName(s)
	}
	return out
}
