package server

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/passmgr-tool/passmgr/internal/logging"
	"github.com/passmgr-tool/passmgr/internal/syncrpc"
)

// Server ties the service to its listeners: the gRPC endpoint and an
// optional Prometheus exposition endpoint.
type Server struct {
	svc  *Service
	log  *slog.Logger
	grpc *grpc.Server
	http *http.Server
}

// ListenOptions configures the network surface.
type ListenOptions struct {
	// Addr is the gRPC listen address, e.g. ":50051".
	Addr string

	// MetricsAddr exposes /metrics over HTTP when non-empty.
	MetricsAddr string

	// TLS is not read by ListenAndServe; transport security comes from the
	// tls.Config passed to NewServer.
	TLS *tls.Config
}

// NewServer wraps a service with gRPC plumbing. A nil TLS config serves
// plaintext (local testing only).
func NewServer(svc *Service, logger *slog.Logger, tlsConf *tls.Config) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(syncrpc.Codec{}),
		grpc.ConnectionTimeout(10 * time.Second),
	}
	if tlsConf != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConf)))
	}

	gs := grpc.NewServer(opts...)
	syncrpc.RegisterPassmgrServer(gs, svc)

	return &Server{
		svc:  svc,
		log:  logger.With(logging.KeyComponent, "sync-listener"),
		grpc: gs,
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("sync server listening", logging.KeyAddress, lis.Addr().String())
	return s.grpc.Serve(lis)
}

// ListenAndServe listens on the configured addresses and serves until Stop.
func (s *Server) ListenAndServe(opts ListenOptions) error {
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.http = &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			s.log.Info("metrics listening", logging.KeyAddress, opts.MetricsAddr)
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics server failed", logging.KeyError, err)
			}
		}()
	}

	lis, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop drains in-flight RPCs, shuts the listeners down and closes the
// service's stores.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
	if s.http != nil {
		s.http.Close()
	}
	if err := s.svc.Close(); err != nil {
		s.log.Error("service close failed", logging.KeyError, err)
	}
}
