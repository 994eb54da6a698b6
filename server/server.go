// Package server exposes a running page runtime for inspection over
// Connect (HTTP) and gRPC.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/chazu/pagevm/vm"
)

var log = commonlog.GetLogger("pagevm.server")

// Server wraps a runtime with an inspection service served over
// Connect on one listener and gRPC on another.
type Server struct {
	worker  *Worker
	inspect *InspectService
	mux     *http.ServeMux
	grpc    *grpc.Server

	shutdownTimeout time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	roots           map[string]*vm.Page
	grpcOptions     []grpc.ServerOption
	handlerOptions  []connect.HandlerOption
	shutdownTimeout time.Duration
}

// WithRoot registers a named root page for DescribeRoot.
func WithRoot(name string, p *vm.Page) ServerOption {
	return func(c *serverConfig) { c.roots[name] = p }
}

// WithGRPCOptions passes options to the gRPC server.
func WithGRPCOptions(opts ...grpc.ServerOption) ServerOption {
	return func(c *serverConfig) { c.grpcOptions = append(c.grpcOptions, opts...) }
}

// WithHandlerOptions passes options to the Connect handlers.
func WithHandlerOptions(opts ...connect.HandlerOption) ServerOption {
	return func(c *serverConfig) { c.handlerOptions = append(c.handlerOptions, opts...) }
}

// WithShutdownTimeout bounds how long Serve waits for in-flight HTTP
// requests once its context is cancelled.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.shutdownTimeout = d }
}

// New creates a Server wrapping rt. The runtime must not be used
// directly afterwards; go through Worker().Do instead.
func New(rt *vm.Runtime, opts ...ServerOption) *Server {
	cfg := &serverConfig{
		roots:           make(map[string]*vm.Page),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewWorker(rt)
	inspect := NewInspectService(worker)
	for name, p := range cfg.roots {
		inspect.SetRoot(name, p)
	}

	s := &Server{
		worker:          worker,
		inspect:         inspect,
		mux:             http.NewServeMux(),
		grpc:            grpc.NewServer(cfg.grpcOptions...),
		shutdownTimeout: cfg.shutdownTimeout,
	}

	// Register Connect handlers
	ho := cfg.handlerOptions
	s.mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, inspect.Stats, ho...))
	s.mux.Handle(DescribeProcedure, connect.NewUnaryHandler(DescribeProcedure, inspect.Describe, ho...))
	s.mux.Handle(DescribeRootProcedure, connect.NewUnaryHandler(DescribeRootProcedure, inspect.DescribeRoot, ho...))
	s.mux.Handle(ListRootsProcedure, connect.NewUnaryHandler(ListRootsProcedure, inspect.ListRoots, ho...))

	RegisterInspectService(s.grpc, inspect)
	if err := RegisterReflection(s.grpc); err != nil {
		log.Errorf("gRPC reflection disabled: %s", err)
	}

	return s
}

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Worker returns the worker confining the runtime.
func (s *Server) Worker() *Worker {
	return s.worker
}

// Inspect returns the inspection service.
func (s *Server) Inspect() *InspectService {
	return s.inspect
}

// Serve serves Connect on httpLis and gRPC on grpcLis until ctx is
// cancelled or either transport fails. Either listener may be nil to
// skip that transport. A cancelled context is a clean shutdown and
// returns nil.
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	httpSrv := &http.Server{Handler: s.mux}

	if httpLis != nil {
		log.Infof("Connect (HTTP) listening on %s", httpLis.Addr())
		g.Go(func() error {
			if err := httpSrv.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if grpcLis != nil {
		log.Infof("gRPC listening on %s", grpcLis.Addr())
		g.Go(func() error {
			return s.grpc.Serve(grpcLis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		s.grpc.GracefulStop()
		return err
	})

	err := g.Wait()
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// ListenAndServe opens both listeners and calls Serve. An empty address
// disables that transport.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	var httpLis, grpcLis net.Listener
	var err error
	if httpAddr != "" {
		if httpLis, err = net.Listen("tcp", httpAddr); err != nil {
			return err
		}
	}
	if grpcAddr != "" {
		if grpcLis, err = net.Listen("tcp", grpcAddr); err != nil {
			if httpLis != nil {
				httpLis.Close()
			}
			return err
		}
	}
	return s.Serve(ctx, httpLis, grpcLis)
}

// Stop shuts down the worker. Call it after Serve has returned.
func (s *Server) Stop() {
	s.worker.Stop()
}
