package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// shutdownTimeout bounds how long Run waits for in-flight scrapes on exit.
const shutdownTimeout = 5 * time.Second

// Server serves /metrics and /healthz for the local operator.
type Server struct {
	addr   string
	server *http.Server
	logger *zap.Logger
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	s := &Server{
		addr:   addr,
		logger: logger.Named("telemetry"),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler(m),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	return s
}

func (s *Server) handler(m *Metrics) http.Handler {
	mux := http.NewServeMux()
	metrics := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(s.logger),
	})

	mux.Handle("/metrics", s.logged(metrics))
	mux.Handle("/healthz", s.logged(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})))
	return mux
}

func (s *Server) logged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("Served request",
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// Run listens until ctx is cancelled, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics server listening", zap.String("addr", s.addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Metrics server shutdown failed", zap.Error(err))
		return err
	}
	s.logger.Info("Metrics server stopped")
	return nil
}
