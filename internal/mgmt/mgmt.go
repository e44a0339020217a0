// Package mgmt implements the management HTTP surface (§6): port
// add/remove/rename/renumber, flow put/modify/delete/get/dump, core-mask
// set, and worker statistics/queue-assignment inspection. Grounded on the
// teacher's internal/app router-plus-middleware-chain shape
// (registerHandlers, metricsMiddleware) with the log-pipeline's endpoints
// replaced by the datapath operations this section names.
package mgmt

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ssw-net/vswitchd-core/internal/datapath"
	"github.com/ssw-net/vswitchd-core/pkg/snapshot"
)

// Server serves the management HTTP API over a *datapath.Datapath.
type Server struct {
	dp       *datapath.Datapath
	router   *mux.Router
	server   *http.Server
	logger   *logrus.Logger
	snapshot *snapshot.Codec
}

// NewServer builds a management server bound to addr (host:port), wrapping
// dp's public operations in HTTP handlers.
func NewServer(addr string, dp *datapath.Datapath, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	s := &Server{dp: dp, logger: logger}

	if codec, err := snapshot.NewCodec(); err != nil {
		logger.WithError(err).Warn("snapshot codec unavailable, /flows/snapshot will 501")
	} else {
		s.snapshot = codec
	}

	router := mux.NewRouter()
	s.registerHandlers(router)
	s.router = router
	s.server = &http.Server{Addr: addr, Handler: router}

	return s
}

// requestLoggingMiddleware logs method, path, status, and latency for
// every management request, mirroring the teacher's metricsMiddleware
// response-time observation but through structured logging instead of a
// Prometheus histogram (the management surface is deliberately not on the
// hot path internal/metrics instruments).
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("management request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// registerHandlers wires every management route behind the logging
// middleware.
func (s *Server) registerHandlers(router *mux.Router) {
	mw := s.requestLoggingMiddleware

	router.Handle("/ports", mw(http.HandlerFunc(s.listPortsHandler))).Methods(http.MethodGet)
	router.Handle("/ports", mw(http.HandlerFunc(s.addPortHandler))).Methods(http.MethodPost)
	router.Handle("/ports/{number}", mw(http.HandlerFunc(s.delPortHandler))).Methods(http.MethodDelete)
	router.Handle("/ports/{number}/rename", mw(http.HandlerFunc(s.renamePortHandler))).Methods(http.MethodPost)
	router.Handle("/ports/{number}/renumber", mw(http.HandlerFunc(s.renumberPortHandler))).Methods(http.MethodPost)

	router.Handle("/core-mask", mw(http.HandlerFunc(s.setCoreMaskHandler))).Methods(http.MethodPost)

	router.Handle("/workers", mw(http.HandlerFunc(s.listWorkersHandler))).Methods(http.MethodGet)
	router.Handle("/workers/{id}/stats", mw(http.HandlerFunc(s.workerStatsHandler))).Methods(http.MethodGet)
	router.Handle("/workers/{id}/stats/reset", mw(http.HandlerFunc(s.resetWorkerStatsHandler))).Methods(http.MethodPost)
	router.Handle("/workers/{id}/execute", mw(http.HandlerFunc(s.executePacketHandler))).Methods(http.MethodPost)

	router.Handle("/flows", mw(http.HandlerFunc(s.dumpFlowsHandler))).Methods(http.MethodGet)
	router.Handle("/flows/snapshot", mw(http.HandlerFunc(s.snapshotFlowsHandler))).Methods(http.MethodGet)
	router.Handle("/flows", mw(http.HandlerFunc(s.addFlowHandler))).Methods(http.MethodPost)
	router.Handle("/flows/{ufid}", mw(http.HandlerFunc(s.getFlowHandler))).Methods(http.MethodGet)
	router.Handle("/flows/{ufid}", mw(http.HandlerFunc(s.modifyFlowHandler))).Methods(http.MethodPut)
	router.Handle("/flows/{ufid}", mw(http.HandlerFunc(s.deleteFlowHandler))).Methods(http.MethodDelete)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("starting management server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("management server error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping management server")
	if s.snapshot != nil {
		s.snapshot.Close()
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the underlying mux.Router, primarily for tests that want
// to drive requests with httptest without a real listener.
func (s *Server) Router() http.Handler { return s.router }
