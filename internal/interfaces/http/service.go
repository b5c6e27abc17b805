package httpinterface

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/synonymdev/bitkit-balanced/internal/core/application"
	"github.com/synonymdev/bitkit-balanced/internal/interfaces"
)

const shutdownTimeout = 5 * time.Second

type ServiceOpts struct {
	Address string
	Engine  Engine
	// Optional.
	Webhooks       application.PubSubService
	MetricsHandler http.Handler
}

func (o ServiceOpts) validate() error {
	if len(o.Address) <= 0 {
		return fmt.Errorf("missing listening address")
	}
	if o.Engine == nil {
		return fmt.Errorf("missing engine")
	}
	return nil
}

type service struct {
	opts     ServiceOpts
	server   *http.Server
	listener net.Listener
}

// NewService returns the operator interface, a JSON API over http. The
// metrics handler, if any, is served at /metrics on the same address.
func NewService(opts ServiceOpts) (interfaces.Service, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid opts: %s", err)
	}
	return &service{opts: opts}, nil
}

func (s *service) Start() error {
	lis, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	s.listener = lis
	s.server = &http.Server{
		Handler:           newRouter(s.opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(lis); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("operator interface stopped unexpectedly")
		}
	}()

	log.Infof("operator interface is listening on %s", lis.Addr().String())
	return nil
}

func (s *service) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("failed to gracefully stop operator interface")
	}
	log.Debug("stopped operator interface")
}

func newRouter(opts ServiceOpts) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	h := &handler{opts.Engine, opts.Webhooks}
	r.Route("/v1", h.register)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		defer func() {
			log.WithFields(log.Fields{
				"request_id": middleware.GetReqID(req.Context()),
				"status":     ww.Status(),
				"elapsed":    time.Since(start),
			}).Debugf("%s %s", req.Method, req.URL.Path)
		}()
		next.ServeHTTP(ww, req)
	})
}
