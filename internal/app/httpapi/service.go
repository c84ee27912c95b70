package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cleanfleet/control-plane/internal/app/corekit"
	"github.com/cleanfleet/control-plane/pkg/logger"
)

var _ corekit.Service = (*Service)(nil)

// Service exposes the HTTP ingress as a corekit.Service, so the corekit
// Runner can start and stop it.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logger.Logger
}

// NewService constructs the ingress Service from a fully wired Deps.
func NewService(addr string, d *Deps) *Service {
	log := d.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Service{addr: addr, handler: NewRouter(d), log: log}
}

func (s *Service) Name() string { return "httpapi" }

func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.With("httpapi").WithError(err).Error("http server error")
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
