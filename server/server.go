// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the connector runner, the chain service and the
// profile registry over HTTP.
//
// Routes:
//
//	GET  /health
//	GET  /metrics
//	GET  /api/v1/connectors
//	GET  /api/v1/connectors/{type}/actions
//	POST /api/v1/connectors/{type}/actions/{action}
//	POST /api/v1/chains/run
//	GET  /api/v1/profiles
//	POST /api/v1/profiles
//
// When a JWT secret is configured every /api/v1 route requires an HS256
// bearer token whose tenant_id claim becomes the request tenant.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"relayhub/platform/chains"
	"relayhub/platform/connectors/action"
	"relayhub/platform/shared/logger"
)

// Version is reported by /health
const Version = "1.0.0"

// Options configures a Server
type Options struct {
	Addr         string
	JWTSecret    string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger
}

// Server is the relayhub HTTP API
type Server struct {
	runner    *action.Runner
	chains    *chains.Service
	jwtSecret []byte
	opts      Options

	router  *mux.Router
	handler http.Handler
	http    *http.Server
	ready   atomic.Bool

	log  *logger.Logger
	slog *zap.SugaredLogger
}

// New builds the router. chainService may be nil, in which case the
// chain route answers 503.
func New(runner *action.Runner, chainService *chains.Service, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("server")
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{
		runner: runner,
		chains: chainService,
		opts:   opts,
		router: mux.NewRouter(),
		log:    opts.Logger,
		slog:   opts.Logger.Sugared("http"),
	}
	if opts.JWTSecret != "" {
		s.jwtSecret = []byte(opts.JWTSecret)
	}
	s.routes()

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", RequestIDHeader, TenantIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: !containsWildcard(opts.CORSOrigins),
	})
	s.handler = c.Handler(s.router)
	s.ready.Store(true)
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.instrument)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/connectors", s.handleListConnectors).Methods(http.MethodGet)
	api.HandleFunc("/connectors/{type}/actions", s.handleDescribeConnector).Methods(http.MethodGet)
	api.HandleFunc("/connectors/{type}/actions/{action}", s.handleRunAction).Methods(http.MethodPost)
	api.HandleFunc("/chains/run", s.handleRunChain).Methods(http.MethodPost)
	api.HandleFunc("/profiles", s.handleListProfiles).Methods(http.MethodGet)
	api.HandleFunc("/profiles", s.handleCreateProfile).Methods(http.MethodPost)
}

// Handler returns the root handler with CORS applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks serving on Options.Addr. It returns nil after a
// graceful Shutdown.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	s.slog.Infof("Relayhub API listening on %s (auth: %t)", s.opts.Addr, s.jwtSecret != nil)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if s.http == nil {
		return nil
	}
	s.slog.Info("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
