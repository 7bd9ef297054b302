// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpapi is the inbound control surface: camera start/stop/update,
// live frames, snapshots and status.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/vigil/internal/camera"
	"github.com/ManuGH/vigil/internal/health"
	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/manager"
	"github.com/ManuGH/vigil/internal/pipeline"
	"github.com/ManuGH/vigil/internal/preview"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultSnapshotTimeout bounds a shared snapshot request.
	DefaultSnapshotTimeout = 10 * time.Second

	maxConfigBody = 1 << 20
)

// Cameras is the camera control the API needs. *manager.Manager
// implements it.
type Cameras interface {
	Update(cfg camera.Config) error
	Stop(id string) error
	Frame(id string) ([]byte, error)
	Preview(id string) (*preview.Buffer, error)
	Snapshot(ctx context.Context, id string) (string, error)
	Status() []pipeline.Status
}

// Options configures a Server.
type Options struct {
	Cameras   Cameras
	Health    *health.Manager
	Resources ResourceSampler
	Secret    string
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit       int
	SnapshotTimeout time.Duration
	Version         string
}

// Server routes control requests onto the camera manager.
type Server struct {
	opts      Options
	snapshots singleflight.Group
	router    chi.Router
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Version   string            `json:"version,omitempty"`
	Time      time.Time         `json:"time"`
	Cameras   []pipeline.Status `json:"cameras"`
	Resources *Resources        `json:"resources,omitempty"`
}

// SnapshotResponse is the body of POST /api/cameras/{id}/snapshot.
type SnapshotResponse struct {
	Path string `json:"path"`
}

// New builds the server and its routes.
func New(opts Options) *Server {
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = DefaultSnapshotTimeout
	}
	if opts.Health == nil {
		opts.Health = health.NewManager(opts.Version)
	}
	s := &Server{opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware())
	r.Use(instrument)

	r.Get("/healthz", s.opts.Health.ServeHealth)
	r.Get("/readyz", s.opts.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(s.opts.RateLimit))
		r.Use(requireSecret(s.opts.Secret))

		r.Get("/status", s.handleStatus)
		r.Route("/cameras/{id}", func(r chi.Router) {
			r.Put("/", s.handlePutCamera)
			r.Delete("/", s.handleDeleteCamera)
			r.Get("/frame", s.handleFrame)
			r.Get("/mjpeg", s.handleMJPEG)
			r.Post("/snapshot", s.handleSnapshot)
		})
	})
	return r
}

func (s *Server) logger(r *http.Request) zerolog.Logger {
	return log.WithComponentFromContext(r.Context(), "api").With().
		Str(log.FieldCameraID, chi.URLParam(r, "id")).
		Logger()
}

func (s *Server) handlePutCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg camera.Config
	dec := json.NewDecoder(io.LimitReader(r.Body, maxConfigBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	if cfg.ID != id {
		writeError(w, http.StatusBadRequest, "id_mismatch")
		return
	}

	if err := s.opts.Cameras.Update(cfg); err != nil {
		switch {
		case errors.Is(err, camera.ErrInvalidConfig), errors.Is(err, camera.ErrInvalidTemplate):
			writeErrorDetail(w, http.StatusBadRequest, "invalid_config", err)
		case errors.Is(err, manager.ErrCameraUnavailable):
			writeErrorDetail(w, http.StatusServiceUnavailable, "unavailable", err)
		default:
			lg := s.logger(r)
			lg.Error().Err(err).Str(log.FieldEvent, "api.camera_update_failed").Msg("camera update failed")
			writeErrorDetail(w, http.StatusInternalServerError, "internal", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Cameras.Stop(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, manager.ErrCameraUnavailable) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeErrorDetail(w, http.StatusInternalServerError, "internal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, err := s.opts.Cameras.Frame(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "no_frame")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	buf, err := s.opts.Cameras.Preview(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	lg := s.logger(r)
	lg.Debug().Str(log.FieldEvent, "api.mjpeg_client").Msg("mjpeg viewer attached")
	buf.ServeHTTP(w, r)
}

// handleSnapshot collapses concurrent requests for one camera into a single
// snapshot. The shared call is detached from any one client's cancellation.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch := s.snapshots.DoChan(id, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.SnapshotTimeout)
		defer cancel()
		return s.opts.Cameras.Snapshot(ctx, id)
	})

	select {
	case <-r.Context().Done():
		return
	case res := <-ch:
		if res.Err != nil {
			switch {
			case errors.Is(res.Err, manager.ErrCameraUnavailable):
				writeErrorDetail(w, http.StatusNotFound, "unavailable", res.Err)
			case errors.Is(res.Err, context.DeadlineExceeded):
				writeError(w, http.StatusGatewayTimeout, "timeout")
			default:
				lg := s.logger(r)
				lg.Error().Err(res.Err).Str(log.FieldEvent, "api.snapshot_failed").Msg("snapshot failed")
				writeErrorDetail(w, http.StatusInternalServerError, "internal", res.Err)
			}
			return
		}
		writeJSON(w, http.StatusOK, SnapshotResponse{Path: res.Val.(string)})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version: s.opts.Version,
		Time:    time.Now().UTC(),
		Cameras: s.opts.Cameras.Status(),
	}
	if s.opts.Resources != nil {
		res, err := s.opts.Resources.Sample(r.Context())
		if err != nil {
			lg := s.logger(r)
			lg.Debug().Err(err).Str(log.FieldEvent, "api.resources_failed").Msg("resource sampling failed")
		} else {
			resp.Resources = &res
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
