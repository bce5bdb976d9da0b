package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ivquant/internal"
	"ivquant/internal/errors"
	"ivquant/ports"
)

// Server exposes a fitted estimator over HTTP.
type Server struct {
	est ports.EstimatorPort
	log *internal.Logger
}

func NewServer(est ports.EstimatorPort, log *internal.Logger) *Server {
	if log == nil {
		log = internal.DefaultLogger.Named("api")
	}
	return &Server{est: est, log: log}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/healthz", s.handleHealth)
	r.Get("/effect", s.handleEffect)
	return r
}

// ListenAndServe blocks serving the router on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("listening on %s", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type effectResponse struct {
	X      float64  `json:"x"`
	Effect float64  `json:"y_do_x"`
	Lower  *float64 `json:"y_do_x_lower,omitempty"`
	Upper  *float64 `json:"y_do_x_upper,omitempty"`
	Alpha  *float64 `json:"alpha,omitempty"`
}

// handleEffect evaluates the dose-response at one exposure value.
// Query params: x (required), covars (comma separated, optional),
// alpha (optional, requests an interval when supported).
func (s *Server) handleEffect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, err := strconv.ParseFloat(q.Get("x"), 64)
	if err != nil {
		writeError(w, errors.InvalidInput("query parameter x must be a number"))
		return
	}

	var covars []float64
	if raw := q.Get("covars"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				writeError(w, errors.InvalidInput("query parameter covars must be comma separated numbers"))
				return
			}
			covars = append(covars, v)
		}
	}

	resp := effectResponse{X: x}

	if raw := q.Get("alpha"); raw != "" {
		alpha, err := strconv.ParseFloat(raw, 64)
		if err != nil || alpha <= 0 || alpha >= 1 {
			writeError(w, errors.InvalidInput("query parameter alpha must be in (0, 1)"))
			return
		}
		unc, ok := s.est.(ports.UncertaintyEstimatorPort)
		if !ok {
			writeError(w, errors.InvalidInput("this model does not provide intervals"))
			return
		}
		iv, err := unc.EffectWithInterval(x, covars, alpha)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Effect = iv.Point
		resp.Lower = &iv.Lower
		resp.Upper = &iv.Upper
		resp.Alpha = &alpha
		writeJSON(w, http.StatusOK, resp)
		return
	}

	var point float64
	if len(covars) > 0 {
		point, err = s.est.Effect(x, covars)
	} else {
		point, err = s.est.AvgEffect(x)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	resp.Effect = point
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errors.GetCode(err)
	switch code {
	case errors.CodeInvalidInput, errors.CodeConfigInvalid:
		status = http.StatusBadRequest
	case errors.CodeNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": code})
}
