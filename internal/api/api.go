// Package api vystavuje REST rozhraní nad ingest pipeline a query enginem.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"env-dashboard/internal/ingest"
	"env-dashboard/internal/metrics"
	"env-dashboard/internal/query"
	"env-dashboard/internal/reading"
)

const maxBodySize = 64 * 1024

// Options jsou volitelné části routeru. Auth je povinný.
type Options struct {
	Auth           *Auth
	Metrics        *metrics.Metrics
	WebSocket      http.Handler // GET /ws
	Health         http.Handler // GET /health
	AllowedOrigins []string     // CORS, prázdné = "*"
	AccessLog      io.Writer    // Apache combined formát, nil = vypnuto
}

// APIHandler drží závislosti HTTP handlerů.
type APIHandler struct {
	pipeline *ingest.Pipeline
	engine   *query.Engine
	logger   *slog.Logger
}

// NewRouter sestaví kompletní HTTP handler včetně middleware.
// Pořadí registrace rout je důležité: statické cesty (latest, all) musí být před {id}.
func NewRouter(p *ingest.Pipeline, e *query.Engine, logger *slog.Logger, opts Options) http.Handler {
	s := &APIHandler{pipeline: p, engine: e, logger: logger}
	auth := opts.Auth
	m := opts.Metrics

	r := mux.NewRouter()
	api := r.PathPrefix("/api/data").Subrouter()

	api.Handle("/latest", m.WrapHandler("latest_all", auth.Require(http.HandlerFunc(s.handleLatestAll)))).Methods(http.MethodGet)
	api.Handle("/{id}", m.WrapHandler("add_data", http.HandlerFunc(s.handleAddData))).Methods(http.MethodPost)
	api.Handle("/{id}/latest", m.WrapHandler("device_latest", auth.Require(http.HandlerFunc(s.handleRecent)))).Methods(http.MethodGet)
	api.Handle("/{id}/history", m.WrapHandler("device_history", auth.Require(http.HandlerFunc(s.handleHistory)))).Methods(http.MethodGet)
	api.Handle("/{id}/{num}", m.WrapHandler("device_recent", auth.Require(http.HandlerFunc(s.handleRecent)))).Methods(http.MethodGet)
	api.Handle("/{id}", m.WrapHandler("device_all", auth.Require(http.HandlerFunc(s.handleAllDeviceData)))).Methods(http.MethodGet)
	api.Handle("/all", m.WrapHandler("delete_all", auth.RequireAdmin(http.HandlerFunc(s.handleDeleteAll)))).Methods(http.MethodDelete)
	api.Handle("/{id}", m.WrapHandler("delete_device", auth.RequireAdmin(http.HandlerFunc(s.handleDeleteDevice)))).Methods(http.MethodDelete)

	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket).Methods(http.MethodGet)
	}
	if opts.Health != nil {
		r.Handle("/health", opts.Health).Methods(http.MethodGet)
	}
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	var h http.Handler = r
	if opts.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(opts.AccessLog, h)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h = cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(h)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)(h)
}

func (s *APIHandler) handleLatestAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.LatestAll())
}

// handleAddData přijímá data od zařízení (bez autentizace), vrací uložený záznam.
func (s *APIHandler) handleAddData(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid input data.")
		return
	}

	stored, err := s.pipeline.IngestPositional(r.Context(), id, body)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *APIHandler) handleAllDeviceData(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	data, err := s.engine.All(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleRecent obsluhuje /{id}/latest i /{id}/{num}. Bez num vrací jedno měření.
func (s *APIHandler) handleRecent(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	count := 1
	if raw, has := mux.Vars(r)["num"]; has {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid number of readings.")
			return
		}
		count = n
	}

	data, err := s.engine.Recent(r.Context(), id, count)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *APIHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	data, err := s.engine.History(r.Context(), id, r.URL.Query().Get("range"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *APIHandler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteAll(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("Smazána všechna data zařízení")
	writeJSON(w, http.StatusOK, "All device data deleted.")
}

func (s *APIHandler) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(w, r)
	if !ok {
		return
	}
	found, err := s.engine.DeleteDevice(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Device not found or no data to delete.")
		return
	}
	s.logger.Info("Smazána data zařízení", "device_id", id)
	writeJSON(w, http.StatusOK, "Device data deleted.")
}

// fail převede chybu jádra na HTTP status. Detaily chyb úložiště jdou jen do logu.
func (s *APIHandler) fail(w http.ResponseWriter, err error) {
	if reading.IsValidation(err) {
		s.logger.Debug("Neplatný požadavek", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid input data.")
		return
	}
	s.logger.Error("Chyba při zpracování požadavku", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func deviceID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid device id.")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Chyba zápisu znamená, že klient už odešel. Status je odeslaný, nic dalšího neuděláme.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
