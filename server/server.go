package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/amstee/karapace/db"
	"github.com/amstee/karapace/notify"
	"github.com/amstee/karapace/telemetry"
)

// Confluent-compatible error codes
const (
	errSubjectNotFound     = 40401
	errVersionNotFound     = 40402
	errSchemaNotFound      = 40403
	errCompatNotConfigured = 40408
	errInvalidVersion      = 42202
)

// defaultCompatibility is reported when no global level was ever stored.
const defaultCompatibility = "BACKWARD"

// Readiness is implemented by the schema reader.
type Readiness interface {
	Ready() bool
}

// Server is the read-only registry surface: health and readiness probes,
// metrics, and lookups against the materialized view. Registration and
// mastership endpoints live in the API layer, not here.
type Server struct {
	database  *db.InMemoryDatabase
	readiness Readiness

	// Serialized schema-by-id responses. Entries are immutable while an
	// id is live; the hub subscription purges on any change so a
	// compaction-driven hard delete cannot leave a stale positive.
	cache     *lru.Cache[db.SchemaID, []byte]
	cancelSub func()

	srv *http.Server
	wg  sync.WaitGroup
}

// New builds the server. hub may be nil; without it the schema cache is
// still safe because ids are never reused, only dropped.
func New(addr string, database *db.InMemoryDatabase, readiness Readiness, hub *notify.Hub, cacheSize int) (*Server, error) {
	cache, err := lru.New[db.SchemaID, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema cache: %w", err)
	}

	s := &Server{
		database:  database,
		readiness: readiness,
		cache:     cache,
	}

	if hub != nil {
		changes, cancel := hub.Subscribe(notify.Filter{})
		s.cancelSub = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for range changes {
				s.cache.Purge()
			}
		}()
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if handler := telemetry.GetMetricsHandler(); handler != nil {
		r.Handle("/metrics", handler)
	}
	r.Get("/subjects", s.handleSubjects)
	r.Get("/subjects/{subject}/versions", s.handleSubjectVersions)
	r.Get("/subjects/{subject}/versions/{version}", s.handleSubjectVersion)
	r.Get("/schemas/ids/{id}", s.handleSchemaByID)
	r.Get("/config", s.handleGlobalConfig)
	r.Get("/config/{subject}", s.handleSubjectConfig)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if s.cancelSub != nil {
		s.cancelSub()
	}
	s.wg.Wait()
	return err
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode HTTP response")
	}
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.readiness != nil && s.readiness.Ready() {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
}

func includeDeleted(r *http.Request) bool {
	return r.URL.Query().Get("deleted") == "true"
}

func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	subjects := s.database.Subjects(includeDeleted(r))
	names := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		names = append(names, string(subject))
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSubjectVersions(w http.ResponseWriter, r *http.Request) {
	subject := db.Subject(chi.URLParam(r, "subject"))

	schemas := s.database.FindSubjectSchemas(subject, includeDeleted(r))
	if len(schemas) == 0 {
		writeError(w, http.StatusNotFound, errSubjectNotFound,
			fmt.Sprintf("Subject '%s' not found.", subject))
		return
	}

	versions := make([]int, 0, len(schemas))
	for _, sv := range schemas {
		versions = append(versions, int(sv.Version))
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleSubjectVersion(w http.ResponseWriter, r *http.Request) {
	subject := db.Subject(chi.URLParam(r, "subject"))
	rawVersion := chi.URLParam(r, "version")

	if !s.database.FindSubject(subject) {
		writeError(w, http.StatusNotFound, errSubjectNotFound,
			fmt.Sprintf("Subject '%s' not found.", subject))
		return
	}

	var sv db.SchemaVersion
	var ok bool
	if rawVersion == "latest" {
		sv, ok = s.database.LatestVersion(subject)
	} else {
		version, err := strconv.Atoi(rawVersion)
		if err != nil || version < 1 {
			writeError(w, http.StatusUnprocessableEntity, errInvalidVersion,
				fmt.Sprintf("The specified version '%s' is not a valid version id.", rawVersion))
			return
		}
		sv, ok = s.database.FindSchemaVersion(subject, db.Version(version))
	}
	if !ok {
		writeError(w, http.StatusNotFound, errVersionNotFound,
			fmt.Sprintf("Version %s not found.", rawVersion))
		return
	}

	resp := map[string]any{
		"subject": string(sv.Subject),
		"version": int(sv.Version),
		"id":      int(sv.ID),
		"schema":  sv.Schema,
	}
	if sv.Type != db.DefaultSchemaType {
		resp["schemaType"] = sv.Type
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchemaByID(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	id, err := strconv.Atoi(rawID)
	if err != nil {
		writeError(w, http.StatusNotFound, errSchemaNotFound,
			fmt.Sprintf("Schema %s not found.", rawID))
		return
	}

	if body, ok := s.cache.Get(db.SchemaID(id)); ok {
		w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	schema, ok := s.database.FindSchema(db.SchemaID(id))
	if !ok {
		writeError(w, http.StatusNotFound, errSchemaNotFound,
			fmt.Sprintf("Schema %d not found.", id))
		return
	}

	resp := map[string]any{"schema": schema.Schema}
	if schema.Type != db.DefaultSchemaType {
		resp["schemaType"] = schema.Type
	}
	body, err := json.Marshal(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, 50001, "Error serializing schema")
		return
	}
	s.cache.Add(db.SchemaID(id), body)

	w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handleGlobalConfig(w http.ResponseWriter, _ *http.Request) {
	level, ok := s.database.GlobalCompatibility()
	if !ok {
		level = defaultCompatibility
	}
	writeJSON(w, http.StatusOK, map[string]string{"compatibilityLevel": level})
}

func (s *Server) handleSubjectConfig(w http.ResponseWriter, r *http.Request) {
	subject := db.Subject(chi.URLParam(r, "subject"))

	level, ok := s.database.Compatibility(subject)
	if !ok {
		writeError(w, http.StatusNotFound, errCompatNotConfigured,
			fmt.Sprintf("Subject '%s' does not have subject-level compatibility configured", subject))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"compatibilityLevel": level})
}
