package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/wardenbot/warden/internal/migrate"
	"github.com/wardenbot/warden/internal/schema"
)

// Handler serves the read-only operator surface: declared table definitions,
// their migration status, and snapshot history.
type Handler struct {
	registry    *schema.Registry
	store       *migrate.Store
	rateLimiter *RateLimiter
}

// NewHandler creates the API handler.
func NewHandler(registry *schema.Registry, store *migrate.Store) *Handler {
	return &Handler{
		registry:    registry,
		store:       store,
		rateLimiter: NewRateLimiter(100, time.Minute), // 100 requests per minute
	}
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/tables", h.handleListTables)
	apiMux.HandleFunc("GET /api/tables/{tableName}/history", h.handleTableHistory)
	apiMux.HandleFunc("GET /api/types", h.handleGetTypes)

	// 1MB limit for request bodies
	protected := LimitBodySize(h.rateLimiter.Wrap(apiMux), 1<<20)
	mux.Handle("/api/", protected)
}

// Stop stops background goroutines. Should be called on graceful shutdown.
func (h *Handler) Stop() {
	h.rateLimiter.Stop()
}

// API Response types for consistent format
type apiResponse[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for API responses
const (
	ErrInvalidTableName = "INVALID_TABLE_NAME"
	ErrUnknownTable     = "UNKNOWN_TABLE"
	ErrStoreError       = "STORE_ERROR"
	ErrStoreCorrupt     = "STORE_CORRUPT"
)

// respondJSON sends a successful JSON response with type-safe data
func respondJSON[T any](w http.ResponseWriter, data T) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	resp := apiResponse[T]{Success: true, Data: data}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// errorResponse is the response type for errors (no data field)
type errorResponse struct {
	Success bool      `json:"success"`
	Error   *apiError `json:"error,omitempty"`
}

// respondError sends an error JSON response (logs details server-side, sends safe message to client)
func (h *Handler) respondError(w http.ResponseWriter, code string, clientMessage string, status int, internalErr error) {
	if internalErr != nil {
		log.Printf("[%s] %s: %v", code, clientMessage, internalErr)
	} else {
		log.Printf("[%s] %s", code, clientMessage)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	resp := errorResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: clientMessage},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode error response: %v", err)
	}
}

type tableStatus struct {
	Name           string   `json:"name"`
	Extension      string   `json:"extension"`
	CurrentVersion int      `json:"currentVersion"`
	PendingChanges []string `json:"pendingChanges,omitempty"`
}

type tablesData struct {
	Tables []tableStatus `json:"tables"`
}

func (h *Handler) handleListTables(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.All()
	statuses := make([]tableStatus, 0, len(defs))
	for _, def := range defs {
		status := tableStatus{Name: def.Name, Extension: def.Extension}

		version, err := h.store.CurrentVersion(def.Name)
		if err != nil {
			h.storeError(w, def.Name, err)
			return
		}
		status.CurrentVersion = version

		applied := schema.Table{Name: def.Name}
		if version > 0 {
			snaps, err := h.store.LoadSnapshots(def.Name)
			if err != nil {
				h.storeError(w, def.Name, err)
				return
			}
			if version > len(snaps) {
				h.storeError(w, def.Name, fmt.Errorf(
					"%w: current pointer at version %d but history has %d snapshots",
					migrate.ErrStoreCorrupt, version, len(snaps)))
				return
			}
			applied = snaps[version-1].Table
		}
		for _, change := range schema.Diff(applied, def) {
			status.PendingChanges = append(status.PendingChanges, change.String())
		}
		statuses = append(statuses, status)
	}
	respondJSON(w, tablesData{Tables: statuses})
}

type historyData struct {
	Table          string             `json:"table"`
	CurrentVersion int                `json:"currentVersion"`
	Snapshots      []migrate.Snapshot `json:"snapshots"`
}

func (h *Handler) handleTableHistory(w http.ResponseWriter, r *http.Request) {
	tableName := r.PathValue("tableName")
	if !schema.ValidIdentifier(tableName) {
		h.respondError(w, ErrInvalidTableName, "Invalid table name format", http.StatusBadRequest, nil)
		return
	}
	if _, ok := h.registry.Lookup(tableName); !ok {
		h.respondError(w, ErrUnknownTable, "Table is not declared by any extension", http.StatusNotFound, nil)
		return
	}

	snaps, err := h.store.LoadSnapshots(tableName)
	if err != nil {
		h.storeError(w, tableName, err)
		return
	}
	version, err := h.store.CurrentVersion(tableName)
	if err != nil {
		h.storeError(w, tableName, err)
		return
	}

	respondJSON(w, historyData{Table: tableName, CurrentVersion: version, Snapshots: snaps})
}

type typesData struct {
	Types []schema.TypeInfo `json:"types"`
}

func (h *Handler) handleGetTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, typesData{Types: schema.AllowedTypes})
}

func (h *Handler) storeError(w http.ResponseWriter, tableName string, err error) {
	if errors.Is(err, migrate.ErrStoreCorrupt) {
		h.respondError(w, ErrStoreCorrupt, "Migration history for "+tableName+" is corrupt", http.StatusInternalServerError, err)
		return
	}
	h.respondError(w, ErrStoreError, "Failed to read migration state for "+tableName, http.StatusInternalServerError, err)
}
