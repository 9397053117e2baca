package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/transferwatch/transferwatch/internal/logger"
	"github.com/transferwatch/transferwatch/internal/store"
)

// Query is the read-only store surface the API serves.
type Query interface {
	QueryEvents(ctx context.Context, filter store.EventFilter) ([]*store.TransferEvent, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Handler handles HTTP requests for the API.
type Handler struct {
	query Query
	log   *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(query Query, log *logger.Logger) *Handler {
	return &Handler{
		query: query,
		log:   log,
	}
}

// GetEvents serves GET /api/v1/events with optional address,
// from_block, to_block and limit query parameters.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid query parameters: %v", err))
		return
	}

	events, err := h.query.QueryEvents(r.Context(), *filter)
	if err != nil {
		h.log.Errorf("failed to query events: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	respondJSON(w, http.StatusOK, EventsResponse{
		Events: NewEvents(events),
		Count:  len(events),
	})
}

// GetStats serves GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.query.Stats(r.Context())
	if err != nil {
		h.log.Errorf("failed to query stats: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to query stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func parseEventFilter(r *http.Request) (*store.EventFilter, error) {
	q := r.URL.Query()
	filter := &store.EventFilter{}

	if v := q.Get("address"); v != "" {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("address %q is not a valid hex address", v)
		}
		addr := common.HexToAddress(v)
		filter.Address = &addr
	}

	if v := q.Get("from_block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("from_block: %w", err)
		}
		filter.FromBlock = &n
	}

	if v := q.Get("to_block"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("to_block: %w", err)
		}
		filter.ToBlock = &n
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("limit: %w", err)
		}
		if n < 0 {
			return nil, fmt.Errorf("limit must be non-negative")
		}
		filter.Limit = n
	}

	return filter, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
