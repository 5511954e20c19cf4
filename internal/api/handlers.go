package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"leaderboard/internal/ranking"
)

// routerHandlers holds the dependencies routes are built against. Kept
// as a narrow struct (not the full Server) so handlers can be exercised
// against a fake Index in tests without a running server.
type routerHandlers struct {
	index IndexInterface
}

// IndexInterface is the subset of ranking.Index the HTTP surface calls.
// Defining it locally (rather than depending on ranking.Index directly)
// lets tests substitute a fake without constructing a real ranked index.
type IndexInterface interface {
	Update(customerID, delta int64) int64
	RanksByRange(start, end int) []ranking.RankedEntry
	RanksByCustomer(customerID int64, high, low int) []ranking.RankedEntry
}

// handleUpdateScore implements POST /customer/{customerid}/score/{delta}.
func (h *routerHandlers) handleUpdateScore(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerid"), 10, 64)
	if err != nil || customerID <= 0 {
		writeError(w, "customerid must be a positive integer", http.StatusBadRequest)
		return
	}

	delta, err := strconv.ParseInt(chi.URLParam(r, "delta"), 10, 64)
	if err != nil {
		writeError(w, "delta must be an integer", http.StatusBadRequest)
		return
	}
	if delta < -1000 || delta > 1000 {
		writeError(w, "delta must be in [-1000, 1000]", http.StatusBadRequest)
		return
	}

	start := time.Now()
	newScore := h.index.Update(customerID, delta)
	recordUpdate(time.Since(start))

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "%d", newScore)
}

// handleGetLeaderboard implements GET /leaderboard?start=S&end=E.
func (h *routerHandlers) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	start, err := parseIntParam(r, "start", 1)
	if err != nil || start < 1 {
		writeError(w, "start must be a positive integer", http.StatusBadRequest)
		return
	}
	end, err := parseIntParam(r, "end", start)
	if err != nil || end < 1 {
		writeError(w, "end must be a positive integer", http.StatusBadRequest)
		return
	}
	if end < start {
		writeError(w, "end must be >= start", http.StatusBadRequest)
		return
	}

	began := time.Now()
	entries := h.index.RanksByRange(start, end)
	recordRangeQuery(time.Since(began))

	writeJSON(w, leaderboardResponse(entries))
}

// handleGetCustomerWindow implements
// GET /leaderboard/{customerid}?high=H&low=L.
func (h *routerHandlers) handleGetCustomerWindow(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerid"), 10, 64)
	if err != nil || customerID <= 0 {
		writeError(w, "customerid must be a positive integer", http.StatusBadRequest)
		return
	}

	high, err := parseIntParam(r, "high", 0)
	if err != nil || high < 0 {
		writeError(w, "high must be a non-negative integer", http.StatusBadRequest)
		return
	}
	low, err := parseIntParam(r, "low", 0)
	if err != nil || low < 0 {
		writeError(w, "low must be a non-negative integer", http.StatusBadRequest)
		return
	}

	began := time.Now()
	entries := h.index.RanksByCustomer(customerID, high, low)
	recordRangeQuery(time.Since(began))

	writeJSON(w, leaderboardResponse(entries))
}

func parseIntParam(r *http.Request, name string, defaultVal int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func leaderboardResponse(entries []ranking.RankedEntry) []map[string]interface{} {
	result := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		result = append(result, map[string]interface{}{
			"customerId": e.CustomerID,
			"score":      e.Score,
			"rank":       e.Rank,
		})
	}
	return result
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
