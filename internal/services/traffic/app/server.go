// Package app exposes the traffic service's observer surfaces: the /ws push
// channel and the JSON query facade, both reading the same aggregation
// engine state.
package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/louisbranch/storepulse/internal/services/traffic/domain"
	"github.com/louisbranch/storepulse/internal/services/traffic/engine"
	"golang.org/x/net/websocket"
)

// Server wires the aggregation engine to polling and subscribing observers.
type Server struct {
	engine *engine.Engine
	hub    *hub
}

// NewServer creates the observer surface over an engine.
func NewServer(eng *engine.Engine) *Server {
	return &Server{engine: eng, hub: newHub()}
}

// HandleDelta processes one delta and fans the result out to the store's
// subscribers. It is the sink the event source adapter drives.
func (s *Server) HandleDelta(ctx context.Context, delta domain.TrafficDelta) error {
	if _, err := s.engine.Process(ctx, delta); err != nil {
		return err
	}
	s.hub.publish(delta.StoreID, outboundFrame{
		Type:    frameTypeDelta,
		Payload: toDeltaView(delta),
	})
	return nil
}

// Handler returns the HTTP surface: the query facade under /api, the push
// channel at /ws, and a liveness probe at /up.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/stats/{storeID}", s.handleStats)
	mux.HandleFunc("GET /api/events/{storeID}", s.handleEvents)
	mux.HandleFunc("GET /api/historical/{storeID}", s.handleHistorical)
	mux.HandleFunc("GET /api/hourly/{storeID}", s.handleHourly)

	wsHandler := websocket.Handler(s.handleWSConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toStatsView(s.engine.CurrentStats(storeID)))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromPath(w, r)
	if !ok {
		return
	}
	limit := intQuery(r, "limit", engine.DefaultRecentLimit)

	events, err := s.engine.RecentEvents(r.Context(), storeID, limit)
	if err != nil {
		log.Printf("traffic: recent events for store %d: %v", storeID, err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, toEventViews(events))
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromPath(w, r)
	if !ok {
		return
	}
	summary, err := s.engine.HistoricalSummary(r.Context(), storeID)
	if err != nil {
		log.Printf("traffic: historical summary for store %d: %v", storeID, err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load historical stats")
		return
	}
	writeJSON(w, http.StatusOK, toHistoricalView(summary))
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromPath(w, r)
	if !ok {
		return
	}
	hours := intQuery(r, "hours", engine.DefaultWindowHours)

	buckets, err := s.engine.HourlySeries(r.Context(), storeID, hours)
	if err != nil {
		log.Printf("traffic: hourly series for store %d: %v", storeID, err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load hourly traffic")
		return
	}
	writeJSON(w, http.StatusOK, toBucketViews(buckets))
}

// initialData builds the baseline snapshot for a newly subscribed observer.
func (s *Server) initialData(ctx context.Context, storeID int) (outboundFrame, error) {
	events, err := s.engine.RecentEvents(ctx, storeID, engine.DefaultRecentLimit)
	if err != nil {
		return outboundFrame{}, err
	}
	summary, err := s.engine.HistoricalSummary(ctx, storeID)
	if err != nil {
		return outboundFrame{}, err
	}
	buckets, err := s.engine.HourlySeries(ctx, storeID, engine.DefaultWindowHours)
	if err != nil {
		return outboundFrame{}, err
	}
	return outboundFrame{
		Type: frameTypeInitialData,
		Payload: initialDataView{
			CurrentStats:    toStatsView(s.engine.CurrentStats(storeID)),
			RecentEvents:    toEventViews(events),
			HistoricalStats: toHistoricalView(summary),
			HourlyTraffic:   toBucketViews(buckets),
		},
	}, nil
}

func storeIDFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	storeID, err := strconv.Atoi(r.PathValue("storeID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid store id")
		return 0, false
	}
	return storeID, true
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
