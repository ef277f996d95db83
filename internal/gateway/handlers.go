package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"chartdesk/internal/indicator"
	"chartdesk/internal/metrics"
	"chartdesk/internal/model"
	"chartdesk/internal/volprofile"
)

const (
	defaultRSIPeriod  = 14
	defaultHullPeriod = 55
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Deps bundles what the HTTP layer needs. Metrics may be nil.
type Deps struct {
	Registry *Registry
	Hub      *Hub
	Metrics  *metrics.Metrics
	Start    time.Time
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		d.Hub.HandleWSRequest(conn)
	})

	// REST: pane collection. GET lists, POST creates.
	mux.HandleFunc("/api/panes", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)

		case http.MethodGet:
			panes := d.Registry.Panes()
			out := make([]PaneSnapshot, len(panes))
			for i, p := range panes {
				out[i] = p.Snapshot()
			}
			json.NewEncoder(w).Encode(out)

		case http.MethodPost:
			var req CreatePaneRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON")
				return
			}
			if req.Timeframe == "" {
				req.Timeframe = model.TF1h
			}
			p, err := d.Registry.CreatePane(req.Symbol, req.Timeframe)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			json.NewEncoder(w).Encode(p.Snapshot())

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	// REST: single pane snapshot
	mux.HandleFunc("/api/pane", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		p, ok := lookupPane(w, r, d.Registry)
		if !ok {
			return
		}
		json.NewEncoder(w).Encode(p.Snapshot())
	})

	// REST: reconfigure a pane (symbol, timeframe, indicator toggles)
	mux.HandleFunc("/api/pane/update", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		p, ok := lookupPane(w, r, d.Registry)
		if !ok {
			return
		}

		var req UpdatePaneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Symbol != "" {
			if err := d.Registry.SetSymbol(p.ID, req.Symbol); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if req.Timeframe != "" {
			if err := d.Registry.SetTimeframe(p.ID, req.Timeframe); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if req.Indicators != nil {
			d.Registry.SetIndicators(p.ID, *req.Indicators)
		}
		json.NewEncoder(w).Encode(p.Snapshot())
	})

	// REST: close a pane
	mux.HandleFunc("/api/pane/close", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		p, ok := lookupPane(w, r, d.Registry)
		if !ok {
			return
		}
		if err := d.Registry.ClosePane(p.ID); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if d.Hub != nil {
			d.Hub.DropPane(p.ID)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// REST: extend history backward (scroll-back)
	mux.HandleFunc("/api/pane/history", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		p, ok := lookupPane(w, r, d.Registry)
		if !ok {
			return
		}
		if err := d.Registry.LoadOlder(r.Context(), p.ID); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		json.NewEncoder(w).Encode(p.Snapshot())
	})

	// REST: indicator overlays for a pane's current series
	mux.HandleFunc("/api/pane/overlays", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		p, ok := lookupPane(w, r, d.Registry)
		if !ok {
			return
		}

		series := p.SeriesSnapshot()
		snap := p.Snapshot()
		payload := OverlayPayload{}

		if snap.Indicators.RSI {
			payload.RSI = timed(d.Metrics, "rsi", func() []indicator.RSIPoint {
				return indicator.RSI(series, queryInt(r, "rsi_period", defaultRSIPeriod))
			})
		}
		if snap.Indicators.Hull {
			payload.Hull = timed(d.Metrics, "hull", func() []indicator.HullPoint {
				return indicator.Hull(series, queryInt(r, "hull_period", defaultHullPeriod))
			})
		}
		if snap.Indicators.Guppy {
			payload.Guppy = timed(d.Metrics, "guppy", func() []indicator.GuppyPoint {
				return indicator.Guppy(series)
			})
		}
		if snap.Indicators.KeyLevels {
			payload.KeyLevels = timed(d.Metrics, "key_levels", func() []indicator.KeyLevel {
				return indicator.KeyLevels(series)
			})
		}
		json.NewEncoder(w).Encode(payload)
	})

	// REST: visible-range volume profile
	mux.HandleFunc("/api/pane/profile", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		p, ok := lookupPane(w, r, d.Registry)
		if !ok {
			return
		}

		series := p.SeriesSnapshot()
		from := queryFloat(r, "from", 0)
		to := queryFloat(r, "to", float64(len(series)-1))
		visible := series.Slice(from, to)

		start := time.Now()
		profile := volprofile.Compute(visible)
		if d.Metrics != nil {
			d.Metrics.ProfileDur.Observe(time.Since(start).Seconds())
		}

		json.NewEncoder(w).Encode(ProfileResponse{
			PaneID:  p.ID,
			From:    from,
			To:      to,
			Bars:    len(visible),
			Profile: profile,
		})
	})

	// REST: symbol autocomplete
	mux.HandleFunc("/api/symbols", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query().Get("q")
		if q == "" {
			json.NewEncoder(w).Encode([]model.SymbolInfo{})
			return
		}
		results, err := d.Registry.SearchSymbols(r.Context(), q)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if results == nil {
			results = []model.SymbolInfo{}
		}
		json.NewEncoder(w).Encode(results)
	})

	// REST: supported timeframes
	mux.HandleFunc("/api/timeframes", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]model.Timeframe{
			model.TF1m, model.TF5m, model.TF15m, model.TF1h,
			model.TF4h, model.TF1d, model.TF1w,
		})
	})

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"panes":      len(d.Registry.Panes()),
			"ws_clients": d.Hub.ClientCount(),
			"uptime_sec": int64(time.Since(d.Start).Seconds()),
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func lookupPane(w http.ResponseWriter, r *http.Request, reg *Registry) (*Pane, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return nil, false
	}
	p, ok := reg.Pane(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pane "+id+" not found")
		return nil, false
	}
	return p, true
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string, def int) int {
	if s := r.URL.Query().Get(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	if s := r.URL.Query().Get(name); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return def
}

// timed runs an indicator computation under its duration histogram.
func timed[T any](m *metrics.Metrics, name string, fn func() []T) []T {
	if m == nil {
		return fn()
	}
	timer := prometheus.NewTimer(m.ComputeDur.WithLabelValues(name))
	defer timer.ObserveDuration()
	m.ComputedTotal.WithLabelValues(name).Inc()
	return fn()
}
