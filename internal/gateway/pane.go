// Package gateway exposes the chart service over REST and WebSocket. It
// owns the pane registry: every chart pane has exclusive ownership of its
// candle series and fetch state, mutated only under the pane's mutex.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chartdesk/internal/logger"
	"chartdesk/internal/model"
)

const defaultMaxPanes = 8

// CandleSource is the slice of the fetch pipeline the gateway needs.
type CandleSource interface {
	Fetch(ctx context.Context, key, symbol string, tf model.Timeframe) (model.Series, error)
	FetchOlder(ctx context.Context, key, symbol string, tf model.Timeframe, before int64, known map[int64]struct{}) (model.Series, error)
	SearchSymbols(ctx context.Context, query string) ([]model.SymbolInfo, error)
	Invalidate(key string)
}

// HistoryReader serves stored candles when no provider can.
type HistoryReader interface {
	ReadAnyCandles(symbol string, tf model.Timeframe, limit int) (model.Series, error)
	ReadAnyBefore(symbol string, tf model.Timeframe, before int64, limit int) (model.Series, error)
}

// IndicatorToggles holds per-pane overlay switches.
type IndicatorToggles struct {
	RSI           bool `json:"rsi"`
	Hull          bool `json:"hull"`
	Guppy         bool `json:"guppy"`
	KeyLevels     bool `json:"key_levels"`
	VolumeProfile bool `json:"volume_profile"`
}

// Pane is one chart: a symbol at a timeframe with its own series and fetch
// state. All fields below the mutex are guarded by it.
type Pane struct {
	ID string

	mu         sync.Mutex
	symbol     string
	timeframe  model.Timeframe
	indicators IndicatorToggles
	series     model.Series
	state      model.FetchState
}

// Registry manages the pane set and runs fetches on their behalf.
type Registry struct {
	source   CandleSource
	history  HistoryReader // optional
	hub      *Hub          // optional
	log      *slog.Logger
	maxPanes int

	// OnPaneCount reports registry size changes, e.g. to a gauge.
	OnPaneCount func(n int)

	mu     sync.RWMutex
	panes  map[string]*Pane
	nextID int

	// spawn kicks off a background reload; overridable in tests.
	spawn func(id string)
}

// NewRegistry creates an empty pane registry. history and hub may be nil.
func NewRegistry(source CandleSource, history HistoryReader, hub *Hub, log *slog.Logger) *Registry {
	r := &Registry{
		source:   source,
		history:  history,
		hub:      hub,
		log:      log,
		maxPanes: defaultMaxPanes,
		panes:    make(map[string]*Pane),
	}
	r.spawn = r.reloadAsync
	return r
}

// CreatePane registers a new pane and starts loading its series.
func (r *Registry) CreatePane(symbol string, tf model.Timeframe) (*Pane, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if !tf.Valid() {
		return nil, fmt.Errorf("unsupported timeframe %q", tf)
	}

	r.mu.Lock()
	if len(r.panes) >= r.maxPanes {
		r.mu.Unlock()
		return nil, fmt.Errorf("pane limit %d reached", r.maxPanes)
	}
	r.nextID++
	p := &Pane{
		ID:        fmt.Sprintf("pane-%d", r.nextID),
		symbol:    symbol,
		timeframe: tf,
		state:     model.NewFetchState(),
	}
	p.state.Loading = true
	r.panes[p.ID] = p
	count := len(r.panes)
	r.mu.Unlock()

	if r.OnPaneCount != nil {
		r.OnPaneCount(count)
	}
	r.log.Info("pane created", "pane", p.ID, "symbol", symbol, "tf", tf)
	r.spawn(p.ID)
	return p, nil
}

// ClosePane removes a pane and invalidates its in-flight fetches.
func (r *Registry) ClosePane(id string) error {
	r.mu.Lock()
	_, ok := r.panes[id]
	if ok {
		delete(r.panes, id)
	}
	count := len(r.panes)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("pane %s not found", id)
	}

	r.source.Invalidate(id)
	if r.OnPaneCount != nil {
		r.OnPaneCount(count)
	}
	r.log.Info("pane closed", "pane", id)
	return nil
}

// Pane looks up a pane by id.
func (r *Registry) Pane(id string) (*Pane, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.panes[id]
	return p, ok
}

// Panes returns a snapshot of every pane, ordered by id.
func (r *Registry) Panes() []*Pane {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pane, 0, len(r.panes))
	for _, p := range r.panes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ID, out[j].ID
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return out
}

// SetSymbol switches a pane to a new symbol and reloads it. The old series
// is dropped immediately so stale candles are never rendered under the new
// symbol.
func (r *Registry) SetSymbol(id, symbol string) error {
	p, ok := r.Pane(id)
	if !ok {
		return fmt.Errorf("pane %s not found", id)
	}
	if symbol == "" {
		return fmt.Errorf("symbol required")
	}

	p.mu.Lock()
	p.symbol = symbol
	p.series = nil
	p.state = model.NewFetchState()
	p.state.Loading = true
	p.mu.Unlock()

	r.spawn(id)
	return nil
}

// SetTimeframe switches a pane's granularity and reloads it.
func (r *Registry) SetTimeframe(id string, tf model.Timeframe) error {
	if !tf.Valid() {
		return fmt.Errorf("unsupported timeframe %q", tf)
	}
	p, ok := r.Pane(id)
	if !ok {
		return fmt.Errorf("pane %s not found", id)
	}

	p.mu.Lock()
	p.timeframe = tf
	p.series = nil
	p.state = model.NewFetchState()
	p.state.Loading = true
	p.mu.Unlock()

	r.spawn(id)
	return nil
}

// SetIndicators replaces a pane's overlay toggles.
func (r *Registry) SetIndicators(id string, t IndicatorToggles) error {
	p, ok := r.Pane(id)
	if !ok {
		return fmt.Errorf("pane %s not found", id)
	}
	p.mu.Lock()
	p.indicators = t
	p.mu.Unlock()
	r.publish(p)
	return nil
}

// Reload fetches the pane's series synchronously and applies the result.
// Superseded completions are dropped without touching pane state.
func (r *Registry) Reload(ctx context.Context, id string) error {
	p, ok := r.Pane(id)
	if !ok {
		return fmt.Errorf("pane %s not found", id)
	}

	p.mu.Lock()
	symbol, tf := p.symbol, p.timeframe
	p.state.Loading = true
	p.state.Error = ""
	p.state.Version++
	p.mu.Unlock()

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(id, time.Now()))
	series, err := r.source.Fetch(ctx, id, symbol, tf)
	if errors.Is(err, model.ErrSuperseded) {
		return nil
	}
	lg := r.log
	if attrs := logger.LogWithTrace(ctx); attrs != nil {
		lg = lg.With(attrs...)
	}
	if err != nil {
		// Offline fallback: serve whatever the local store holds.
		if stored := r.readStored(symbol, tf); len(stored) > 0 {
			lg.Warn("serving stored history, all providers failed",
				"pane", id, "symbol", symbol, "err", err)
			r.apply(p, symbol, tf, stored, "")
			return nil
		}
		r.apply(p, symbol, tf, nil, err.Error())
		return err
	}

	lg.Info("pane loaded", "pane", id, "symbol", symbol, "tf", tf, "bars", len(series))
	r.apply(p, symbol, tf, series, "")
	return nil
}

// LoadOlder extends the pane's history backward. The local store is
// consulted first; the network only when it cannot fill the page. An empty
// result flips the sticky has-more-history flag off.
func (r *Registry) LoadOlder(ctx context.Context, id string) error {
	p, ok := r.Pane(id)
	if !ok {
		return fmt.Errorf("pane %s not found", id)
	}

	p.mu.Lock()
	if p.state.LoadingMore || !p.state.HasMoreHistory || len(p.series) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.state.LoadingMore = true
	symbol, tf := p.symbol, p.timeframe
	before := p.series.EarliestTime()
	known := make(map[int64]struct{}, len(p.series))
	for _, c := range p.series {
		known[c.Time] = struct{}{}
	}
	p.mu.Unlock()

	older, err := r.readStoredBefore(symbol, tf, before, known)
	if len(older) == 0 {
		older, err = r.source.FetchOlder(ctx, id, symbol, tf, before, known)
		if errors.Is(err, model.ErrSuperseded) {
			return nil
		}
	}

	p.mu.Lock()
	p.state.LoadingMore = false
	if err != nil {
		p.state.Error = err.Error()
		p.mu.Unlock()
		return err
	}
	if p.symbol != symbol || p.timeframe != tf {
		// Pane was reconfigured while the backfill ran.
		p.mu.Unlock()
		return nil
	}
	if len(older) == 0 {
		p.state.HasMoreHistory = false
	} else {
		merged := append(older, p.series...)
		merged.SortByTime()
		p.series = merged
	}
	p.mu.Unlock()

	r.publish(p)
	return nil
}

// SearchSymbols passes autocomplete queries through to the fetch pipeline.
func (r *Registry) SearchSymbols(ctx context.Context, query string) ([]model.SymbolInfo, error) {
	return r.source.SearchSymbols(ctx, query)
}

func (r *Registry) reloadAsync(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.Reload(ctx, id); err != nil {
			r.log.Warn("pane reload failed", "pane", id, "err", err)
		}
	}()
}

// apply installs a fetch result, unless the pane was reconfigured while the
// fetch was in flight.
func (r *Registry) apply(p *Pane, symbol string, tf model.Timeframe, series model.Series, errMsg string) {
	p.mu.Lock()
	if p.symbol != symbol || p.timeframe != tf {
		p.mu.Unlock()
		return
	}
	p.state.Loading = false
	p.state.Error = errMsg
	if errMsg == "" {
		p.series = series
	}
	p.mu.Unlock()

	r.publish(p)
}

func (r *Registry) readStored(symbol string, tf model.Timeframe) model.Series {
	if r.history == nil {
		return nil
	}
	stored, err := r.history.ReadAnyCandles(symbol, tf, 300)
	if err != nil {
		r.log.Warn("store read failed", "symbol", symbol, "err", err)
		return nil
	}
	return stored
}

func (r *Registry) readStoredBefore(symbol string, tf model.Timeframe, before int64, known map[int64]struct{}) (model.Series, error) {
	if r.history == nil {
		return nil, nil
	}
	stored, err := r.history.ReadAnyBefore(symbol, tf, before, 300)
	if err != nil {
		r.log.Warn("store read failed", "symbol", symbol, "err", err)
		return nil, nil
	}
	out := stored[:0]
	for _, c := range stored {
		if _, dup := known[c.Time]; !dup {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Registry) publish(p *Pane) {
	if r.hub == nil {
		return
	}
	r.hub.PublishPane(p.Snapshot())
}

// Snapshot copies the pane's current state for serialization. The candle
// slice is shared read-only with the encoder; the pane never mutates it in
// place, only replaces it.
func (p *Pane) Snapshot() PaneSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PaneSnapshot{
		ID:         p.ID,
		Symbol:     p.symbol,
		Timeframe:  p.timeframe,
		Indicators: p.indicators,
		Candles:    p.series,
		State:      p.state,
	}
}

// Series returns the pane's current candles for computation endpoints.
func (p *Pane) SeriesSnapshot() model.Series {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.series
}
