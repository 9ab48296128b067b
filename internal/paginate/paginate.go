// Package paginate accumulates page-number API listings into one
// deduplicated, infinitely scrollable collection.
package paginate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/desurestar/RSOD-project/pkg/logger"
	"github.com/desurestar/RSOD-project/pkg/pagination"
)

// DefaultPrefetchThreshold is how close to the end a visible index must be
// before NearEnd asks for the next page.
const DefaultPrefetchThreshold = 2

var pageFetchTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "blogsync_page_fetch_total",
		Help: "Page fetches by loader and result",
	},
	[]string{"loader", "result"},
)

// Identified is implemented by every listed resource.
type Identified interface {
	ItemID() int64
}

// Fetcher requests one page of the collection under filter.
type Fetcher[T any, F any] func(ctx context.Context, filter F, page pagination.Request) (pagination.Page[T], error)

// Config tunes a Loader.
type Config struct {
	// Name labels metrics and logs.
	Name              string
	PageSize          int
	PrefetchThreshold int
}

// Loading reports which kind of fetch is pending.
type Loading struct {
	Initial bool
	More    bool
}

// Any reports whether a fetch is pending.
func (l Loading) Any() bool { return l.Initial || l.More }

// State is a snapshot of a Loader.
type State[T any] struct {
	Items      []T
	Page       int
	HasNext    bool
	Loading    Loading
	Err        error
	Generation uint64
}

// Loader owns one paged collection and its filter.
type Loader[T Identified, F any] struct {
	fetch  Fetcher[T, F]
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	filter     F
	items      []T
	seen       map[int64]struct{}
	page       int
	hasNext    bool
	loading    Loading
	err        error
	generation uint64
}

// New creates a loader positioned before its first page. Call Load(ctx, true)
// to fetch it.
func New[T Identified, F any](fetch Fetcher[T, F], filter F, cfg Config, l *slog.Logger) *Loader[T, F] {
	if cfg.PageSize < 1 {
		cfg.PageSize = pagination.DefaultPageSize
	}
	if cfg.PrefetchThreshold <= 0 {
		cfg.PrefetchThreshold = DefaultPrefetchThreshold
	}
	if cfg.Name == "" {
		cfg.Name = "collection"
	}
	return &Loader[T, F]{
		fetch:   fetch,
		cfg:     cfg,
		logger:  l,
		filter:  filter,
		seen:    make(map[int64]struct{}),
		page:    1,
		hasNext: true,
	}
}

// Load fetches the next page, or the first page again when reset is true.
//
// A reset always proceeds and supersedes any fetch in flight; its response
// replaces the items. Otherwise the call is ignored while a fetch is pending
// or when the server reported no further pages, and the response is appended
// without duplicating ids already held.
//
// A failed next-page fetch is recorded in State.Err and keeps the cursor so it
// can be retried; Load returns nil. A failed reset leaves the collection empty
// and returns the error.
func (l *Loader[T, F]) Load(ctx context.Context, reset bool) error {
	l.mu.Lock()
	if !reset && (l.loading.Any() || !l.hasNext) {
		l.mu.Unlock()
		return nil
	}
	if reset {
		l.generation++
		l.items = nil
		l.seen = make(map[int64]struct{})
		l.page = 1
		l.hasNext = true
		l.err = nil
		l.loading = Loading{Initial: true}
	} else {
		l.loading = Loading{More: true}
	}
	gen, page, filter := l.generation, l.page, l.filter
	l.mu.Unlock()

	req := pagination.Request{Page: page, PageSize: l.cfg.PageSize}
	result, err := l.fetch(ctx, filter, req)

	l.mu.Lock()
	defer l.mu.Unlock()

	log := logger.WithContext(ctx, l.logger)
	if gen != l.generation {
		pageFetchTotal.WithLabelValues(l.cfg.Name, "stale").Inc()
		log.DebugContext(ctx, "discarding stale page",
			slog.String("loader", l.cfg.Name),
			slog.Int("page", page),
			slog.Uint64("generation", gen),
		)
		return nil
	}
	l.loading = Loading{}

	if err != nil {
		pageFetchTotal.WithLabelValues(l.cfg.Name, "error").Inc()
		l.err = err
		log.WarnContext(ctx, "page fetch failed",
			slog.String("loader", l.cfg.Name),
			slog.Int("page", page),
			slog.String("error", err.Error()),
		)
		if reset {
			return fmt.Errorf("load %s: %w", l.cfg.Name, err)
		}
		return nil
	}

	pageFetchTotal.WithLabelValues(l.cfg.Name, "ok").Inc()
	for _, item := range result.Results {
		id := item.ItemID()
		if _, dup := l.seen[id]; dup {
			continue
		}
		l.seen[id] = struct{}{}
		l.items = append(l.items, item)
	}
	l.page = page + 1
	l.hasNext = result.HasNext()
	l.err = nil
	return nil
}

// SetFilter replaces the filter and reloads from the first page.
func (l *Loader[T, F]) SetFilter(ctx context.Context, filter F) error {
	l.mu.Lock()
	l.filter = filter
	l.mu.Unlock()
	return l.Load(ctx, true)
}

// Filter returns the active filter.
func (l *Loader[T, F]) Filter() F {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filter
}

// NearEnd loads the next page once lastVisible is within the prefetch
// threshold of the last held item.
func (l *Loader[T, F]) NearEnd(ctx context.Context, lastVisible int) error {
	l.mu.Lock()
	n := len(l.items)
	l.mu.Unlock()

	if lastVisible < n-l.cfg.PrefetchThreshold {
		return nil
	}
	return l.Load(ctx, false)
}

// Update replaces the item with id by fn's result. It reports whether the
// item was held.
func (l *Loader[T, F]) Update(id int64, fn func(T) T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, item := range l.items {
		if item.ItemID() == id {
			l.items[i] = fn(item)
			return true
		}
	}
	return false
}

// Find returns the item with id.
func (l *Loader[T, F]) Find(id int64) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range l.items {
		if item.ItemID() == id {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Clear drops every item and supersedes any fetch in flight.
func (l *Loader[T, F]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.items = nil
	l.seen = make(map[int64]struct{})
	l.page = 1
	l.hasNext = true
	l.loading = Loading{}
	l.err = nil
}

// State returns a snapshot. The Items slice is a copy.
func (l *Loader[T, F]) State() State[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State[T]{
		Items:      slices.Clone(l.items),
		Page:       l.page,
		HasNext:    l.hasNext,
		Loading:    l.loading,
		Err:        l.err,
		Generation: l.generation,
	}
}
