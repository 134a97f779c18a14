package notification

import (
	"log/slog"
	"sync"
	"time"
)

// Disposition is the batching engine's decision for an enqueued request.
type Disposition int

const (
	// DispositionImmediate means the request bypasses batching and should
	// be dispatched now.
	DispositionImmediate Disposition = iota
	// DispositionQueued means the request was added to a batch window and
	// will be delivered on flush.
	DispositionQueued
)

// BatchItem is one pending request held in a batch window.
type BatchItem struct {
	NotificationID string
	RecipientID    string
	Category       Category
	Template       string
	Variables      map[string]string
	Channels       []Channel
	EnqueuedAt     time.Time
}

// FlushFunc receives the contents of a flushed window, in enqueue order.
// It runs on its own goroutine; implementations own all further delivery.
type FlushFunc func(recipientID string, category Category, items []*BatchItem)

// BatcherConfig controls window behavior.
type BatcherConfig struct {
	Enabled      bool
	Interval     time.Duration
	MaxBatchSize int
	// Categories is the set of batchable categories. Requests for other
	// categories always dispatch immediately.
	Categories map[Category]bool
}

// batchWindow is the holding area for one (recipient, category) key. At most
// one open window exists per key; flush empties and removes it, freeing the
// key to reopen.
type batchWindow struct {
	items    []*BatchItem
	openedAt time.Time
	timer    *time.Timer
}

// Batcher groups queued notifications per (recipient, category) within a time
// window, flushing on age or size. Enqueue returns immediately; flushes run
// on timer goroutines.
type Batcher struct {
	cfg   BatcherConfig
	flush FlushFunc

	mu      sync.Mutex
	windows map[string]*batchWindow
	closed  bool
}

// NewBatcher creates a batching engine. flush must not be nil when batching
// is enabled.
func NewBatcher(cfg BatcherConfig, flush FlushFunc) *Batcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 10
	}
	return &Batcher{
		cfg:     cfg,
		flush:   flush,
		windows: make(map[string]*batchWindow),
	}
}

// Batchable reports whether requests of this category and priority are
// eligible for batching.
func (b *Batcher) Batchable(cat Category, prio Priority) bool {
	if !b.cfg.Enabled || prio.BypassesBatching() {
		return false
	}
	return b.cfg.Categories[cat]
}

func batchKey(recipientID string, cat Category) string {
	return recipientID + "/" + string(cat)
}

// Enqueue adds the item to its (recipient, category) window, opening one if
// needed. Reaching MaxBatchSize flushes immediately; otherwise the window's
// timer flushes it after the configured interval.
func (b *Batcher) Enqueue(item *BatchItem) Disposition {
	if !b.cfg.Enabled || !b.cfg.Categories[item.Category] {
		return DispositionImmediate
	}

	key := batchKey(item.RecipientID, item.Category)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return DispositionImmediate
	}

	w, ok := b.windows[key]
	if !ok {
		w = &batchWindow{openedAt: item.EnqueuedAt}
		w.timer = time.AfterFunc(b.cfg.Interval, func() { b.flushKey(key) })
		b.windows[key] = w
	}
	w.items = append(w.items, item)

	if len(w.items) >= b.cfg.MaxBatchSize {
		// Size threshold hit: detach and flush now, cancelling the timer.
		w.timer.Stop()
		delete(b.windows, key)
		items := w.items
		b.mu.Unlock()
		go b.runFlush(item.RecipientID, item.Category, items)
		return DispositionQueued
	}

	b.mu.Unlock()
	return DispositionQueued
}

// flushKey flushes the window for key if it is still open. Flushing an
// already-flushed (absent) key is a no-op.
func (b *Batcher) flushKey(key string) {
	b.mu.Lock()
	w, ok := b.windows[key]
	if !ok || len(w.items) == 0 {
		delete(b.windows, key)
		b.mu.Unlock()
		return
	}
	delete(b.windows, key)
	items := w.items
	b.mu.Unlock()

	b.runFlush(items[0].RecipientID, items[0].Category, items)
}

func (b *Batcher) runFlush(recipientID string, cat Category, items []*BatchItem) {
	if b.flush == nil {
		slog.Warn("batch flushed with no flush handler", "recipient", recipientID, "category", cat, "count", len(items))
		return
	}
	b.flush(recipientID, cat, items)
}

// FlushAll synchronously flushes every open window. Used on shutdown so
// pending items are not silently dropped.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	pending := make([]*batchWindow, 0, len(b.windows))
	for key, w := range b.windows {
		w.timer.Stop()
		pending = append(pending, w)
		delete(b.windows, key)
	}
	b.mu.Unlock()

	for _, w := range pending {
		if len(w.items) > 0 {
			b.runFlush(w.items[0].RecipientID, w.items[0].Category, w.items)
		}
	}
}

// Close stops accepting new items and flushes what remains.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.FlushAll()
}

// OpenWindows reports the number of currently open batch windows.
func (b *Batcher) OpenWindows() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}
