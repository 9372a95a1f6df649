// Package queue implements the in-process mint queue: FIFO admission, a
// single tick-driven worker, head reinsertion on retry, and position/ETA
// projection for status queries.
package queue

import (
	"container/list"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQueueFull        = errors.New("queue at capacity")
	ErrDuplicatePending = errors.New("payer already has a pending item")
)

// Executor performs the actual mint work for one item. Implementations must
// respect ctx: the queue enforces a wall-clock timeout per attempt.
//
// Forget is called once per item when it reaches a terminal state and will
// never be executed again; implementations release any per-item state there.
type Executor interface {
	Execute(ctx context.Context, item *Item) (*Result, error)
	Forget(itemID string)
}

// Options tune queue behavior. Zero values fall back to defaults.
type Options struct {
	MaxSize      int
	Tick         time.Duration
	ItemTimeout  time.Duration
	MaxRetries   int
	TerminalTTL  time.Duration
	EventsBuffer int
}

func (o *Options) applyDefaults() {
	if o.MaxSize <= 0 {
		o.MaxSize = 100
	}
	if o.Tick <= 0 {
		o.Tick = 5 * time.Second
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 2 * time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.TerminalTTL <= 0 {
		o.TerminalTTL = 10 * time.Minute
	}
	if o.EventsBuffer <= 0 {
		o.EventsBuffer = 64
	}
}

type terminalEntry struct {
	item *Item
	at   time.Time
}

// Queue is the single-worker mint queue. At most one item is ever in
// StatusProcessing across the process.
type Queue struct {
	opts Options
	exec Executor
	log  *zap.Logger

	mu         sync.Mutex
	pending    *list.List               // of *Item
	byPayer    map[string]*list.Element // pending items only
	processing *Item
	terminal   map[string]*terminalEntry // latest terminal item per payer

	// running average of successful processing durations, for ETA projection
	avgProcess   time.Duration
	processedCnt int64

	events chan Event

	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(exec Executor, opts Options, log *zap.Logger) *Queue {
	opts.applyDefaults()
	return &Queue{
		opts:     opts,
		exec:     exec,
		log:      log,
		pending:  list.New(),
		byPayer:  make(map[string]*list.Element),
		terminal: make(map[string]*terminalEntry),
		events:   make(chan Event, opts.EventsBuffer),
	}
}

// Events delivers a snapshot for every terminal transition. Slow consumers
// drop events rather than stall the worker.
func (q *Queue) Events() <-chan Event { return q.events }

// Start launches the worker loop. Safe to call once.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.runCtx, q.cancel = context.WithCancel(context.Background())
	q.done = make(chan struct{})
	go q.run()
}

// Stop cancels the worker and waits for the loop to exit. An in-flight
// executor attempt sees its context cancelled.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	<-done
}

func (q *Queue) run() {
	defer close(q.done)

	ticker := time.NewTicker(q.opts.Tick)
	defer ticker.Stop()

	q.log.Info("mint queue started",
		zap.Duration("tick", q.opts.Tick),
		zap.Int("maxSize", q.opts.MaxSize),
		zap.Int("maxRetries", q.opts.MaxRetries))

	for {
		select {
		case <-q.runCtx.Done():
			q.log.Info("mint queue stopped")
			return
		case <-ticker.C:
			q.tick()
		}
	}
}

// tick dequeues the head item if the worker is idle and runs it to completion
// before returning. Running inline keeps the single-processing invariant
// trivially true.
func (q *Queue) tick() {
	q.evictTerminal()

	q.mu.Lock()
	if q.processing != nil || q.pending.Len() == 0 {
		q.mu.Unlock()
		return
	}
	el := q.pending.Front()
	q.pending.Remove(el)
	item := el.Value.(*Item)
	delete(q.byPayer, item.Payer)
	item.Status = StatusProcessing
	item.StartedAt = time.Now()
	q.processing = item
	q.mu.Unlock()

	q.process(item)
}

func (q *Queue) process(item *Item) {
	ctx, cancel := context.WithTimeout(q.runCtx, q.opts.ItemTimeout)
	start := time.Now()
	result, err := q.exec.Execute(ctx, item)
	cancel()
	elapsed := time.Since(start)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = nil

	if err == nil {
		item.Status = StatusCompleted
		item.Result = result
		item.CompletedAt = time.Now()
		q.recordProcessing(elapsed)
		q.retain(item)
		q.exec.Forget(item.ID)
		q.log.Info("mint completed",
			zap.String("itemId", item.ID),
			zap.String("payer", item.Payer),
			zap.String("tokenId", result.TokenID),
			zap.Duration("took", elapsed),
			zap.Int("retries", item.RetryCount))
		q.emit(item)
		return
	}

	timedOut := errors.Is(err, context.DeadlineExceeded)
	item.RetryCount++
	item.LastError = err.Error()

	if item.RetryCount < q.opts.MaxRetries {
		// Reinsert at the head: a retried item keeps its place in line.
		item.Status = StatusPending
		el := q.pending.PushFront(item)
		q.byPayer[item.Payer] = el
		q.log.Warn("mint attempt failed, requeued at head",
			zap.String("itemId", item.ID),
			zap.String("payer", item.Payer),
			zap.Int("retryCount", item.RetryCount),
			zap.Bool("timedOut", timedOut),
			zap.Error(err))
		return
	}

	if timedOut {
		item.Status = StatusTimeout
	} else {
		item.Status = StatusFailed
	}
	item.CompletedAt = time.Now()
	q.retain(item)
	q.exec.Forget(item.ID)
	q.log.Error("mint failed permanently",
		zap.String("itemId", item.ID),
		zap.String("payer", item.Payer),
		zap.Int("retryCount", item.RetryCount),
		zap.Error(err))
	q.emit(item)
}

// Enqueue admits a new mint request. Returns the item snapshot and its
// 1-based position.
func (q *Queue) Enqueue(payer string, artwork []byte, artworkName string) (Item, int, error) {
	payer = strings.ToLower(payer)

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byPayer[payer]; exists {
		return Item{}, 0, ErrDuplicatePending
	}
	if q.processing != nil && q.processing.Payer == payer {
		return Item{}, 0, ErrDuplicatePending
	}
	if q.pending.Len() >= q.opts.MaxSize {
		return Item{}, 0, ErrQueueFull
	}

	item := &Item{
		ID:          uuid.NewString(),
		Payer:       payer,
		Artwork:     artwork,
		ArtworkName: artworkName,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	el := q.pending.PushBack(item)
	q.byPayer[payer] = el

	pos := q.pending.Len()
	q.log.Info("mint enqueued",
		zap.String("itemId", item.ID),
		zap.String("payer", payer),
		zap.Int("position", pos))
	return item.snapshot(), pos, nil
}

// Cancel removes a payer's pending item. Processing items cannot be
// cancelled; returns false for those and for unknown payers.
func (q *Queue) Cancel(payer string) bool {
	payer = strings.ToLower(payer)

	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.byPayer[payer]
	if !ok {
		return false
	}
	q.pending.Remove(el)
	delete(q.byPayer, payer)

	item := el.Value.(*Item)
	item.Status = StatusCancelled
	item.CompletedAt = time.Now()
	q.retain(item)
	q.exec.Forget(item.ID)
	q.log.Info("mint cancelled", zap.String("itemId", item.ID), zap.String("payer", payer))
	q.emit(item)
	return true
}

// Position describes where a payer's item stands.
type Position struct {
	Found    bool
	Status   Status
	Position int // 1-based from head, pending items only
	AheadOf  int // items that will run before this one (includes processing)
	ETA      time.Duration
	Item     Item
}

// Lookup projects a payer's current position and ETA. Positions are computed
// fresh on every call, so head reinsertion and cancellations are always
// reflected.
func (q *Queue) Lookup(payer string) Position {
	payer = strings.ToLower(payer)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processing != nil && q.processing.Payer == payer {
		return Position{
			Found:   true,
			Status:  StatusProcessing,
			AheadOf: 0,
			ETA:     q.perItemEstimate(),
			Item:    q.processing.snapshot(),
		}
	}

	if el, ok := q.byPayer[payer]; ok {
		idx := 1
		for e := q.pending.Front(); e != nil; e = e.Next() {
			if e == el {
				break
			}
			idx++
		}
		ahead := idx - 1
		if q.processing != nil {
			ahead++
		}
		return Position{
			Found:    true,
			Status:   StatusPending,
			Position: idx,
			AheadOf:  ahead,
			ETA:      time.Duration(ahead+1) * q.perItemEstimate(),
			Item:     el.Value.(*Item).snapshot(),
		}
	}

	if entry, ok := q.terminal[payer]; ok {
		return Position{
			Found:  true,
			Status: entry.item.Status,
			Item:   entry.item.snapshot(),
		}
	}

	return Position{}
}

// PendingLen returns the number of items waiting (excludes processing).
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// perItemEstimate is the running average of successful processing times,
// floored at one tick so a cold queue still reports something plausible.
// Callers must hold q.mu.
func (q *Queue) perItemEstimate() time.Duration {
	if q.avgProcess > q.opts.Tick {
		return q.avgProcess
	}
	return q.opts.Tick
}

func (q *Queue) recordProcessing(d time.Duration) {
	q.processedCnt++
	if q.processedCnt == 1 {
		q.avgProcess = d
		return
	}
	q.avgProcess += (d - q.avgProcess) / time.Duration(q.processedCnt)
}

// retain keeps a terminal item visible to Lookup until the retention window
// lapses. Callers must hold q.mu.
func (q *Queue) retain(item *Item) {
	q.terminal[item.Payer] = &terminalEntry{item: item, at: time.Now()}
}

func (q *Queue) evictTerminal() {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-q.opts.TerminalTTL)
	for payer, entry := range q.terminal {
		if entry.at.Before(cutoff) {
			delete(q.terminal, payer)
		}
	}
}

func (q *Queue) emit(item *Item) {
	select {
	case q.events <- Event{Item: item.snapshot()}:
	default:
		q.log.Warn("event channel full, dropping terminal event",
			zap.String("itemId", item.ID))
	}
}
