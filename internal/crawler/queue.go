package crawler

import (
	"container/heap"
	"context"
	"net/url"
	"sync"
)

// workItem is one queued URL with its priority and insertion sequence.
type workItem struct {
	url      string
	priority int
	seq      uint64
}

// workHeap orders items by ascending priority value, breaking ties by
// insertion order.
type workHeap []*workItem

func (h workHeap) Len() int { return len(h) }

func (h workHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h workHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *workHeap) Push(x any) { *h = append(*h, x.(*workItem)) }

func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// WorkQueue is a deduplicating priority queue whose dequeue is the
// single admission point to the network: an item is handed out only
// after the domain rate limiter admits it. A URL is accepted at most
// once over the queue's lifetime, even long after it completed.
type WorkQueue struct {
	limiter *RateLimiter

	mu          sync.Mutex
	items       workHeap
	enqueued    map[string]struct{}
	completed   map[string]struct{}
	seq         uint64
	outstanding int

	ready   *sync.Cond // an item was pushed
	drained *sync.Cond // outstanding reached zero
}

// NewWorkQueue creates an empty queue gated by limiter.
func NewWorkQueue(limiter *RateLimiter) *WorkQueue {
	q := &WorkQueue{
		limiter:   limiter,
		enqueued:  make(map[string]struct{}),
		completed: make(map[string]struct{}),
	}
	q.ready = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds rawURL at the given priority (lower means more urgent)
// and reports whether it was accepted. URLs already waiting or already
// completed are refused.
func (q *WorkQueue) Enqueue(rawURL string, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.enqueued[rawURL]; ok {
		return false
	}
	if _, ok := q.completed[rawURL]; ok {
		return false
	}

	q.enqueued[rawURL] = struct{}{}
	heap.Push(&q.items, &workItem{url: rawURL, priority: priority, seq: q.seq})
	q.seq++
	q.outstanding++
	q.ready.Signal()
	return true
}

// Dequeue blocks until an item is available and its domain admits the
// request, then returns the URL. The returned URL is recorded as
// completed and will never be handed out again.
func (q *WorkQueue) Dequeue(ctx context.Context) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.ready.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	for q.items.Len() == 0 {
		if err := ctx.Err(); err != nil {
			q.mu.Unlock()
			return "", err
		}
		q.ready.Wait()
	}
	item := heap.Pop(&q.items).(*workItem)
	q.mu.Unlock()

	if err := q.limiter.Acquire(ctx, urlHost(item.url)); err != nil {
		// Put the item back so a later dequeue can pick it up.
		q.mu.Lock()
		heap.Push(&q.items, item)
		q.ready.Signal()
		q.mu.Unlock()
		return "", err
	}

	q.mu.Lock()
	delete(q.enqueued, item.url)
	q.completed[item.url] = struct{}{}
	q.mu.Unlock()

	return item.url, nil
}

// MarkDone signals that processing for one dequeued URL has finished.
func (q *WorkQueue) MarkDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding > 0 {
		q.outstanding--
	}
	if q.outstanding == 0 {
		q.drained.Broadcast()
	}
}

// Join blocks until every accepted URL has been dequeued and marked
// done, or ctx is done.
func (q *WorkQueue) Join(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.drained.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.outstanding > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.drained.Wait()
	}
	return nil
}

// Len reports items queued but not yet dequeued.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// urlHost extracts the host for rate limiting; unparseable URLs map to
// the empty domain bucket.
func urlHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
