package ratelimit

import (
	"container/list"
	"sync"

	"golang.org/x/time/rate"
)

const defaultMaxClients = 10000

type bucket struct {
	id      string
	limiter *rate.Limiter
}

// Throttle is a per-client token bucket. The least recently seen client is
// evicted when MaxClients is reached.
type Throttle struct {
	mu         sync.Mutex
	rps        rate.Limit
	burst      int
	maxClients int
	buckets    map[string]*list.Element
	lru        *list.List
}

// NewThrottle returns a Throttle allowing rps requests per second with the
// given burst. It returns nil when rps is zero, and a nil Throttle allows
// everything.
func NewThrottle(rps float64, burst, maxClients int) *Throttle {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	return &Throttle{
		rps:        rate.Limit(rps),
		burst:      burst,
		maxClients: maxClients,
		buckets:    make(map[string]*list.Element),
		lru:        list.New(),
	}
}

// Allow reports whether a request from id may proceed now.
func (t *Throttle) Allow(id string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if elem, ok := t.buckets[id]; ok {
		t.lru.MoveToFront(elem)
		return elem.Value.(*bucket).limiter.Allow()
	}

	if len(t.buckets) >= t.maxClients {
		if back := t.lru.Back(); back != nil {
			delete(t.buckets, back.Value.(*bucket).id)
			t.lru.Remove(back)
		}
	}

	b := &bucket{id: id, limiter: rate.NewLimiter(t.rps, t.burst)}
	t.buckets[id] = t.lru.PushFront(b)
	return b.limiter.Allow()
}

// Len returns the number of tracked clients.
func (t *Throttle) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
