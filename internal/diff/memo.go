package diff

import (
	"container/list"
	"fmt"
	"runtime"
	"sync"

	"github.com/raysh454/miru/internal/model"
)

// memoCache is a bounded LRU over completed DiffResults. Results are
// immutable once produced, so sharing pointers across callers is safe.
// The cache is emptied outright when heap use crosses the configured limit;
// memoized diff images are the engine's largest allocations.
type memoCache struct {
	mu        sync.Mutex
	capacity  int
	heapLimit uint64
	entries   map[string]*list.Element
	order     *list.List
}

type memoEntry struct {
	key string
	res *model.DiffResult
}

func newMemoCache(capacity int, heapLimit uint64) *memoCache {
	return &memoCache{
		capacity:  capacity,
		heapLimit: heapLimit,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
	}
}

func (m *memoCache) get(key string) (*model.DiffResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(el)
	return el.Value.(*memoEntry).res, true
}

func (m *memoCache) put(key string, res *model.DiffResult) {
	m.checkHeap()

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.order.MoveToFront(el)
		el.Value.(*memoEntry).res = res
		return
	}
	if m.order.Len() >= m.capacity {
		oldest := m.order.Back()
		if oldest != nil {
			m.order.Remove(oldest)
			delete(m.entries, oldest.Value.(*memoEntry).key)
		}
	}
	m.entries[key] = m.order.PushFront(&memoEntry{key: key, res: res})
}

func (m *memoCache) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
}

func (m *memoCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// checkHeap clears the cache when the process heap crosses the limit.
func (m *memoCache) checkHeap() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapAlloc > m.heapLimit {
		m.clear()
	}
}

// memoKey derives the cache key from both fingerprints and the options that
// influence the result. Order matters: baseline vs current is directional.
func memoKey(baseline, current *model.Image, opts Options) string {
	return fmt.Sprintf("%s:%s:%.4f:%t:%.4f:%02x%02x%02x",
		baseline.Fingerprint(), current.Fingerprint(),
		opts.Threshold, opts.IncludeAntiAliasing, opts.Alpha,
		opts.DiffColor.R, opts.DiffColor.G, opts.DiffColor.B)
}
