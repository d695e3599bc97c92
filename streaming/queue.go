package streaming

import (
	"container/heap"
	"math"

	"github.com/aukilabs/terrain/models"
)

// requestQueue is a min-heap of mesh requests ordered by priority, then by
// insertion order. Requests with a NaN priority go after every other one.
// It holds at most one request per region id.
type requestQueue struct {
	items []*queuedRequest
	index map[uint64]*queuedRequest
	seq   uint64
}

type queuedRequest struct {
	req models.MeshRequest
	seq uint64
	pos int
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		index: make(map[uint64]*queuedRequest),
	}
}

// push adds a request unless one with the same region id is queued.
func (q *requestQueue) push(req models.MeshRequest) bool {
	if _, ok := q.index[req.RegionID]; ok {
		return false
	}

	q.seq++
	item := &queuedRequest{
		req: req,
		seq: q.seq,
	}
	q.index[req.RegionID] = item
	heap.Push((*requestHeap)(q), item)
	return true
}

// pop removes and returns the request with the lowest priority value.
func (q *requestQueue) pop() (models.MeshRequest, bool) {
	if len(q.items) == 0 {
		return models.MeshRequest{}, false
	}

	item := heap.Pop((*requestHeap)(q)).(*queuedRequest)
	delete(q.index, item.req.RegionID)
	return item.req, true
}

func (q *requestQueue) contains(id uint64) bool {
	_, ok := q.index[id]
	return ok
}

func (q *requestQueue) len() int {
	return len(q.items)
}

// rescore recomputes every priority and restores the heap order.
func (q *requestQueue) rescore(priority func(models.MeshRequest) float32) {
	for _, item := range q.items {
		item.req.Priority = priority(item.req)
	}
	heap.Init((*requestHeap)(q))
}

// requests returns the queued requests in heap order.
func (q *requestQueue) requests() []models.MeshRequest {
	reqs := make([]models.MeshRequest, len(q.items))
	for i, item := range q.items {
		reqs[i] = item.req
	}
	return reqs
}

type requestHeap requestQueue

func (h *requestHeap) Len() int {
	return len(h.items)
}

func (h *requestHeap) Less(i, j int) bool {
	a := h.items[i]
	b := h.items[j]

	aNaN := math.IsNaN(float64(a.req.Priority))
	bNaN := math.IsNaN(float64(b.req.Priority))
	if aNaN != bNaN {
		return bNaN
	}
	if !aNaN && a.req.Priority != b.req.Priority {
		return a.req.Priority < b.req.Priority
	}
	return a.seq < b.seq
}

func (h *requestHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].pos = i
	h.items[j].pos = j
}

func (h *requestHeap) Push(x any) {
	item := x.(*queuedRequest)
	item.pos = len(h.items)
	h.items = append(h.items, item)
}

func (h *requestHeap) Pop() any {
	n := len(h.items)
	item := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	return item
}
