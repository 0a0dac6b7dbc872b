package ledger

// URL request handler (component C3): correlates outgoing request ids to
// per-request callbacks and delivers (ok, body, headers) tuples in arrival
// order. Requests never time out here; the transport owns timeouts and
// reports them as ok=false (spec §4.3).

import (
	"net/http"
	"sync"
)

// RequestResult is the tuple delivered to a registered callback. StatusCode
// is 0 when the request never reached the server (dial/timeout failure);
// callers that need to distinguish failure reasons (spec §7's grant-claim
// 403 vs 404/410 mapping) inspect it alongside OK.
type RequestResult struct {
	OK         bool
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// RequestCallback is invoked exactly once when its request completes.
type RequestCallback func(RequestResult)

// RequestHandler is the C3 correlation table. Safe for concurrent use; the
// spec allows a per-dispatcher discipline with no locking, but a real
// multi-goroutine transport needs the mutex below (spec §5).
type RequestHandler struct {
	mu        sync.Mutex
	callbacks map[string]RequestCallback
}

// NewRequestHandler returns an empty correlation table.
func NewRequestHandler() *RequestHandler {
	return &RequestHandler{callbacks: make(map[string]RequestCallback)}
}

// Add registers cb to run when requestID completes.
func (h *RequestHandler) Add(requestID string, cb RequestCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks[requestID] = cb
}

// Complete invokes and removes the callback registered for requestID, if
// any. Calling Complete twice for the same id is a no-op the second time.
func (h *RequestHandler) Complete(requestID string, result RequestResult) {
	h.mu.Lock()
	cb, ok := h.callbacks[requestID]
	if ok {
		delete(h.callbacks, requestID)
	}
	h.mu.Unlock()
	if ok {
		cb(result)
	}
}

// Pending reports how many requests are awaiting completion.
func (h *RequestHandler) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.callbacks)
}
