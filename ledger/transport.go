package ledger

// Transport implements the embedder's LoadURL contract (spec §6) concretely
// with net/http, grounded on core/storage.go's http.Client +
// http.NewRequestWithContext + status-code-handling pattern (itself used for
// the IPFS pin/retrieve gateway calls). It is the default, swappable
// implementation; tests use it against an internal/fakeoperator server.

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is one outbound call to the operator (spec §6's LoadURL params).
type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	Body        []byte
	ContentType string
}

// Transport issues Requests asynchronously, delivering each result to cb via
// handler exactly once (spec §4.3).
type Transport interface {
	// LoadURL registers cb with handler under a freshly generated request
	// id, starts req on its own goroutine, and returns that id immediately.
	// The round trip's outcome (including timeouts and transport errors,
	// reported as OK=false) is delivered to cb via handler.Complete.
	LoadURL(ctx context.Context, req Request, handler *RequestHandler, cb RequestCallback) (requestID string)
}

// HTTPTransport is the concrete net/http Transport.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns an HTTPTransport with the given request timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) LoadURL(ctx context.Context, req Request, handler *RequestHandler, cb RequestCallback) string {
	requestID := uuid.NewString()
	handler.Add(requestID, cb)

	go func() {
		var bodyReader io.Reader
		if req.Body != nil {
			bodyReader = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
		if err != nil {
			handler.Complete(requestID, RequestResult{OK: false})
			return
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if req.ContentType != "" {
			httpReq.Header.Set("Content-Type", req.ContentType)
		}

		resp, err := t.client.Do(httpReq)
		if err != nil {
			handler.Complete(requestID, RequestResult{OK: false})
			return
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			handler.Complete(requestID, RequestResult{OK: false})
			return
		}
		ok := resp.StatusCode >= 200 && resp.StatusCode < 300
		handler.Complete(requestID, RequestResult{OK: ok, StatusCode: resp.StatusCode, Body: body, Headers: resp.Header})
	}()

	return requestID
}
