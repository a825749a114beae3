package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/desertthunder/polyplay/internal/shared"
)

// CallbackResult is the outcome of one authorization-code redirect.
type CallbackResult struct {
	Code string
	Err  error
}

// CallbackHandler receives the OAuth2 redirect for the catalog backend. It checks the state
// token and hands the authorization code back; exchanging it is the adapter's job.
//
// Only the first callback is processed.
type CallbackHandler struct {
	path   string
	state  string
	result chan CallbackResult

	mu   sync.Mutex
	hit  bool
	once sync.Once
}

// NewCallbackHandler serves path and expects state back from the provider.
func NewCallbackHandler(path, state string) *CallbackHandler {
	if path == "" {
		path = "/callback"
	}
	return &CallbackHandler{path: path, state: state, result: make(chan CallbackResult, 1)}
}

func (h *CallbackHandler) Routes() []string {
	return []string{h.path}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.hit = true
	h.mu.Unlock()

	q := r.URL.Query()
	if q.Get("state") != h.state {
		h.send(CallbackResult{Err: fmt.Errorf("%w: state mismatch", shared.ErrAuthFailed)})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.send(CallbackResult{Err: fmt.Errorf("%w: %s %s", shared.ErrAuthFailed, q.Get("error"), q.Get("error_description"))})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	h.send(CallbackResult{Code: code})
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Signed in</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh">
  <h1>Signed in</h1>
  <p>You can close this window and return to the terminal.</p>
</body>
</html>
`)
}

func (h *CallbackHandler) send(res CallbackResult) {
	h.once.Do(func() {
		h.result <- res
		close(h.result)
	})
}

// Result receives exactly one result, then closes.
func (h *CallbackHandler) Result() <-chan CallbackResult {
	return h.result
}
