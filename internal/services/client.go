package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// ClientOpts tunes the HTTP client every adapter shares. Zero values take defaults.
type ClientOpts struct {
	Timeout    time.Duration // default 30s
	RateLimit  float64       // requests per second, 0 disables limiting
	BulkLimit  int           // cap for bulk song listings
	HTTPClient *http.Client
	Logger     *log.Logger
	Fs         afero.Fs // local backend only, default the OS filesystem
}

func (o ClientOpts) withDefaults() ClientOpts {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = shared.NewLogger(nil)
	}
	return o
}

// restClient performs GET requests against one base URL. It never retries.
type restClient struct {
	backend models.Backend
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

func newRESTClient(backend models.Backend, baseURL string, opts ClientOpts) (*restClient, error) {
	base, err := shared.ValidateBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if hc.Timeout == 0 {
		hc.Timeout = opts.Timeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &restClient{
		backend: backend,
		baseURL: base,
		http:    hc,
		limiter: limiter,
		logger:  shared.WithLogger(opts.Logger, "backend", string(backend)),
	}, nil
}

// url joins path and params onto the base URL.
func (c *restClient) url(path string, params url.Values) string {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// get returns the body of a 2xx response. Failures wrap [shared.ErrNetwork], [shared.ErrNotAuthenticated]
// or [shared.ErrCancelled].
func (c *restClient) get(ctx context.Context, path string, params url.Values, header http.Header) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrCancelled, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("%w: %v", shared.ErrCancelled, err)
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrNetwork, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, shared.NewHTTPError(string(c.backend), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrNetwork, err)
	}
	return body, nil
}

// getJSON decodes a 2xx response into v.
func (c *restClient) getJSON(ctx context.Context, path string, params url.Values, header http.Header, v any) error {
	body, err := c.get(ctx, path, params, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrDecoding, err)
	}
	return nil
}
