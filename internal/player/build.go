package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/services"
	"github.com/desertthunder/polyplay/internal/shared"
)

// SettingsSource returns stored per-backend settings. They override the TOML values.
type SettingsSource interface {
	ForBackend(ctx context.Context, backend string) (map[string]string, error)
}

// Credentials merges the config section for b with its stored settings.
func Credentials(ctx context.Context, cfg *shared.Config, settings SettingsSource, b models.Backend) (map[string]string, error) {
	creds, err := cfg.BackendCredentials(string(b))
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return creds, nil
	}
	stored, err := settings.ForBackend(ctx, string(b))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s settings: %w", b, err)
	}
	for k, v := range stored {
		if v != "" {
			creds[k] = v
		}
	}
	return creds, nil
}

// BuildServices constructs an adapter for every backend whose configuration is usable. Backends
// with missing credentials or a malformed base URL are skipped with a warning unless they were
// requested explicitly through only.
func BuildServices(ctx context.Context, cfg *shared.Config, settings SettingsSource, logger *log.Logger, only ...models.Backend) (map[models.Backend]services.Service, map[models.Backend]map[string]string, error) {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	opts := services.ClientOpts{
		Timeout:   cfg.Playback.HTTPTimeout(),
		RateLimit: cfg.Playback.RateLimit,
		BulkLimit: cfg.Playback.BulkSongLimit,
		Logger:    logger,
	}

	backends := only
	if len(backends) == 0 {
		backends = models.Backends
	}

	svcs := make(map[models.Backend]services.Service, len(backends))
	creds := make(map[models.Backend]map[string]string, len(backends))
	for _, b := range backends {
		c, err := Credentials(ctx, cfg, settings, b)
		if err != nil {
			return nil, nil, err
		}
		svc, err := services.New(b, c, opts)
		if err != nil {
			if len(only) > 0 || !errors.Is(err, shared.ErrInvalidConfig) {
				return nil, nil, err
			}
			logger.Warn("skipping backend", "backend", b, "error", err)
			continue
		}
		svcs[b] = svc
		creds[b] = c
	}

	if len(svcs) == 0 {
		return nil, nil, fmt.Errorf("%w: no usable backend configuration", shared.ErrInvalidConfig)
	}
	return svcs, creds, nil
}
