package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/player"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/urfave/cli/v3"
)

// settingKeys lists what each backend reads from its credentials.
var settingKeys = map[models.Backend][]string{
	models.BackendCatalog:      {"base_url", "client_id", "client_secret", "redirect_uri", "refresh_token", "access_token"},
	models.BackendAudioStation: {"base_url", "username", "password"},
	models.BackendSubsonic:     {"base_url", "username", "password", "client_name", "api_version"},
	models.BackendLocal:        {"root"},
}

func secretKey(key string) bool {
	switch key {
	case "password", "client_secret", "refresh_token", "access_token":
		return true
	}
	return false
}

func mask(value string) string {
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}

// Setup creates the config file from the template when missing, then initializes the database and
// runs migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if path == "" {
		path = "config.toml"
	}
	r.configPath = path

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		r.logger.Info("config file not found, creating from template", "path", path)
		if err := shared.CreateConfigFile(path); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.writePlain("✓ Created %s\n", path)
	}

	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", cfg.Database.Path)
	if _, err := r.openStore(cfg); err != nil {
		return err
	}

	r.writePlain("✓ Database ready at %s\n", cfg.Database.Path)
	r.writePlainln("Next steps:")
	r.writePlain("1. Edit %s or run 'polyplay config set <backend> <key> <value>'\n", path)
	r.writePlain("2. Run 'polyplay auth check' to test the configured backends\n")
	return nil
}

// ConfigShow prints the merged configuration for every backend, with secrets masked.
func (r *Runner) ConfigShow(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := r.openStore(cfg)
	if err != nil {
		return err
	}

	reveal := cmd.Bool("reveal")
	out := make(map[models.Backend]map[string]string, len(models.Backends))
	for _, b := range models.Backends {
		creds, err := player.Credentials(ctx, cfg, store.Settings, b)
		if err != nil {
			return err
		}
		if !reveal {
			for k, v := range creds {
				if secretKey(k) {
					creds[k] = mask(v)
				}
			}
		}
		out[b] = creds
	}

	if cmd.Bool("json") {
		return r.writeJSON(out, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Configuration: " + r.configPath)
	for _, b := range models.Backends {
		r.writePlainln("[%s]", b)
		keys := make([]string, 0, len(out[b]))
		for k := range out[b] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			r.writePlain("  %-14s %s\n", k, out[b][k])
		}
	}
	return nil
}

func parseSettingArgs(cmd *cli.Command) (models.Backend, string, error) {
	name, key := cmd.StringArg("backend"), cmd.StringArg("key")
	if name == "" || key == "" {
		return "", "", fmt.Errorf("%w: backend and key are required", shared.ErrMissingArgument)
	}
	b, err := models.ParseBackend(name)
	if err != nil {
		return "", "", err
	}
	for _, k := range settingKeys[b] {
		if k == key {
			return b, key, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s has no setting %q (expected one of %s)",
		shared.ErrInvalidArgument, b, key, strings.Join(settingKeys[b], ", "))
}

// ConfigSet stores one backend setting. Stored settings override config.toml.
func (r *Runner) ConfigSet(ctx context.Context, cmd *cli.Command) error {
	b, key, err := parseSettingArgs(cmd)
	if err != nil {
		return err
	}
	value := cmd.StringArg("value")
	if value == "" {
		return fmt.Errorf("%w: value", shared.ErrMissingArgument)
	}
	if key == "base_url" {
		if value, err = shared.ValidateBaseURL(value); err != nil {
			return err
		}
	}

	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := r.openStore(cfg)
	if err != nil {
		return err
	}
	if err := store.Settings.Put(ctx, b, key, value); err != nil {
		return err
	}

	shown := value
	if secretKey(key) {
		shown = mask(value)
	}
	return r.writePlain("✓ %s.%s = %s\n", b, key, shown)
}

// ConfigUnset removes a stored setting so the config file value applies again.
func (r *Runner) ConfigUnset(ctx context.Context, cmd *cli.Command) error {
	b, key, err := parseSettingArgs(cmd)
	if err != nil {
		return err
	}
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := r.openStore(cfg)
	if err != nil {
		return err
	}

	if err := store.Settings.Unset(ctx, b, key); err != nil {
		return err
	}
	return r.writePlain("✓ Removed %s.%s\n", b, key)
}
