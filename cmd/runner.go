package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/polyplay/internal/engine/mpv"
	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/playback"
	"github.com/desertthunder/polyplay/internal/player"
	"github.com/desertthunder/polyplay/internal/repositories"
	"github.com/desertthunder/polyplay/internal/services"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// EngineFactory opens the audio output for commands that play.
type EngineFactory func(cfg *shared.Config, logger *log.Logger) (playback.MediaEngine, error)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	services   map[models.Backend]services.Service
	newEngine  EngineFactory
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	storeOnce sync.Once
	store     *repositories.Store
	storeErr  error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	// Services replaces the adapters built from configuration.
	Services   map[models.Backend]services.Service
	Engine     EngineFactory
	Store      *repositories.Store
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Engine == nil {
		opts.Engine = mpvEngine
	}

	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		services:   opts.Services,
		newEngine:  opts.Engine,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
	if opts.Store != nil {
		r.storeOnce.Do(func() { r.store = opts.Store })
	}
	return r
}

func mpvEngine(cfg *shared.Config, logger *log.Logger) (playback.MediaEngine, error) {
	return mpv.New(mpv.Opts{Logger: logger})
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, configCommand, authCommand, browseCommand, songsCommand, searchCommand,
		playCommand, historyCommand, exportCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger, used when the terminal belongs to the TUI.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// loadConfig returns the configuration, reading the --config file on first use. A missing file
// means defaults.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	path := r.configPath
	if path == "" && cmd != nil {
		path = cmd.String("config")
	}
	if path == "" {
		path = "config.toml"
	}
	r.configPath = path

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		r.logger.Debug("config file not found, using defaults", "path", path)
		r.config = shared.DefaultConfig()
		return r.config, nil
	}

	cfg, err := shared.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r.config = cfg
	return cfg, nil
}

// openStore opens the database once and applies pending migrations.
func (r *Runner) openStore(cfg *shared.Config) (*repositories.Store, error) {
	r.storeOnce.Do(func() {
		db, err := shared.NewDatabase(shared.ExpandHome(cfg.Database.Path))
		if err != nil {
			r.storeErr = fmt.Errorf("failed to open database: %w", err)
			return
		}
		shared.ConfigureDatabase(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err := shared.RunMigrations(db); err != nil {
			db.Close()
			r.storeErr = fmt.Errorf("failed to run migrations: %w", err)
			return
		}
		r.store = repositories.NewStore(db)
	})
	return r.store, r.storeErr
}

// Close releases the database.
func (r *Runner) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// controller builds a player over the configured backends. Commands that only browse get a
// silent engine so no audio device is opened.
func (r *Runner) controller(ctx context.Context, cmd *cli.Command, audible bool) (*player.Controller, error) {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := r.openStore(cfg)
	if err != nil {
		return nil, err
	}

	svcs, creds := r.services, map[models.Backend]map[string]string{}
	if svcs == nil {
		if svcs, creds, err = player.BuildServices(ctx, cfg, store.Settings, r.logger); err != nil {
			return nil, err
		}
	}

	backend, err := r.pickBackend(cmd, cfg, svcs)
	if err != nil {
		return nil, err
	}

	var engine playback.MediaEngine = newSilentEngine()
	if audible {
		if engine, err = r.newEngine(cfg, r.logger); err != nil {
			return nil, fmt.Errorf("failed to open audio output: %w", err)
		}
	}

	c, err := player.New(player.Opts{
		Services:    svcs,
		Credentials: creds,
		Engine:      engine,
		Backend:     backend,
		Interval:    cfg.Playback.ProgressInterval(),
		History:     store.History,
		Logger:      r.logger,
	})
	if err != nil {
		return nil, err
	}

	if cs, ok := svcs[models.BackendCatalog].(*services.CatalogService); ok {
		cs.SetTokenRefreshCallback(func(tok *oauth2.Token) {
			if tok.RefreshToken == "" {
				return
			}
			c.SetCredential(models.BackendCatalog, "refresh_token", tok.RefreshToken)
			if err := store.Settings.Put(context.Background(), models.BackendCatalog, "refresh_token", tok.RefreshToken); err != nil {
				r.logger.Warn("failed to store refreshed token", "error", err)
			}
		})
	}
	return c, nil
}

// pickBackend honours --backend, then the configured default when it is usable.
func (r *Runner) pickBackend(cmd *cli.Command, cfg *shared.Config, svcs map[models.Backend]services.Service) (models.Backend, error) {
	if cmd != nil {
		if name := cmd.String("backend"); name != "" {
			b, err := models.ParseBackend(name)
			if err != nil {
				return "", err
			}
			if _, ok := svcs[b]; !ok {
				return "", fmt.Errorf("%w: %s is not configured", shared.ErrInvalidConfig, b)
			}
			return b, nil
		}
	}
	if b, err := models.ParseBackend(cfg.Playback.DefaultBackend); err == nil {
		if _, ok := svcs[b]; ok {
			return b, nil
		}
	}
	return "", nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
