package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/desertthunder/polyplay/internal/models"
	"github.com/desertthunder/polyplay/internal/player"
	"github.com/desertthunder/polyplay/internal/server"
	"github.com/desertthunder/polyplay/internal/services"
	"github.com/desertthunder/polyplay/internal/shared"
	"github.com/urfave/cli/v3"
)

const defaultRedirectURI = "http://127.0.0.1:7890/callback"

// AuthCatalog runs the OAuth2 authorization-code flow for the catalog backend and stores the
// resulting refresh token as a setting.
func (r *Runner) AuthCatalog(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := r.openStore(cfg)
	if err != nil {
		return err
	}

	creds, err := player.Credentials(ctx, cfg, store.Settings, models.BackendCatalog)
	if err != nil {
		return err
	}
	svc, err := services.NewCatalogService(creds, services.ClientOpts{
		Timeout:   cfg.Playback.HTTPTimeout(),
		RateLimit: cfg.Playback.RateLimit,
		Logger:    r.logger,
	})
	if err != nil {
		return fmt.Errorf("%w: catalog client_id and client_secret must be set", err)
	}

	redirect := creds["redirect_uri"]
	if redirect == "" {
		redirect = defaultRedirectURI
	}
	u, err := url.Parse(redirect)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: malformed redirect_uri %q", shared.ErrInvalidConfig, redirect)
	}

	state := shared.GenerateID()
	code, err := r.doOAuth(ctx, u, svc.GetAuthURL(state), state)
	if err != nil {
		return err
	}

	if _, err := svc.Authenticate(ctx, map[string]string{"auth_code": code}); err != nil {
		return err
	}
	refresh := svc.RefreshToken()
	if refresh == "" {
		return fmt.Errorf("%w: the server did not issue a refresh token", shared.ErrAuthFailed)
	}
	if err := store.Settings.Put(ctx, models.BackendCatalog, "refresh_token", refresh); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Refresh token stored in %s\n\n", cfg.Database.Path)
	r.writePlain("You can now use: polyplay browse playlists --backend catalog\n")
	return nil
}

// doOAuth serves the redirect URI locally, sends the user to authURL and waits for the code.
func (r *Runner) doOAuth(ctx context.Context, redirect *url.URL, authURL, state string) (string, error) {
	handler := server.NewCallbackHandler(redirect.Path, state)
	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(handler)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := server.NewServer(redirect.Host, router, r.logger)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Run(ctx)
	}()

	select {
	case <-srv.Ready():
	case err := <-serverErrors:
		return "", fmt.Errorf("server error: %w", err)
	}

	r.writePlain("→ Opening browser for catalog authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(2 * time.Minute)
	defer timeout.Stop()

	var result server.CallbackResult
	select {
	case result = <-handler.Result():
	case err := <-serverErrors:
		return "", fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return "", fmt.Errorf("%w: authorization timed out after 2 minutes", shared.ErrAuthFailed)
	case <-ctx.Done():
		return "", fmt.Errorf("%w: authorization interrupted", shared.ErrCancelled)
	}

	cancel()
	if err := <-serverErrors; err != nil {
		r.logger.Warn("error shutting down server", "error", err)
	}

	if result.Err != nil {
		return "", fmt.Errorf("authorization failed: %w", result.Err)
	}
	return result.Code, nil
}

type authStatus struct {
	Backend models.Backend `json:"backend"`
	Name    string         `json:"name"`
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
}

// AuthCheck signs in to every configured backend.
func (r *Runner) AuthCheck(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	svcs, creds := r.services, map[models.Backend]map[string]string{}
	if svcs == nil {
		store, err := r.openStore(cfg)
		if err != nil {
			return err
		}
		if svcs, creds, err = player.BuildServices(ctx, cfg, store.Settings, r.logger); err != nil {
			return err
		}
	}

	statuses := []authStatus{}
	failed := 0
	for _, b := range models.Backends {
		svc, ok := svcs[b]
		if !ok {
			continue
		}
		st := authStatus{Backend: b, Name: svc.Name(), OK: true}
		if _, err := svc.Authenticate(ctx, creds[b]); err != nil {
			st.OK, st.Error = false, shared.UserMessage(err)
			failed++
			r.logger.Debug("authentication failed", "backend", b, "error", err)
		}
		statuses = append(statuses, st)
	}

	if cmd.Bool("json") {
		if err := r.writeJSON(statuses, cmd.Bool("pretty")); err != nil {
			return err
		}
	} else {
		for _, st := range statuses {
			if st.OK {
				r.writePlain("✓ %-12s %s\n", st.Backend, st.Name)
			} else {
				r.writePlain("✗ %-12s %s\n", st.Backend, st.Error)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d backends failed to sign in", shared.ErrAuthFailed, failed, len(statuses))
	}
	return nil
}
