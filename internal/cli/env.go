package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/thumbgen/tracker/internal/auth"
	"github.com/thumbgen/tracker/internal/client"
	"github.com/thumbgen/tracker/internal/config"
	"github.com/thumbgen/tracker/internal/logging"
)

type env struct {
	cfg   *config.Config
	log   zerolog.Logger
	store *auth.FileStore
	api   *client.APIClient

	closers []io.Closer
}

// loadEnv reads configuration and builds the shared clients. Console logging is
// only used when consoleLog is set; the dashboard owns the terminal otherwise.
func loadEnv(consoleLog bool) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	e := &env{cfg: cfg, store: auth.NewFileStore(cfg.Credentials.Path)}

	switch {
	case cfg.Log.File != "":
		f, err := logging.OpenFile(cfg.Log.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		e.closers = append(e.closers, f)
		e.log = logging.New(cfg.Log.Level, f)
	case consoleLog:
		e.log = logging.New(cfg.Log.Level, nil)
	default:
		e.log = zerolog.Nop()
	}

	e.api = client.NewAPIClient(&cfg.API, e.store, e.log)
	return e, nil
}

func (e *env) Close() {
	for _, c := range e.closers {
		c.Close()
	}
}

// requireSession returns the stored token or a hint to sign in.
func (e *env) requireSession() (string, error) {
	token, err := e.store.Token()
	if errors.Is(err, auth.ErrNoCredential) {
		return "", errors.New("not signed in (run: thumbtrack login)")
	}
	if errors.Is(err, auth.ErrExpired) {
		return "", errors.New("session expired (run: thumbtrack login)")
	}
	return token, err
}

func stdinIsTTY() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}
