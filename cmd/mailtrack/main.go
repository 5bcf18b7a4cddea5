// Command mailtrack sends and drafts emails with an embedded open-tracking
// marker, and queries the tracking backend for open status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dtran/mailtrack/internal/auth"
	"github.com/dtran/mailtrack/internal/config"
	"github.com/dtran/mailtrack/internal/credential"
	"github.com/dtran/mailtrack/internal/mail"
	"github.com/dtran/mailtrack/internal/track"
)

const usage = `mailtrack - email open tracking

Usage:
  mailtrack [-v] [-config path] <command> [flags]

Commands:
  login       authorize with the mail provider and tracking backend
  logout      remove the stored credential
  whoami      show the authenticated identity
  send        send a tracked email
  compose     create a tracked draft
  status      show open state for a tracking id
  dashboard   show aggregate stats and recent sends
  last        show open state for the most recent send
  recipient   show open state for the latest send to an address
  history     list locally journaled sends

Run 'mailtrack <command> -h' for command flags.
`

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	store   credential.Store
	flow    *auth.Flow
	tracker *track.Client
	sender  *mail.Sender
	logger  *zap.Logger
}

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	configPath := flag.String("config", config.DefaultPath(), "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := newLogger(*verbose)
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail(err)
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		fail(err)
	}

	ctx := context.Background()
	if err := dispatch(ctx, a, args[0], args[1:]); err != nil {
		fail(err)
	}
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	tracker := track.NewClient(cfg.Backend.BaseURL, logger)
	flow := auth.NewFlow(store, auth.GoogleEndpoints(), tracker, cfg.OAuth.RedirectPort, logger)
	flow.Out = os.Stderr

	return &app{
		cfg:     cfg,
		store:   store,
		flow:    flow,
		tracker: tracker,
		sender:  mail.NewSender(logger),
		logger:  logger,
	}, nil
}

func newStore(cfg *config.Config) (credential.Store, error) {
	switch cfg.Credentials.Backend {
	case "", "file":
		return credential.NewFileStore(credential.DefaultPath()), nil
	case "keyring":
		return credential.NewKeyringStore(), nil
	default:
		return nil, fmt.Errorf("unknown credentials backend %q (use file or keyring)", cfg.Credentials.Backend)
	}
}

func dispatch(ctx context.Context, a *app, cmd string, args []string) error {
	switch cmd {
	case "login":
		return cmdLogin(ctx, a, args)
	case "logout":
		return cmdLogout(a)
	case "whoami":
		return cmdWhoami(a)
	case "send":
		return cmdDispatch(ctx, a, args, false)
	case "compose":
		return cmdDispatch(ctx, a, args, true)
	case "status":
		return cmdStatus(ctx, a, args)
	case "dashboard":
		return cmdDashboard(ctx, a, args)
	case "last":
		return cmdLast(ctx, a)
	case "recipient":
		return cmdRecipient(ctx, a, args)
	case "history":
		return cmdHistory(ctx, a, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// fail prints a one-line actionable message and exits non-zero.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "mailtrack: %s\n", actionable(err))
	os.Exit(1)
}

// actionable augments known failures with the command to run next.
func actionable(err error) string {
	switch {
	case auth.IsNotAuthenticated(err):
		return "not logged in; run: mailtrack login"
	case auth.IsReauthRequired(err):
		return err.Error() + "; run: mailtrack login"
	case credential.IsCorruptStore(err):
		return err.Error() + "; run: mailtrack logout to reset it"
	default:
		return err.Error()
	}
}
