package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"go.uber.org/zap"

	"github.com/dtran/mailtrack/internal/auth"
	"github.com/dtran/mailtrack/internal/journal"
	"github.com/dtran/mailtrack/internal/mail"
	"github.com/dtran/mailtrack/internal/model"
	"github.com/dtran/mailtrack/internal/render"
	"github.com/dtran/mailtrack/internal/track"
)

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	clientID := fs.String("client-id", a.cfg.OAuth.ClientID, "OAuth client id")
	clientSecret := fs.String("client-secret", a.cfg.OAuth.ClientSecret, "OAuth client secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *clientID == "" || *clientSecret == "" {
		if err := promptClientCredentials(clientID, clientSecret); err != nil {
			return fmt.Errorf("reading client credentials: %w", err)
		}
	}

	cred, err := a.flow.Login(ctx, *clientID, *clientSecret)
	if err != nil {
		return err
	}

	if cred.PartiallyProvisioned() {
		fmt.Printf("logged in as %s (tracking not provisioned yet; run login again to retry)\n", cred.Email)
		return nil
	}
	fmt.Printf("logged in as %s\n", cred.Email)
	return nil
}

// promptClientCredentials asks interactively for whichever OAuth client
// fields are still missing.
func promptClientCredentials(clientID, clientSecret *string) error {
	var fields []huh.Field
	if *clientID == "" {
		fields = append(fields, huh.NewInput().
			Title("OAuth client ID").
			Value(clientID))
	}
	if *clientSecret == "" {
		fields = append(fields, huh.NewInput().
			Title("OAuth client secret").
			EchoMode(huh.EchoModePassword).
			Value(clientSecret))
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func cmdLogout(a *app) error {
	if err := a.store.Clear(); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func cmdWhoami(a *app) error {
	cred, err := a.store.Load()
	if err != nil {
		return err
	}
	fmt.Print(render.Whoami(cred))
	return nil
}

// cmdDispatch implements both send and compose: generate id, inject marker,
// register with the backend, then hand the finished body to the provider.
// Registration must succeed before any provider call; a sent-but-unregistered
// id would make later lookups impossible.
func cmdDispatch(ctx context.Context, a *app, args []string, draft bool) error {
	name := "send"
	if draft {
		name = "compose"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	to := fs.String("to", "", "recipient address (required)")
	subject := fs.String("subject", "", "subject (required)")
	body := fs.String("body", "", "body text")
	bodyFile := fs.String("body-file", "", "read body from file ('-' for stdin)")
	cc := fs.String("cc", "", "comma-separated cc addresses")
	bcc := fs.String("bcc", "", "comma-separated bcc addresses")
	useMarkdown := fs.Bool("markdown", a.cfg.Mail.DefaultMarkdown, "treat body as markdown")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" || *subject == "" {
		return fmt.Errorf("%s requires -to and -subject", name)
	}

	raw, err := readBody(*body, *bodyFile)
	if err != nil {
		return err
	}

	html := mail.EnsureHTML(raw)
	if *useMarkdown {
		if html, err = mail.RenderMarkdown(raw); err != nil {
			return err
		}
	}

	client, err := a.flow.Client(ctx)
	if err != nil {
		return err
	}
	if client.APIKey() == "" {
		return fmt.Errorf("tracking backend not provisioned; run: mailtrack login")
	}

	tracker := a.tracker.WithIdentity(client.APIKey(), client.Email())
	trackingID := track.NewTrackingID()
	html = tracker.InjectMarker(html, trackingID)

	if _, err := tracker.Register(ctx, track.Registration{
		TrackingID: trackingID,
		Recipient:  *to,
		Subject:    *subject,
	}); err != nil {
		return err
	}

	msg, err := mail.BuildMessage(client.Email(), *to, splitAddrs(*cc), splitAddrs(*bcc), *subject, html)
	if err != nil {
		return err
	}

	var providerID string
	if draft {
		providerID, err = a.sender.Draft(ctx, client, msg)
	} else {
		providerID, err = a.sender.Send(ctx, client, msg)
	}
	if err != nil {
		return err
	}

	a.journalRecord(ctx, journal.Entry{
		TrackingID: trackingID,
		Recipient:  *to,
		Subject:    *subject,
		Kind:       name,
		ProviderID: providerID,
	})

	if draft {
		fmt.Printf("draft %s created, tracking id %s\n", providerID, trackingID)
	} else {
		fmt.Printf("sent %s, tracking id %s\n", providerID, trackingID)
	}
	return nil
}

// journalRecord appends to the local journal; failures are logged, never
// surfaced, since the send itself already happened.
func (a *app) journalRecord(ctx context.Context, e journal.Entry) {
	j, err := journal.Open(a.cfg.Journal.Path)
	if err != nil {
		a.logger.Warn("opening journal failed", zap.Error(err))
		return
	}
	defer j.Close()

	if err := j.Record(ctx, e); err != nil {
		a.logger.Warn("journaling send failed", zap.Error(err))
	}
}

func cmdStatus(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "tracking id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("status requires -id")
	}

	tracker, err := a.authedTracker()
	if err != nil {
		return err
	}
	t, err := tracker.Status(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Print(render.Status(t))
	return nil
}

func cmdDashboard(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum tracks to fetch")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tracker, err := a.authedTracker()
	if err != nil {
		return err
	}
	d, err := tracker.Dashboard(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Print(render.Dashboard(d))
	return nil
}

func cmdLast(ctx context.Context, a *app) error {
	tracker, err := a.authedTracker()
	if err != nil {
		return err
	}
	t, err := tracker.ResolveLatest(ctx, 20)
	if err != nil {
		return err
	}
	return statusOf(ctx, tracker, t)
}

func cmdRecipient(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("recipient", flag.ExitOnError)
	email := fs.String("email", "", "recipient address (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("recipient requires -email")
	}

	tracker, err := a.authedTracker()
	if err != nil {
		return err
	}
	t, err := tracker.ResolveByRecipient(ctx, *email, 50)
	if err != nil {
		return err
	}
	return statusOf(ctx, tracker, t)
}

// statusOf refreshes a dashboard-resolved track through the status endpoint
// so the open sequence is current.
func statusOf(ctx context.Context, tracker *track.Client, t *model.Track) error {
	full, err := tracker.Status(ctx, t.TrackingID)
	if err != nil {
		return err
	}
	fmt.Print(render.Status(full))
	return nil
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum entries to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	j, err := journal.Open(a.cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.History(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Print(render.History(entries))
	return nil
}

// authedTracker keys the backend client straight from the stored credential.
// Tracking queries need only the API key, so no provider token refresh runs.
func (a *app) authedTracker() (*track.Client, error) {
	cred, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.Tokens.RefreshToken == "" {
		return nil, &auth.NotAuthenticatedError{}
	}
	if cred.BackendAPIKey == "" {
		return nil, fmt.Errorf("tracking backend not provisioned; run: mailtrack login")
	}
	return a.tracker.WithIdentity(cred.BackendAPIKey, cred.Email), nil
}

func readBody(body, bodyFile string) (string, error) {
	switch {
	case body != "" && bodyFile != "":
		return "", errors.New("use either -body or -body-file, not both")
	case body != "":
		return body, nil
	case bodyFile == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading body from stdin: %w", err)
		}
		return string(data), nil
	case bodyFile != "":
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return "", fmt.Errorf("reading body file: %w", err)
		}
		return string(data), nil
	default:
		return "", errors.New("a body is required (-body or -body-file)")
	}
}

func splitAddrs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
