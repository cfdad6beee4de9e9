package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/lifeline/pkg/chat"
	"github.com/go-go-golems/lifeline/pkg/config"
	"github.com/go-go-golems/lifeline/pkg/engine"
	"github.com/go-go-golems/lifeline/pkg/logging"
	"github.com/go-go-golems/lifeline/pkg/store"
	"github.com/go-go-golems/lifeline/pkg/transport"
	"github.com/go-go-golems/lifeline/pkg/ui"
)

var version = "dev"

var (
	configPath string
	serverURL  string
	authToken  string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "lifeline",
		Short: "Peer-support chat client",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (overrides config)")
	root.PersistentFlags().StringVar(&authToken, "token", "", "bearer token (overrides config)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	root.AddCommand(newChatCommand(), newRequestCommand(), newVersionCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newRequestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "request",
		Short: "Request a chat session and print its id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			client, err := newClient(cfg, logger)
			if err != nil {
				return err
			}
			sess, err := client.RequestSession(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "request session")
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}
}

func newChatCommand() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start or resume a chat session in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, logger, sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session instead of requesting one")
	return cmd
}

// setup loads .env, the config file and the logger, applying flag overrides.
func setup() (config.Config, zerolog.Logger, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if authToken != "" {
		cfg.AuthToken = authToken
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, zerolog.Nop(), err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func newClient(cfg config.Config, logger zerolog.Logger) (*transport.HTTPClient, error) {
	var opts []transport.HTTPOption
	if cfg.AuthToken != "" {
		opts = append(opts, transport.WithToken(cfg.AuthToken))
	}
	return transport.NewHTTPClient(cfg.ServerURL, logger, opts...)
}

func buildEngine(cfg config.Config, logger zerolog.Logger, client *transport.HTTPClient) (*engine.Engine, error) {
	b := engine.NewBuilder().
		WithClient(client).
		WithLogger(logger).
		WithKind(engine.Kind(cfg.SyncKind)).
		WithStatusInterval(cfg.StatusPollInterval).
		WithPollInterval(cfg.MessagePollInterval).
		WithTypingIdleWindow(cfg.TypingIdleWindow).
		WithFailureThreshold(cfg.FailureThreshold)

	if cfg.ReadMarkerPath != "" {
		markers, err := store.NewSQLiteReadMarkerStore(cfg.ReadMarkerPath)
		if err != nil {
			return nil, errors.Wrap(err, "open read marker store")
		}
		b = b.WithReadMarkerStore(markers)
	}
	if cfg.SyncKind == "stream" {
		var feedOpts []transport.StreamOption
		if cfg.AuthToken != "" {
			feedOpts = append(feedOpts, transport.WithStreamToken(cfg.AuthToken))
		}
		feed, err := transport.NewStreamFeed(cfg.ServerURL, logger, feedOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "build stream feed")
		}
		b = b.WithStreamFeed(feed)
	}
	return b.Build()
}

func runChat(ctx context.Context, cfg config.Config, logger zerolog.Logger, sessionID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg, logger, client)
	if err != nil {
		return err
	}

	// The session has to exist before the model renders its first frame.
	sess, err := resolveSession(ctx, client, sessionID)
	if err != nil {
		return err
	}

	model := ui.NewModel(eng, sess, logger)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	eg, egCtx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(egCtx)

	eg.Go(func() error {
		return eng.Run(runCtx)
	})
	eg.Go(func() error {
		defer cancelRun()
		<-eng.Router().Running()
		if err := ui.ForwardEvents(runCtx, eng.Router(), program); err != nil {
			program.Quit()
			return err
		}
		if err := eng.Resume(runCtx, sess); err != nil {
			program.Quit()
			return err
		}
		_, err := program.Run()
		return err
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// resolveSession either requests a fresh session or reconstructs a view of an
// existing one from its current status.
func resolveSession(ctx context.Context, client *transport.HTTPClient, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		sess, err := client.RequestSession(ctx)
		if err != nil {
			return chat.Session{}, errors.Wrap(err, "request session")
		}
		return sess, nil
	}

	snapshot, err := client.SessionStatus(ctx, sessionID)
	if err != nil {
		return chat.Session{}, errors.Wrapf(err, "look up session %s", sessionID)
	}
	return chat.Session{
		ID:            sessionID,
		Status:        snapshot.Status,
		IsLocked:      snapshot.IsLocked,
		CounterpartID: snapshot.CounterpartID,
		// The true creation time is unknown on resume; the baseline fetch
		// pulls full history regardless, so this only seeds the cursor floor.
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}, nil
}
