package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teemow/eventrelay/internal/config"
	"github.com/teemow/eventrelay/internal/instrumentation"
	"github.com/teemow/eventrelay/internal/logging"
	"github.com/teemow/eventrelay/internal/oauth"
	"github.com/teemow/eventrelay/internal/twitch"
)

// subscriptionAPI is the part of the Helix API the cleanup needs.
// *twitch.Client implements it.
type subscriptionAPI interface {
	ForEachSubscription(ctx context.Context, filter twitch.ListFilter, fn func(twitch.Subscription) error) error
	DeleteAllSubscriptions(ctx context.Context, filter twitch.ListFilter) (int, error)
}

func newCleanupCmd() *cobra.Command {
	var (
		userID string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete EventSub subscriptions owned by this application",
		Long: `List every EventSub subscription owned by the configured Twitch application
and delete it. Subscriptions of sessions that did not shut down cleanly stay
registered with Twitch until they are removed here.

Use --user-id to restrict the cleanup to one broadcaster and --dry-run to only
list what would be deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := requireAppCredentials(cfg); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			factory, _, err := newTwitchFactory(ctx, cfg, nil, logger)
			if err != nil {
				return err
			}

			n, err := cleanupSubscriptions(ctx, factory.App(), userID, dryRun, logger)
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d subscriptions would be deleted\n", n)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d subscriptions\n", n)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "Only delete subscriptions of this broadcaster user ID")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List matching subscriptions without deleting them")
	return cmd
}

// cleanupSubscriptions deletes every subscription matching userID (all of
// them when empty) and returns how many were deleted. In dry-run mode it
// returns how many would have been.
func cleanupSubscriptions(ctx context.Context, api subscriptionAPI, userID string, dryRun bool, logger *slog.Logger) (int, error) {
	logger = logging.WithOperation(logging.WithComponent(logger, "cleanup"), "cleanup_subscriptions")
	filter := twitch.ListFilter{UserID: userID}

	if !dryRun {
		n, err := api.DeleteAllSubscriptions(ctx, filter)
		logger.Info("subscriptions deleted", "count", n, logging.User(userID), logging.Err(err))
		return n, err
	}

	n := 0
	err := api.ForEachSubscription(ctx, filter, func(sub twitch.Subscription) error {
		n++
		logger.Info("would delete subscription",
			logging.Subscription(sub.ID),
			logging.EventType(sub.Type),
			logging.Status(sub.Status),
			logging.User(sub.Condition.BroadcasterUserID))
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return n, nil
}

// requireAppCredentials checks the settings every Twitch call needs. The
// cleanup command runs without a public base URL.
func requireAppCredentials(cfg *config.Config) error {
	if cfg.Twitch.ClientID == "" {
		return config.ErrClientIDRequired
	}
	if cfg.Twitch.ClientSecret == "" {
		return config.ErrClientSecretRequired
	}
	return nil
}

func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}, os.Stdout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// newTwitchFactory acquires the application credential and returns a
// client factory using it, plus the token source for user logins.
func newTwitchFactory(ctx context.Context, cfg *config.Config, metrics *instrumentation.Metrics, logger *slog.Logger) (*twitch.Factory, *oauth.Source, error) {
	source := oauth.NewSource(oauth.SourceConfig{
		ClientID:     cfg.Twitch.ClientID,
		ClientSecret: cfg.Twitch.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		Scopes:       strings.Fields(cfg.Twitch.Scopes),
		Metrics:      metrics,
		Logger:       logger,
	})

	appCred, err := source.Acquire(ctx, "")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire app access token: %w", err)
	}

	factory := twitch.NewFactory(cfg.Twitch.ClientID, source, appCred, twitch.Options{
		Metrics: metrics,
		Logger:  logger,
	})
	return factory, source, nil
}
