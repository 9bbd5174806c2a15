package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/shield/internal/core/config"
	"github.com/vietddude/shield/internal/infra/notify"
	"github.com/vietddude/shield/internal/infra/storage/postgres"
	"github.com/vietddude/shield/internal/resilience/escalate"
)

var resolveBy string

var resolveCmd = &cobra.Command{
	Use:   "resolve <token>",
	Short: "Resolve a pending escalation token",
	Args:  cobra.ExactArgs(1),
	Run:   runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveBy, "by", "cli", "identity recorded as the resolver")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	gate := escalate.NewGate(
		escalate.Config{TokenTTL: cfg.Escalation.TokenTTL},
		postgres.NewTokenRepo(db),
		notify.Noop{},
	)

	result, err := gate.Resume(ctx, args[0], resolveBy)
	if err != nil {
		slog.Error("Failed to resolve token", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Resolved. Suspended payload:\n%s\n", string(result.Payload))
}
