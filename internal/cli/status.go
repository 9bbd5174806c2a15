package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/shield/internal/core/config"
	"github.com/vietddude/shield/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending escalations and recent batch outcomes",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	rows, err := db.QueryContext(ctx, `
		SELECT token, reason, created_at, expires_at
		FROM escalation_tokens
		WHERE resolved_at IS NULL AND expires_at > NOW()
		ORDER BY created_at ASC
	`)
	if err != nil {
		slog.Error("Failed to query escalations", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tREASON\tCREATED\tEXPIRES")
	pending := 0
	for rows.Next() {
		var token, reason, createdAt, expiresAt string
		if err := rows.Scan(&token, &reason, &createdAt, &expiresAt); err != nil {
			slog.Error("Failed to scan row", "error", err)
			os.Exit(1)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", token, reason, createdAt, expiresAt)
		pending++
	}
	_ = w.Flush()
	fmt.Printf("\n%d pending escalation(s)\n", pending)

	var total, failed int
	row := db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT success AND final) FROM batch_results")
	if err := row.Scan(&total, &failed); err == nil {
		fmt.Printf("%d batch result(s), %d finalized failure(s)\n", total, failed)
	}
}
