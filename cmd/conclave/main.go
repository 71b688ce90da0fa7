// Command conclave is the control plane's binary: directory sync, the job
// executor fabric, and the logical-replication event bus, behind three
// subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/edgemark/conclave/internal/app"
	"github.com/edgemark/conclave/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd := os.Args[1]; cmd {
	case "serve":
		err = app.Serve(ctx, cfg)
	case "migrate":
		err = app.Migrate(cfg)
	case "verify-provider":
		err = runVerifyProvider(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func runVerifyProvider(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("verify-provider", flag.ExitOnError)
	accountFlag := fs.String("account", "", "account ID the provider belongs to")
	providerFlag := fs.String("provider", "", "provider ID to verify")
	if err := fs.Parse(args); err != nil {
		return err
	}

	accountID, err := uuid.Parse(*accountFlag)
	if err != nil {
		return fmt.Errorf("invalid --account: %w", err)
	}
	providerID, err := uuid.Parse(*providerFlag)
	if err != nil {
		return fmt.Errorf("invalid --provider: %w", err)
	}

	return app.VerifyProvider(ctx, cfg, accountID, providerID)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: conclave <serve|migrate|verify-provider> [flags]")
	fmt.Fprintln(os.Stderr, "  serve                                        run the control plane")
	fmt.Fprintln(os.Stderr, "  migrate                                      apply schema migrations and exit")
	fmt.Fprintln(os.Stderr, "  verify-provider --account <id> --provider <id>  one-shot IdP connectivity check")
}
