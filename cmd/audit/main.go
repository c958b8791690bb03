package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TylorMayfield/multi-csv-audit-sub000/pkg/utilities"
)

func main() {
	// load .env if present so os.Getenv picks values from it; best-effort.
	_ = godotenv.Load()

	lg, err := utilities.InitLogger(utilities.LogConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	if err := newRootCommand(lg.Sugar()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(logger *zap.SugaredLogger) *cobra.Command {
	root := &cobra.Command{
		Use:           "audit",
		Short:         "Consolidate identity exports from multiple sources",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newImportCommand(logger),
		newSourcesCommand(logger),
		newDuplicatesCommand(logger),
		newBridgesCommand(logger),
		newMatchesCommand(logger),
		newMergeDupesCommand(logger),
	)
	return root
}
