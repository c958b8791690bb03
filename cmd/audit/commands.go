package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/bridge"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/consolidate"
	consolidaterepo "github.com/TylorMayfield/multi-csv-audit-sub000/internal/consolidate/repo"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/keys"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/merge"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/schema"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/similarity"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/source"
	sourcerepo "github.com/TylorMayfield/multi-csv-audit-sub000/internal/source/repo"
	"github.com/TylorMayfield/multi-csv-audit-sub000/internal/tabular"
	"github.com/TylorMayfield/multi-csv-audit-sub000/pkg/database"
	"github.com/TylorMayfield/multi-csv-audit-sub000/pkg/utilities"
)

// app bundles the wired services a command needs.
type app struct {
	db      *sqlx.DB
	store   *consolidaterepo.Store
	sources *source.Service
	engine  *consolidate.Service
}

// openApp connects to storage, ensures the schema and wires the services.
// Callers must Close.
func openApp(ctx context.Context, logger *zap.SugaredLogger) (*app, error) {
	db, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		return nil, err
	}
	if err := consolidaterepo.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	srcRepo := sourcerepo.NewSourceRepo(db)
	if err := srcRepo.EnsureTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure sources table: %w", err)
	}

	store := consolidaterepo.NewStore(db)
	extractor := schema.NewExtractor(schema.DefaultNormalizeConfig())
	deriver := keys.NewDeriver(keys.Config{Strategy: keys.Strategy(os.Getenv("KEY_STRATEGY"))})
	scorer := similarity.NewScorer(similarity.DefaultConfig())
	arbitrator := merge.NewArbitrator(extractor, deriver)
	matcher := bridge.NewMatcher(store, logger, bridge.Config{})
	engine := consolidate.NewService(store, extractor, deriver, scorer, arbitrator, matcher, logger, consolidate.DefaultConfig())

	return &app{
		db:      db,
		store:   store,
		sources: source.NewService(srcRepo),
		engine:  engine,
	}, nil
}

func (a *app) Close() { a.db.Close() }

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newImportCommand(logger *zap.SugaredLogger) *cobra.Command {
	var sourceName, schemaPath string
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Ingest one export file into the identity store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var descriptorJSON []byte
			if schemaPath != "" {
				descriptorJSON, err = os.ReadFile(schemaPath)
				if err != nil {
					return fmt.Errorf("read schema: %w", err)
				}
			}
			src, err := a.sources.Ensure(ctx, sourceName, descriptorJSON)
			if err != nil {
				return err
			}
			desc, err := a.sources.Descriptor(src)
			if err != nil {
				return err
			}
			rows, err := tabular.ReadFile(args[0])
			if err != nil {
				return err
			}

			importID := utilities.NewImportID()
			result, err := a.engine.ProcessImport(ctx, importID, src.ID, rows, desc)
			if err != nil {
				return err
			}
			return printJSON(struct {
				ImportID string              `json:"importId"`
				Source   string              `json:"source"`
				Result   *consolidate.Result `json:"result"`
			}{importID, src.Name, result})
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", "", "source name this file belongs to (required)")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to a schema descriptor JSON file")
	cmd.MarkFlagRequired("source")
	return cmd
}

func newSourcesCommand(logger *zap.SugaredLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()
			list, err := a.sources.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(list)
		},
	}
}

func newDuplicatesCommand(logger *zap.SugaredLogger) *cobra.Command {
	var first, last, email, username string
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "Rank stored identities similar to the given attributes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()
			attrs := schema.AttributeSet{FirstName: first, LastName: last, Email: email, Username: username}
			candidates, err := a.engine.FindPotentialDuplicates(cmd.Context(), attrs)
			if err != nil {
				return err
			}
			return printJSON(candidates)
		},
	}
	cmd.Flags().StringVar(&first, "first", "", "first name")
	cmd.Flags().StringVar(&last, "last", "", "last name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&username, "username", "", "username")
	return cmd
}

func newBridgesCommand(logger *zap.SugaredLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "bridges",
		Short: "List datasets usable to link identifiers across sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()
			datasets, err := a.engine.FindBridgeDatasets(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(datasets)
		},
	}
}

func newMatchesCommand(logger *zap.SugaredLogger) *cobra.Command {
	return &cobra.Command{
		Use:   "matches <identity-key>",
		Short: "Find cross-source identifier matches for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.engine.FindCrossSourceMatches(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newMergeDupesCommand(logger *zap.SugaredLogger) *cobra.Command {
	var sourceName string
	cmd := &cobra.Command{
		Use:   "merge-dupes <identity-key>",
		Short: "Merge a source's duplicate records for one identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			src, err := a.sources.Get(ctx, sourceName)
			if err != nil {
				return err
			}
			result, err := a.engine.MergeSourceDuplicates(ctx, args[0], src.ID)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", "", "source name holding the duplicates (required)")
	cmd.MarkFlagRequired("source")
	return cmd
}
