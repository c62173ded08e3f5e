package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	catalogEmbed bool
	catalogForce bool
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the local segment catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import segments and negotiated prices from a YAML seed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initCatalog(false)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Indexer.ImportCatalog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := printJSON(cmd, stats); err != nil {
			return err
		}

		if !catalogEmbed {
			return nil
		}
		embedStats, err := env.Indexer.EmbedCatalog(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, embedStats)
	},
}

var catalogEmbedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed catalog segments whose vectors are missing or stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initCatalog(catalogForce)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Indexer.EmbedCatalog(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initCatalog(false)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Store.Stats(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "catalog stats")
		}
		return printJSON(cmd, stats)
	},
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	catalogImportCmd.Flags().BoolVar(&catalogEmbed, "embed", false, "embed new and changed segments after import")
	catalogEmbedCmd.Flags().BoolVar(&catalogForce, "force", false, "re-embed every segment")

	catalogCmd.AddCommand(catalogImportCmd, catalogEmbedCmd, catalogStatsCmd)
	rootCmd.AddCommand(catalogCmd)
}
