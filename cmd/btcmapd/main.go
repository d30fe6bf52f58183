// Command btcmapd runs the community bitcoin merchant registry: the
// public HTTP API, the JSON-RPC surface, and the background sync jobs.
// Subcommands cover local administration against the same database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/btcmap/internal/conf"
	"github.com/untoldecay/btcmap/internal/store"
)

var (
	jsonOutput bool
	dataDir    string
)

var rootCmd = &cobra.Command{
	Use:   "btcmapd",
	Short: "Community bitcoin merchant registry",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := conf.Initialize(); err != nil {
			return err
		}
		if dataDir != "" {
			conf.Set("data-dir", dataDir)
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for databases and logs (default ~/.btcmap)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Machine-readable output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStore opens the primary database for a one-shot admin command.
// The caller closes it.
func openStore(ctx context.Context) (*store.Store, error) {
	path, err := conf.DatabasePath()
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return s, nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
