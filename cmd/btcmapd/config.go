package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/btcmap/internal/store"
	"github.com/untoldecay/btcmap/internal/ui"
)

// The conf subcommands edit the runtime settings table (prices, provider
// keys), not the process configuration file.

var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "Manage runtime settings",
}

var confListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all runtime settings",
	RunE:  runConfList,
}

var confGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfGet,
}

var confSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfSet,
}

var confUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfUnset,
}

func init() {
	confCmd.AddCommand(confListCmd, confGetCmd, confSetCmd, confUnsetCmd)
	rootCmd.AddCommand(confCmd)
}

func runConfList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	values, keys, err := s.ListConf(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		outputJSON(values)
		return nil
	}
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, values[k]})
	}
	fmt.Println(ui.RenderTable([]string{"KEY", "VALUE"}, rows))
	return nil
}

func runConfGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	value, err := s.GetConf(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s is not set", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runConfSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.SetConf(ctx, args[0], args[1]); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("Set %s", args[0])))
	}
	return nil
}

func runConfUnset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.DeleteConf(ctx, args[0]); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("Unset %s", args[0])))
	}
	return nil
}
