package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/ui"
)

var banCmd = &cobra.Command{
	Use:   "ban",
	Short: "Manage IP bans",
}

var banAddCmd = &cobra.Command{
	Use:   "add <ip>",
	Short: "Ban an address from the HTTP API",
	Args:  cobra.ExactArgs(1),
	RunE:  runBanAdd,
}

var banListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bans that have not been lifted",
	RunE:  runBanList,
}

var banLiftCmd = &cobra.Command{
	Use:   "lift <id>",
	Short: "Lift a ban",
	Args:  cobra.ExactArgs(1),
	RunE:  runBanLift,
}

func init() {
	banAddCmd.Flags().String("reason", "abuse", "Reason shown to the banned client")
	banAddCmd.Flags().Duration("for", 30*24*time.Hour, "Ban duration")
	banCmd.AddCommand(banAddCmd, banListCmd, banLiftCmd)
	rootCmd.AddCommand(banCmd)
}

func runBanAdd(cmd *cobra.Command, args []string) error {
	ip := args[0]
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%q is not a valid IP address", ip)
	}
	reason, _ := cmd.Flags().GetString("reason")
	d, _ := cmd.Flags().GetDuration("for")
	if d <= 0 {
		return errors.New("ban duration must be positive")
	}

	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	now := model.Now()
	b, err := s.InsertBan(ctx, ip, reason, now, now.Add(d))
	if err != nil {
		return err
	}

	if jsonOutput {
		outputJSON(map[string]any{"id": b.ID, "ip": b.IP, "end_at": model.FormatTime(b.EndAt)})
		return nil
	}
	fmt.Println(ui.SuccessStyle.Render(
		fmt.Sprintf("Banned %s until %s (ban %d)", b.IP, model.FormatTime(b.EndAt), b.ID)))
	return nil
}

func runBanList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	bans, err := s.SelectLiveBans(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		out := make([]map[string]any, 0, len(bans))
		for _, b := range bans {
			out = append(out, map[string]any{
				"id":     b.ID,
				"ip":     b.IP,
				"reason": b.Reason,
				"end_at": model.FormatTime(b.EndAt),
			})
		}
		outputJSON(out)
		return nil
	}

	rows := make([][]string, 0, len(bans))
	for _, b := range bans {
		rows = append(rows, []string{
			strconv.FormatInt(b.ID, 10), b.IP, b.Reason, model.FormatTime(b.EndAt),
		})
	}
	fmt.Println(ui.RenderTable([]string{"ID", "IP", "REASON", "UNTIL"}, rows))
	return nil
}

func runBanLift(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid ban id %q", args[0])
	}

	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	now := model.Now()
	if _, err := s.SetBanDeletedAt(ctx, id, &now); err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("Lifted ban %d", id)))
	}
	return nil
}
