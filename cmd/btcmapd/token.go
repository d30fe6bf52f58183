package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/btcmap/internal/auth"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/rpc"
	"github.com/untoldecay/btcmap/internal/ui"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage RPC access tokens",
}

var tokenAddCmd = &cobra.Command{
	Use:   "add <user>",
	Short: "Mint a bearer token for an operator",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenAdd,
}

var tokenListCmd = &cobra.Command{
	Use:   "list <user>",
	Short: "List an operator's live tokens",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenList,
}

func init() {
	tokenAddCmd.Flags().String("label", "cli", "Label for the new token")
	tokenCmd.AddCommand(tokenAddCmd, tokenListCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := s.SelectUserByName(ctx, args[0])
	if err != nil {
		return err
	}
	secret, err := auth.NewSecret()
	if err != nil {
		return err
	}
	label, _ := cmd.Flags().GetString("label")

	t, err := s.InsertAccessToken(ctx, u.ID, label, secret, rpc.MethodsForRoles(u.Roles))
	if err != nil {
		return err
	}

	if jsonOutput {
		outputJSON(map[string]any{
			"id":              t.ID,
			"user":            u.Name,
			"token":           secret,
			"allowed_methods": t.AllowedMethods,
		})
		return nil
	}
	// The secret is shown once and never again; only its row survives.
	fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("Token for %s:", u.Name)))
	fmt.Println(secret)
	fmt.Println(ui.MutedStyle.Render("Grants: " + strings.Join(t.AllowedMethods, ", ")))
	return nil
}

func runTokenList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := s.SelectUserByName(ctx, args[0])
	if err != nil {
		return err
	}
	tokens, err := s.SelectAccessTokensByUser(ctx, u.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		out := make([]map[string]any, 0, len(tokens))
		for _, t := range tokens {
			out = append(out, map[string]any{
				"id":              t.ID,
				"name":            t.Name,
				"allowed_methods": t.AllowedMethods,
				"created_at":      model.FormatTime(t.CreatedAt),
			})
		}
		outputJSON(out)
		return nil
	}

	rows := make([][]string, 0, len(tokens))
	for _, t := range tokens {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			t.Name,
			strings.Join(t.AllowedMethods, ","),
			model.FormatTime(t.CreatedAt),
		})
	}
	fmt.Println(ui.RenderTable([]string{"ID", "NAME", "GRANTS", "CREATED"}, rows))
	return nil
}
