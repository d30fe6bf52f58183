package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/btcmap/internal/auth"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
	"github.com/untoldecay/btcmap/internal/ui"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage operator accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create an operator account",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

func init() {
	userAddCmd.Flags().StringSlice("role", []string{model.RoleAdmin}, "Roles for the account (repeatable)")
	userAddCmd.Flags().String("password", "", "Password (prompted when omitted)")
	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	if name == "" {
		return errors.New("name is required")
	}
	roles, _ := cmd.Flags().GetStringSlice("role")
	for _, r := range roles {
		if !model.ValidRole(r) {
			return fmt.Errorf("unknown role %q", r)
		}
	}

	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		prompt := huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(func(s string) error {
				if len(s) < 8 {
					return errors.New("password must be at least 8 characters")
				}
				return nil
			})
		if err := huh.NewForm(huh.NewGroup(prompt)).Run(); err != nil {
			return err
		}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	u, err := s.InsertUser(ctx, name, hash, roles)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("user %q already exists", name)
		}
		return err
	}

	if jsonOutput {
		outputJSON(map[string]any{"id": u.ID, "name": u.Name, "roles": u.Roles})
		return nil
	}
	fmt.Println(ui.SuccessStyle.Render(
		fmt.Sprintf("Created user %d (%s) with roles %s", u.ID, u.Name, strings.Join(roles, ", "))))
	return nil
}
