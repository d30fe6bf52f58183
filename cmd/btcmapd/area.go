package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/btcmap/internal/geo"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
	"github.com/untoldecay/btcmap/internal/ui"
)

var areaCmd = &cobra.Command{
	Use:   "area",
	Short: "Manage named regions",
}

var areaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live areas",
	RunE:  runAreaList,
}

var areaImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create or update areas from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE:  runAreaImport,
}

var areaAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Interactively create an area",
	RunE:  runAreaAdd,
}

func init() {
	areaCmd.AddCommand(areaListCmd, areaImportCmd, areaAddCmd)
	rootCmd.AddCommand(areaCmd)
}

func runAreaList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	areas, err := s.SelectLiveAreas(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		out := make([]map[string]any, 0, len(areas))
		for _, a := range areas {
			out = append(out, map[string]any{
				"id":    a.ID,
				"alias": a.Alias(),
				"name":  a.Name(),
				"type":  a.Tags.GetString("type"),
			})
		}
		outputJSON(out)
		return nil
	}

	rows := make([][]string, 0, len(areas))
	for _, a := range areas {
		rows = append(rows, []string{
			strconv.FormatInt(a.ID, 10), a.Alias(), a.Name(), a.Tags.GetString("type"),
		})
	}
	fmt.Println(ui.RenderTable([]string{"ID", "ALIAS", "NAME", "TYPE"}, rows))
	return nil
}

func runAreaImport(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var fixtures []model.Tags
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}
	for i, tags := range fixtures {
		if err := validateAreaTags(tags); err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
	}

	if !ui.PromptYesNo(fmt.Sprintf("Import %d areas?", len(fixtures)), true) {
		return nil
	}

	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	created, updated := 0, 0
	for _, tags := range fixtures {
		alias := tags.GetString("url_alias")
		existing, err := s.SelectAreaByAlias(ctx, alias)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if _, err := s.InsertArea(ctx, tags); err != nil {
				return fmt.Errorf("failed to create %q: %w", alias, err)
			}
			created++
		case err != nil:
			return err
		default:
			if _, err := s.PatchAreaTags(ctx, existing.ID, tags); err != nil {
				return fmt.Errorf("failed to update %q: %w", alias, err)
			}
			updated++
		}
	}

	if jsonOutput {
		outputJSON(map[string]int{"created": created, "updated": updated})
		return nil
	}
	fmt.Println(ui.SuccessStyle.Render(
		fmt.Sprintf("Imported %d areas (%d created, %d updated)", len(fixtures), created, updated)))
	return nil
}

func validateAreaTags(tags model.Tags) error {
	if tags.GetString("url_alias") == "" {
		return errors.New("url_alias is required")
	}
	if tags.GetString("name") == "" {
		return errors.New("name is required")
	}
	probe := &model.Area{Tags: tags}
	if _, err := geo.AreaGeometries(probe); err != nil {
		return fmt.Errorf("invalid geo_json: %w", err)
	}
	return nil
}

func runAreaAdd(cmd *cobra.Command, args []string) error {
	var alias, name, areaType, boundaryPath string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("URL alias").
				Description("Stable key used in URLs (required)").
				Placeholder("e.g., th").
				Value(&alias).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("url_alias is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Name").
				Description("Human-readable area name (required)").
				Placeholder("e.g., Thailand").
				Value(&name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("name is required")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Type").
				Options(
					huh.NewOption("Community", "community"),
					huh.NewOption("Country", "country"),
				).
				Value(&areaType),

			huh.NewInput().
				Title("Boundary file").
				Description("Path to a GeoJSON boundary (optional)").
				Placeholder("./boundaries/th.json").
				Value(&boundaryPath),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	tags := model.Tags{
		"url_alias": strings.TrimSpace(alias),
		"name":      strings.TrimSpace(name),
		"type":      areaType,
	}
	if path := strings.TrimSpace(boundaryPath); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var boundary any
		if err := json.Unmarshal(raw, &boundary); err != nil {
			return fmt.Errorf("%s is not valid JSON: %w", path, err)
		}
		tags["geo_json"] = boundary
	}
	if err := validateAreaTags(tags); err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	area, err := s.InsertArea(ctx, tags)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("url_alias %q is taken", tags.GetString("url_alias"))
		}
		return err
	}

	if jsonOutput {
		outputJSON(map[string]any{"id": area.ID, "alias": area.Alias()})
		return nil
	}
	fmt.Println(ui.SuccessStyle.Render(
		fmt.Sprintf("Created area %d (%s)", area.ID, area.Alias())))
	return nil
}
