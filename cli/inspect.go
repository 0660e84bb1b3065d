package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/langsettings/composer/engine/catalog"
	"github.com/langsettings/composer/engine/composer"
	"github.com/langsettings/composer/engine/registry"
	"github.com/langsettings/composer/engine/schema"
)

// noopRegistry satisfies the registry contract for one-shot inspection,
// where there is no host to reload.
type noopRegistry struct{}

func (noopRegistry) Reload(_ context.Context, _ string) error { return nil }

func InspectCmd() *cobra.Command {
	var catalogPath string
	var schemaPath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Compose a catalog's server schemas and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, catalogPath, schemaPath)
		},
	}
	cmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "YAML file listing server specs")
	cmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "optional plugin schema JSON file")
	_ = cmd.MarkFlagRequired("catalog")
	return cmd
}

func runInspect(cmd *cobra.Command, catalogPath, schemaPath string) error {
	ctx := cmd.Context()
	cat, err := catalog.FromFile(catalogPath)
	if err != nil {
		return err
	}
	cfg, err := composer.LoadConfig(ctx)
	if err != nil {
		return err
	}
	engine, err := composer.New(ctx, cfg, cat, registry.NewSchemaValidator(), noopRegistry{}, nil)
	if err != nil {
		return err
	}
	defer engine.Close()
	plugin := &registry.Plugin{ID: "inspect", Version: "0", Raw: "{}"}
	if schemaPath != "" {
		plugin.Schema, err = loadSchemaFile(schemaPath)
		if err != nil {
			return err
		}
	}
	transformed, err := engine.Fetch(ctx, plugin)
	if err != nil {
		return err
	}
	out := map[string]any{
		"schema": transformed.Schema,
	}
	if errs := engine.ValidationErrors(plugin.ID); len(errs) > 0 {
		out["validation_errors"] = errs
	}
	rendered, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	cmd.Println(string(rendered))
	return nil
}

func loadSchemaFile(path string) (schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	var s schema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}
	return s, nil
}
