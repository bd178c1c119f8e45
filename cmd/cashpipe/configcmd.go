package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ratecurve/cashpipe/internal/storage"
)

var configSetType string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write store-resident pipeline parameters",
	Long: `Config operates on the unified_config table: the business parameters the
stages load at run time. Values are typed (number, boolean, string, json)
and there are no code defaults; a stage fails fast when a key is missing.`,
}

var configListCmd = &cobra.Command{
	Use:   "list [category]",
	Short: "List configuration entries, optionally for one category",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		category := ""
		if len(args) == 1 {
			category = args[0]
		}
		rows, err := store.ListConfig(ctx, category)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(configRowsJSON(rows))
			return nil
		}
		for _, row := range rows {
			fmt.Printf("%-16s %-32s %-8s %s\n", row.Category, row.Key, row.ValueType, row.Value)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <category> <key>",
	Short: "Print one configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rows, err := store.GetConfigCategory(ctx, args[0])
		if err != nil {
			return err
		}
		for _, row := range rows {
			if row.Key != args[1] {
				continue
			}
			if jsonOutput {
				outputJSON(configRowJSON(row))
			} else {
				fmt.Println(row.Value)
			}
			return nil
		}
		return fmt.Errorf("no such key: %s/%s", args[0], args[1])
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <category> <key> <value>",
	Short: "Set one configuration value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch configSetType {
		case "number", "boolean", "string", "json":
		default:
			return fmt.Errorf("bad --type %q: want number, boolean, string, or json", configSetType)
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := store.SetConfigValue(ctx, args[0], args[1], args[2], configSetType); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Printf("%s/%s = %s (%s)\n", args[0], args[1], args[2], configSetType)
		}
		return nil
	},
}

type configEntryJSON struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	Type     string `json:"type"`
	Active   bool   `json:"active"`
}

func configRowJSON(row storage.ConfigRow) configEntryJSON {
	return configEntryJSON{
		Category: row.Category,
		Key:      row.Key,
		Value:    row.Value,
		Type:     row.ValueType,
		Active:   row.IsActive,
	}
}

func configRowsJSON(rows []storage.ConfigRow) []configEntryJSON {
	out := make([]configEntryJSON, len(rows))
	for i, row := range rows {
		out[i] = configRowJSON(row)
	}
	return out
}

func init() {
	configSetCmd.Flags().StringVar(&configSetType, "type", "string", "Value type (number|boolean|string|json)")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
