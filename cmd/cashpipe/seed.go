package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ratecurve/cashpipe/internal/storage"
)

var seedFile string

// seedDocument is the YAML shape accepted by the seed command. Conditions
// and event params are written as YAML and stored as JSON.
type seedDocument struct {
	Config []struct {
		Category string `yaml:"category"`
		Key      string `yaml:"key"`
		Type     string `yaml:"type"`
		Value    string `yaml:"value"`
	} `yaml:"config"`
	Rules []struct {
		Category    string         `yaml:"category"`
		Name        string         `yaml:"name"`
		Priority    int            `yaml:"priority"`
		Conditions  map[string]any `yaml:"conditions"`
		EventType   string         `yaml:"event_type"`
		EventParams map[string]any `yaml:"event_params"`
	} `yaml:"rules"`
	Platforms []struct {
		Platform      string  `yaml:"platform"`
		DisplayName   string  `yaml:"display_name"`
		Priority      int     `yaml:"priority"`
		Category      string  `yaml:"category"`
		IsPreferred   bool    `yaml:"is_preferred"`
		RateTolerance float64 `yaml:"rate_tolerance"`
		Reliability   float64 `yaml:"reliability"`
	} `yaml:"platforms"`
	Scrapers []struct {
		Source      string  `yaml:"source"`
		Reliability float64 `yaml:"reliability"`
	} `yaml:"scrapers"`
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load configuration, rules, platforms, and scrapers from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return fmt.Errorf("reading seed file: %w", err)
		}
		var doc seedDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing seed file: %w", err)
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		for _, c := range doc.Config {
			if err := store.SetConfigValue(ctx, c.Category, c.Key, c.Value, c.Type); err != nil {
				return fmt.Errorf("config %s/%s: %w", c.Category, c.Key, err)
			}
		}
		for _, r := range doc.Rules {
			conditions, err := json.Marshal(r.Conditions)
			if err != nil {
				return fmt.Errorf("rule %s: %w", r.Name, err)
			}
			params, err := json.Marshal(r.EventParams)
			if err != nil {
				return fmt.Errorf("rule %s: %w", r.Name, err)
			}
			rule := storage.RuleRow{
				Category:        r.Category,
				Name:            r.Name,
				Priority:        r.Priority,
				ConditionsJSON:  string(conditions),
				EventType:       r.EventType,
				EventParamsJSON: string(params),
				Enabled:         true,
			}
			if err := store.InsertBusinessRule(ctx, rule); err != nil {
				return fmt.Errorf("rule %s: %w", r.Name, err)
			}
		}
		for _, p := range doc.Platforms {
			row := storage.PlatformRow{
				Platform:      p.Platform,
				DisplayName:   p.DisplayName,
				Priority:      p.Priority,
				Category:      p.Category,
				IsPreferred:   p.IsPreferred,
				RateTolerance: p.RateTolerance,
				Reliability:   p.Reliability,
			}
			if err := store.UpsertPlatform(ctx, row); err != nil {
				return fmt.Errorf("platform %s: %w", p.Platform, err)
			}
		}
		for _, s := range doc.Scrapers {
			if err := store.UpsertScraper(ctx, storage.ScraperRow{Source: s.Source, Reliability: s.Reliability}); err != nil {
				return fmt.Errorf("scraper %s: %w", s.Source, err)
			}
		}

		if jsonOutput {
			outputJSON(map[string]int{
				"config":    len(doc.Config),
				"rules":     len(doc.Rules),
				"platforms": len(doc.Platforms),
				"scrapers":  len(doc.Scrapers),
			})
			return nil
		}
		fmt.Printf("seeded %d config entries, %d rules, %d platforms, %d scrapers\n",
			len(doc.Config), len(doc.Rules), len(doc.Platforms), len(doc.Scrapers))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "Seed YAML file")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}
