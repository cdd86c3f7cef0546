package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/uhcops/changebot/internal/config"
	"github.com/uhcops/changebot/internal/db"
	"github.com/uhcops/changebot/internal/models"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and prerequisites",
		Long:  "Runs diagnostic checks on ChangeBot prerequisites: config file, platform credentials, database connectivity, schema, and supplier providers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "changebot.yaml", "path to ChangeBot config file")
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "ChangeBot Doctor")
	fmt.Fprintln(out, "================")

	var results []checkResult

	cfg, cfgResult := checkConfig(configPath)
	results = append(results, cfgResult)

	if cfg != nil {
		results = append(results, checkPlatform(cfg))
		results = append(results, checkDatabase(cfg)...)
		results = append(results, checkProviders(cfg)...)
	}

	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	fmt.Fprintf(out, "[%s] %s: %s\n", r.status, r.name, r.detail)
}

func checkConfig(path string) (*config.Config, checkResult) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, checkResult{"Config file", "FAIL", fmt.Sprintf("%s: %v", path, err)}
	}
	return cfg, checkResult{"Config file", "PASS", path}
}

func checkPlatform(cfg *config.Config) checkResult {
	switch cfg.Platform {
	case "discord":
		if cfg.Discord.BotToken == "" {
			return checkResult{"Platform", "FAIL", "discord selected but no bot token configured"}
		}
		if cfg.Discord.DestinationChannelID == "" {
			return checkResult{"Platform", "FAIL", "discord selected but no destination channel configured"}
		}
		return checkResult{"Platform", "PASS", "discord"}
	case "slack":
		if cfg.Slack.AppToken == "" || cfg.Slack.BotToken == "" {
			return checkResult{"Platform", "FAIL", "slack selected but app/bot tokens missing"}
		}
		return checkResult{"Platform", "PASS", "slack"}
	default:
		return checkResult{"Platform", "FAIL", fmt.Sprintf("unsupported platform %q", cfg.Platform)}
	}
}

func checkDatabase(cfg *config.Config) []checkResult {
	gormDB, err := db.Connect(dbOptions(cfg))
	if err != nil {
		return []checkResult{{"Database", "FAIL", err.Error()}}
	}
	results := []checkResult{{"Database", "PASS", databaseLabel(cfg)}}

	// Schema: check a representative table exists.
	if gormDB.Migrator().HasTable(&models.Order{}) {
		results = append(results, checkResult{"Schema", "PASS", "tables present"})
	} else {
		results = append(results, checkResult{"Schema", "WARN", "tables missing (run: changebot migrate)"})
	}
	return results
}

func databaseLabel(cfg *config.Config) string {
	if cfg.DB.Driver == "mysql" {
		return fmt.Sprintf("mysql %s:%d/%s", cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	}
	path := cfg.DB.Path
	if path == "" {
		path = "changebot.db"
	}
	return "sqlite " + path
}

func checkProviders(cfg *config.Config) []checkResult {
	var results []checkResult
	if cfg.Suppliers.GoogleAPIKey != "" {
		results = append(results, checkResult{"Google Places", "PASS", "API key configured"})
	} else {
		results = append(results, checkResult{"Google Places", "WARN", "no API key (OpenStreetMap fallback only)"})
	}
	if cfg.Suppliers.OSMContactEmail != "" {
		results = append(results, checkResult{"OpenStreetMap", "PASS", "contact email configured"})
	} else {
		results = append(results, checkResult{"OpenStreetMap", "WARN", "no contact email set for Nominatim requests"})
	}
	return results
}
