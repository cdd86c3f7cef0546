package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalDiscord = `
platform: discord
discord:
  bot_token: tok
  destination_channel_id: "123"
  materials_role_id: "456"
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalDiscord))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "changebot.db" {
		t.Errorf("db = %+v", cfg.DB)
	}
	if cfg.Suppliers.RadiusMi != 50 || cfg.Suppliers.CacheTTLDays != 30 {
		t.Errorf("suppliers = %+v", cfg.Suppliers)
	}
	if cfg.Reminders.PollCron != "*/10 * * * *" || cfg.Reminders.FrequencyHours != 10 {
		t.Errorf("reminders = %+v", cfg.Reminders)
	}
	if cfg.Health.Port != 10000 {
		t.Errorf("health = %+v", cfg.Health)
	}
}

func TestParse_Slack(t *testing.T) {
	cfg, err := Parse([]byte(`
platform: slack
slack:
  app_token: xapp-1
  bot_token: xoxb-1
  destination_channel_id: C123
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Slack.DestinationChannelID != "C123" {
		t.Errorf("slack = %+v", cfg.Slack)
	}
}

func TestParse_RolesAreOptional(t *testing.T) {
	// Empty role IDs mean "everyone"; validation must not require them.
	cfg, err := Parse([]byte(`
platform: discord
discord:
  bot_token: tok
  destination_channel_id: "123"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Discord.MaterialsRoleID != "" || cfg.Discord.OfficeRoleID != "" {
		t.Errorf("roles = %+v", cfg.Discord)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown platform", "platform: irc", `platform "irc"`},
		{"missing discord token", "platform: discord\ndiscord:\n  destination_channel_id: \"1\"\n  materials_role_id: \"2\"", "discord.bot_token"},
		{"missing slack tokens", "platform: slack", "slack.app_token"},
		{"bad db driver", minimalDiscord + "db:\n  driver: postgres", `db.driver "postgres"`},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.yaml))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("CHANGEBOT_DISCORD_TOKEN", "env-token")
	t.Setenv("GOOGLE_PLACES_API_KEY", "env-key")

	cfg, err := Parse([]byte(minimalDiscord))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Discord.BotToken != "env-token" {
		t.Errorf("token = %q", cfg.Discord.BotToken)
	}
	if cfg.Suppliers.GoogleAPIKey != "env-key" {
		t.Errorf("google key = %q", cfg.Suppliers.GoogleAPIKey)
	}
}

func TestParse_EnvTokenSatisfiesValidation(t *testing.T) {
	t.Setenv("CHANGEBOT_DISCORD_TOKEN", "env-token")

	_, err := Parse([]byte(`
platform: discord
discord:
  destination_channel_id: "123"
  materials_role_id: "456"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changebot.yaml")
	if err := os.WriteFile(path, []byte(minimalDiscord), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discord.DestinationChannelID != "123" {
		t.Errorf("cfg = %+v", cfg.Discord)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParse_BadYAML(t *testing.T) {
	if _, err := Parse([]byte("platform: [")); err == nil {
		t.Fatal("expected parse error")
	}
}
