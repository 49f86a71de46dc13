package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearConfigEnv blanks every variable loadConfig reads so the host
// environment cannot leak into a test.
func clearConfigEnv(t *testing.T) {
	for _, key := range []string{
		"DB", "DEV", "ADDR", "PUBLIC_URL", "NIGHT_SECONDS", "DAY_SECONDS", "VOTE_SECONDS",
		"LOBBY_GRACE_SECONDS", "GAME_GRACE_SECONDS", "IDLE_MINUTES", "MAX_PLAYERS",
		"WS_RATE", "WS_BURST", "LOG_OUTPUT_DIR", "LOG_REQUESTS", "LOG_WS", "LOG_DEBUG",
		"STORYTELLER_PROVIDER", "STORYTELLER_MODEL", "STORYTELLER_OLLAMA_URL", "STORYTELLER_URL",
		"STORYTELLER_API_KEY", "STORYTELLER_TEMPERATURE", "STORYTELLER_THINKING", "GROQ_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	cfg := loadConfig(filepath.Join(dir, "missing.json"), filepath.Join(dir, "missing.env"))
	if cfg != defaultConfig() {
		t.Errorf("loadConfig without files = %+v, want defaults", cfg)
	}
}

func TestLoadConfigLayering(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	envPath := writeFile(t, dir, ".env", "NIGHT_SECONDS=45\nDAY_SECONDS=100\nADDR=:1111\nSTORYTELLER_PROVIDER=ollama\n")
	jsonPath := writeFile(t, dir, "config.json", `{"addr": ":2222", "vote_seconds": 20, "ws_rate": 2.5}`)
	t.Setenv("DAY_SECONDS", "120")
	t.Setenv("LOG_DEBUG", "yes")

	cfg := loadConfig(jsonPath, envPath)

	flags := flag.NewFlagSet("test", flag.ContinueOnError)
	fv := registerFlags(flags)
	if err := flags.Parse([]string{"-vote-seconds", "10", "-dev"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	fv.applyTo(flags, &cfg)

	checks := []struct {
		name      string
		got, want any
	}{
		{".env only", cfg.NightSeconds, 45},
		{"env beats .env", cfg.DaySeconds, 120},
		{"flag beats JSON", cfg.VoteSeconds, 10},
		{"JSON beats .env", cfg.Addr, ":2222"},
		{"JSON float", cfg.WSRate, 2.5},
		{"env bool", cfg.LogDebug, true},
		{"flag bool", cfg.Dev, true},
		{".env string", cfg.StorytellerProvider, "ollama"},
		{"untouched default", cfg.MaxPlayers, 12},
		{"unset flag keeps loaded value", cfg.PublicURL, "http://localhost:8080"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadConfigIgnoresBadValues(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	jsonPath := writeFile(t, dir, "config.json", `{"night_seconds": "soon", "day_seconds": 70}`)
	t.Setenv("VOTE_SECONDS", "forever")

	cfg := loadConfig(jsonPath, "")
	if cfg.NightSeconds != 60 || cfg.VoteSeconds != 30 {
		t.Errorf("invalid values applied: night %d vote %d", cfg.NightSeconds, cfg.VoteSeconds)
	}
	if cfg.DaySeconds != 70 {
		t.Errorf("valid field next to an invalid one was dropped: day %d", cfg.DaySeconds)
	}
}

func TestGameConfigFromAppConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.NightSeconds = 45
	cfg.GameGraceSeconds = 0
	cfg.MaxPlayers = 3
	cfg.IdleMinutes = 2

	gc := cfg.gameConfig()
	if gc.NightDuration != 45*time.Second {
		t.Errorf("NightDuration = %v, want 45s", gc.NightDuration)
	}
	if gc.GameGrace != 30*time.Second {
		t.Errorf("GameGrace = %v, want the 30s default", gc.GameGrace)
	}
	if gc.MaxPlayers != 12 {
		t.Errorf("MaxPlayers = %d, a value below the minimum must keep 12", gc.MaxPlayers)
	}
	if gc.IdleTimeout != 2*time.Minute {
		t.Errorf("IdleTimeout = %v, want 2m", gc.IdleTimeout)
	}
	if gc.ChatLimit != 10 || gc.ChatWindow != 5*time.Second || gc.MinPlayers != 4 {
		t.Errorf("fixed rules changed: %+v", gc)
	}
}
