package main

import (
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < .env file < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	DB        string `json:"db"`         // results store: empty = off, postgres:// URL, or sqlite path
	Dev       bool   `json:"dev"`        // dev mode: any websocket origin, verbose errors
	Addr      string `json:"addr"`       // HTTP listen address
	PublicURL string `json:"public_url"` // base URL encoded in join QR codes

	// Game timings and limits
	NightSeconds      int `json:"night_seconds"`
	DaySeconds        int `json:"day_seconds"`
	VoteSeconds       int `json:"vote_seconds"`
	LobbyGraceSeconds int `json:"lobby_grace_seconds"`
	GameGraceSeconds  int `json:"game_grace_seconds"`
	IdleMinutes       int `json:"idle_minutes"`
	MaxPlayers        int `json:"max_players"`

	// Inbound websocket frame limit per connection
	WSRate  float64 `json:"ws_rate"`  // frames per second
	WSBurst int     `json:"ws_burst"` // burst size

	// Logging (extended diagnostics, off by default)
	LogOutputDir string `json:"log_output_dir"`
	LogRequests  bool   `json:"log_requests"`
	LogWS        bool   `json:"log_ws"`
	LogDebug     bool   `json:"log_debug"`

	// AI Storyteller
	StorytellerProvider    string `json:"storyteller_provider"`    // ollama | openai | claude | gemini | groq | openai-compatible
	StorytellerModel       string `json:"storyteller_model"`       // model name
	StorytellerOllamaURL   string `json:"storyteller_ollama_url"`  // Ollama server URL
	StorytellerURL         string `json:"storyteller_url"`         // base URL for openai-compatible
	StorytellerAPIKey      string `json:"storyteller_api_key"`     // API key for openai-compatible
	StorytellerTemperature string `json:"storyteller_temperature"` // float 0-1 as string
	StorytellerThinking    string `json:"storyteller_thinking"`    // none | low | medium | high | auto
	GroqAPIKey             string `json:"groq_api_key"`            // API key for groq provider
}

func (cfg AppConfig) toLogConfig() LogConfig {
	return LogConfig{
		OutputDir:   cfg.LogOutputDir,
		LogRequests: cfg.LogRequests,
		LogWS:       cfg.LogWS,
		Debug:       cfg.LogDebug,
	}
}

// gameConfig derives the registry rules. Unset or invalid values keep the defaults.
func (cfg AppConfig) gameConfig() GameConfig {
	gc := DefaultGameConfig()
	seconds := func(n int, dst *time.Duration) {
		if n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
	seconds(cfg.NightSeconds, &gc.NightDuration)
	seconds(cfg.DaySeconds, &gc.DayDuration)
	seconds(cfg.VoteSeconds, &gc.VoteDuration)
	seconds(cfg.LobbyGraceSeconds, &gc.LobbyGrace)
	seconds(cfg.GameGraceSeconds, &gc.GameGrace)
	if cfg.IdleMinutes > 0 {
		gc.IdleTimeout = time.Duration(cfg.IdleMinutes) * time.Minute
	}
	if cfg.MaxPlayers >= gc.MinPlayers {
		gc.MaxPlayers = cfg.MaxPlayers
	}
	return gc
}

func defaultConfig() AppConfig {
	return AppConfig{
		DB:                   "file::memory:?cache=shared",
		Addr:                 ":8080",
		PublicURL:            "http://localhost:8080",
		NightSeconds:         60,
		DaySeconds:           90,
		VoteSeconds:          30,
		LobbyGraceSeconds:    15,
		GameGraceSeconds:     30,
		IdleMinutes:          10,
		MaxPlayers:           12,
		WSRate:               20,
		WSBurst:              40,
		StorytellerOllamaURL: "http://localhost:11434",
	}
}

// loadConfig builds a config by layering: defaults → .env file → env vars → JSON config file.
// CLI flag overrides are applied separately by flagValues.applyTo after flag.Parse.
func loadConfig(configPath, envPath string) AppConfig {
	cfg := defaultConfig()

	// Layer 1: .env file, read without touching the process environment
	dotenv := map[string]string{}
	if envPath != "" {
		m, err := godotenv.Read(envPath)
		switch {
		case err == nil:
			dotenv = m
			log.Printf("Config: loaded %d value(s) from %s", len(m), envPath)
		case !errors.Is(err, fs.ErrNotExist):
			log.Printf("Config: failed to read %s: %v", envPath, err)
		}
	}

	// Layer 2: env vars, falling back to .env values
	envStr := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	envBool := func(key string) (val bool, set bool) {
		v := envStr(key)
		if v == "" {
			return false, false
		}
		return v == "1" || v == "true" || v == "yes", true
	}
	envInt := func(key string, dst *int) {
		if v := envStr(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				log.Printf("Config: invalid %s=%q: %v", key, v, err)
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := envStr(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			} else {
				log.Printf("Config: invalid %s=%q: %v", key, v, err)
			}
		}
	}

	if v := envStr("DB"); v != "" {
		cfg.DB = v
	}
	if v, ok := envBool("DEV"); ok {
		cfg.Dev = v
	}
	if v := envStr("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := envStr("PUBLIC_URL"); v != "" {
		cfg.PublicURL = v
	}
	envInt("NIGHT_SECONDS", &cfg.NightSeconds)
	envInt("DAY_SECONDS", &cfg.DaySeconds)
	envInt("VOTE_SECONDS", &cfg.VoteSeconds)
	envInt("LOBBY_GRACE_SECONDS", &cfg.LobbyGraceSeconds)
	envInt("GAME_GRACE_SECONDS", &cfg.GameGraceSeconds)
	envInt("IDLE_MINUTES", &cfg.IdleMinutes)
	envInt("MAX_PLAYERS", &cfg.MaxPlayers)
	envFloat("WS_RATE", &cfg.WSRate)
	envInt("WS_BURST", &cfg.WSBurst)
	if v := envStr("LOG_OUTPUT_DIR"); v != "" {
		cfg.LogOutputDir = v
	}
	if v, ok := envBool("LOG_REQUESTS"); ok {
		cfg.LogRequests = v
	}
	if v, ok := envBool("LOG_WS"); ok {
		cfg.LogWS = v
	}
	if v, ok := envBool("LOG_DEBUG"); ok {
		cfg.LogDebug = v
	}
	if v := envStr("STORYTELLER_PROVIDER"); v != "" {
		cfg.StorytellerProvider = v
	}
	if v := envStr("STORYTELLER_MODEL"); v != "" {
		cfg.StorytellerModel = v
	}
	if v := envStr("STORYTELLER_OLLAMA_URL"); v != "" {
		cfg.StorytellerOllamaURL = v
	}
	if v := envStr("STORYTELLER_URL"); v != "" {
		cfg.StorytellerURL = v
	}
	if v := envStr("STORYTELLER_API_KEY"); v != "" {
		cfg.StorytellerAPIKey = v
	}
	if v := envStr("STORYTELLER_TEMPERATURE"); v != "" {
		cfg.StorytellerTemperature = v
	}
	if v := envStr("STORYTELLER_THINKING"); v != "" {
		cfg.StorytellerThinking = v
	}
	if v := envStr("GROQ_API_KEY"); v != "" {
		cfg.GroqAPIKey = v
	}

	// Layer 3: JSON config file, only fields present in the file override env vars
	if data, err := os.ReadFile(configPath); err == nil {
		var overlay map[string]json.RawMessage
		if err := json.Unmarshal(data, &overlay); err != nil {
			log.Printf("Config: failed to parse %s: %v", configPath, err)
		} else {
			applyJSONOverlay(&cfg, overlay)
			log.Printf("Config: loaded from %s", configPath)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Config: failed to read %s: %v", configPath, err)
	}

	return cfg
}

// applyJSONOverlay only sets fields that are explicitly present in the JSON map.
func applyJSONOverlay(cfg *AppConfig, m map[string]json.RawMessage) {
	set := func(key string, dst any) {
		if v, ok := m[key]; ok {
			if err := json.Unmarshal(v, dst); err != nil {
				log.Printf("Config: invalid %s: %v", key, err)
			}
		}
	}
	set("db", &cfg.DB)
	set("dev", &cfg.Dev)
	set("addr", &cfg.Addr)
	set("public_url", &cfg.PublicURL)
	set("night_seconds", &cfg.NightSeconds)
	set("day_seconds", &cfg.DaySeconds)
	set("vote_seconds", &cfg.VoteSeconds)
	set("lobby_grace_seconds", &cfg.LobbyGraceSeconds)
	set("game_grace_seconds", &cfg.GameGraceSeconds)
	set("idle_minutes", &cfg.IdleMinutes)
	set("max_players", &cfg.MaxPlayers)
	set("ws_rate", &cfg.WSRate)
	set("ws_burst", &cfg.WSBurst)
	set("log_output_dir", &cfg.LogOutputDir)
	set("log_requests", &cfg.LogRequests)
	set("log_ws", &cfg.LogWS)
	set("log_debug", &cfg.LogDebug)
	set("storyteller_provider", &cfg.StorytellerProvider)
	set("storyteller_model", &cfg.StorytellerModel)
	set("storyteller_ollama_url", &cfg.StorytellerOllamaURL)
	set("storyteller_url", &cfg.StorytellerURL)
	set("storyteller_api_key", &cfg.StorytellerAPIKey)
	set("storyteller_temperature", &cfg.StorytellerTemperature)
	set("storyteller_thinking", &cfg.StorytellerThinking)
	set("groq_api_key", &cfg.GroqAPIKey)
}

// flagValues holds pointers to all registered CLI flags.
type flagValues struct {
	configPath             *string
	envPath                *string
	db                     *string
	dev                    *bool
	addr                   *string
	publicURL              *string
	nightSeconds           *int
	daySeconds             *int
	voteSeconds            *int
	maxPlayers             *int
	logOutputDir           *string
	logRequests            *bool
	logWS                  *bool
	logDebug               *bool
	storytellerProvider    *string
	storytellerModel       *string
	storytellerOllamaURL   *string
	storytellerURL         *string
	storytellerAPIKey      *string
	storytellerTemperature *string
	storytellerThinking    *string
	groqAPIKey             *string
}

// registerFlags registers all CLI flags on flags and returns pointers to their values.
// Parse flags after this, then applyTo to layer them over the loaded config.
func registerFlags(flags *flag.FlagSet) flagValues {
	return flagValues{
		configPath:             flags.String("config", "config.json", "path to JSON config file"),
		envPath:                flags.String("env", ".env", "path to .env file"),
		db:                     flags.String("db", "", "results store: postgres:// URL or sqlite path"),
		dev:                    flags.Bool("dev", false, "enable development mode (any websocket origin)"),
		addr:                   flags.String("addr", "", "HTTP listen address (e.g. :8080)"),
		publicURL:              flags.String("public-url", "", "base URL encoded in join QR codes"),
		nightSeconds:           flags.Int("night-seconds", 0, "night phase duration"),
		daySeconds:             flags.Int("day-seconds", 0, "day discussion duration"),
		voteSeconds:            flags.Int("vote-seconds", 0, "vote phase duration"),
		maxPlayers:             flags.Int("max-players", 0, "maximum players per room"),
		logOutputDir:           flags.String("log-output-dir", "", "directory for extended log files"),
		logRequests:            flags.Bool("log-requests", false, "log HTTP requests and responses"),
		logWS:                  flags.Bool("log-ws", false, "log WebSocket messages"),
		logDebug:               flags.Bool("log-debug", false, "enable debug logging"),
		storytellerProvider:    flags.String("storyteller-provider", "", "AI storyteller provider (ollama|openai|claude|gemini|groq|openai-compatible)"),
		storytellerModel:       flags.String("storyteller-model", "", "AI storyteller model name"),
		storytellerOllamaURL:   flags.String("storyteller-ollama-url", "", "Ollama server URL"),
		storytellerURL:         flags.String("storyteller-url", "", "base URL for openai-compatible provider"),
		storytellerAPIKey:      flags.String("storyteller-api-key", "", "API key for storyteller provider"),
		storytellerTemperature: flags.String("storyteller-temperature", "", "sampling temperature 0-1"),
		storytellerThinking:    flags.String("storyteller-thinking", "", "thinking mode: none|low|medium|high|auto"),
		groqAPIKey:             flags.String("groq-api-key", "", "Groq API key"),
	}
}

// applyTo overlays any CLI flags that were explicitly set onto cfg.
// Flags that were not passed on the command line are ignored (env/JSON values win).
func (fv flagValues) applyTo(flags *flag.FlagSet, cfg *AppConfig) {
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.DB = *fv.db
		case "dev":
			cfg.Dev = *fv.dev
		case "addr":
			cfg.Addr = *fv.addr
		case "public-url":
			cfg.PublicURL = *fv.publicURL
		case "night-seconds":
			cfg.NightSeconds = *fv.nightSeconds
		case "day-seconds":
			cfg.DaySeconds = *fv.daySeconds
		case "vote-seconds":
			cfg.VoteSeconds = *fv.voteSeconds
		case "max-players":
			cfg.MaxPlayers = *fv.maxPlayers
		case "log-output-dir":
			cfg.LogOutputDir = *fv.logOutputDir
		case "log-requests":
			cfg.LogRequests = *fv.logRequests
		case "log-ws":
			cfg.LogWS = *fv.logWS
		case "log-debug":
			cfg.LogDebug = *fv.logDebug
		case "storyteller-provider":
			cfg.StorytellerProvider = *fv.storytellerProvider
		case "storyteller-model":
			cfg.StorytellerModel = *fv.storytellerModel
		case "storyteller-ollama-url":
			cfg.StorytellerOllamaURL = *fv.storytellerOllamaURL
		case "storyteller-url":
			cfg.StorytellerURL = *fv.storytellerURL
		case "storyteller-api-key":
			cfg.StorytellerAPIKey = *fv.storytellerAPIKey
		case "storyteller-temperature":
			cfg.StorytellerTemperature = *fv.storytellerTemperature
		case "storyteller-thinking":
			cfg.StorytellerThinking = *fv.storytellerThinking
		case "groq-api-key":
			cfg.GroqAPIKey = *fv.groqAPIKey
		}
	})
}
