// Package config resolves the server configuration from the environment,
// an optional .env file, and an optional YAML overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/dicelobby/backend/internal/core"
)

// Config carries every operational knob of the server. Zero values are
// filled with defaults by Load; code downstream never re-defaults.
type Config struct {
	Port      string `yaml:"port"`
	WSBaseURL string `yaml:"ws_base_url"`

	// Store adapter
	StoreBackend     string        `yaml:"store_backend"` // file | badger | redis | postgres | memory
	DataDir          string        `yaml:"data_dir"`
	DataFile         string        `yaml:"data_file"`
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPassword    string        `yaml:"redis_password"`
	RedisDB          int           `yaml:"redis_db"`
	DatabaseURL      string        `yaml:"database_url"`
	SaveDebounce     time.Duration `yaml:"save_debounce"`
	StoreCallTimeout time.Duration `yaml:"store_call_timeout"`

	// Room inventory
	MaxHumanPlayers        int           `yaml:"max_human_players"`
	MaxBots                int           `yaml:"max_bots"`
	SessionIdleTTL         time.Duration `yaml:"session_idle_ttl"`
	RoomActiveWindow       time.Duration `yaml:"room_active_window"`
	PublicRoomBaseCount    int           `yaml:"public_room_base_count"`
	PublicRoomMinJoinable  int           `yaml:"public_room_min_joinable"`
	PublicRoomCodePrefix   string        `yaml:"public_room_code_prefix"`
	PublicOverflowEmptyTTL time.Duration `yaml:"public_overflow_empty_ttl"`
	PublicStaleParticipant time.Duration `yaml:"public_stale_participant"`

	// Turn engine / scheduler
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	TurnTimeoutWarning time.Duration `yaml:"turn_timeout_warning"`
	BotRosterFile      string        `yaml:"bot_roster_file"`

	// Token vault
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`

	// Identity verifier
	IdentityProjectID  string        `yaml:"identity_project_id"`
	IdentityVerifyMode string        `yaml:"identity_verify_mode"` // strict-native | fallback-http | auto
	IdentityLookupURL  string        `yaml:"identity_lookup_url"`
	IdentityAPIKey     string        `yaml:"identity_api_key"`
	IdentityJWTSecret  string        `yaml:"identity_jwt_secret"`
	IdentityTimeout    time.Duration `yaml:"identity_timeout"`

	// Auxiliary stores
	GameLogCap     int `yaml:"game_log_cap"`
	LeaderboardCap int `yaml:"leaderboard_cap"`

	// Rate limiting
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	BotRoster []BotSpec `yaml:"bot_roster"`
}

// BotSpec is one entry of the bot name+profile rotation.
type BotSpec struct {
	Name    string          `yaml:"name"`
	Profile core.BotProfile `yaml:"profile"`
}

// DefaultBotRoster is the fixed rotation used when no roster file is given.
func DefaultBotRoster() []BotSpec {
	return []BotSpec{
		{Name: "Scarlett", Profile: core.BotAggressive},
		{Name: "Mordecai", Profile: core.BotCautious},
		{Name: "Pip", Profile: core.BotBalanced},
		{Name: "Greta", Profile: core.BotBalanced},
		{Name: "Ulysses", Profile: core.BotAggressive},
		{Name: "Fern", Profile: core.BotCautious},
		{Name: "Bram", Profile: core.BotBalanced},
		{Name: "Ida", Profile: core.BotAggressive},
	}
}

// Load resolves configuration. Order of precedence, lowest to highest:
// built-in defaults, YAML overlay (CONFIG_FILE), environment variables.
// A .env file in the working directory is folded into the environment
// first; a missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyYAML(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if cfg.BotRosterFile != "" {
		roster, err := loadRoster(cfg.BotRosterFile)
		if err != nil {
			return nil, err
		}
		cfg.BotRoster = roster
	}
	if len(cfg.BotRoster) == 0 {
		cfg.BotRoster = DefaultBotRoster()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:                   "8080",
		StoreBackend:           "file",
		DataDir:                "./data",
		DataFile:               "state.json",
		SaveDebounce:           250 * time.Millisecond,
		StoreCallTimeout:       8 * time.Second,
		MaxHumanPlayers:        8,
		MaxBots:                4,
		SessionIdleTTL:         30 * time.Minute,
		RoomActiveWindow:       5 * time.Minute,
		PublicRoomBaseCount:    4,
		PublicRoomMinJoinable:  6,
		PublicRoomCodePrefix:   "LBY",
		PublicOverflowEmptyTTL: 10 * time.Minute,
		PublicStaleParticipant: 2 * time.Minute,
		TurnTimeout:            60 * time.Second,
		TurnTimeoutWarning:     10 * time.Second,
		AccessTokenTTL:         15 * time.Minute,
		RefreshTokenTTL:        7 * 24 * time.Hour,
		IdentityVerifyMode:     "auto",
		IdentityTimeout:        6 * time.Second,
		GameLogCap:             500,
		LeaderboardCap:         100,
		RateLimitPerMinute:     120,
	}
}

func (c *Config) applyYAML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	envStr(&c.Port, "PORT")
	envStr(&c.WSBaseURL, "WS_BASE_URL")
	envStr(&c.StoreBackend, "API_STORE_BACKEND")
	envStr(&c.DataDir, "API_DATA_DIR")
	envStr(&c.DataFile, "API_DATA_FILE")
	envStr(&c.RedisAddr, "REDIS_ADDR")
	envStr(&c.RedisPassword, "REDIS_PASSWORD")
	envInt(&c.RedisDB, "REDIS_DB")
	envStr(&c.DatabaseURL, "DATABASE_URL")
	envMs(&c.SaveDebounce, "STORE_SAVE_DEBOUNCE_MS")

	envInt(&c.MaxHumanPlayers, "MULTIPLAYER_MAX_HUMAN_PLAYERS")
	envInt(&c.MaxBots, "MULTIPLAYER_MAX_BOTS")
	envMs(&c.SessionIdleTTL, "MULTIPLAYER_SESSION_IDLE_TTL_MS")
	envMs(&c.RoomActiveWindow, "MULTIPLAYER_ROOM_ACTIVE_WINDOW_MS")
	envInt(&c.PublicRoomBaseCount, "PUBLIC_ROOM_BASE_COUNT")
	envInt(&c.PublicRoomMinJoinable, "PUBLIC_ROOM_MIN_JOINABLE")
	envStr(&c.PublicRoomCodePrefix, "PUBLIC_ROOM_CODE_PREFIX")
	envMs(&c.PublicOverflowEmptyTTL, "PUBLIC_ROOM_OVERFLOW_EMPTY_TTL_MS")
	envMs(&c.PublicStaleParticipant, "PUBLIC_ROOM_STALE_PARTICIPANT_MS")

	envMs(&c.TurnTimeout, "TURN_TIMEOUT_MS")
	envMs(&c.TurnTimeoutWarning, "TURN_TIMEOUT_WARNING_MS")
	envStr(&c.BotRosterFile, "BOT_ROSTER_FILE")

	envMs(&c.AccessTokenTTL, "ACCESS_TOKEN_TTL_MS")
	envMs(&c.RefreshTokenTTL, "REFRESH_TOKEN_TTL_MS")

	envStr(&c.IdentityProjectID, "IDENTITY_PROJECT_ID")
	envStr(&c.IdentityVerifyMode, "IDENTITY_VERIFY_MODE")
	envStr(&c.IdentityLookupURL, "IDENTITY_LOOKUP_URL")
	envStr(&c.IdentityAPIKey, "IDENTITY_API_KEY")
	envStr(&c.IdentityJWTSecret, "IDENTITY_JWT_SECRET")
	envMs(&c.IdentityTimeout, "IDENTITY_TIMEOUT_MS")

	envInt(&c.GameLogCap, "GAME_LOG_CAP")
	envInt(&c.LeaderboardCap, "LEADERBOARD_CAP")
	envInt(&c.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "file", "badger", "redis", "postgres", "memory":
	default:
		return fmt.Errorf("unknown API_STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.IdentityVerifyMode {
	case "strict-native", "fallback-http", "auto":
	default:
		return fmt.Errorf("unknown IDENTITY_VERIFY_MODE %q", c.IdentityVerifyMode)
	}
	if c.StoreBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("API_STORE_BACKEND=redis requires REDIS_ADDR")
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("API_STORE_BACKEND=postgres requires DATABASE_URL")
	}
	if c.PublicRoomBaseCount < 0 || c.PublicRoomMinJoinable < 0 {
		return fmt.Errorf("public room counts must be non-negative")
	}
	if c.TurnTimeoutWarning >= c.TurnTimeout {
		return fmt.Errorf("TURN_TIMEOUT_WARNING_MS must be below TURN_TIMEOUT_MS")
	}
	for i, b := range c.BotRoster {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("bot roster entry %d has an empty name", i)
		}
	}
	return nil
}

func loadRoster(path string) ([]BotSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bot roster: %w", err)
	}
	var doc struct {
		Bots []BotSpec `yaml:"bots"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse bot roster %s: %w", path, err)
	}
	for i := range doc.Bots {
		doc.Bots[i].Profile = core.NormalizeBotProfile(doc.Bots[i].Profile)
	}
	return doc.Bots, nil
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envMs(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
