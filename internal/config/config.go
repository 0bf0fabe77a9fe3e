package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/musicrpc/musicrpc/internal/detect"
)

const (
	MinIntervalSecs = 5
	MaxIntervalSecs = 60

	DefaultClientID = "1352843252067209368"
)

// Config holds musicrpc runtime configuration loaded from TOML.
type Config struct {
	Poll      PollConfig      `toml:"poll"`
	Players   PlayersConfig   `toml:"players"`
	Discord   DiscordConfig   `toml:"discord"`
	Enrich    EnrichConfig    `toml:"enrich"`
	Backoff   BackoffConfig   `toml:"backoff"`
	Logging   LoggingConfig   `toml:"logging"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	UI        UIConfig        `toml:"ui"`
}

type PollConfig struct {
	IntervalSecs     int `toml:"interval_secs"`
	TickTimeoutSecs  int `toml:"tick_timeout_secs"`
	CommandTimeoutMs int `toml:"command_timeout_ms"`
}

// PlayersConfig is the allow-list input. An empty Enabled list means every
// registered player; Disabled is applied afterwards.
type PlayersConfig struct {
	Enabled        []string `toml:"enabled"`
	Disabled       []string `toml:"disabled"`
	RunningTTLSecs int      `toml:"running_ttl_secs"`
}

type DiscordConfig struct {
	Enabled    bool              `toml:"enabled"`
	ClientID   string            `toml:"client_id"`
	ClientIDs  map[string]string `toml:"client_ids"`
	LargeImage string            `toml:"large_image"`
}

type EnrichConfig struct {
	Enabled     bool   `toml:"enabled"`
	Provider    string `toml:"provider"` // deezer, itunes
	UseAlbumArt bool   `toml:"use_album_art"`
	TimeoutSecs int    `toml:"timeout_secs"`
	CacheDays   int    `toml:"cache_days"`
	LocalTags   bool   `toml:"local_tags"`
}

type BackoffConfig struct {
	MinSecs    int `toml:"min_secs"`
	MaxSecs    int `toml:"max_secs"`
	StableSecs int `toml:"stable_secs"`
}

type LoggingConfig struct {
	Level     string `toml:"level"` // debug, info, warn, error
	KeepFiles int    `toml:"keep_files"`
}

// BroadcastConfig controls the optional websocket snapshot feed for overlays.
type BroadcastConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type UIConfig struct {
	Theme   string `toml:"theme"`
	NoColor bool   `toml:"no_color"`
}

// Overrides carries command-line flags that take precedence over the file.
type Overrides struct {
	Debug          bool
	IntervalSecs   int
	DisableDiscord bool
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Poll: PollConfig{
			IntervalSecs:     10,
			TickTimeoutSecs:  8,
			CommandTimeoutMs: 3000,
		},
		Players: PlayersConfig{
			// Both post their own Discord presence.
			Disabled:       []string{"Apple Music", "Spotify"},
			RunningTTLSecs: 5,
		},
		Discord: DiscordConfig{
			Enabled:  true,
			ClientID: DefaultClientID,
			ClientIDs: map[string]string{
				"Deezer":      "1352674859670310992",
				"Apple Music": "1352841157159288894",
				"TIDAL":       "1352842418327912529",
			},
			LargeImage: "music_icon",
		},
		Enrich: EnrichConfig{
			Enabled:     true,
			Provider:    "deezer",
			UseAlbumArt: true,
			TimeoutSecs: 5,
			CacheDays:   30,
			LocalTags:   true,
		},
		Backoff: BackoffConfig{
			MinSecs:    2,
			MaxSecs:    60,
			StableSecs: 30,
		},
		Logging: LoggingConfig{
			Level:     "warn",
			KeepFiles: 3,
		},
		Broadcast: BroadcastConfig{
			Listen: "127.0.0.1:8974",
		},
		UI: UIConfig{
			Theme: "rainbow",
		},
	}
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used. A missing file yields the defaults; a malformed one is an
// error.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	cfg := Default()
	data, err := os.ReadFile(cfgPath)
	switch {
	case errors.Is(err, os.ErrNotExist) && path == "":
		// first run without a config file
	case err != nil:
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	default:
		// per-player ids from the file are overlaid on the defaults below
		cfg.Discord.ClientIDs = nil
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return nil, cfgPath, err
	}

	return &cfg, cfgPath, nil
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = filepath.Join(dir, "MusicRPC")
	default:
		base = filepath.Join(dir, "musicrpc")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

// applyDefaults fills numeric and string fields left at their zero value.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Poll.IntervalSecs == 0 {
		cfg.Poll.IntervalSecs = def.Poll.IntervalSecs
	}
	if cfg.Poll.TickTimeoutSecs == 0 {
		cfg.Poll.TickTimeoutSecs = def.Poll.TickTimeoutSecs
	}
	if cfg.Poll.CommandTimeoutMs == 0 {
		cfg.Poll.CommandTimeoutMs = def.Poll.CommandTimeoutMs
	}
	if cfg.Players.RunningTTLSecs == 0 {
		cfg.Players.RunningTTLSecs = def.Players.RunningTTLSecs
	}
	if cfg.Discord.ClientID == "" {
		cfg.Discord.ClientID = def.Discord.ClientID
	}
	ids := make(map[string]string, len(def.Discord.ClientIDs)+len(cfg.Discord.ClientIDs))
	for name, id := range def.Discord.ClientIDs {
		ids[name] = id
	}
	for name, id := range cfg.Discord.ClientIDs {
		ids[detect.CanonicalName(name)] = id
	}
	cfg.Discord.ClientIDs = ids
	if cfg.Discord.LargeImage == "" {
		cfg.Discord.LargeImage = def.Discord.LargeImage
	}
	if cfg.Enrich.Provider == "" {
		cfg.Enrich.Provider = def.Enrich.Provider
	}
	if cfg.Enrich.TimeoutSecs == 0 {
		cfg.Enrich.TimeoutSecs = def.Enrich.TimeoutSecs
	}
	if cfg.Enrich.CacheDays == 0 {
		cfg.Enrich.CacheDays = def.Enrich.CacheDays
	}
	if cfg.Backoff.MinSecs == 0 {
		cfg.Backoff.MinSecs = def.Backoff.MinSecs
	}
	if cfg.Backoff.MaxSecs == 0 {
		cfg.Backoff.MaxSecs = def.Backoff.MaxSecs
	}
	if cfg.Backoff.StableSecs == 0 {
		cfg.Backoff.StableSecs = def.Backoff.StableSecs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.KeepFiles == 0 {
		cfg.Logging.KeepFiles = def.Logging.KeepFiles
	}
	if cfg.Broadcast.Listen == "" {
		cfg.Broadcast.Listen = def.Broadcast.Listen
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = def.UI.Theme
	}
}

// Validate performs semantic validation of a loaded config.
func Validate(cfg Config) error {
	if cfg.Poll.IntervalSecs < MinIntervalSecs || cfg.Poll.IntervalSecs > MaxIntervalSecs {
		return fmt.Errorf("poll.interval_secs must be %d-%d, got %d", MinIntervalSecs, MaxIntervalSecs, cfg.Poll.IntervalSecs)
	}
	if cfg.Poll.TickTimeoutSecs < 1 {
		return errors.New("poll.tick_timeout_secs must be positive")
	}
	if cfg.Poll.CommandTimeoutMs < 100 {
		return errors.New("poll.command_timeout_ms must be at least 100")
	}
	if err := validateClientID("discord.client_id", cfg.Discord.ClientID); err != nil {
		return err
	}
	for player, id := range cfg.Discord.ClientIDs {
		if err := validateClientID("discord.client_ids."+player, id); err != nil {
			return err
		}
	}
	switch cfg.Enrich.Provider {
	case "deezer", "itunes":
	default:
		return fmt.Errorf("unknown enrich.provider: %s", cfg.Enrich.Provider)
	}
	if cfg.Backoff.MinSecs < 1 {
		return errors.New("backoff.min_secs must be positive")
	}
	if cfg.Backoff.MaxSecs < cfg.Backoff.MinSecs {
		return fmt.Errorf("backoff.max_secs (%d) must not be below backoff.min_secs (%d)", cfg.Backoff.MaxSecs, cfg.Backoff.MinSecs)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logging.level: %s", cfg.Logging.Level)
	}
	if cfg.Broadcast.Enabled && cfg.Broadcast.Listen == "" {
		return errors.New("broadcast.listen is required when broadcast is enabled")
	}
	return nil
}

func validateClientID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return fmt.Errorf("%s must be a numeric application id", field)
		}
	}
	return nil
}

// Apply merges command-line overrides into the config.
func (c *Config) Apply(o Overrides) {
	if o.Debug {
		c.Logging.Level = "debug"
	}
	if o.IntervalSecs != 0 {
		c.Poll.IntervalSecs = o.IntervalSecs
	}
	if o.DisableDiscord {
		c.Discord.Enabled = false
	}
}

// Interval returns the poll interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Poll.IntervalSecs) * time.Second
}

// CommandTimeout bounds every external tool invocation.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.Poll.CommandTimeoutMs) * time.Millisecond
}

// TickTimeout bounds one whole poll cycle.
func (c Config) TickTimeout() time.Duration {
	return time.Duration(c.Poll.TickTimeoutSecs) * time.Second
}

func (c Config) RunningTTL() time.Duration {
	return time.Duration(c.Players.RunningTTLSecs) * time.Second
}

// ClientIDFor returns the Discord application id for a player, falling back
// to the default application.
func (c Config) ClientIDFor(player string) string {
	if player != "" {
		canon := detect.CanonicalName(player)
		for name, id := range c.Discord.ClientIDs {
			if detect.CanonicalName(name) == canon && id != "" {
				return id
			}
		}
	}
	return c.Discord.ClientID
}

// AllowedPlayers filters the registered player names through the enabled and
// disabled lists.
func (c Config) AllowedPlayers(registered []string) []string {
	enabled := make(map[string]bool, len(c.Players.Enabled))
	for _, name := range c.Players.Enabled {
		enabled[detect.CanonicalName(name)] = true
	}
	disabled := make(map[string]bool, len(c.Players.Disabled))
	for _, name := range c.Players.Disabled {
		disabled[detect.CanonicalName(name)] = true
	}
	allowed := make([]string, 0, len(registered))
	for _, name := range registered {
		canon := detect.CanonicalName(name)
		if len(enabled) > 0 && !enabled[canon] {
			continue
		}
		if disabled[canon] {
			continue
		}
		allowed = append(allowed, name)
	}
	return allowed
}

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}

// Tool describes an optional external helper and where it was found.
type Tool struct {
	Name    string
	Path    string
	Purpose string
}

// LookupTools resolves the external helpers detectors may invoke. Missing
// tools have an empty Path.
func LookupTools() []Tool {
	var tools []Tool
	switch runtime.GOOS {
	case "darwin":
		tools = []Tool{
			{Name: "nowplaying-cli", Purpose: "now-playing query"},
			{Name: "osascript", Purpose: "window titles, Apple Music"},
			{Name: "pgrep", Purpose: "process checks"},
		}
	case "windows":
		tools = []Tool{
			{Name: "tasklist", Purpose: "process checks, window titles"},
		}
	default:
		tools = []Tool{
			{Name: "wmctrl", Purpose: "window titles"},
			{Name: "pgrep", Purpose: "process checks"},
		}
	}
	for i := range tools {
		if p, err := execLookPath(tools[i].Name); err == nil {
			tools[i].Path = p
		}
	}
	return tools
}
