// Package config resolves runtime configuration for the CLI.
//
// Precedence, highest first: command-line flags, KC_* environment
// variables, the optional profile file, built-in defaults. Flag and
// environment binding goes through viper so every setting has a stable
// key; the profile file is TOML so Anki deck customization stays
// hand-editable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// EnvPrefix is prepended to every environment variable the CLI reads,
	// e.g. KC_MODEL, KC_DB, KC_ANKI_URL.
	EnvPrefix = "KC"

	dataDirName     = ".kindlecards"
	dbFileName      = "highlights.db"
	logFileName     = "kindlecards.log"
	profileFileName = "profile.toml"
)

// Profile is the optional TOML file at <data-dir>/profile.toml. It
// carries the settings users tweak once and forget; anything set on
// the command line or environment wins over it.
type Profile struct {
	Model            string `toml:"model"`
	ParallelRequests int    `toml:"parallel_requests"`

	Anki AnkiProfile `toml:"anki"`
}

// AnkiProfile customizes the Anki target deck and note models.
type AnkiProfile struct {
	URL        string `toml:"url"`
	Deck       string `toml:"deck"`
	BasicModel string `toml:"basic_model"`
	ClozeModel string `toml:"cloze_model"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	DataDir string
	DBPath  string

	ClippingsFile string

	APIKey           string
	Model            string
	MaxGenerations   int
	ParallelRequests int

	Anki AnkiProfile
}

// DataDir returns the state directory, honoring KC_DATA_DIR.
func DataDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, dataDirName), nil
}

// Load resolves the full configuration. flags may be nil when no
// command-line flags participate (tests).
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}

	profile, err := loadProfile(filepath.Join(dataDir, profileFileName))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:          dataDir,
		DBPath:           filepath.Join(dataDir, dbFileName),
		ClippingsFile:    v.GetString("clippings-file"),
		APIKey:           firstNonEmpty(v.GetString("api_key"), os.Getenv("ANTHROPIC_API_KEY")),
		Model:            firstNonEmpty(v.GetString("model"), profile.Model),
		MaxGenerations:   v.GetInt("max-generations"),
		ParallelRequests: v.GetInt("parallel-requests"),
		Anki:             profile.Anki,
	}

	if db := v.GetString("db"); db != "" {
		cfg.DBPath = db
	}
	if cfg.ParallelRequests == 0 {
		cfg.ParallelRequests = profile.ParallelRequests
	}
	if url := v.GetString("anki-url"); url != "" {
		cfg.Anki.URL = url
	}
	return cfg, nil
}

// loadProfile reads the TOML profile; a missing file is not an error.
func loadProfile(path string) (*Profile, error) {
	var p Profile
	meta, err := toml.DecodeFile(path, &p)
	if err != nil {
		if os.IsNotExist(err) {
			return &p, nil
		}
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in profile %s", undecoded[0].String(), path)
	}
	return &p, nil
}

// LogWriter returns a size-rotated log file under the data directory.
func LogWriter(dataDir string) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dataDir, logFileName),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   true,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
