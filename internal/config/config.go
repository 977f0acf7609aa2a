package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const appName = "ytgrab"

// Recognized option domains. Settings outside these are rejected by Validate.
var (
	FormatOptions       = []string{"mp4", "mkv", "webm", "mp3", "m4a", "wav"}
	AudioFormats        = []string{"mp3", "m4a", "wav"}
	VideoQualityOptions = []string{"best", "worst", "1080p", "720p", "480p", "360p"}
	AudioQualityOptions = []string{"best", "320k", "256k", "192k", "128k", "worst"}
)

const (
	MinDownloads = 1
	MaxDownloads = 10

	// DefaultConcurrentFragments is the fragment fan-out used when
	// acceleration is enabled.
	DefaultConcurrentFragments = 6

	// DefaultOutputTemplate is the downloader output filename template.
	DefaultOutputTemplate = "%(title)s.%(ext)s"
)

// Settings is the configuration record consumed by workers and the
// downloader wrapper. Tasks carry a snapshot of it taken at creation time.
type Settings struct {
	DownloadFolder      string `mapstructure:"download_folder" json:"download_folder"`
	Format              string `mapstructure:"format" json:"format"`
	VideoQuality        string `mapstructure:"video_quality" json:"video_quality"`
	AudioQuality        string `mapstructure:"audio_quality" json:"audio_quality"`
	MaxDownloads        int    `mapstructure:"max_downloads" json:"max_downloads"`
	NormalizeAudio      bool   `mapstructure:"normalize_audio" json:"normalize_audio"`
	UseAcceleration     bool   `mapstructure:"use_acceleration" json:"use_acceleration"`
	ConcurrentFragments int    `mapstructure:"concurrent_fragment_downloads" json:"concurrent_fragment_downloads"`
	OutputTemplate      string `mapstructure:"output_template" json:"output_template"`
	Language            string `mapstructure:"language" json:"language"`

	// IsResume is never read from the settings file; it is set on the
	// snapshot when a paused task re-enters the queue.
	IsResume bool `mapstructure:"-" json:"is_resume"`
}

// LoggingConfig controls the slog handler and file rotation.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Color      bool   `mapstructure:"color"`
}

// DatabaseConfig controls the history database connection.
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	WALMode        bool   `mapstructure:"wal_mode"`
}

// Config is the full application configuration: the Settings record plus
// the logging and database sections.
type Config struct {
	Settings Settings       `mapstructure:",squash"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`

	v *viper.Viper
}

// DefaultSettings returns the Settings record used when no settings file
// exists yet.
func DefaultSettings() Settings {
	return Settings{
		DownloadFolder:      defaultDownloadFolder(),
		Format:              "mp4",
		VideoQuality:        "best",
		AudioQuality:        "best",
		MaxDownloads:        3,
		ConcurrentFragments: DefaultConcurrentFragments,
		OutputTemplate:      DefaultOutputTemplate,
		Language:            "en",
	}
}

// Validate enforces the enumerated option domains.
func (s *Settings) Validate() error {
	if s.DownloadFolder == "" {
		return fmt.Errorf("download_folder must be set")
	}
	if !slices.Contains(FormatOptions, s.Format) {
		return fmt.Errorf("invalid format %q (must be one of %s)", s.Format, strings.Join(FormatOptions, ", "))
	}
	if !slices.Contains(VideoQualityOptions, s.VideoQuality) {
		return fmt.Errorf("invalid video_quality %q (must be one of %s)", s.VideoQuality, strings.Join(VideoQualityOptions, ", "))
	}
	if !slices.Contains(AudioQualityOptions, s.AudioQuality) {
		return fmt.Errorf("invalid audio_quality %q (must be one of %s)", s.AudioQuality, strings.Join(AudioQualityOptions, ", "))
	}
	if s.MaxDownloads < MinDownloads || s.MaxDownloads > MaxDownloads {
		return fmt.Errorf("max_downloads must be in [%d,%d], got %d", MinDownloads, MaxDownloads, s.MaxDownloads)
	}
	if s.ConcurrentFragments < 1 {
		s.ConcurrentFragments = DefaultConcurrentFragments
	}
	if s.OutputTemplate == "" {
		s.OutputTemplate = DefaultOutputTemplate
	}
	return nil
}

// IsAudioFormat reports whether the selected format is audio-only.
func (s Settings) IsAudioFormat() bool {
	return slices.Contains(AudioFormats, s.Format)
}

// WorkerTarget returns the worker-pool size implied by the settings.
// Acceleration multiplies per-download connections, so the pool is clamped
// to one to keep total outbound concurrency bounded.
func (s Settings) WorkerTarget() int {
	if s.UseAcceleration {
		return 1
	}
	n := s.MaxDownloads
	if n < MinDownloads {
		n = MinDownloads
	}
	if n > MaxDownloads {
		n = MaxDownloads
	}
	return n
}

// Load reads settings.json from the user data directory (or the explicit
// path when given) and returns the merged configuration. A missing file is
// not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(DataDir())
	}

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Watch re-reads the settings file on change and invokes onChange with the
// updated record. Parse or validation failures keep the previous settings.
func (c *Config) Watch(onChange func(Settings)) {
	c.v.OnConfigChange(func(fsnotify.Event) {
		var next Config
		if err := c.v.Unmarshal(&next); err != nil {
			return
		}
		if err := next.Settings.Validate(); err != nil {
			return
		}
		c.Settings = next.Settings
		onChange(next.Settings)
	})
	c.v.WatchConfig()
}

// WriteDefault writes a settings.json with the default record. Used by
// `ytgrab config init`.
func WriteDefault(path string) error {
	if path == "" {
		path = filepath.Join(DataDir(), "settings.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	setDefaults(v)
	return v.WriteConfigAs(path)
}

func setDefaults(v *viper.Viper) {
	def := DefaultSettings()
	v.SetDefault("download_folder", def.DownloadFolder)
	v.SetDefault("format", def.Format)
	v.SetDefault("video_quality", def.VideoQuality)
	v.SetDefault("audio_quality", def.AudioQuality)
	v.SetDefault("max_downloads", def.MaxDownloads)
	v.SetDefault("normalize_audio", false)
	v.SetDefault("use_acceleration", false)
	v.SetDefault("concurrent_fragment_downloads", def.ConcurrentFragments)
	v.SetDefault("output_template", def.OutputTemplate)
	v.SetDefault("language", def.Language)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", filepath.Join(getStateDir(), appName, appName+".log"))
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.color", false)

	v.SetDefault("database.path", filepath.Join(DataDir(), "history.db"))
	v.SetDefault("database.max_connections", 4)
	v.SetDefault("database.wal_mode", true)
}

// DataDir returns the per-user data directory holding settings.json,
// history.db, tasks.json and bin/.
func DataDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appName)
	}
	return filepath.Join(home, ".local", "share", appName)
}

// BinDir returns the directory holding the managed downloader and muxer
// binaries.
func BinDir() string {
	return filepath.Join(DataDir(), "bin")
}

// TasksPath returns the path of the persisted task list.
func TasksPath() string {
	return filepath.Join(DataDir(), "tasks.json")
}

// InitializeDirs creates the data directory tree.
func InitializeDirs() error {
	for _, dir := range []string{DataDir(), BinDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func getStateDir() string {
	if runtime.GOOS == "windows" {
		return DataDir()
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state")
}

func defaultDownloadFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}
