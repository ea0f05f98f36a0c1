package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"default_level" mapstructure:"default_level" json:"default_level"` // default log level for all modules
	Timezone     string            `yaml:"timezone" mapstructure:"timezone" json:"timezone"`                // "Local", "UTC", or IANA timezone name
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console" json:"console"`                   // console output configuration
	FileOutput   *FileOutput       `yaml:"file_output" mapstructure:"file_output" json:"file_output"`       // file output configuration
	ModuleLevels map[string]string `yaml:"module_levels" mapstructure:"module_levels" json:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
	Format  string `yaml:"format" mapstructure:"format" json:"format"` // "text" (default) or "json"
}

// FileOutput represents file logging configuration.
// File output is always JSON and rotated by lumberjack.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Path            string `yaml:"path" mapstructure:"path" json:"path"`
	MaxSize         int    `yaml:"max_size" mapstructure:"max_size" json:"max_size"`                            // megabytes before rotation
	MaxAge          int    `yaml:"max_age" mapstructure:"max_age" json:"max_age"`                               // days to keep rotated logs (0 = no limit)
	MaxRotatedFiles int    `yaml:"max_rotated_files" mapstructure:"max_rotated_files" json:"max_rotated_files"` // rotated files to keep (0 = no limit)
	Compress        bool   `yaml:"compress" mapstructure:"compress" json:"compress"`
	Level           string `yaml:"level" mapstructure:"level" json:"level"`
}

// Default values for logging configuration.
// These match the defaults in conf/defaults.go.
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/audiosrc.log"
	DefaultMaxSize         = 100
	DefaultMaxAge          = 30
	DefaultMaxRotatedFiles = 10
)

// applyConfigDefaults fills nil sections so a zero config still logs to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}

	if cfg.FileOutput != nil && cfg.FileOutput.Enabled {
		if cfg.FileOutput.Path == "" {
			cfg.FileOutput.Path = DefaultLogPath
		}
		if cfg.FileOutput.MaxSize <= 0 {
			cfg.FileOutput.MaxSize = DefaultMaxSize
		}
		if cfg.FileOutput.Level == "" {
			cfg.FileOutput.Level = cfg.DefaultLevel
		}
	}
}
