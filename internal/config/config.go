package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up when no config path is given. Its absence is not an error.
const DefaultConfigFile = "phpunmixer.yaml"

// EnvPrefix prefixes every environment override, e.g. PHPUNMIXER_ENGINE_MAX_ROUNDS.
const EnvPrefix = "PHPUNMIXER"

// --- Nested Configuration Structs ---

// EngineConfig bounds a single deobfuscation run.
type EngineConfig struct {
	MaxRounds      int `yaml:"max_rounds" mapstructure:"max_rounds"`           // Orchestrator round cap
	DepthLimit     int `yaml:"depth_limit" mapstructure:"depth_limit"`         // Walker depth ceiling
	MaxStackBytes  int `yaml:"max_stack_bytes" mapstructure:"max_stack_bytes"` // 0 keeps the runtime default
	ScoreThreshold int `yaml:"score_threshold" mapstructure:"score_threshold"` // Score from which a run counts as deobfuscated
	EvalMaxOutput  int `yaml:"eval_max_output" mapstructure:"eval_max_output"` // Largest string the evaluator may build
}

// PassesConfig selects and weights rewrite passes by name.
type PassesConfig struct {
	Disabled []string       `yaml:"disabled" mapstructure:"disabled"`
	Weights  map[string]int `yaml:"weights,omitempty" mapstructure:"weights"`
}

// DecodingConfig controls the literal sweep run after every pass.
type DecodingConfig struct {
	Base64                  bool `yaml:"base64" mapstructure:"base64"`
	URLSafe                 bool `yaml:"url_safe" mapstructure:"url_safe"`
	ApplyExtractedFunctions bool `yaml:"apply_extracted_functions" mapstructure:"apply_extracted_functions"`
}

// OutputConfig selects the extra artifacts printed by the CLI.
type OutputConfig struct {
	Diff  bool `yaml:"diff" mapstructure:"diff"`
	Dump  bool `yaml:"dump" mapstructure:"dump"`
	Stats bool `yaml:"stats" mapstructure:"stats"`
}

// Config holds all configuration settings for the deobfuscator.
// Struct tags control how yaml and Viper map config file keys and environment variables.
type Config struct {
	// General behavior
	Silent     bool   `yaml:"silent" mapstructure:"silent"`           // Suppress informational messages
	DebugMode  bool   `yaml:"debug_mode" mapstructure:"debug_mode"`   // Enable verbose debug logging
	ParserMode string `yaml:"parser_mode" mapstructure:"parser_mode"` // PHP Parser version preference (e.g., PREFER_PHP7)
	Jobs       int    `yaml:"jobs" mapstructure:"jobs"`               // Parallel files in directory mode, 0 means one per CPU

	// File Handling
	PhpExtensions []string `yaml:"php_extensions" mapstructure:"php_extensions"` // File extensions to treat as PHP
	SkipPaths     []string `yaml:"skip" mapstructure:"skip"`                     // Glob patterns to ignore in directory mode

	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Passes   PassesConfig   `yaml:"passes" mapstructure:"passes"`
	Decoding DecodingConfig `yaml:"decoding" mapstructure:"decoding"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
}

var (
	// Testing controls whether output is suppressed for testing purposes
	Testing bool
)

// PrintInfo prints to stdout unless Testing is set.
func PrintInfo(format string, args ...interface{}) {
	if !Testing {
		fmt.Printf(format, args...)
	}
}

// LoadConfig reads configuration from file and environment variables, then
// returns a filled Config struct.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultConfigFile
	}

	if _, err := os.Stat(configPath); err == nil {
		yamlFile, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("error unmarshalling config file %s: %w", configPath, err)
		}
		if !cfg.Silent {
			PrintInfo("Info: Loaded configuration from %s\n", configPath)
		}
	} else if os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("specified config file not found: %s", configPath)
		}
	} else {
		return nil, fmt.Errorf("error checking config file %s: %w", configPath, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the default configuration to a file.
func SaveConfig(configPath string) error {
	cfg := DefaultConfig()
	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshalling default config: %w", err)
	}
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory for config file %s: %w", configPath, err)
	}
	if err := os.WriteFile(configPath, yamlData, 0644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configPath, err)
	}
	PrintInfo("Info: Saved default configuration to %s\n", configPath)
	return nil
}

// DefaultConfig returns a configuration with default settings.
func DefaultConfig() *Config {
	return &Config{
		Silent:        false,
		DebugMode:     false,
		ParserMode:    "PREFER_PHP7",
		Jobs:          0,
		PhpExtensions: []string{"php", "php5", "phtml", "inc"},
		SkipPaths:     []string{"vendor/*", "*.git*", "*.svn*", "*.bak"},
		Engine: EngineConfig{
			MaxRounds:      4096,
			DepthLimit:     512000,
			MaxStackBytes:  0,
			ScoreThreshold: 100,
			EvalMaxOutput:  16 << 20,
		},
		Passes: PassesConfig{
			Disabled: []string{},
		},
		Decoding: DecodingConfig{
			Base64:                  true,
			URLSafe:                 true,
			ApplyExtractedFunctions: true,
		},
		Output: OutputConfig{},
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.ParserMode) {
	case "PREFER_PHP5", "ONLY_PHP5", "PREFER_PHP7", "ONLY_PHP7", "PREFER_PHP8", "ONLY_PHP8":
	default:
		return fmt.Errorf("invalid parser_mode %q", c.ParserMode)
	}
	if c.Engine.MaxRounds <= 0 {
		return fmt.Errorf("engine.max_rounds must be positive, got %d", c.Engine.MaxRounds)
	}
	if c.Engine.DepthLimit <= 0 {
		return fmt.Errorf("engine.depth_limit must be positive, got %d", c.Engine.DepthLimit)
	}
	if c.Engine.MaxStackBytes < 0 || c.Engine.EvalMaxOutput < 0 || c.Jobs < 0 {
		return fmt.Errorf("engine limits and jobs must not be negative")
	}
	for name, w := range c.Passes.Weights {
		if w < 0 {
			return fmt.Errorf("weight of pass %s must not be negative", name)
		}
	}
	return nil
}

// PassEnabled reports whether the named pass is not disabled.
func (c *Config) PassEnabled(name string) bool {
	for _, d := range c.Passes.Disabled {
		if strings.EqualFold(strings.TrimSpace(d), name) {
			return false
		}
	}
	return true
}

// Weight returns the configured weight for a pass, or def when none is set.
func (c *Config) Weight(name string, def int) int {
	if w, ok := c.Passes.Weights[name]; ok {
		return w
	}
	return def
}

// IsPHPFile reports whether path has one of the configured PHP extensions.
func (c *Config) IsPHPFile(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range c.PhpExtensions {
		if ext == strings.TrimPrefix(strings.ToLower(e), ".") {
			return true
		}
	}
	return false
}

// NewLogger builds the slog logger used by every component. Debug mode logs
// everything, silent mode only warnings and errors.
func NewLogger(c *Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	switch {
	case c.DebugMode:
		level = slog.LevelDebug
	case c.Silent:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// envKeys are the dotted config keys that may be overridden from the environment.
var envKeys = []string{
	"silent",
	"debug_mode",
	"parser_mode",
	"jobs",
	"php_extensions",
	"skip",
	"engine.max_rounds",
	"engine.depth_limit",
	"engine.max_stack_bytes",
	"engine.score_threshold",
	"engine.eval_max_output",
	"passes.disabled",
	"decoding.base64",
	"decoding.url_safe",
	"decoding.apply_extracted_functions",
	"output.diff",
	"output.dump",
	"output.stats",
}

// Helper to explicitly bind environment variables, handling potential key mismatches
func bindEnv(v *viper.Viper, key string) {
	envKey := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	_ = v.BindEnv(key, EnvPrefix+"_"+envKey)
}

// applyEnv overlays PHPUNMIXER_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	v := viper.New()
	for _, key := range envKeys {
		bindEnv(v, key)
	}

	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setList := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = splitList(v.GetString(key))
		}
	}

	setBool("silent", &cfg.Silent)
	setBool("debug_mode", &cfg.DebugMode)
	if v.IsSet("parser_mode") {
		cfg.ParserMode = v.GetString("parser_mode")
	}
	setInt("jobs", &cfg.Jobs)
	setList("php_extensions", &cfg.PhpExtensions)
	setList("skip", &cfg.SkipPaths)
	setInt("engine.max_rounds", &cfg.Engine.MaxRounds)
	setInt("engine.depth_limit", &cfg.Engine.DepthLimit)
	setInt("engine.max_stack_bytes", &cfg.Engine.MaxStackBytes)
	setInt("engine.score_threshold", &cfg.Engine.ScoreThreshold)
	setInt("engine.eval_max_output", &cfg.Engine.EvalMaxOutput)
	setList("passes.disabled", &cfg.Passes.Disabled)
	setBool("decoding.base64", &cfg.Decoding.Base64)
	setBool("decoding.url_safe", &cfg.Decoding.URLSafe)
	setBool("decoding.apply_extracted_functions", &cfg.Decoding.ApplyExtractedFunctions)
	setBool("output.diff", &cfg.Output.Diff)
	setBool("output.dump", &cfg.Output.Dump)
	setBool("output.stats", &cfg.Output.Stats)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
