// Package config resolves the build configuration. Settings are read from,
// in increasing order of precedence, a stringfog.yaml file, a .env file,
// STRINGFOG_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/hengadev/errsx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AeonDave/stringfog/internal/cipher"
	"github.com/AeonDave/stringfog/internal/cmdquoted"
	"github.com/AeonDave/stringfog/internal/helper"
	"github.com/AeonDave/stringfog/internal/keygen"
	"github.com/AeonDave/stringfog/internal/literals"
)

// ErrConfiguration wraps every invalid or missing setting.
var ErrConfiguration = errors.New("invalid configuration")

const (
	// FileName is the configuration file looked up in the project directory.
	FileName = "stringfog.yaml"

	// EnvPrefix prefixes the environment variable of every setting.
	EnvPrefix = "STRINGFOG_"
)

// Config is the configuration surface of one build.
type Config struct {
	Enabled bool `yaml:"enabled"`
	Debug   bool `yaml:"debug"`

	// Implementation names the cipher.
	Implementation string `yaml:"implementation"`
	Mode           string `yaml:"mode"`

	// Unit is the compilation unit identifier, such as the application
	// namespace. The helper class is generated as <Unit>.StringFog.
	Unit string `yaml:"unit"`

	Packages []string `yaml:"packages"`
	Ignore   []string `yaml:"ignore"`

	// KeyGenerator selects how the build key is produced; see keygen.Parse.
	KeyGenerator string `yaml:"kg"`

	HoistConstants bool `yaml:"hoist"`
	KeepPool       bool `yaml:"keepPool"`

	Cache   string `yaml:"cache"`
	NoCache bool   `yaml:"noCache"`
	Jobs    int    `yaml:"jobs"`

	// Gen is the directory the helper source is written below.
	Gen string `yaml:"gen"`
	// Mapping is the path of the mapping file.
	Mapping string `yaml:"mapping"`
}

// Default returns the configuration used before any source is applied.
func Default() Config {
	return Config{
		Enabled:      true,
		Mode:         literals.ModeBase64.String(),
		KeyGenerator: "random",
		Jobs:         runtime.GOMAXPROCS(0),
	}
}

// Keys lists the setting names accepted by Set, in the order flags and
// environment variables are documented.
var Keys = []string{
	"enabled", "debug", "implementation", "mode", "unit", "packages",
	"ignore", "kg", "hoist", "keep-pool", "cache", "no-cache", "jobs",
	"gen", "mapping",
}

// EnvName returns the environment variable for a setting name.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Set parses value into the setting called key.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "enabled":
		c.Enabled, err = strconv.ParseBool(value)
	case "debug":
		c.Debug, err = strconv.ParseBool(value)
	case "implementation":
		c.Implementation = value
	case "mode":
		c.Mode = value
	case "unit":
		c.Unit = value
	case "packages":
		c.Packages, err = cmdquoted.Split(value)
	case "ignore":
		c.Ignore, err = cmdquoted.Split(value)
	case "kg":
		c.KeyGenerator = value
	case "hoist":
		c.HoistConstants, err = strconv.ParseBool(value)
	case "keep-pool":
		c.KeepPool, err = strconv.ParseBool(value)
	case "cache":
		c.Cache = value
	case "no-cache":
		c.NoCache, err = strconv.ParseBool(value)
	case "jobs":
		c.Jobs, err = strconv.Atoi(value)
	case "gen":
		c.Gen = value
	case "mapping":
		c.Mapping = value
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrConfiguration, key)
	}
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %w", ErrConfiguration, key, value, err)
	}
	return nil
}

// Load builds the configuration of the project in dir from its
// stringfog.yaml, its .env file and the environment, both files being
// optional. getenv is usually os.LookupEnv.
func Load(dir string, getenv func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if err := cfg.loadFile(filepath.Join(dir, FileName)); err != nil {
		return cfg, err
	}
	dotenv, err := godotenv.Read(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	for _, key := range Keys {
		name := EnvName(key)
		value, ok := getenv(name)
		if !ok {
			value, ok = dotenv[name]
		}
		if !ok {
			continue
		}
		if err := cfg.Set(key, value); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfiguration, path, err)
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	errs := errsx.Map{}
	if c.Implementation == "" {
		errs.Set("implementation", errors.New("missing cipher implementation"))
	} else if _, err := cipher.Lookup(c.Implementation); err != nil {
		errs.Set("implementation", err)
	}
	if _, err := literals.ParseMode(c.Mode); err != nil {
		errs.Set("mode", err)
	}
	if c.Unit == "" {
		errs.Set("unit", errors.New("missing compilation unit"))
	} else if err := helper.ValidateUnit(c.Unit); err != nil {
		errs.Set("unit", err)
	}
	// Inputs are only known once the build runs.
	if _, err := keygen.Parse(c.KeyGenerator, keygen.Options{Unit: c.Unit, Inputs: []string{"."}}); err != nil {
		errs.Set("kg", err)
	}
	if c.Jobs < 1 {
		errs.Set("jobs", fmt.Errorf("jobs must be at least 1, got %d", c.Jobs))
	}
	for _, p := range slices.Concat(c.Packages, c.Ignore) {
		if strings.TrimSpace(p) == "" {
			errs.Set("packages", errors.New("empty package prefix"))
			break
		}
	}
	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}
