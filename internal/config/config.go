// Package config resolves the run configuration once at startup from flags,
// HAPPY_TWEET_* environment variables, an optional YAML file and defaults,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/happytweet/internal/failure"
	"github.com/FranksOps/happytweet/internal/storage"
)

const (
	EnvPrefix = "HAPPY_TWEET"
	// TokenEnv is the environment variable holding the bearer token.
	TokenEnv = EnvPrefix + "_BEARER_TOKEN"

	DefaultOutput = "/dev/stdout"
)

// Keys understood by Load. Flag names use dashes, keys use underscores.
const (
	KeyOutput            = "output"
	KeyToken             = "token"
	KeyMode              = "mode"
	KeyMaxResults        = "max_results"
	KeyMaxPages          = "max_pages"
	KeyPageSize          = "page_size"
	KeyAllowPartial      = "allow_partial"
	KeyLang              = "lang"
	KeyIncludeRetweets   = "include_retweets"
	KeyNoFilter          = "no_filter"
	KeyMetricsFile       = "metrics_file"
	KeyVerbose           = "verbose"
	KeyBaseURL           = "base_url"
	KeyRequestsPerSecond = "requests_per_second"
	KeyTimeout           = "timeout"
	KeyMarkers           = "markers"
	KeyReport            = "report"
	KeyFormat            = "format"
)

// Keys lists every key, in flag order.
var Keys = []string{
	KeyOutput, KeyToken, KeyMode, KeyMaxResults, KeyMaxPages, KeyPageSize,
	KeyAllowPartial, KeyLang, KeyIncludeRetweets, KeyNoFilter, KeyMetricsFile,
	KeyVerbose, KeyBaseURL, KeyRequestsPerSecond, KeyTimeout, KeyMarkers, KeyReport,
	KeyFormat,
}

// Config is the resolved configuration of one run. It is a plain value and
// is never modified after Load returns.
type Config struct {
	Term   string
	Output string
	Token  string
	Mode   storage.Mode
	// Format is the output encoding, json or csv.
	Format string

	MaxResults   int
	MaxPages     int
	PageSize     int
	AllowPartial bool

	Lang            string
	IncludeRetweets bool
	Markers         []string
	NoFilter        bool

	MetricsFile string
	// Report is the run summary format: text, json or none.
	Report  string
	Verbose bool

	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration

	// ConfigFile is the file that was read, empty when none was found.
	ConfigFile string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyOutput, DefaultOutput)
	v.SetDefault(KeyMode, storage.ModeAppend.String())
	v.SetDefault(KeyMaxResults, 0)
	v.SetDefault(KeyMaxPages, 0)
	v.SetDefault(KeyPageSize, 100)
	v.SetDefault(KeyAllowPartial, false)
	v.SetDefault(KeyIncludeRetweets, false)
	v.SetDefault(KeyNoFilter, false)
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyReport, "text")
	v.SetDefault(KeyRequestsPerSecond, 1.0)
	v.SetDefault(KeyTimeout, 30*time.Second)
}

// NewViper returns a viper instance with defaults and environment bindings.
// When file is empty, $HOME/.happytweet/config.yaml is used if it exists.
// A missing default file is not an error; a missing explicit file is.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyToken, TokenEnv, EnvPrefix+"_TOKEN"); err != nil {
		return nil, fmt.Errorf("config: failed to bind token env: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return v, nil
		}
		v.AddConfigPath(filepath.Join(home, ".happytweet"))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}
	return v, nil
}

// Load resolves a Config for term from v.
func Load(v *viper.Viper, term string) (Config, error) {
	mode, err := storage.ParseMode(v.GetString(KeyMode))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cfg := Config{
		Term:              term,
		Output:            v.GetString(KeyOutput),
		Token:             v.GetString(KeyToken),
		Mode:              mode,
		MaxResults:        v.GetInt(KeyMaxResults),
		MaxPages:          v.GetInt(KeyMaxPages),
		PageSize:          v.GetInt(KeyPageSize),
		AllowPartial:      v.GetBool(KeyAllowPartial),
		Lang:              strings.TrimSpace(v.GetString(KeyLang)),
		IncludeRetweets:   v.GetBool(KeyIncludeRetweets),
		Markers:           v.GetStringSlice(KeyMarkers),
		NoFilter:          v.GetBool(KeyNoFilter),
		MetricsFile:       v.GetString(KeyMetricsFile),
		Report:            strings.ToLower(v.GetString(KeyReport)),
		Format:            outputFormat(v.GetString(KeyFormat), v.GetString(KeyOutput)),
		Verbose:           v.GetBool(KeyVerbose),
		BaseURL:           v.GetString(KeyBaseURL),
		RequestsPerSecond: v.GetFloat64(KeyRequestsPerSecond),
		Timeout:           v.GetDuration(KeyTimeout),
		ConfigFile:        v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted.
func (c Config) Validate() error {
	const op = "load config"

	if strings.TrimSpace(c.Term) == "" {
		return failure.New(failure.KindInvalidQuery, op, "search term must not be empty")
	}
	if c.Output == "" {
		return failure.New(failure.KindIO, op, "output path must not be empty")
	}
	if strings.TrimSpace(c.Output) != c.Output {
		return failure.New(failure.KindIO, op, fmt.Sprintf("output path %q has leading or trailing whitespace", c.Output))
	}
	if c.MaxResults < 0 || c.MaxPages < 0 || c.PageSize < 0 {
		return fmt.Errorf("config: max-results, max-pages and page-size must not be negative")
	}
	switch c.Format {
	case "json", "csv":
	default:
		return fmt.Errorf("config: unknown output format %q (want json or csv)", c.Format)
	}
	switch c.Report {
	case "text", "json", "none":
	default:
		return fmt.Errorf("config: unknown report format %q (want text, json or none)", c.Report)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative")
	}
	return nil
}

// outputFormat picks the explicit format, else infers it from the output
// extension. Anything that is not .csv is JSON.
func outputFormat(format, output string) string {
	if format = strings.ToLower(strings.TrimSpace(format)); format != "" {
		return format
	}
	if strings.EqualFold(filepath.Ext(output), ".csv") {
		return "csv"
	}
	return "json"
}
