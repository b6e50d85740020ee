package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshills/assetsync/internal/config/loader"
	"github.com/dshills/assetsync/internal/logging"
	"github.com/dshills/assetsync/internal/project"
)

// Config is the decoded engine configuration.
type Config struct {
	Watch    WatchConfig
	Manifest ManifestConfig
	Resource ResourceConfig
	Output   OutputConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// WatchConfig controls the change watcher.
type WatchConfig struct {
	// Debounce coalesces structural events into one rescan.
	Debounce time.Duration
	// Ignore holds extra gitignore-style patterns.
	Ignore []string
}

// ManifestConfig controls manifest persistence.
type ManifestConfig struct {
	PersistDelay time.Duration
}

// ResourceConfig controls per-resource runtimes.
type ResourceConfig struct {
	MetadataTimeout time.Duration
	StopTimeout     time.Duration
	SequentialBuild bool
}

// OutputConfig bounds retained command output.
type OutputConfig struct {
	MaxChannels int
	Lines       int
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig configures the metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string
}

// Default returns the built-in defaults.
func Default() Config {
	pc := project.DefaultConfig()
	return Config{
		Watch:    WatchConfig{Debounce: pc.WatchDebounce},
		Manifest: ManifestConfig{PersistDelay: pc.PersistDelay},
		Resource: ResourceConfig{
			MetadataTimeout: pc.MetadataTimeout,
			StopTimeout:     pc.StopTimeout,
		},
		Output: OutputConfig{
			MaxChannels: pc.MaxOutputChannels,
			Lines:       pc.OutputLines,
		},
		Log: LogConfig{Level: "info", Format: "json", Output: "stderr"},
	}
}

// Options selects the layers Load reads.
type Options struct {
	// File is a TOML config file. Empty or missing skips the layer.
	File string
	// EnvFile is a .env file. A missing file is skipped.
	EnvFile string
	// Prefix defaults to loader.DefaultPrefix.
	Prefix string
	// Environ defaults to os.Environ.
	Environ func() []string
}

// Load merges defaults, the TOML file, the .env file and the environment,
// then decodes and validates the result.
func Load(opts Options) (Config, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = loader.DefaultPrefix
	}

	var sources []loader.Loader
	if opts.File != "" {
		sources = append(sources, loader.NewTOMLLoader(nil, opts.File))
	}
	if opts.EnvFile != "" {
		sources = append(sources, loader.NewDotEnvLoader(opts.EnvFile, prefix))
	}
	env := loader.NewEnvLoader(prefix)
	env.SetEnviron(opts.Environ)
	sources = append(sources, env)

	var merged map[string]any
	for _, src := range sources {
		data, err := src.Load()
		if err != nil {
			return Config{}, err
		}
		merged = loader.DeepMerge(merged, data)
	}

	cfg, err := Decode(merged)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode applies the settings in data on top of the defaults. Unknown
// keys are ignored.
func Decode(data map[string]any) (Config, error) {
	cfg := Default()
	d := decoder{data: data}

	d.duration("watch.debounce", &cfg.Watch.Debounce)
	d.list("watch.ignore", &cfg.Watch.Ignore)
	d.duration("manifest.persist_delay", &cfg.Manifest.PersistDelay)
	d.duration("resource.metadata_timeout", &cfg.Resource.MetadataTimeout)
	d.duration("resource.stop_timeout", &cfg.Resource.StopTimeout)
	d.flag("resource.sequential_build", &cfg.Resource.SequentialBuild)
	d.integer("output.max_channels", &cfg.Output.MaxChannels)
	d.integer("output.lines", &cfg.Output.Lines)
	d.text("log.level", &cfg.Log.Level)
	d.text("log.format", &cfg.Log.Format)
	d.text("log.output", &cfg.Log.Output)
	d.text("metrics.addr", &cfg.Metrics.Addr)

	var debug bool
	d.flag("log.debug", &debug)
	if debug {
		cfg.Log.Level = "debug"
	}

	if d.err != nil {
		return Config{}, d.err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	switch {
	case c.Watch.Debounce <= 0:
		return &ValidationError{Path: "watch.debounce", Message: "must be positive", Value: c.Watch.Debounce}
	case c.Manifest.PersistDelay < 0:
		return &ValidationError{Path: "manifest.persist_delay", Message: "must not be negative", Value: c.Manifest.PersistDelay}
	case c.Resource.MetadataTimeout <= 0:
		return &ValidationError{Path: "resource.metadata_timeout", Message: "must be positive", Value: c.Resource.MetadataTimeout}
	case c.Resource.StopTimeout <= 0:
		return &ValidationError{Path: "resource.stop_timeout", Message: "must be positive", Value: c.Resource.StopTimeout}
	case c.Output.MaxChannels <= 0:
		return &ValidationError{Path: "output.max_channels", Message: "must be positive", Value: c.Output.MaxChannels}
	case c.Output.Lines <= 0:
		return &ValidationError{Path: "output.lines", Message: "must be positive", Value: c.Output.Lines}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Path: "log.level", Message: "must be one of debug, info, warn, error", Value: c.Log.Level}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return &ValidationError{Path: "log.format", Message: "must be json or console", Value: c.Log.Format}
	}
	return nil
}

// ProjectConfig converts the settings consumed by project.Open.
func (c Config) ProjectConfig() project.Config {
	return project.Config{
		WatchDebounce:     c.Watch.Debounce,
		PersistDelay:      c.Manifest.PersistDelay,
		IgnorePatterns:    append([]string(nil), c.Watch.Ignore...),
		MetadataTimeout:   c.Resource.MetadataTimeout,
		StopTimeout:       c.Resource.StopTimeout,
		MaxOutputChannels: c.Output.MaxChannels,
		OutputLines:       c.Output.Lines,
		SequentialBuild:   c.Resource.SequentialBuild,
	}
}

// LoggingConfig converts the settings consumed by logging.Init.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		OutputPath: c.Log.Output,
	}
}

// decoder reads typed values out of a merged settings map and keeps the
// first type error.
type decoder struct {
	data map[string]any
	err  error
}

func (d *decoder) lookup(path string) (any, bool) {
	if d.err != nil {
		return nil, false
	}
	return loader.GetByPath(d.data, path)
}

func (d *decoder) fail(path, expected string, v any) {
	d.err = &TypeError{Path: path, Expected: expected, Actual: v}
}

func (d *decoder) text(path string, dst *string) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch s := v.(type) {
	case string:
		*dst = s
	case bool, int64, float64:
		*dst = fmt.Sprint(s)
	default:
		d.fail(path, "string", v)
	}
}

func (d *decoder) list(path string, dst *[]string) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch list := v.(type) {
	case string:
		if list = strings.TrimSpace(list); list != "" {
			*dst = []string{list}
		}
	case []string:
		*dst = append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				d.fail(path, "list of strings", v)
				return
			}
			out = append(out, s)
		}
		*dst = out
	default:
		d.fail(path, "list of strings", v)
	}
}

func (d *decoder) integer(path string, dst *int) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch n := v.(type) {
	case int64:
		*dst = int(n)
	case int:
		*dst = n
	default:
		d.fail(path, "integer", v)
	}
}

func (d *decoder) flag(path string, dst *bool) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch b := v.(type) {
	case bool:
		*dst = b
	case int64:
		if b != 0 && b != 1 {
			d.fail(path, "boolean", v)
			return
		}
		*dst = b == 1
	default:
		d.fail(path, "boolean", v)
	}
}

// duration accepts Go duration strings, time.Duration values and plain
// integers, which are taken as milliseconds.
func (d *decoder) duration(path string, dst *time.Duration) {
	v, ok := d.lookup(path)
	if !ok {
		return
	}
	switch t := v.(type) {
	case time.Duration:
		*dst = t
	case int64:
		*dst = time.Duration(t) * time.Millisecond
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			d.fail(path, "duration", v)
			return
		}
		*dst = parsed
	default:
		d.fail(path, "duration", v)
	}
}
