package bootready

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"

	"github.com/GoCodeAlone/bootready/feeders"
)

// Default wait budgets and poll intervals.
const (
	DefaultFeatureWait = 10 * time.Minute
	DefaultServiceWait = 10 * time.Minute
	DefaultModuleWait  = 10 * time.Minute

	DefaultModulePollInterval  = time.Second
	DefaultFeaturePollInterval = 250 * time.Millisecond
	DefaultServicePollInterval = 250 * time.Millisecond
	DefaultConfigPollInterval  = 100 * time.Millisecond

	// DefaultEnvPrefix is the prefix for environment overrides,
	// e.g. BOOTREADY_MODULE_WAIT=5m.
	DefaultEnvPrefix = "BOOTREADY"
)

const tagDefault = "default"

// MonitorConfig holds the monitor's default timeouts and poll intervals.
type MonitorConfig struct {
	FeatureWait time.Duration `yaml:"featureWait" toml:"featureWait" env:"FEATURE_WAIT" default:"10m" desc:"Default wait for feature operations"`
	ServiceWait time.Duration `yaml:"serviceWait" toml:"serviceWait" env:"SERVICE_WAIT" default:"10m" desc:"Default wait for managed service operations"`
	ModuleWait  time.Duration `yaml:"moduleWait" toml:"moduleWait" env:"MODULE_WAIT" default:"10m" desc:"Default wait for module readiness"`

	ModulePollInterval  time.Duration `yaml:"modulePollInterval" toml:"modulePollInterval" env:"MODULE_POLL_INTERVAL" default:"1s"`
	FeaturePollInterval time.Duration `yaml:"featurePollInterval" toml:"featurePollInterval" env:"FEATURE_POLL_INTERVAL" default:"250ms"`
	ServicePollInterval time.Duration `yaml:"servicePollInterval" toml:"servicePollInterval" env:"SERVICE_POLL_INTERVAL" default:"250ms"`
	ConfigPollInterval  time.Duration `yaml:"configPollInterval" toml:"configPollInterval" env:"CONFIG_POLL_INTERVAL" default:"100ms"`

	// ServiceQueryMode is "poll" or "snapshot".
	ServiceQueryMode string `yaml:"serviceQueryMode" toml:"serviceQueryMode" env:"SERVICE_QUERY_MODE" default:"poll"`
}

// DefaultConfig returns a MonitorConfig with every default applied.
func DefaultConfig() MonitorConfig {
	return MonitorConfig{
		FeatureWait:         DefaultFeatureWait,
		ServiceWait:         DefaultServiceWait,
		ModuleWait:          DefaultModuleWait,
		ModulePollInterval:  DefaultModulePollInterval,
		FeaturePollInterval: DefaultFeaturePollInterval,
		ServicePollInterval: DefaultServicePollInterval,
		ConfigPollInterval:  DefaultConfigPollInterval,
		ServiceQueryMode:    ServiceQueryPoll,
	}
}

// Validate checks the configuration for values the waits cannot use.
func (c *MonitorConfig) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"featureWait": c.FeatureWait,
		"serviceWait": c.ServiceWait,
		"moduleWait":  c.ModuleWait,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%s", ErrNegativeWait, name, d))
		}
	}
	for name, d := range map[string]time.Duration{
		"modulePollInterval":  c.ModulePollInterval,
		"featurePollInterval": c.FeaturePollInterval,
		"servicePollInterval": c.ServicePollInterval,
		"configPollInterval":  c.ConfigPollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%s", ErrNonPositivePoll, name, d))
		}
	}
	switch c.ServiceQueryMode {
	case ServiceQueryPoll, ServiceQuerySnapshot:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidServiceMode, c.ServiceQueryMode))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a MonitorConfig. path may be empty; otherwise it must be
// a .yaml, .yml or .toml file. Environment variables with envPrefix override
// file values. Fields no source sets keep their `default` tag.
func LoadConfig(path, envPrefix string) (MonitorConfig, error) {
	// Defaults are seeded before feeding so an explicit zero in a source,
	// such as moduleWait: 0s, is kept rather than replaced by the default.
	var cfg MonitorConfig
	if err := ProcessConfigDefaults(&cfg); err != nil {
		return cfg, err
	}

	c := config.New()
	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			c.AddFeeder(feeder.Yaml{Path: path})
		case ".toml":
			c.AddFeeder(feeder.Toml{Path: path})
		default:
			return cfg, fmt.Errorf("%w: %s", ErrUnsupportedConfigFile, path)
		}
	}
	if envPrefix != "" {
		c.AddFeeder(feeders.NewAffixedEnvFeeder(envPrefix, ""))
	}
	c.AddStruct(&cfg)

	if err := c.Feed(); err != nil {
		return cfg, fmt.Errorf("config feed error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ProcessConfigDefaults applies `default:"value"` tags to zero-valued
// fields of the struct pointed to by cfg. Strings, bools, integers and
// time.Duration are supported.
func ProcessConfigDefaults(cfg any) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config must be a non-nil pointer to a struct, got %T", cfg)
	}
	v = v.Elem()
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		defaultVal, ok := fieldType.Tag.Lookup(tagDefault)
		if !ok || !field.IsZero() {
			continue
		}
		if err := setDefaultValue(field, defaultVal); err != nil {
			return fmt.Errorf("failed to set default value for %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func setDefaultValue(field reflect.Value, defaultVal string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(defaultVal)
		if err != nil {
			return fmt.Errorf("failed to parse duration %q: %w", defaultVal, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(defaultVal)
	case reflect.Bool:
		b, err := strconv.ParseBool(defaultVal)
		if err != nil {
			return fmt.Errorf("failed to parse bool %q: %w", defaultVal, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(defaultVal, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to parse int %q: %w", defaultVal, err)
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported type for default value: %s", field.Kind())
	}
	return nil
}
