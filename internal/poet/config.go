package poet

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"weave/internal/diag"
	"weave/internal/util"
)

//go:embed presets.yaml
var builtinPresets []byte

// BaseBehavior is applied before any named preset.
const BaseBehavior = "default"

// Backoff grows the delay between Operate attempts exponentially.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the pause before retry number n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	if b.Base <= 0 || n < 1 {
		return 0
	}
	m := b.Multiplier
	if m < 1 {
		m = 2
	}
	d := float64(b.Base)
	for i := 1; i < n; i++ {
		d *= m
		if b.Max > 0 && d >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Config is a fully resolved decorator configuration.
type Config struct {
	Presets    []string
	Retries    int
	Timeout    time.Duration
	Backoff    Backoff
	Perceive   []string
	Enforce    []string
	OutputType string
	Train      bool
	Debug      bool
	Trace      bool
}

type backoffPreset struct {
	Base       *util.Duration `yaml:"base"`
	Max        *util.Duration `yaml:"max"`
	Multiplier *float64       `yaml:"multiplier"`
}

// Preset is one entry of the catalogue; nil fields leave earlier values alone.
type Preset struct {
	Retries    *int           `yaml:"retries"`
	Timeout    *util.Duration `yaml:"timeout"`
	Backoff    *backoffPreset `yaml:"backoff"`
	Perceive   []string       `yaml:"perceive"`
	Enforce    []string       `yaml:"enforce"`
	OutputType *string        `yaml:"output_type"`
	Train      *bool          `yaml:"train"`
}

// Catalog holds behavior and domain presets by name.
type Catalog struct {
	Behaviors map[string]Preset `yaml:"behaviors"`
	Domains   map[string]Preset `yaml:"domains"`
}

// DefaultCatalog parses the embedded presets.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(builtinPresets)
	if err != nil {
		panic(fmt.Sprintf("poet: embedded presets: %v", err))
	}
	return c
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, diag.Wrap(diag.ConfigError, err, "invalid preset catalogue: %v", err)
	}
	for name := range c.Domains {
		if _, dup := c.Behaviors[name]; dup {
			return nil, diag.New(diag.ConfigError, "preset %q is both a behavior and a domain", name)
		}
	}
	return &c, nil
}

// LoadCatalogFile reads extra presets from path and layers them over c.
func (c *Catalog) LoadCatalogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return diag.Wrap(diag.ConfigError, err, "failed to read presets: %v", err)
	}
	extra, err := ParseCatalog(data)
	if err != nil {
		return err
	}
	if c.Behaviors == nil {
		c.Behaviors = map[string]Preset{}
	}
	if c.Domains == nil {
		c.Domains = map[string]Preset{}
	}
	for k, v := range extra.Behaviors {
		c.Behaviors[k] = v
	}
	for k, v := range extra.Domains {
		c.Domains[k] = v
	}
	return nil
}

func (c *Catalog) lookup(name string) (Preset, bool) {
	if p, ok := c.Behaviors[name]; ok {
		return p, true
	}
	p, ok := c.Domains[name]
	return p, ok
}

// Names lists every preset, behaviors first, each group sorted.
func (c *Catalog) Names() []string {
	var b, d []string
	for k := range c.Behaviors {
		b = append(b, k)
	}
	for k := range c.Domains {
		d = append(d, k)
	}
	slices.Sort(b)
	slices.Sort(d)
	return append(b, d...)
}

// Overrides are explicit settings from a decorator or caller. Nil means unset.
type Overrides struct {
	Presets     []string
	Retries     *int
	Timeout     *time.Duration
	BackoffBase *time.Duration
	BackoffMax  *time.Duration
	Perceive    []string
	Enforce     []string
	OutputType  *string
	Train       *bool
	Debug       *bool
	Trace       *bool
}

func (c *Config) apply(p Preset) {
	if p.Retries != nil {
		c.Retries = *p.Retries
	}
	if p.Timeout != nil {
		c.Timeout = p.Timeout.Std()
	}
	if b := p.Backoff; b != nil {
		if b.Base != nil {
			c.Backoff.Base = b.Base.Std()
		}
		if b.Max != nil {
			c.Backoff.Max = b.Max.Std()
		}
		if b.Multiplier != nil {
			c.Backoff.Multiplier = *b.Multiplier
		}
	}
	// rule lists replace, they do not accumulate
	if p.Perceive != nil {
		c.Perceive = slices.Clone(p.Perceive)
	}
	if p.Enforce != nil {
		c.Enforce = slices.Clone(p.Enforce)
	}
	if p.OutputType != nil {
		c.OutputType = *p.OutputType
	}
	if p.Train != nil {
		c.Train = *p.Train
	}
}

// Resolve merges the base behavior, the named presets in order and then the
// overrides, and validates the result. Failures are ConfigErrors.
func (c *Catalog) Resolve(ov Overrides) (Config, error) {
	var cfg Config
	if base, ok := c.Behaviors[BaseBehavior]; ok {
		cfg.apply(base)
	}
	for _, name := range ov.Presets {
		p, ok := c.lookup(name)
		if !ok {
			return Config{}, diag.New(diag.ConfigError, "unknown poet preset %q", name)
		}
		cfg.apply(p)
		cfg.Presets = append(cfg.Presets, name)
	}

	if ov.Retries != nil {
		cfg.Retries = *ov.Retries
	}
	if ov.Timeout != nil {
		cfg.Timeout = *ov.Timeout
	}
	if ov.BackoffBase != nil {
		cfg.Backoff.Base = *ov.BackoffBase
	}
	if ov.BackoffMax != nil {
		cfg.Backoff.Max = *ov.BackoffMax
	}
	if ov.Perceive != nil {
		cfg.Perceive = slices.Clone(ov.Perceive)
	}
	if ov.Enforce != nil {
		cfg.Enforce = slices.Clone(ov.Enforce)
	}
	if ov.OutputType != nil {
		cfg.OutputType = *ov.OutputType
	}
	if ov.Train != nil {
		cfg.Train = *ov.Train
	}
	if ov.Debug != nil {
		cfg.Debug = *ov.Debug
	}
	if ov.Trace != nil {
		cfg.Trace = *ov.Trace
	}
	return cfg, cfg.Validate()
}

// Validate checks the invariants every decorated call relies on.
func (c Config) Validate() error {
	if c.Retries < 0 {
		return diag.New(diag.ConfigError, "retries must be >= 0, got %d", c.Retries)
	}
	if c.Timeout <= 0 {
		return diag.New(diag.ConfigError, "timeout must be > 0, got %s", c.Timeout)
	}
	if _, err := ParseRules(c.Perceive); err != nil {
		return err
	}
	if _, err := ParseRules(c.Enforce); err != nil {
		return err
	}
	if c.OutputType != "" {
		if _, ok := formatters[c.OutputType]; !ok {
			return diag.New(diag.ConfigError, "unknown output_type %q", c.OutputType)
		}
	}
	return nil
}
