package engineconf

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"
	yaml "gopkg.in/yaml.v3"
)

const (
	MinTimeoutScale     = 0.2
	MaxTimeoutScale     = 120.0
	DefaultVariant      = "standard"
	DefaultTimeoutScale = 1.0
)

var (
	ErrMissingCommand  = errors.New("engine command is required")
	ErrMissingProtocol = errors.New("engine protocol is required")
	ErrNotFound        = errors.New("engine configuration not found")
)

// RestartMode decides whether an engine process is relaunched between games.
type RestartMode int

const (
	RestartAuto RestartMode = iota
	RestartAlways
	RestartNever
)

func (m RestartMode) String() string {
	switch m {
	case RestartAlways:
		return "on"
	case RestartNever:
		return "off"
	default:
		return "auto"
	}
}

func ParseRestartMode(s string) (RestartMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return RestartAuto, nil
	case "on", "always":
		return RestartAlways, nil
	case "off", "never":
		return RestartNever, nil
	default:
		return RestartAuto, fmt.Errorf("unknown restart mode %q", s)
	}
}

func (m RestartMode) MarshalYAML() (any, error) { return m.String(), nil }

func (m *RestartMode) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseRestartMode(node.Value)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m RestartMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *RestartMode) UnmarshalText(b []byte) error {
	v, err := ParseRestartMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// OptionSetting overrides the value of an engine option by name.
type OptionSetting struct {
	Name  string `yaml:"name" json:"name"`
	Value any    `yaml:"value" json:"value"`
}

// Configuration describes how to launch and set up one engine.
type Configuration struct {
	Name             string          `yaml:"name" json:"name"`
	Command          string          `yaml:"command" json:"command"`
	Arguments        []string        `yaml:"arguments,omitempty" json:"arguments,omitempty"`
	WorkingDirectory string          `yaml:"workingDirectory,omitempty" json:"workingDirectory,omitempty"`
	StderrFile       string          `yaml:"stderrFile,omitempty" json:"stderrFile,omitempty"`
	Protocol         string          `yaml:"protocol" json:"protocol"`
	InitStrings      []string        `yaml:"initStrings,omitempty" json:"initStrings,omitempty"`
	Options          []OptionSetting `yaml:"options,omitempty" json:"options,omitempty"`
	Variants         []string        `yaml:"variants,omitempty" json:"variants,omitempty"`
	WhiteEvalPov     bool            `yaml:"whitepov,omitempty" json:"whitepov,omitempty"`
	Pondering        bool            `yaml:"ponder,omitempty" json:"ponder,omitempty"`
	ValidateClaims   *bool           `yaml:"validateClaims,omitempty" json:"validateClaims,omitempty"`
	RestartMode      RestartMode     `yaml:"restart,omitempty" json:"restart,omitempty"`
	TimeoutScale     float64         `yaml:"timeoutScale,omitempty" json:"timeoutScale,omitempty"`
}

func New(name, command, protocol string) Configuration {
	return Configuration{
		Name:         strings.TrimSpace(name),
		Command:      strings.TrimSpace(command),
		Protocol:     strings.ToLower(strings.TrimSpace(protocol)),
		Variants:     []string{DefaultVariant},
		TimeoutScale: DefaultTimeoutScale,
	}
}

// ClaimsValidated defaults to true when the field was left out of the file.
func (c Configuration) ClaimsValidated() bool {
	if c.ValidateClaims == nil {
		return true
	}
	return *c.ValidateClaims
}

func (c *Configuration) SetClaimsValidated(v bool) { c.ValidateClaims = &v }

// SetTimeoutScale stores f clamped to [MinTimeoutScale, MaxTimeoutScale].
func (c *Configuration) SetTimeoutScale(f float64) { c.TimeoutScale = clampScale(f) }

// EffectiveTimeoutScale treats an unset scale as 1.
func (c Configuration) EffectiveTimeoutScale() float64 {
	if c.TimeoutScale == 0 {
		return DefaultTimeoutScale
	}
	return clampScale(c.TimeoutScale)
}

func clampScale(f float64) float64 {
	if f < MinTimeoutScale {
		return MinTimeoutScale
	}
	if f > MaxTimeoutScale {
		return MaxTimeoutScale
	}
	return f
}

// SupportedVariants falls back to the standard variant when none are listed.
func (c Configuration) SupportedVariants() []string {
	if len(c.Variants) == 0 {
		return []string{DefaultVariant}
	}
	return append([]string(nil), c.Variants...)
}

func (c *Configuration) AddInitString(s string) {
	for _, line := range strings.Split(s, "\n") {
		c.InitStrings = append(c.InitStrings, line)
	}
}

func (c *Configuration) AddOption(name string, value any) {
	for i := range c.Options {
		if strings.EqualFold(c.Options[i].Name, name) {
			c.Options[i].Value = value
			return
		}
	}
	c.Options = append(c.Options, OptionSetting{Name: name, Value: value})
}

func (c Configuration) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%s: %w", c.Name, ErrMissingCommand)
	}
	if strings.TrimSpace(c.Protocol) == "" {
		return fmt.Errorf("%s: %w", c.Name, ErrMissingProtocol)
	}
	return nil
}

type file struct {
	Engines []Configuration `yaml:"engines" json:"engines"`
}

// Load reads engine configurations from a YAML file. JSON files load too since JSON is valid YAML.
// A bare list at the top level is accepted as well as an `engines:` key.
func Load(path string) ([]Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engines file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) ([]Configuration, error) {
	var list []Configuration
	if err := yaml.Unmarshal(raw, &list); err != nil {
		var f file
		if ferr := yaml.Unmarshal(raw, &f); ferr != nil {
			return nil, fmt.Errorf("parse engines file: %w", ferr)
		}
		list = f.Engines
	}
	for i := range list {
		list[i].Protocol = strings.ToLower(strings.TrimSpace(list[i].Protocol))
		if len(list[i].Variants) == 0 {
			list[i].Variants = []string{DefaultVariant}
		}
		if list[i].TimeoutScale != 0 {
			list[i].TimeoutScale = clampScale(list[i].TimeoutScale)
		}
		if err := list[i].Validate(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Save writes the configurations atomically.
func Save(path string, list []Configuration) error {
	raw, err := yaml.Marshal(file{Engines: list})
	if err != nil {
		return fmt.Errorf("marshal engines: %w", err)
	}
	if err := renameio.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write engines file: %w", err)
	}
	return nil
}

func Find(list []Configuration, name string) (Configuration, error) {
	name = strings.TrimSpace(name)
	for _, c := range list {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return Configuration{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}
