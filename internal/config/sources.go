package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSources is returned when the source registry file fails validation.
var ErrInvalidSources = errors.New("invalid sources file")

// Source kinds understood by the registry builder.
const (
	SourceKindHTTP    = "http"
	SourceKindFixture = "fixture"
)

// SourcesFile is the on-disk shape of the source registry.
type SourcesFile struct {
	Sources []SourceSpec `yaml:"sources"`
}

// SourceSpec describes one source adapter. Order in the file is fan-out order.
type SourceSpec struct {
	ID        string        `yaml:"id"`
	Kind      string        `yaml:"kind"`
	BaseURL   string        `yaml:"base_url"`
	Path      string        `yaml:"path"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	Retry     *RetrySpec    `yaml:"retry"`
}

// RetrySpec overrides the global retry policy for a single source.
type RetrySpec struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// ParseSources parses YAML content into validated source specs.
func ParseSources(data []byte) ([]SourceSpec, error) {
	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSources, err)
	}
	seen := make(map[string]struct{}, len(file.Sources))
	for i := range file.Sources {
		s := &file.Sources[i]
		s.ID = strings.TrimSpace(s.ID)
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		if s.ID == "" {
			return nil, fmt.Errorf("%w: source #%d has no id", ErrInvalidSources, i+1)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate source id %q", ErrInvalidSources, s.ID)
		}
		seen[s.ID] = struct{}{}
		switch s.Kind {
		case SourceKindHTTP:
			if strings.TrimSpace(s.BaseURL) == "" {
				return nil, fmt.Errorf("%w: source %q needs base_url", ErrInvalidSources, s.ID)
			}
		case SourceKindFixture:
			if strings.TrimSpace(s.Path) == "" {
				return nil, fmt.Errorf("%w: source %q needs path", ErrInvalidSources, s.ID)
			}
		default:
			return nil, fmt.Errorf("%w: source %q has unknown kind %q", ErrInvalidSources, s.ID, s.Kind)
		}
	}
	return file.Sources, nil
}

// LoadSources reads the registry file at path.
func LoadSources(path string) ([]SourceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(data)
}
