package sites

import (
	"errors"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoSites indicates no sites were found in the configuration.
	ErrNoSites = errors.New("no sites found in configuration")
	// ErrMissingRequiredField indicates a required field is missing.
	ErrMissingRequiredField = errors.New("missing required field")
)

// Excluded records a site that was dropped at load time and why. Invalid
// adapters never fail the whole run; they are reported instead.
type Excluded struct {
	Key    string
	Reason string
}

// sitesFile is the structure of a sites YAML file.
type sitesFile struct {
	Sites []map[string]any `yaml:"sites"`
}

// Loader loads and validates site adapter configurations.
type Loader struct {
	configPath string
}

// NewLoader creates a loader for the given sites file.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the sites file and returns the valid enabled adapters in file
// order, plus the excluded entries with their reasons.
func (l *Loader) Load() ([]Adapter, []Excluded, error) {
	raw, err := l.loadRaw()
	if err != nil {
		return nil, nil, err
	}

	adapters := make([]Adapter, 0, len(raw))
	excluded := make([]Excluded, 0)

	for i, src := range raw {
		adapter, convertErr := decodeAdapter(src)
		if convertErr != nil {
			excluded = append(excluded, Excluded{
				Key:    keyOf(src, i),
				Reason: convertErr.Error(),
			})
			continue
		}

		if validateErr := adapter.Validate(); validateErr != nil {
			excluded = append(excluded, Excluded{
				Key:    keyOf(src, i),
				Reason: validateErr.Error(),
			})
			continue
		}

		if !adapter.Enabled {
			continue
		}

		adapters = append(adapters, adapter)
	}

	return adapters, excluded, nil
}

// loadRaw reads the raw site maps from the configuration file.
func (l *Loader) loadRaw() ([]map[string]any, error) {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sites file: %w", err)
	}

	var file sitesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sites YAML: %w", err)
	}

	if len(file.Sites) == 0 {
		return nil, ErrNoSites
	}

	return file.Sites, nil
}

// decodeAdapter converts a raw site map into an Adapter with weak typing
// and defaults applied.
func decodeAdapter(src map[string]any) (Adapter, error) {
	adapter := Adapter{
		Parser:  ParserGeneric,
		Enabled: true,
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &adapter,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Adapter{}, fmt.Errorf("failed to create decoder: %w", err)
	}

	if decodeErr := decoder.Decode(src); decodeErr != nil {
		return Adapter{}, fmt.Errorf("failed to decode site: %w", decodeErr)
	}

	if adapter.Key == "" {
		return Adapter{}, fmt.Errorf("%w: key", ErrMissingRequiredField)
	}

	return adapter, nil
}

// keyOf extracts a site key from a raw map for error reporting, falling
// back to the positional index.
func keyOf(src map[string]any, index int) string {
	if key, ok := src["key"].(string); ok && key != "" {
		return key
	}
	return fmt.Sprintf("site[%d]", index)
}
