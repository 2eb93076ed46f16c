package transport

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/health"
	"gopkg.in/yaml.v3"
)

var ErrUnknownDestination = fmt.Errorf("unknown destination")

// Definition is one destination entry in the destinations file. Type selects
// the protocol and the matching block carries its settings. Secrets can be
// referenced as ${ENV_VAR}; the file is env-expanded before parsing.
type Definition struct {
	ID    string       `yaml:"id"`
	Type  string       `yaml:"type"`
	HTTP  HTTPOptions  `yaml:"http"`
	Tus   TusOptions   `yaml:"tus"`
	S3    S3Options    `yaml:"s3"`
	Azure AzureOptions `yaml:"azure"`
}

type configFile struct {
	Destinations []Definition `yaml:"destinations"`
}

// LoadOption adjusts a destination definition before its transport is built.
type LoadOption func(*Definition)

// WithHTTPAuthFallback supplies client-credentials auth to http destinations
// whose definition does not carry a token URL of its own.
func WithHTTPAuthFallback(tokenURL, clientID, clientSecret string, scopes []string) LoadOption {
	return func(def *Definition) {
		if def.Type != "http" || def.HTTP.TokenURL != "" {
			return
		}
		def.HTTP.TokenURL = tokenURL
		def.HTTP.ClientID = clientID
		def.HTTP.ClientSecret = clientSecret
		def.HTTP.Scopes = scopes
	}
}

// Destinations maps destination IDs to ready transports.
type Destinations map[string]Transport

func (d Destinations) Get(id string) (Transport, bool) {
	t, ok := d[id]
	return t, ok
}

// Checkables returns the transports that can report health, in a stable
// order.
func (d Destinations) Checkables() []health.Checkable {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var checkables []health.Checkable
	for _, id := range ids {
		if c, ok := d[id].(health.Checkable); ok {
			checkables = append(checkables, c)
		}
	}
	return checkables
}

// LoadDestinations reads the destinations file and builds one transport per
// entry.
func LoadDestinations(ctx context.Context, path string, opts ...LoadOption) (Destinations, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read destinations file %s: %w", path, err)
	}
	return ParseDestinations(ctx, []byte(os.ExpandEnv(string(b))), opts...)
}

func ParseDestinations(ctx context.Context, b []byte, opts ...LoadOption) (Destinations, error) {
	var file configFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("failed to parse destinations: %w", err)
	}

	destinations := Destinations{}
	for _, def := range file.Destinations {
		for _, opt := range opts {
			opt(&def)
		}
		if def.ID == "" {
			return nil, fmt.Errorf("destination with type %s is missing an id", def.Type)
		}
		if _, ok := destinations[def.ID]; ok {
			return nil, fmt.Errorf("duplicate destination id %s", def.ID)
		}

		var t Transport
		var err error
		switch def.Type {
		case "http":
			t, err = NewHTTPTransport(ctx, def.HTTP)
		case "tus":
			t, err = NewTusTransport(ctx, def.Tus)
		case "s3":
			t, err = NewS3Transport(ctx, def.S3)
		case "azure":
			t, err = NewAzureTransport(ctx, def.Azure)
		default:
			return nil, fmt.Errorf("destination %s has unsupported type %q", def.ID, def.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build destination %s: %w", def.ID, err)
		}

		logger.Info("configured destination", "id", def.ID, "type", def.Type)
		destinations[def.ID] = t
	}
	return destinations, nil
}
