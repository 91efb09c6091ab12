package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ILYESS24/AiEditor/internal/adapter"
)

// Provider is one entry of the providers file, in declared order.
type Provider struct {
	Name   string
	Config adapter.Config
}

type providersFile struct {
	Providers yaml.Node `yaml:"providers"`
}

type providerEntry struct {
	Endpoint    string            `yaml:"endpoint" validate:"omitempty,url"`
	URL         string            `yaml:"url" validate:"omitempty,url"`
	APIKey      string            `yaml:"api_key"`
	Model       string            `yaml:"model"`
	Temperature *float64          `yaml:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int               `yaml:"max_tokens" validate:"gte=0"`
	APIVersion  string            `yaml:"api_version"`
	Headers     map[string]string `yaml:"headers"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadProviders reads the providers file at path.
func LoadProviders(path string) ([]Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders decodes a providers document:
//
//	providers:
//	  openrouter:
//	    api_key: ${OPENROUTER_API_KEY}
//	    model: openai/gpt-4o-mini
//	  ollama:
//	    endpoint: http://localhost:11434
//
// Declaration order is kept. String values expand ${VAR} from the environment.
func ParseProviders(data []byte) ([]Provider, error) {
	var doc providersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	node := &doc.Providers
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.Tag == "!!null") {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("providers: line %d: expected a mapping of provider names", node.Line)
	}

	out := make([]Provider, 0, len(node.Content)/2)
	seen := make(map[string]struct{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name := strings.TrimSpace(keyNode.Value)
		if name == "" {
			return nil, fmt.Errorf("providers: line %d: empty provider name", keyNode.Line)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("providers: line %d: duplicate provider %q", keyNode.Line, name)
		}
		seen[name] = struct{}{}

		var entry providerEntry
		if valNode.Kind != yaml.ScalarNode || valNode.Tag != "!!null" {
			if err := valNode.Decode(&entry); err != nil {
				return nil, fmt.Errorf("providers.%s: %w", name, err)
			}
		}
		entry.expand()
		if err := validate.Struct(entry); err != nil {
			return nil, fmt.Errorf("providers.%s: %w", name, describe(err))
		}
		out = append(out, Provider{Name: name, Config: entry.config()})
	}
	return out, nil
}

func (s *providerEntry) expand() {
	s.Endpoint = os.ExpandEnv(s.Endpoint)
	s.URL = os.ExpandEnv(s.URL)
	s.APIKey = os.ExpandEnv(s.APIKey)
	s.Model = os.ExpandEnv(s.Model)
	s.APIVersion = os.ExpandEnv(s.APIVersion)
	for k, v := range s.Headers {
		s.Headers[k] = os.ExpandEnv(v)
	}
}

func (s providerEntry) config() adapter.Config {
	return adapter.Config{
		Endpoint:    strings.TrimSpace(s.Endpoint),
		URL:         strings.TrimSpace(s.URL),
		APIKey:      s.APIKey,
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		APIVersion:  s.APIVersion,
		Headers:     s.Headers,
	}
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
