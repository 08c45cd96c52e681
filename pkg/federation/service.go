package federation

import (
	"fmt"
	"net/url"
)

// ServiceConfig describes one federated service.
type ServiceConfig struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	URL  string `mapstructure:"url" yaml:"url" json:"url"`
	// Headers are sent with every request to the service.
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty" json:"headers,omitempty"`
	// SDL short-circuits introspection when set.
	SDL string `mapstructure:"sdl" yaml:"sdl,omitempty" json:"sdl,omitempty"`
}

type ServiceConfigs []ServiceConfig

func (s ServiceConfigs) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for i, service := range s {
		if service.Name == "" {
			return fmt.Errorf("service %d: name must not be empty", i)
		}
		if _, ok := seen[service.Name]; ok {
			return fmt.Errorf("service %q: name must be unique", service.Name)
		}
		seen[service.Name] = struct{}{}

		if service.URL == "" {
			return fmt.Errorf("service %q: url must not be empty", service.Name)
		}
		u, err := url.Parse(service.URL)
		if err != nil {
			return fmt.Errorf("service %q: invalid url: %w", service.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("service %q: url scheme must be http or https, got %q", service.Name, u.Scheme)
		}
	}
	return nil
}

// ByName returns the service with the given name.
func (s ServiceConfigs) ByName(name string) (ServiceConfig, bool) {
	for _, service := range s {
		if service.Name == name {
			return service, true
		}
	}
	return ServiceConfig{}, false
}

// Clone copies the configs so later mutations of the caller's slice are not observed.
func (s ServiceConfigs) Clone() ServiceConfigs {
	out := make(ServiceConfigs, len(s))
	for i, service := range s {
		out[i] = service
		if service.Headers != nil {
			out[i].Headers = make(map[string]string, len(service.Headers))
			for k, v := range service.Headers {
				out[i].Headers[k] = v
			}
		}
	}
	return out
}
