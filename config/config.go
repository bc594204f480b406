// Package config loads pipeline configuration from YAML files and converts
// it into the typed descriptors the validation pipeline and container
// consume. It also provides a file watcher that drives live
// reconfiguration of a running engine.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/stagemesh/core"
)

// ResourceConfig is the YAML shape of one resource declaration.
type ResourceConfig struct {
	Name         string   `yaml:"name"`
	Kind         string   `yaml:"kind"`
	Dependencies []string `yaml:"dependencies"`
}

// PluginConfig is the YAML shape of one plugin declaration.
type PluginConfig struct {
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	Stages       []string `yaml:"stages"`
	Dependencies []string `yaml:"dependencies"`
	Produces     []string `yaml:"produces"`
}

// File is the raw YAML document structure.
type File struct {
	MaxIterations int              `yaml:"max_iterations"`
	Resources     []ResourceConfig `yaml:"resources"`
	Plugins       []PluginConfig   `yaml:"plugins"`
}

// Config is the typed configuration after parsing. Stage names, plugin types
// and resource kinds have been converted to their enum forms; anything the
// enums reject fails the load.
type Config struct {
	// MaxIterations bounds the engine's stage loop. Zero means "use the
	// engine default".
	MaxIterations int
	// Resources declares the container contents.
	Resources []core.ResourceDescriptor
	// Plugins declares the registry contents.
	Plugins []core.PluginDescriptor
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse converts raw YAML into a typed Config. Unknown stage names, plugin
// types or resource kinds are load errors; structural validation beyond the
// enums (duplicates, dependency resolution) is the validation pipeline's job.
func Parse(data []byte) (*Config, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg := &Config{MaxIterations: file.MaxIterations}

	for _, rc := range file.Resources {
		kind, err := core.ParseResourceKind(rc.Kind)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", rc.Name, err)
		}
		cfg.Resources = append(cfg.Resources, core.ResourceDescriptor{
			Name:         rc.Name,
			Kind:         kind,
			Dependencies: rc.Dependencies,
		})
	}

	for _, pc := range file.Plugins {
		ptype, err := core.ParsePluginType(pc.Type)
		if err != nil {
			return nil, fmt.Errorf("plugin %q: %w", pc.Name, err)
		}

		var stages []core.Stage
		for _, s := range pc.Stages {
			stage, err := core.ParseStage(s)
			if err != nil {
				return nil, fmt.Errorf("plugin %q: %w", pc.Name, err)
			}
			stages = append(stages, stage)
		}

		cfg.Plugins = append(cfg.Plugins, core.PluginDescriptor{
			Name:         pc.Name,
			Type:         ptype,
			Stages:       stages,
			Dependencies: pc.Dependencies,
			Produces:     pc.Produces,
		})
	}

	return cfg, nil
}
