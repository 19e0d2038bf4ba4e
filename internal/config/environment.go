package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Profile is one named identity inside an environment, per spec §6.6.
type Profile struct {
	DID      string            `json:"did"`
	Mediator string            `json:"mediator,omitempty"`
	Secrets  map[string]string `json:"secrets,omitempty"`
}

// Environment is one entry of a TDK environment file, per spec §6.6.
type Environment struct {
	Profiles         map[string]Profile `json:"profiles"`
	AdminDID         string              `json:"admin_did,omitempty"`
	DefaultMediator  string              `json:"default_mediator,omitempty"`
	SSLCertificates  []string            `json:"ssl_certificates,omitempty"`
}

// EnvironmentFile is the full environment_name -> Environment map a TDK
// environment file decodes to, per spec §6.6.
type EnvironmentFile map[string]Environment

// LoadEnvironmentFile reads and decodes a TDK environment file at path.
func LoadEnvironmentFile(path string) (EnvironmentFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read environment file: %w", err)
	}

	var envs EnvironmentFile

	if err := json.Unmarshal(raw, &envs); err != nil {
		return nil, fmt.Errorf("config: parse environment file: %w", err)
	}

	return envs, nil
}

// Profile looks up a profile by environment and alias.
func (f EnvironmentFile) Profile(environmentName, alias string) (*Profile, error) {
	env, ok := f[environmentName]
	if !ok {
		return nil, fmt.Errorf("config: unknown environment %q", environmentName)
	}

	p, ok := env.Profiles[alias]
	if !ok {
		return nil, fmt.Errorf("config: unknown profile %q in environment %q", alias, environmentName)
	}

	return &p, nil
}

// ResolveMediator returns a profile's mediator DID, falling back to the
// environment's default_mediator when the profile sets none.
func (e Environment) ResolveMediator(alias string) (string, error) {
	p, ok := e.Profiles[alias]
	if !ok {
		return "", fmt.Errorf("config: unknown profile %q", alias)
	}

	if p.Mediator != "" {
		return p.Mediator, nil
	}

	if e.DefaultMediator != "" {
		return e.DefaultMediator, nil
	}

	return "", fmt.Errorf("config: profile %q has no mediator and environment has no default_mediator", alias)
}
