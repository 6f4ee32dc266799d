package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Network describes a ledger cluster the client can talk to.
type Network struct {
	Name      string `yaml:"name"`
	RPCURL    string `yaml:"rpc_url"`
	ProgramID string `yaml:"program_id"`
}

// NetworksFile is the YAML layout of a networks override file.
type NetworksFile struct {
	Default  string              `yaml:"default"`
	Networks map[string]*Network `yaml:"networks"`
}

// Program addresses of the lottery program. The localnet build declares its own id.
const (
	LocalProgramID    = "5vfYx3qS4FL5yAwiBnxLkYoK4ZHTsqGXn93RGKUhPZUz"
	DeployedProgramID = "AKpH6fPQEV7cxF4mRtEsHwtdnYRcNiYwTu6BZYGqUz8u"
)

// DefaultNetworks returns the built-in cluster profiles.
func DefaultNetworks() map[string]Network {
	return map[string]Network{
		"localnet": {
			Name:      "localnet",
			RPCURL:    "http://127.0.0.1:8899",
			ProgramID: LocalProgramID,
		},
		"devnet": {
			Name:      "devnet",
			RPCURL:    "https://api.devnet.solana.com",
			ProgramID: DeployedProgramID,
		},
		"mainnet": {
			Name:      "mainnet",
			RPCURL:    "https://api.mainnet-beta.solana.com",
			ProgramID: DeployedProgramID,
		},
	}
}

// LoadNetworks reads network profiles from path and merges them over the defaults.
// Entries in the file replace built-in entries field by field.
func LoadNetworks(path string) (map[string]Network, string, error) {
	networks := DefaultNetworks()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read networks file: %w", err)
	}

	var file NetworksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("failed to parse networks file: %w", err)
	}

	for name, override := range file.Networks {
		if override == nil {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		merged := networks[name]
		merged.Name = name
		if override.RPCURL != "" {
			merged.RPCURL = override.RPCURL
		}
		if override.ProgramID != "" {
			merged.ProgramID = override.ProgramID
		}
		if merged.RPCURL == "" {
			return nil, "", fmt.Errorf("network %s: rpc_url is required", name)
		}
		networks[name] = merged
	}

	return networks, strings.ToLower(strings.TrimSpace(file.Default)), nil
}
