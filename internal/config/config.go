// Package config loads runtime configuration for the lottery client.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Controller modes.
const (
	ModeDemo   = "demo"
	ModeStrict = "strict"
)

// Config is the full runtime configuration, decoded from LOTTERY_* variables.
type Config struct {
	Network      string `env:"LOTTERY_NETWORK,default=devnet"`
	NetworksFile string `env:"LOTTERY_NETWORKS_FILE"`
	RPCURL       string `env:"LOTTERY_RPC_URL"`
	ProgramID    string `env:"LOTTERY_PROGRAM_ID"`
	IDLPath      string `env:"LOTTERY_IDL_PATH"`

	Commitment     string        `env:"LOTTERY_COMMITMENT,default=confirmed"`
	RPCTimeout     time.Duration `env:"LOTTERY_RPC_TIMEOUT,default=30s"`
	ConfirmTimeout time.Duration `env:"LOTTERY_CONFIRM_TIMEOUT,default=60s"`
	PollInterval   time.Duration `env:"LOTTERY_POLL_INTERVAL,default=500ms"`

	// Mode selects whether failed remote calls are papered over (demo) or surfaced (strict).
	Mode string `env:"LOTTERY_MODE,default=demo"`

	KeypairPath string `env:"LOTTERY_KEYPAIR_PATH"`
	SecretKey   string `env:"LOTTERY_SECRET_KEY"`

	ListenAddr      string `env:"LOTTERY_LISTEN_ADDR,default=:8080"`
	RateLimit       int    `env:"LOTTERY_RATE_LIMIT,default=20"`
	RateBurst       int    `env:"LOTTERY_RATE_BURST,default=40"`
	RefreshSchedule string `env:"LOTTERY_REFRESH_SCHEDULE"`
	JournalDSN      string `env:"LOTTERY_JOURNAL_DSN"`
	CORSOrigins     string `env:"LOTTERY_CORS_ORIGINS"`

	LogLevel  string `env:"LOTTERY_LOG_LEVEL,default=info"`
	LogFormat string `env:"LOTTERY_LOG_FORMAT,default=json"`
	LogFile   string `env:"LOTTERY_LOG_FILE"`

	resolved   Network
	networkSet bool
}

// Overrides are command-line values that take precedence over the environment.
type Overrides struct {
	Network     string
	RPCURL      string
	ProgramID   string
	KeypairPath string
	Mode        string
}

// Apply sets non-empty overrides and re-resolves the network profile.
func (c *Config) Apply(o Overrides) error {
	if o.Network != "" {
		c.Network = o.Network
		c.networkSet = true
	}
	if o.RPCURL != "" {
		c.RPCURL = o.RPCURL
	}
	if o.ProgramID != "" {
		c.ProgramID = o.ProgramID
	}
	if o.KeypairPath != "" {
		c.KeypairPath = o.KeypairPath
	}
	if o.Mode != "" {
		c.Mode = o.Mode
	}
	return c.resolve()
}

// Load reads optional .env files and decodes the environment into a Config.
// Missing env files are ignored.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	networks := DefaultNetworks()
	if c.NetworksFile != "" {
		loaded, def, err := LoadNetworks(c.NetworksFile)
		if err != nil {
			return err
		}
		networks = loaded
		if !c.networkSet && os.Getenv("LOTTERY_NETWORK") == "" && def != "" {
			c.Network = def
		}
	}

	name := strings.ToLower(strings.TrimSpace(c.Network))
	network, ok := networks[name]
	if !ok {
		if c.RPCURL == "" {
			return fmt.Errorf("unknown network %q and LOTTERY_RPC_URL not set", c.Network)
		}
		network = Network{Name: name}
	}
	if c.RPCURL != "" {
		network.RPCURL = c.RPCURL
	}
	if c.ProgramID != "" {
		network.ProgramID = c.ProgramID
	}
	if network.ProgramID == "" {
		return fmt.Errorf("network %s: program id is required", name)
	}
	c.Network = name
	c.resolved = network

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	switch c.Mode {
	case ModeDemo, ModeStrict:
	default:
		return fmt.Errorf("invalid LOTTERY_MODE %q (want %s or %s)", c.Mode, ModeDemo, ModeStrict)
	}

	switch c.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid LOTTERY_COMMITMENT %q", c.Commitment)
	}
	return nil
}

// Endpoint returns the resolved RPC URL.
func (c *Config) Endpoint() string {
	return c.resolved.RPCURL
}

// Program returns the resolved program address.
func (c *Config) Program() string {
	return c.resolved.ProgramID
}

// DefaultKeypairPath is where the Solana CLI stores the default keypair.
func DefaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

// Keypair returns the configured keypair path, falling back to the Solana CLI default.
func (c *Config) Keypair() string {
	if c.KeypairPath != "" {
		return c.KeypairPath
	}
	return DefaultKeypairPath()
}
