package ledger

import (
	"errors"
	"fmt"
	"os"

	"go.firedancer.io/stakeledger/pkg/accounts"
	"go.firedancer.io/stakeledger/pkg/cu"
	"go.firedancer.io/stakeledger/pkg/sealevel"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

type RentConfig struct {
	LamportsPerByteYear uint64  `yaml:"lamports_per_byte_year"`
	ExemptionThreshold  float64 `yaml:"exemption_threshold"`
	BurnPercent         uint8   `yaml:"burn_percent"`
}

// Config holds the execution parameters of a Ledger.
type Config struct {
	Rent                     RentConfig `yaml:"rent"`
	ComputeUnitLimit         uint64     `yaml:"compute_unit_limit"`
	MaxInstructionStackDepth uint64     `yaml:"max_instruction_stack_depth"`

	// StorePath is the directory of the persistent account store. Accounts
	// are kept in memory when it is empty.
	StorePath string `yaml:"store_path"`
}

func DefaultConfig() Config {
	return Config{
		Rent: RentConfig{
			LamportsPerByteYear: sealevel.DefaultLamportsPerByteYear,
			ExemptionThreshold:  sealevel.DefaultExemptionThreshold,
			BurnPercent:         sealevel.DefaultBurnPercent,
		},
		ComputeUnitLimit:         cu.DefaultComputeUnitLimit,
		MaxInstructionStackDepth: sealevel.DefaultMaxInstructionStackDepth,
	}
}

// ParseConfig decodes a YAML config. Fields missing from data keep their
// default values.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing ledger config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading ledger config: %w", err)
	}
	return ParseConfig(data)
}

func (cfg Config) validate() error {
	if cfg.Rent.ExemptionThreshold < 0 {
		return errors.New("rent exemption_threshold must not be negative")
	}
	if cfg.Rent.BurnPercent > 100 {
		return fmt.Errorf("rent burn_percent %d exceeds 100", cfg.Rent.BurnPercent)
	}
	if cfg.ComputeUnitLimit == 0 {
		return errors.New("compute_unit_limit must be positive")
	}
	if cfg.MaxInstructionStackDepth == 0 {
		return errors.New("max_instruction_stack_depth must be positive")
	}
	return nil
}

func (cfg Config) rentSysvar() sealevel.SysvarRent {
	return sealevel.SysvarRent{
		LamportsPerUint8Year: cfg.Rent.LamportsPerByteYear,
		ExemptionThreshold:   cfg.Rent.ExemptionThreshold,
		BurnPercent:          cfg.Rent.BurnPercent,
	}
}

// OpenStore opens the account store configured by cfg. The returned close
// function releases it.
func OpenStore(cfg Config) (accounts.Accounts, func() error, error) {
	if cfg.StorePath == "" {
		klog.Infof("using in-memory account store")
		return accounts.NewMemAccounts(), func() error { return nil }, nil
	}

	db, err := accounts.OpenAccountsDb(cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}
