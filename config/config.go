package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"
)

// Pool captures the runtime configuration for a credit pool instance. Amount
// fields are denominated in the smallest unit of the pool asset and expressed
// as big integers to keep the accounting exact.
type Pool struct {
	PoolOn                   bool     `toml:"PoolOn"`
	AprBps                   uint64   `toml:"AprBps"`
	MinBorrowAmount          *big.Int `toml:"MinBorrowAmount"`
	MaxBorrowAmount          *big.Int `toml:"MaxBorrowAmount"`
	LiquidityCap             *big.Int `toml:"LiquidityCap"`
	PlatformFeeFlat          *big.Int `toml:"PlatformFeeFlat"`
	PlatformFeeBps           uint64   `toml:"PlatformFeeBps"`
	LateFeeFlat              *big.Int `toml:"LateFeeFlat"`
	LateFeeBps               uint64   `toml:"LateFeeBps"`
	EarlyPayoffFeeFlat       *big.Int `toml:"EarlyPayoffFeeFlat"`
	EarlyPayoffFeeBps        uint64   `toml:"EarlyPayoffFeeBps"`
	WithdrawalLockoutSeconds uint64   `toml:"WithdrawalLockoutSeconds"`
	DefaultGraceSeconds      uint64   `toml:"DefaultGraceSeconds"`
}

// Default returns a pool configuration with conservative starting values.
// Pools begin disabled so operators must enable them explicitly after wiring.
func Default() *Pool {
	cfg := &Pool{
		AprBps:          1000,
		MinBorrowAmount: big.NewInt(1),
		MaxBorrowAmount: new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil),
	}
	cfg.EnsureDefaults()
	return cfg
}

// Load reads a pool configuration from the given TOML file. A missing file is
// an error; callers that want defaults should use Default directly.
func Load(path string) (*Pool, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefaults populates nil big.Int fields so encoding and arithmetic stay
// safe on partially specified documents.
func (c *Pool) EnsureDefaults() {
	if c.MinBorrowAmount == nil {
		c.MinBorrowAmount = big.NewInt(0)
	}
	if c.MaxBorrowAmount == nil {
		c.MaxBorrowAmount = big.NewInt(0)
	}
	if c.LiquidityCap == nil {
		c.LiquidityCap = big.NewInt(0)
	}
	if c.PlatformFeeFlat == nil {
		c.PlatformFeeFlat = big.NewInt(0)
	}
	if c.LateFeeFlat == nil {
		c.LateFeeFlat = big.NewInt(0)
	}
	if c.EarlyPayoffFeeFlat == nil {
		c.EarlyPayoffFeeFlat = big.NewInt(0)
	}
}

// Clone returns a deep copy of the configuration.
func (c *Pool) Clone() *Pool {
	if c == nil {
		return nil
	}
	clone := *c
	clone.MinBorrowAmount = cloneBig(c.MinBorrowAmount)
	clone.MaxBorrowAmount = cloneBig(c.MaxBorrowAmount)
	clone.LiquidityCap = cloneBig(c.LiquidityCap)
	clone.PlatformFeeFlat = cloneBig(c.PlatformFeeFlat)
	clone.LateFeeFlat = cloneBig(c.LateFeeFlat)
	clone.EarlyPayoffFeeFlat = cloneBig(c.EarlyPayoffFeeFlat)
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
