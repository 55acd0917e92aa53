package config

import "fmt"

const maxBps = 10_000

// Validate checks the structural bounds of the configuration. Cross-checks
// against protocol-level values (e.g. the treasury fee share) happen at the
// pool setters where both sides are known.
func (c *Pool) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil pool config")
	}
	if c.MinBorrowAmount == nil || c.MinBorrowAmount.Sign() <= 0 {
		return fmt.Errorf("config: min_borrow_amount must be positive")
	}
	if c.MaxBorrowAmount == nil || c.MaxBorrowAmount.Cmp(c.MinBorrowAmount) < 0 {
		return fmt.Errorf("config: max_borrow_amount < min_borrow_amount")
	}
	if c.LiquidityCap != nil && c.LiquidityCap.Sign() < 0 {
		return fmt.Errorf("config: liquidity_cap negative")
	}
	if c.AprBps > maxBps {
		return fmt.Errorf("config: apr_bps out of range: %d", c.AprBps)
	}
	if c.PlatformFeeBps > maxBps {
		return fmt.Errorf("config: platform_fee_bps out of range: %d", c.PlatformFeeBps)
	}
	if c.LateFeeBps > maxBps {
		return fmt.Errorf("config: late_fee_bps out of range: %d", c.LateFeeBps)
	}
	if c.EarlyPayoffFeeBps > maxBps {
		return fmt.Errorf("config: early_payoff_fee_bps out of range: %d", c.EarlyPayoffFeeBps)
	}
	if c.PlatformFeeFlat != nil && c.PlatformFeeFlat.Sign() < 0 {
		return fmt.Errorf("config: platform_fee_flat negative")
	}
	if c.LateFeeFlat != nil && c.LateFeeFlat.Sign() < 0 {
		return fmt.Errorf("config: late_fee_flat negative")
	}
	if c.EarlyPayoffFeeFlat != nil && c.EarlyPayoffFeeFlat.Sign() < 0 {
		return fmt.Errorf("config: early_payoff_fee_flat negative")
	}
	return nil
}
