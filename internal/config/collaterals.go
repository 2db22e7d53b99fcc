package config

import (
	"VesselLedger/internal/event"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/state"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CollateralFile is the YAML document listing the collateral assets a fresh
// ledger starts with. Ratios and token amounts are human decimals
// ("1.1", "1800"); they are converted to 1e18 fixed point on load.
type CollateralFile struct {
	Collaterals []CollateralConfig `yaml:"collaterals"`
}

// CollateralConfig describes one collateral asset. Omitted fields take the
// protocol defaults.
type CollateralConfig struct {
	Asset            string  `yaml:"asset"`
	Active           *bool   `yaml:"active"`
	MCR              string  `yaml:"mcr"`
	CCR              string  `yaml:"ccr"`
	GasCompensation  string  `yaml:"gas_compensation"`
	MinNetDebt       string  `yaml:"min_net_debt"`
	MintCap          string  `yaml:"mint_cap"`
	PercentDivisor   *uint64 `yaml:"percent_divisor"`
	BorrowingFeeBps  *uint64 `yaml:"borrowing_fee_bps"`
	RedemptionFeeBps *uint64 `yaml:"redemption_fee_bps"`
}

// LoadCollaterals reads and validates a collateral file. The result is
// sorted by asset.
func LoadCollaterals(path string) ([]*state.CollateralParams, error) {
	if path == "" {
		return nil, fmt.Errorf("collateral file path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open collateral file: %w", err)
	}
	defer file.Close()

	var doc CollateralFile
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode collateral file: %w", err)
	}
	return doc.Params()
}

// Params normalizes the file and converts every entry.
func (f CollateralFile) Params() ([]*state.CollateralParams, error) {
	seen := make(map[string]bool, len(f.Collaterals))
	out := make([]*state.CollateralParams, 0, len(f.Collaterals))
	for i := range f.Collaterals {
		c := &f.Collaterals[i]
		c.normalize()
		if seen[c.Asset] {
			return nil, fmt.Errorf("collateral %s listed twice", c.Asset)
		}
		seen[c.Asset] = true

		p, err := c.params()
		if err != nil {
			return nil, fmt.Errorf("collateral %q: %w", c.Asset, err)
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (c *CollateralConfig) normalize() {
	c.Asset = strings.ToUpper(strings.TrimSpace(c.Asset))
	c.MCR = strings.TrimSpace(c.MCR)
	c.CCR = strings.TrimSpace(c.CCR)
	c.GasCompensation = strings.TrimSpace(c.GasCompensation)
	c.MinNetDebt = strings.TrimSpace(c.MinNetDebt)
	c.MintCap = strings.TrimSpace(c.MintCap)
}

func (c CollateralConfig) params() (*state.CollateralParams, error) {
	p := state.DefaultCollateralParams(c.Asset)
	if c.Active != nil {
		p.Active = *c.Active
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *fpmath.Amount
	}{
		{"mcr", c.MCR, &p.MCR},
		{"ccr", c.CCR, &p.CCR},
		{"gas_compensation", c.GasCompensation, &p.DebtTokenGasCompensation},
		{"min_net_debt", c.MinNetDebt, &p.MinNetDebt},
		{"mint_cap", c.MintCap, &p.MintCap},
	} {
		if f.raw == "" {
			continue
		}
		v, err := fpmath.ParseDecimal(f.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	if c.PercentDivisor != nil {
		p.PercentDivisor = *c.PercentDivisor
	}
	if c.BorrowingFeeBps != nil {
		p.BorrowingFeeBps = *c.BorrowingFeeBps
	}
	if c.RedemptionFeeBps != nil {
		p.RedemptionFeeBps = *c.RedemptionFeeBps
	}
	if err := state.ValidateCollateralParams(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GenesisCommand turns configured parameters into the command that installs
// them, numbered at the asset partition's next source sequence.
func GenesisCommand(p *state.CollateralParams, sourceSeq int64, now time.Time) *event.CollateralParamUpdate {
	return &event.CollateralParamUpdate{
		Asset:                    p.Asset,
		Active:                   p.Active,
		MCR:                      p.MCR,
		CCR:                      p.CCR,
		DebtTokenGasCompensation: p.DebtTokenGasCompensation,
		MinNetDebt:               p.MinNetDebt,
		MintCap:                  p.MintCap,
		PercentDivisor:           p.PercentDivisor,
		BorrowingFeeBps:          p.BorrowingFeeBps,
		RedemptionFeeBps:         p.RedemptionFeeBps,
		EffectiveSeq:             0,
		Sequence:                 sourceSeq,
		Timestamp:                now,
	}
}
