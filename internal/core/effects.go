package core

import (
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
	"sort"

	"github.com/google/uuid"
)

// Effects lists the records a command changed, in deterministic order.
// Projections and the outbound publisher consume it; the state digest is
// computed from the same set.
type Effects struct {
	Vessels      []state.Vessel
	Deposits     []state.Deposit
	Liquidations []LiquidationRecord
	Redemption   *RedemptionRecord
	Balances     []token.Balance
}

type balanceKey struct {
	token   string
	account token.Account
}

// touchSet collects the keys a command mutated.
type touchSet struct {
	vessels  map[state.VesselKey]struct{}
	deposits map[state.VesselKey]struct{}
	assets   map[string]struct{}
	balances map[balanceKey]struct{}
}

func newTouchSet() *touchSet {
	return &touchSet{
		vessels:  make(map[state.VesselKey]struct{}),
		deposits: make(map[state.VesselKey]struct{}),
		assets:   make(map[string]struct{}),
		balances: make(map[balanceKey]struct{}),
	}
}

func (t *touchSet) vessel(key state.VesselKey) {
	t.vessels[key] = struct{}{}
	t.assets[key.Asset] = struct{}{}
}

func (t *touchSet) deposit(key state.VesselKey) {
	t.deposits[key] = struct{}{}
	t.assets[key.Asset] = struct{}{}
}

func (t *touchSet) asset(asset string) {
	t.assets[asset] = struct{}{}
}

func (t *touchSet) balance(tok string, account token.Account) {
	t.balances[balanceKey{token: tok, account: account}] = struct{}{}
}

func (t *touchSet) sortedAssets() []string {
	out := make([]string, 0, len(t.assets))
	for a := range t.assets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[state.VesselKey]struct{}) []state.VesselKey {
	out := make([]state.VesselKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Borrower.String() < out[j].Borrower.String()
	})
	return out
}

func (t *touchSet) sortedBalances() []balanceKey {
	out := make([]balanceKey, 0, len(t.balances))
	for k := range t.balances {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].token != out[j].token {
			return out[i].token < out[j].token
		}
		return out[i].account < out[j].account
	})
	return out
}

func (c *DeterministicCore) touchVessel(asset string, borrower uuid.UUID) {
	c.touched.vessel(state.VesselKey{Asset: asset, Borrower: borrower})
}

func (c *DeterministicCore) touchDeposit(asset string, depositor uuid.UUID) {
	c.touched.deposit(state.VesselKey{Asset: asset, Borrower: depositor})
}

// collectEffects snapshots every touched record after the handler ran.
func (c *DeterministicCore) collectEffects() {
	for _, key := range sortedKeys(c.touched.vessels) {
		if v := c.vessels.GetVessel(key.Asset, key.Borrower); v != nil {
			c.effects.Vessels = append(c.effects.Vessels, *v)
		}
	}
	for _, key := range sortedKeys(c.touched.deposits) {
		if d := c.stabilityPool.GetDeposit(key.Asset, key.Borrower); d != nil {
			c.effects.Deposits = append(c.effects.Deposits, *d)
		}
	}
	for _, bk := range c.touched.sortedBalances() {
		c.effects.Balances = append(c.effects.Balances, token.Balance{
			Token:   bk.token,
			Account: bk.account,
			Amount:  c.tokens.BalanceOf(bk.token, bk.account),
		})
	}
}

// computeStateDigest creates canonical bytes for the state hash from every
// record the command touched: asset accumulators and pools, Vessels,
// deposits and token balances, each group in sorted order.
func (c *DeterministicCore) computeStateDigest() []byte {
	digest := make([]byte, 0, 1024)

	for _, asset := range c.touched.sortedAssets() {
		digest = state.AppendString(digest, asset)
		digest = append(digest, c.pools.Asset(asset).CanonicalBytes()...)
		digest = append(digest, c.vessels.Redistribution(asset).CanonicalBytes()...)
		digest = append(digest, c.stabilityPool.State(asset).CanonicalBytes()...)
		if price, err := c.prices.GetPrice(asset); err == nil {
			digest = state.AppendAmount(digest, price)
		}
		if p, ok := c.params.Get(asset); ok {
			digest = state.AppendAmount(digest, p.MCR)
			digest = state.AppendAmount(digest, p.CCR)
			digest = state.AppendInt64LE(digest, p.EffectiveSeq)
		}
	}

	for _, v := range c.effects.Vessels {
		digest = append(digest, v.CanonicalBytes()...)
	}
	for _, d := range c.effects.Deposits {
		digest = append(digest, d.CanonicalBytes()...)
	}
	for _, b := range c.effects.Balances {
		digest = state.AppendString(digest, b.Token)
		digest = state.AppendString(digest, string(b.Account))
		digest = state.AppendAmount(digest, b.Amount)
	}
	return digest
}
