package state

import (
	fpmath "VesselLedger/internal/math"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// EpochScale addresses one bucket of the S and G sums.
type EpochScale struct {
	Epoch uint64
	Scale uint64
}

// DepositSnapshot is the pool state recorded when a deposit last changed.
type DepositSnapshot struct {
	P     fpmath.Amount
	S     fpmath.Amount
	G     fpmath.Amount
	Epoch uint64
	Scale uint64
}

// Deposit is one depositor's Stability Pool position for an asset.
type Deposit struct {
	Asset        string
	Depositor    uuid.UUID
	InitialValue fpmath.Amount
	Snapshot     DepositSnapshot
	Version      int64
}

// StabilityPoolState is the per-asset Stability Pool accumulator.
//
// P is the running product by which every deposit has shrunk. S and G are
// the cumulative collateral and reward-token gains per unit deposited,
// stored multiplied by the P in force when they accrued (1e36-scaled).
// Scale counts 1e9 renormalisations of P; Epoch counts full wipeouts.
type StabilityPoolState struct {
	TotalDeposits fpmath.Amount

	P            fpmath.Amount
	CurrentScale uint64
	CurrentEpoch uint64

	S map[EpochScale]fpmath.Amount
	G map[EpochScale]fpmath.Amount

	LastCollGainError fpmath.Amount
	LastDebtLossError fpmath.Amount
	LastRewardError   fpmath.Amount
}

func NewStabilityPoolState() *StabilityPoolState {
	return &StabilityPoolState{
		P: fpmath.DecimalPrecision,
		S: make(map[EpochScale]fpmath.Amount),
		G: make(map[EpochScale]fpmath.Amount),
	}
}

func (sp *StabilityPoolState) current() EpochScale {
	return EpochScale{Epoch: sp.CurrentEpoch, Scale: sp.CurrentScale}
}

// Offset cancels debtToOffset against the pool and credits collToAdd to
// depositors. D == 0 or debtToOffset > D is a broken precondition.
func (sp *StabilityPoolState) Offset(debtToOffset, collToAdd fpmath.Amount) {
	total := sp.TotalDeposits
	if total.IsZero() {
		panic("FATAL: offset against an empty stability pool")
	}
	if debtToOffset.Gt(&total) {
		panic(fmt.Sprintf("FATAL: offset of %s exceeds stability pool deposits %s",
			debtToOffset.Dec(), total.Dec()))
	}
	if debtToOffset.IsZero() && collToAdd.IsZero() {
		return
	}

	collGainPerUnit, debtLossPerUnit := sp.computeRewardsPerUnit(collToAdd, debtToOffset, total)
	sp.updateRewardSumAndProduct(collGainPerUnit, debtLossPerUnit)
	sp.TotalDeposits = fpmath.Sub(sp.TotalDeposits, debtToOffset)
}

// computeRewardsPerUnit folds the carried errors into the per-unit values.
// Collateral gain rounds down; debt loss rounds up so that deposits are
// never over-reported.
func (sp *StabilityPoolState) computeRewardsPerUnit(coll, debt, total fpmath.Amount) (collGain, debtLoss fpmath.Amount) {
	collNumerator := fpmath.Add(fpmath.Mul(coll, fpmath.DecimalPrecision), sp.LastCollGainError)
	collGain, sp.LastCollGainError = fpmath.DivRem(collNumerator, total)

	if debt.Eq(&total) {
		sp.LastDebtLossError = fpmath.Amount{}
		return collGain, fpmath.DecimalPrecision
	}

	scaledDebt := fpmath.Mul(debt, fpmath.DecimalPrecision)
	if !sp.LastDebtLossError.Lt(&scaledDebt) {
		// The carried surplus already covers this loss.
		sp.LastDebtLossError = fpmath.Sub(sp.LastDebtLossError, scaledDebt)
		return collGain, fpmath.Amount{}
	}
	lossNumerator := fpmath.Sub(scaledDebt, sp.LastDebtLossError)
	debtLoss = fpmath.CeilDiv(lossNumerator, total)
	sp.LastDebtLossError = fpmath.Sub(fpmath.Mul(debtLoss, total), lossNumerator)
	return collGain, debtLoss
}

// updateRewardSumAndProduct accrues S at the current P, then shrinks P,
// renormalising or starting a new epoch as needed.
func (sp *StabilityPoolState) updateRewardSumAndProduct(collGainPerUnit, debtLossPerUnit fpmath.Amount) {
	at := sp.current()
	if !collGainPerUnit.IsZero() {
		sp.S[at] = fpmath.Add(sp.S[at], fpmath.Mul(collGainPerUnit, sp.P))
	}

	if debtLossPerUnit.Gt(&fpmath.DecimalPrecision) {
		panic(fmt.Sprintf("FATAL: debt loss per unit %s exceeds 1e18", debtLossPerUnit.Dec()))
	}
	factor := fpmath.Sub(fpmath.DecimalPrecision, debtLossPerUnit)

	var newP fpmath.Amount
	if !factor.IsZero() {
		newP = fpmath.MulDecimal(sp.P, factor)
	}

	switch {
	case newP.IsZero():
		sp.CurrentEpoch++
		sp.CurrentScale = 0
		sp.P = fpmath.DecimalPrecision
	case newP.Lt(&fpmath.ScaleFactor):
		sp.P = fpmath.MulDiv(fpmath.Mul(sp.P, factor), fpmath.ScaleFactor, fpmath.DecimalPrecision, fpmath.RoundDown)
		sp.CurrentScale++
	default:
		sp.P = newP
	}
}

// IssueRewards accrues reward-token issuance into G at the current P.
// Nothing accrues while the pool is empty.
func (sp *StabilityPoolState) IssueRewards(amount fpmath.Amount) bool {
	if amount.IsZero() || sp.TotalDeposits.IsZero() {
		return false
	}
	numerator := fpmath.Add(fpmath.Mul(amount, fpmath.DecimalPrecision), sp.LastRewardError)
	var perUnit fpmath.Amount
	perUnit, sp.LastRewardError = fpmath.DivRem(numerator, sp.TotalDeposits)

	at := sp.current()
	sp.G[at] = fpmath.Add(sp.G[at], fpmath.Mul(perUnit, sp.P))
	return true
}

// Snapshot captures the pool state for a deposit.
func (sp *StabilityPoolState) Snapshot() DepositSnapshot {
	at := sp.current()
	return DepositSnapshot{
		P:     sp.P,
		S:     sp.S[at],
		G:     sp.G[at],
		Epoch: sp.CurrentEpoch,
		Scale: sp.CurrentScale,
	}
}

// CompoundedValue returns what a deposit of initial made at snap is worth
// now. Stale epochs and a scale advance of two or more read as zero, as
// does anything below initial/1e9.
func (sp *StabilityPoolState) CompoundedValue(initial fpmath.Amount, snap DepositSnapshot) fpmath.Amount {
	if initial.IsZero() || snap.Epoch != sp.CurrentEpoch {
		return fpmath.Amount{}
	}

	var compounded fpmath.Amount
	switch sp.CurrentScale - snap.Scale {
	case 0:
		compounded = fpmath.MulDiv(initial, sp.P, snap.P, fpmath.RoundDown)
	case 1:
		compounded = fpmath.Div(fpmath.MulDiv(initial, sp.P, snap.P, fpmath.RoundDown), fpmath.ScaleFactor)
	default:
		return fpmath.Amount{}
	}

	if floor := fpmath.Div(initial, fpmath.ScaleFactor); compounded.Lt(&floor) {
		return fpmath.Amount{}
	}
	return compounded
}

// gainFromSums applies the shared S/G formula: the sum accrued since the
// snapshot at its own scale plus the next scale's sum scaled down by 1e9.
func gainFromSums(sums map[EpochScale]fpmath.Amount, initial fpmath.Amount, snapSum fpmath.Amount, snap DepositSnapshot) fpmath.Amount {
	if initial.IsZero() {
		return fpmath.Amount{}
	}
	first := fpmath.Sub(sums[EpochScale{Epoch: snap.Epoch, Scale: snap.Scale}], snapSum)
	second := fpmath.Div(sums[EpochScale{Epoch: snap.Epoch, Scale: snap.Scale + 1}], fpmath.ScaleFactor)
	total := fpmath.Add(first, second)
	if total.IsZero() {
		return fpmath.Amount{}
	}
	return fpmath.Div(fpmath.MulDiv(initial, total, snap.P, fpmath.RoundDown), fpmath.DecimalPrecision)
}

// CollateralGain returns the collateral earned by a deposit since snap.
func (sp *StabilityPoolState) CollateralGain(initial fpmath.Amount, snap DepositSnapshot) fpmath.Amount {
	return gainFromSums(sp.S, initial, snap.S, snap)
}

// RewardGain returns the reward tokens earned by a deposit since snap.
func (sp *StabilityPoolState) RewardGain(initial fpmath.Amount, snap DepositSnapshot) fpmath.Amount {
	return gainFromSums(sp.G, initial, snap.G, snap)
}

// SettledDeposit is the outcome of settleDeposit.
type SettledDeposit struct {
	Compounded     fpmath.Amount
	CollateralGain fpmath.Amount
	RewardGain     fpmath.Amount
}

func settleDeposit(sp *StabilityPoolState, d *Deposit) SettledDeposit {
	if d == nil {
		return SettledDeposit{}
	}
	return SettledDeposit{
		Compounded:     sp.CompoundedValue(d.InitialValue, d.Snapshot),
		CollateralGain: sp.CollateralGain(d.InitialValue, d.Snapshot),
		RewardGain:     sp.RewardGain(d.InitialValue, d.Snapshot),
	}
}

// StabilityPool holds every asset's accumulator and the deposits.
type StabilityPool struct {
	pools    map[string]*StabilityPoolState
	deposits map[VesselKey]*Deposit
}

func NewStabilityPool() *StabilityPool {
	return &StabilityPool{
		pools:    make(map[string]*StabilityPoolState),
		deposits: make(map[VesselKey]*Deposit),
	}
}

// State returns the accumulator of an asset, creating it on first use.
func (s *StabilityPool) State(asset string) *StabilityPoolState {
	sp, ok := s.pools[asset]
	if !ok {
		sp = NewStabilityPoolState()
		s.pools[asset] = sp
	}
	return sp
}

func (s *StabilityPool) TotalDeposits(asset string) fpmath.Amount {
	return s.State(asset).TotalDeposits
}

func (s *StabilityPool) GetDeposit(asset string, depositor uuid.UUID) *Deposit {
	return s.deposits[VesselKey{Asset: asset, Borrower: depositor}]
}

// Offset is the accumulator entry point used by liquidations.
func (s *StabilityPool) Offset(asset string, debtToOffset, collToAdd fpmath.Amount) {
	s.State(asset).Offset(debtToOffset, collToAdd)
}

func (s *StabilityPool) IssueRewards(asset string, amount fpmath.Amount) bool {
	return s.State(asset).IssueRewards(amount)
}

func (s *StabilityPool) GetCompoundedDeposit(asset string, depositor uuid.UUID) fpmath.Amount {
	return settleDeposit(s.State(asset), s.GetDeposit(asset, depositor)).Compounded
}

func (s *StabilityPool) GetDepositorCollateralGain(asset string, depositor uuid.UUID) fpmath.Amount {
	return settleDeposit(s.State(asset), s.GetDeposit(asset, depositor)).CollateralGain
}

func (s *StabilityPool) GetDepositorRewardGain(asset string, depositor uuid.UUID) fpmath.Amount {
	return settleDeposit(s.State(asset), s.GetDeposit(asset, depositor)).RewardGain
}

// Settle reads a deposit's compounded value and gains without mutating it.
func (s *StabilityPool) Settle(asset string, depositor uuid.UUID) SettledDeposit {
	return settleDeposit(s.State(asset), s.GetDeposit(asset, depositor))
}

// ResetDeposit records newValue as the deposit's initial value at the
// current snapshot and moves TotalDeposits from compounded to newValue.
// The caller has already paid out the gains reported by Settle.
func (s *StabilityPool) ResetDeposit(asset string, depositor uuid.UUID, compounded, newValue fpmath.Amount) *Deposit {
	sp := s.State(asset)
	sp.TotalDeposits = fpmath.Add(fpmath.SubOrZero(sp.TotalDeposits, compounded), newValue)

	key := VesselKey{Asset: asset, Borrower: depositor}
	d, ok := s.deposits[key]
	if !ok {
		d = &Deposit{Asset: asset, Depositor: depositor}
		s.deposits[key] = d
	}
	d.InitialValue = newValue
	d.Version++
	if newValue.IsZero() {
		d.Snapshot = DepositSnapshot{}
	} else {
		d.Snapshot = sp.Snapshot()
	}
	return d
}

// GetAllStates returns a deep copy of every asset accumulator.
func (s *StabilityPool) GetAllStates() map[string]StabilityPoolState {
	out := make(map[string]StabilityPoolState, len(s.pools))
	for asset, sp := range s.pools {
		cp := *sp
		cp.S = make(map[EpochScale]fpmath.Amount, len(sp.S))
		for k, v := range sp.S {
			cp.S[k] = v
		}
		cp.G = make(map[EpochScale]fpmath.Amount, len(sp.G))
		for k, v := range sp.G {
			cp.G[k] = v
		}
		out[asset] = cp
	}
	return out
}

// GetAllDeposits returns every deposit in deterministic order.
func (s *StabilityPool) GetAllDeposits() []*Deposit {
	out := make([]*Deposit, 0, len(s.deposits))
	for _, d := range s.deposits {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Depositor.String() < out[j].Depositor.String()
	})
	return out
}

func (s *StabilityPool) RestoreState(asset string, sp StabilityPoolState) {
	restored := sp
	if restored.S == nil {
		restored.S = make(map[EpochScale]fpmath.Amount)
	}
	if restored.G == nil {
		restored.G = make(map[EpochScale]fpmath.Amount)
	}
	s.pools[asset] = &restored
}

func (s *StabilityPool) RestoreDeposit(d *Deposit) {
	s.deposits[VesselKey{Asset: d.Asset, Borrower: d.Depositor}] = d
}

// SortedEpochScales returns the keys of a sum map in order.
func SortedEpochScales(m map[EpochScale]fpmath.Amount) []EpochScale {
	keys := make([]EpochScale, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Epoch != keys[j].Epoch {
			return keys[i].Epoch < keys[j].Epoch
		}
		return keys[i].Scale < keys[j].Scale
	})
	return keys
}
