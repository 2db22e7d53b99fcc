package core

import (
	"VesselLedger/internal/event"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/observability"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
	"errors"
	"fmt"
	"time"
)

// Config carries the core's static settings.
type Config struct {
	DebtToken           string
	RewardToken         string
	IdempotencyCapacity int

	// Encode renders a command as its envelope payload. Nil leaves payloads
	// empty, which is enough for tests that never replay from the log.
	Encode func(event.Event) ([]byte, error)
}

// DefaultConfig returns the production token names and LRU size.
func DefaultConfig() Config {
	return Config{
		DebtToken:           "GRAI",
		RewardToken:         "GRVT",
		IdempotencyCapacity: 1_000_000,
	}
}

// DeterministicCore is the single-threaded command processor. All protocol
// state lives here and is mutated only by ProcessEvent.
type DeterministicCore struct {
	cfg      Config
	sequence int64
	hasher   *StateHasher

	tokens        *token.Ledger
	pools         *state.Pools
	sorted        *state.SortedVessels
	vessels       *state.VesselManager
	stabilityPool *state.StabilityPool
	prices        *state.PriceFeed
	params        *state.CollateralParamsManager

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// Per-command scratch, reset by ProcessEvent.
	touched *touchSet
	effects *Effects

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one command.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Event      event.Event
	Effects    *Effects
	StateDelta []byte
}

func NewDeterministicCore(
	cfg Config,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = DefaultConfig().IdempotencyCapacity
	}
	pools := state.NewPools()
	sorted := state.NewSortedVessels()

	return &DeterministicCore{
		cfg:               cfg,
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		tokens:            token.NewLedger(),
		pools:             pools,
		sorted:            sorted,
		vessels:           state.NewVesselManager(pools, sorted),
		stabilityPool:     state.NewStabilityPool(),
		prices:            state.NewPriceFeed(),
		params:            state.NewCollateralParamsManager(),
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent runs one command through the pipeline: dedup, sequence
// check, dispatch, invariant check, hash, emit.
//
// A command refused by a business rule leaves state untouched, still gets
// an envelope (Rejected=true) and returns an error wrapping
// ErrCommandRejected. Ordering failures return an error without an
// envelope; the command may be redelivered.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	if priceEvt, ok := evt.(*event.PriceUpdate); ok {
		if !isDuplicate {
			stale, skipped := c.sequenceValidator.ValidatePriceSequence(priceEvt.Asset, priceEvt.PriceSequence)
			if stale {
				c.recordRejected(eventType, "stale")
				return nil
			}
			if skipped > 0 && c.metrics != nil {
				c.metrics.OracleSequenceGap.WithLabelValues(priceEvt.Asset).Add(float64(skipped))
			}
		}
	} else {
		partition := c.getPartition(evt)
		if err := c.sequenceValidator.ValidateSequence(partition, evt.SourceSequence(), isDuplicate); err != nil {
			c.recordSequenceFailure(partition, err)
			c.recordRejected(eventType, "sequence")
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		c.recordRejected(eventType, "duplicate")
		return nil
	}

	c.touched = newTouchSet()
	c.effects = &Effects{}

	dispatchErr := c.dispatchEvent(evt)
	if errors.Is(dispatchErr, errUnknownEventType) {
		return dispatchErr
	}

	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated at seq %d: %v", c.sequence, err))
	}

	c.collectEffects()
	hashStart := time.Now()
	stateDigest := c.computeStateDigest()
	prevHash := c.hasher.Tip()
	stateHash := c.hasher.Next(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		AssetID:        evt.AssetID(),
		Timestamp:      evt.EventTime(),
		SourceSequence: evt.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	if dispatchErr != nil {
		envelope.Rejected = true
		envelope.RejectReason = dispatchErr.Error()
	}
	if c.cfg.Encode != nil {
		payload, err := c.cfg.Encode(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode %s payload: %v", eventType, err))
		}
		envelope.Payload = payload
	}

	output := CoreOutput{
		Envelope:   envelope,
		Event:      evt,
		Effects:    c.effects,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Persistence is a blocking send: the core stalls rather than lose a
	// command. Projections can rebuild, so they drop when full.
	select {
	case c.persistChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistChan <- output
	}
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if asset := evt.AssetID(); asset != nil {
			c.recordAssetGauges(*asset)
		}
	}

	if dispatchErr != nil {
		c.recordRejected(eventType, "business")
		return fmt.Errorf("%w: %w", ErrCommandRejected, dispatchErr)
	}
	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		for _, rec := range c.effects.Liquidations {
			c.metrics.VesselsLiquidated.WithLabelValues(rec.Asset, string(rec.Mode)).Inc()
		}
		if rec := c.effects.Redemption; rec != nil {
			c.metrics.Redemptions.WithLabelValues(rec.Asset).Inc()
		}
	}
	return nil
}

// getPartition determines partition key for sequence validation
func (c *DeterministicCore) getPartition(evt event.Event) string {
	if asset := evt.AssetID(); asset != nil {
		return AssetPartition(*asset)
	}
	return GlobalPartition
}

func (c *DeterministicCore) dispatchEvent(evt event.Event) error {
	switch e := evt.(type) {
	case *event.DepositConfirmed:
		return c.handleDepositConfirmed(e)
	case *event.WithdrawalRequested:
		return c.handleWithdrawalRequested(e)
	case *event.TokenTransfer:
		return c.handleTokenTransfer(e)
	case *event.PriceUpdate:
		return c.handlePriceUpdate(e)
	case *event.CollateralParamUpdate:
		return c.handleCollateralParamUpdate(e)
	case *event.OpenVessel:
		return c.handleOpenVessel(e)
	case *event.AdjustVessel:
		return c.handleAdjustVessel(e)
	case *event.CloseVessel:
		return c.handleCloseVessel(e)
	case *event.ClaimCollateral:
		return c.handleClaimCollateral(e)
	case *event.Liquidate:
		return c.handleLiquidate(e)
	case *event.LiquidateVessels:
		return c.handleLiquidateVessels(e)
	case *event.RedeemCollateral:
		return c.handleRedeemCollateral(e)
	case *event.ProvideToSP:
		return c.handleProvideToSP(e)
	case *event.WithdrawFromSP:
		return c.handleWithdrawFromSP(e)
	case *event.RewardIssuance:
		return c.handleRewardIssuance(e)
	default:
		return fmt.Errorf("%w: %T", errUnknownEventType, evt)
	}
}

// postCheckInvariants verifies the conservation rules that tie the token
// ledger to the pools:
//
//   - for every touched asset, the protocol's collateral balance equals
//     active + default + Stability Pool + surplus collateral;
//   - the debt token supply equals the entire system debt of all assets;
//   - the Stability Pool account holds exactly the sum of total deposits.
func (c *DeterministicCore) postCheckInvariants() error {
	for _, asset := range c.touched.sortedAssets() {
		ap := c.pools.Asset(asset)
		expected := fpmath.Add(fpmath.Add(ap.ActiveColl, ap.DefaultColl), fpmath.Add(ap.StabilityPoolColl, ap.CollSurplus))
		held := c.tokens.BalanceOf(asset, token.AccountProtocol)
		if !held.Eq(&expected) {
			return fmt.Errorf("collateral backing of %s: protocol holds %s, pools account for %s",
				asset, fpmath.Format(held), fpmath.Format(expected))
		}
	}

	var systemDebt, deposits fpmath.Amount
	for asset := range c.pools.GetAllAssets() {
		systemDebt = fpmath.Add(systemDebt, c.pools.EntireSystemDebt(asset))
	}
	for _, sp := range c.stabilityPool.GetAllStates() {
		deposits = fpmath.Add(deposits, sp.TotalDeposits)
	}
	supply := c.tokens.TotalSupply(c.cfg.DebtToken)
	if !supply.Eq(&systemDebt) {
		return fmt.Errorf("debt token supply %s != system debt %s", fpmath.Format(supply), fpmath.Format(systemDebt))
	}
	spHeld := c.tokens.BalanceOf(c.cfg.DebtToken, token.AccountStabilityPool)
	if !spHeld.Eq(&deposits) {
		return fmt.Errorf("stability pool holds %s, deposits total %s", fpmath.Format(spHeld), fpmath.Format(deposits))
	}
	return nil
}

func (c *DeterministicCore) recordRejected(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordSequenceFailure(partition string, err error) {
	if c.metrics == nil {
		return
	}
	if errors.Is(err, ErrSequenceGap) {
		c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	} else {
		c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
	}
}

func (c *DeterministicCore) recordAssetGauges(asset string) {
	c.metrics.ActiveVessels.WithLabelValues(asset).Set(float64(c.sorted.Size(asset)))
	c.metrics.StabilityPoolDeposits.WithLabelValues(asset).Set(fpmath.ToDecimal(c.stabilityPool.TotalDeposits(asset)).InexactFloat64())

	price, err := c.prices.GetPrice(asset)
	params, ok := c.params.Get(asset)
	if err != nil || !ok {
		return
	}
	tcr := c.getTCR(asset, price)
	if !tcr.Eq(&fpmath.MaxAmount) {
		c.metrics.TotalCollateralRatio.WithLabelValues(asset).Set(fpmath.ToDecimal(tcr).InexactFloat64())
	}
	recovery := 0.0
	if tcr.Lt(&params.CCR) {
		recovery = 1
	}
	c.metrics.RecoveryMode.WithLabelValues(asset).Set(recovery)
}

// --- Token movements ---
//
// Handlers validate balances before mutating anything, so a failure here is
// a broken invariant rather than a user error.

func (c *DeterministicCore) mint(tok string, to token.Account, amount fpmath.Amount) {
	c.tokens.Mint(tok, to, amount)
	c.touched.balance(tok, to)
}

func (c *DeterministicCore) burn(tok string, from token.Account, amount fpmath.Amount) {
	if err := c.tokens.Burn(tok, from, amount); err != nil {
		panic(fmt.Sprintf("FATAL: burn after validation: %v", err))
	}
	c.touched.balance(tok, from)
}

func (c *DeterministicCore) transfer(tok string, from, to token.Account, amount fpmath.Amount) {
	if err := c.tokens.Transfer(tok, from, to, amount); err != nil {
		panic(fmt.Sprintf("FATAL: transfer after validation: %v", err))
	}
	c.touched.balance(tok, from)
	c.touched.balance(tok, to)
}

// --- Wallet and oracle commands ---

func (c *DeterministicCore) handleDepositConfirmed(evt *event.DepositConfirmed) error {
	if evt.Amount.IsZero() {
		return ErrZeroAmount
	}
	if evt.Token == c.cfg.DebtToken {
		return ErrDebtTokenBridging
	}
	if err := c.requireKnownToken(evt.Token); err != nil {
		return err
	}
	c.mint(evt.Token, token.User(evt.UserID), evt.Amount)
	return nil
}

func (c *DeterministicCore) handleWithdrawalRequested(evt *event.WithdrawalRequested) error {
	if evt.Amount.IsZero() {
		return ErrZeroAmount
	}
	if err := c.requireKnownToken(evt.Token); err != nil {
		return err
	}
	if evt.Token == c.cfg.DebtToken {
		// Debt tokens leaving the ledger would break the supply invariant.
		return ErrDebtTokenBridging
	}
	from := token.User(evt.UserID)
	if err := c.tokens.RequireBalance(evt.Token, from, evt.Amount); err != nil {
		return err
	}
	c.burn(evt.Token, from, evt.Amount)
	return nil
}

func (c *DeterministicCore) handleTokenTransfer(evt *event.TokenTransfer) error {
	if evt.Amount.IsZero() {
		return ErrZeroAmount
	}
	if err := c.requireKnownToken(evt.Token); err != nil {
		return err
	}
	from, to := token.User(evt.From), token.User(evt.To)
	if err := c.tokens.RequireBalance(evt.Token, from, evt.Amount); err != nil {
		return err
	}
	c.transfer(evt.Token, from, to, evt.Amount)
	return nil
}

func (c *DeterministicCore) requireKnownToken(tok string) error {
	if tok == c.cfg.DebtToken || tok == c.cfg.RewardToken {
		return nil
	}
	if _, ok := c.params.Get(tok); ok {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownToken, tok)
}

func (c *DeterministicCore) handlePriceUpdate(evt *event.PriceUpdate) error {
	if err := c.prices.UpdatePrice(evt.Asset, evt.Price, evt.PriceSequence, evt.Timestamp.UnixMicro()); err != nil {
		return err
	}
	c.touched.asset(evt.Asset)
	return nil
}

func (c *DeterministicCore) handleCollateralParamUpdate(evt *event.CollateralParamUpdate) error {
	params := &state.CollateralParams{
		Asset:                    evt.Asset,
		Active:                   evt.Active,
		MCR:                      evt.MCR,
		CCR:                      evt.CCR,
		DebtTokenGasCompensation: evt.DebtTokenGasCompensation,
		MinNetDebt:               evt.MinNetDebt,
		MintCap:                  evt.MintCap,
		PercentDivisor:           evt.PercentDivisor,
		BorrowingFeeBps:          evt.BorrowingFeeBps,
		RedemptionFeeBps:         evt.RedemptionFeeBps,
		EffectiveSeq:             evt.EffectiveSeq,
	}
	if current, ok := c.params.Get(evt.Asset); ok && evt.EffectiveSeq <= current.EffectiveSeq {
		return fmt.Errorf("stale collateral params for %s: effective seq %d <= %d",
			evt.Asset, evt.EffectiveSeq, current.EffectiveSeq)
	}
	if err := c.params.Update(params); err != nil {
		return err
	}
	c.touched.asset(evt.Asset)
	return nil
}

// --- Accessors ---

// GetSequence returns the next sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// ExpectedSourceSequence returns the next source sequence a partition accepts.
func (c *DeterministicCore) ExpectedSourceSequence(partition string) int64 {
	return c.sequenceValidator.Expected(partition)
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.Tip()
}

// DebtToken returns the name of the debt token.
func (c *DeterministicCore) DebtToken() string {
	return c.cfg.DebtToken
}

// RewardToken returns the name of the reward token.
func (c *DeterministicCore) RewardToken() string {
	return c.cfg.RewardToken
}
