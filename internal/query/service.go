package query

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/observability"
	"VesselLedger/internal/state"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrHistoryUnavailable = errors.New("history store not configured")
	ErrInvalidPageSize    = errors.New("limit must be between 1 and 500")
)

const maxPageSize = 500

// CoreReader runs read closures on the core's goroutine. core.Runner
// implements it.
type CoreReader interface {
	Read(ctx context.Context, fn func(*core.DeterministicCore)) error
}

// QueryService serves reads. Live state (vessels, deposits, accumulators,
// balances) comes from the core between two commands; history comes from
// the projections schema. Every response carries as_of_sequence.
type QueryService struct {
	core    CoreReader
	db      *sql.DB
	metrics *observability.Metrics
}

// NewQueryService builds the service. db may be nil, in which case the
// history endpoints return ErrHistoryUnavailable.
func NewQueryService(reader CoreReader, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{core: reader, db: db, metrics: metrics}
}

// track times one request; call the returned func with the named error
// result when the request finishes.
func (qs *QueryService) track(endpoint string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		qs.observe(endpoint, start, *errp)
	}
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func lastSequence(c *core.DeterministicCore) int64 {
	return c.GetSequence() - 1
}

// GetVessel returns one Vessel, open or closed.
func (qs *QueryService) GetVessel(ctx context.Context, asset string, borrower uuid.UUID) (resp *VesselResponse, err error) {
	defer qs.track("get_vessel")(&err)

	var found bool
	if err = qs.core.Read(ctx, func(c *core.DeterministicCore) {
		view, ok := c.GetVesselView(asset, borrower)
		if !ok {
			return
		}
		found = true
		r := newVesselResponse(view, c.Surplus(asset, borrower), lastSequence(c))
		resp = &r
	}); err != nil {
		return nil, err
	}
	if !found {
		err = fmt.Errorf("%w: vessel %s/%s", ErrNotFound, asset, borrower)
		return nil, err
	}
	return resp, nil
}

// ListVessels lists active Vessels from the riskiest (lowest nominal ratio)
// upwards.
func (qs *QueryService) ListVessels(ctx context.Context, asset string, limit int) (resp *VesselListResponse, err error) {
	defer qs.track("list_vessels")(&err)

	if limit <= 0 || limit > maxPageSize {
		err = ErrInvalidPageSize
		return nil, err
	}
	var viewErr error
	if err = qs.core.Read(ctx, func(c *core.DeterministicCore) {
		if _, viewErr = c.GetAssetView(asset); viewErr != nil {
			return
		}
		seq := lastSequence(c)
		views := c.ListVessels(asset, limit)
		out := make([]VesselResponse, 0, len(views))
		for _, v := range views {
			out = append(out, newVesselResponse(v, c.Surplus(asset, v.Borrower), seq))
		}
		resp = &VesselListResponse{Asset: asset, Vessels: out, AsOfSequence: seq}
	}); err != nil {
		return nil, err
	}
	if viewErr != nil {
		err = fmt.Errorf("%w: %w", ErrNotFound, viewErr)
		return nil, err
	}
	return resp, nil
}

// GetDeposit returns a Stability Pool deposit with its pending gains.
func (qs *QueryService) GetDeposit(ctx context.Context, asset string, depositor uuid.UUID) (resp *DepositResponse, err error) {
	defer qs.track("get_deposit")(&err)

	if err = qs.core.Read(ctx, func(c *core.DeterministicCore) {
		d, ok := c.GetDepositView(asset, depositor)
		if !ok {
			return
		}
		resp = &DepositResponse{
			Asset:          d.Asset,
			Depositor:      d.Depositor.String(),
			InitialValue:   amount(d.InitialValue),
			Compounded:     amount(d.Compounded),
			CollateralGain: amount(d.CollateralGain),
			RewardGain:     amount(d.RewardGain),
			Version:        d.Version,
			AsOfSequence:   lastSequence(c),
		}
	}); err != nil {
		return nil, err
	}
	if resp == nil {
		err = fmt.Errorf("%w: deposit %s/%s", ErrNotFound, asset, depositor)
		return nil, err
	}
	return resp, nil
}

// GetAccumulators returns the pool totals and the L, P, S, G accumulators
// of one asset.
func (qs *QueryService) GetAccumulators(ctx context.Context, asset string) (resp *AccumulatorsResponse, err error) {
	defer qs.track("get_accumulators")(&err)

	var viewErr error
	if err = qs.core.Read(ctx, func(c *core.DeterministicCore) {
		view, verr := c.GetAssetView(asset)
		if verr != nil {
			viewErr = verr
			return
		}
		resp = newAccumulatorsResponse(view, lastSequence(c))
	}); err != nil {
		return nil, err
	}
	if viewErr != nil {
		if errors.Is(viewErr, state.ErrUnknownCollateral) {
			err = fmt.Errorf("%w: %w", ErrNotFound, viewErr)
			return nil, err
		}
		err = viewErr
		return nil, err
	}
	return resp, nil
}

// ListAssets returns every configured collateral asset.
func (qs *QueryService) ListAssets(ctx context.Context) (assets []string, err error) {
	defer qs.track("list_assets")(&err)
	err = qs.core.Read(ctx, func(c *core.DeterministicCore) {
		assets = c.Assets()
	})
	return assets, err
}

func newAccumulatorsResponse(v core.AssetView, seq int64) *AccumulatorsResponse {
	r := &AccumulatorsResponse{
		Asset:                   v.Asset,
		Active:                  v.Params.Active,
		RecoveryMode:            v.RecoveryMode,
		ActiveColl:              amount(v.Pools.ActiveColl),
		ActiveDebt:              amount(v.Pools.ActiveDebt),
		DefaultColl:             amount(v.Pools.DefaultColl),
		DefaultDebt:             amount(v.Pools.DefaultDebt),
		StabilityPoolColl:       amount(v.Pools.StabilityPoolColl),
		CollSurplus:             amount(v.Pools.CollSurplus),
		LColl:                   amount(v.Redistribution.LColl),
		LDebt:                   amount(v.Redistribution.LDebt),
		TotalStakes:             amount(v.Redistribution.TotalStakes),
		TotalStakesSnapshot:     amount(v.Redistribution.TotalStakesSnapshot),
		TotalCollateralSnapshot: amount(v.Redistribution.TotalCollateralSnapshot),
		StabilityPoolDeposits:   amount(v.StabilityPoolDeposits),
		P:                       amount(v.P),
		Epoch:                   v.Epoch,
		Scale:                   v.Scale,
		ActiveVessels:           v.ActiveVessels,
		AsOfSequence:            seq,
	}
	if v.HasPrice {
		r.Price = amount(v.Price)
		r.TCR = ratio(v.TCR)
	}
	return r
}

// VerifyIntegrity checks the persisted hash chain and compares projected
// token balances against the core's supply.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer qs.track("verify_integrity")(&err)
	if qs.db == nil {
		err = ErrHistoryUnavailable
		return nil, err
	}

	report = &IntegrityReport{}
	supply := make(map[string]string)
	if err = qs.core.Read(ctx, func(c *core.DeterministicCore) {
		report.CoreSequence = lastSequence(c)
		for _, tok := range append(c.Assets(), c.DebtToken(), c.RewardToken()) {
			supply[tok] = amount(c.TotalSupply(tok))
		}
	}); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var seq int64
		if err = rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	var persisted sql.NullInt64
	if err = qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&persisted); err != nil {
		return nil, err
	}
	report.PersistedThrough = -1
	if persisted.Valid {
		report.PersistedThrough = persisted.Int64
	}
	if report.ProjectedThrough, err = qs.watermark(ctx); err != nil {
		return nil, err
	}

	// Balances only line up once projections have caught up with the core.
	if report.ProjectedThrough == report.CoreSequence {
		projected, perr := qs.projectedSupply(ctx)
		if perr != nil {
			err = perr
			return nil, err
		}
		for tok, want := range supply {
			if got := projected[tok]; got != want && !(got == "" && want == "0") {
				report.SupplyMismatches = append(report.SupplyMismatches,
					fmt.Sprintf("%s: core %s, projected %s", tok, want, got))
			}
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SupplyMismatches) == 0
	return report, nil
}

func (qs *QueryService) projectedSupply(ctx context.Context) (map[string]string, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT token, SUM(balance)::TEXT FROM projections.balances GROUP BY token
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var tok, sum string
		if err := rows.Scan(&tok, &sum); err != nil {
			return nil, err
		}
		out[tok] = sum
	}
	return out, rows.Err()
}

func (qs *QueryService) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
