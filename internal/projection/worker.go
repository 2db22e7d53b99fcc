package projection

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/observability"
	"VesselLedger/internal/state"
	"VesselLedger/internal/token"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Execer is the subset of *sql.DB and *sql.Tx the row writers need.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ProjectionWorker keeps the projections schema in step with the core.
// The projection channel is lossy; vessel, deposit and balance rows hold
// absolute values guarded by last_sequence, so a dropped output is healed
// by the next touch of the same record or by Reconcile.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Envelope == nil {
				continue
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Eventually consistent: the next touch or a reconcile repairs it.
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("core").Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	env := output.Envelope
	seq := env.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if eff := output.Effects; eff != nil && !env.Rejected {
		for i := range eff.Vessels {
			if err := UpsertVessel(ctx, tx, seq, &eff.Vessels[i]); err != nil {
				return fmt.Errorf("vessel projection: %w", err)
			}
		}
		for i := range eff.Deposits {
			if err := UpsertDeposit(ctx, tx, seq, &eff.Deposits[i]); err != nil {
				return fmt.Errorf("deposit projection: %w", err)
			}
		}
		for _, b := range eff.Balances {
			if err := UpsertBalance(ctx, tx, seq, b); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
		for i := range eff.Liquidations {
			if err := InsertLiquidation(ctx, tx, seq, env.Timestamp, &eff.Liquidations[i]); err != nil {
				return fmt.Errorf("liquidation history: %w", err)
			}
		}
		if eff.Redemption != nil {
			if err := InsertRedemption(ctx, tx, seq, env.Timestamp, eff.Redemption); err != nil {
				return fmt.Errorf("redemption history: %w", err)
			}
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

// Reconcile overwrites the current-state tables from a full core snapshot.
// History tables are left alone.
func (pw *ProjectionWorker) Reconcile(ctx context.Context, snap *core.SnapshotState) error {
	start := time.Now()
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := snap.Sequence
	for _, v := range snap.Vessels {
		if err := UpsertVessel(ctx, tx, seq, v); err != nil {
			return fmt.Errorf("reconcile vessel: %w", err)
		}
	}
	for _, d := range snap.Deposits {
		if err := UpsertDeposit(ctx, tx, seq, d); err != nil {
			return fmt.Errorf("reconcile deposit: %w", err)
		}
	}
	for _, b := range snap.Balances {
		if err := UpsertBalance(ctx, tx, seq, b); err != nil {
			return fmt.Errorf("reconcile balance: %w", err)
		}
	}
	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("reconcile").Observe(time.Since(start).Seconds())
	}
	pw.logger.Info().
		Int64("sequence", seq).
		Int("vessels", len(snap.Vessels)).
		Int("deposits", len(snap.Deposits)).
		Int("balances", len(snap.Balances)).
		Msg("projections reconciled")
	return nil
}

// UpsertVessel writes the full vessel row unless a newer one is stored.
func UpsertVessel(ctx context.Context, db Execer, seq int64, v *state.Vessel) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.vessels
			(asset, borrower, collateral, debt, stake, status, l_coll, l_debt, version, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (asset, borrower) DO UPDATE SET
			collateral = EXCLUDED.collateral, debt = EXCLUDED.debt, stake = EXCLUDED.stake,
			status = EXCLUDED.status, l_coll = EXCLUDED.l_coll, l_debt = EXCLUDED.l_debt,
			version = EXCLUDED.version, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		WHERE projections.vessels.last_sequence <= EXCLUDED.last_sequence
	`, v.Asset, v.Borrower, v.Collateral.Dec(), v.Debt.Dec(), v.Stake.Dec(), v.Status.String(),
		v.RewardSnapshot.LColl.Dec(), v.RewardSnapshot.LDebt.Dec(), v.Version, seq)
	return err
}

func UpsertDeposit(ctx context.Context, db Execer, seq int64, d *state.Deposit) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.deposits
			(asset, depositor, initial_value, snapshot_p, snapshot_s, snapshot_g, epoch, scale, version, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (asset, depositor) DO UPDATE SET
			initial_value = EXCLUDED.initial_value, snapshot_p = EXCLUDED.snapshot_p,
			snapshot_s = EXCLUDED.snapshot_s, snapshot_g = EXCLUDED.snapshot_g,
			epoch = EXCLUDED.epoch, scale = EXCLUDED.scale,
			version = EXCLUDED.version, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		WHERE projections.deposits.last_sequence <= EXCLUDED.last_sequence
	`, d.Asset, d.Depositor, d.InitialValue.Dec(), d.Snapshot.P.Dec(), d.Snapshot.S.Dec(), d.Snapshot.G.Dec(),
		int64(d.Snapshot.Epoch), int64(d.Snapshot.Scale), d.Version, seq)
	return err
}

func UpsertBalance(ctx context.Context, db Execer, seq int64, b token.Balance) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (token, account, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (token, account) DO UPDATE SET
			balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		WHERE projections.balances.last_sequence <= EXCLUDED.last_sequence
	`, b.Token, b.Account.String(), b.Amount.Dec(), seq)
	return err
}

func InsertLiquidation(ctx context.Context, db Execer, seq int64, ts time.Time, r *core.LiquidationRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, asset, borrower, liquidator, mode, collateral, debt, icr, price,
			 coll_gas_compensation, debt_gas_compensation, debt_to_offset, coll_to_stability_pool,
			 debt_to_redistribute, coll_to_redistribute, coll_surplus, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT DO NOTHING
	`, seq, r.Asset, r.Borrower, r.Liquidator, string(r.Mode), r.Collateral.Dec(), r.Debt.Dec(), r.ICR.Dec(), r.Price.Dec(),
		r.CollGasCompensation.Dec(), r.DebtGasCompensation.Dec(), r.DebtToOffset.Dec(), r.CollToStabilityPool.Dec(),
		r.DebtToRedistribute.Dec(), r.CollToRedistribute.Dec(), r.CollSurplus.Dec(), ts)
	return err
}

// RedemptionLotRow is the JSON form of one lot in redemption_history.lots.
type RedemptionLotRow struct {
	Borrower string `json:"borrower"`
	Debt     string `json:"debt"`
	Coll     string `json:"coll"`
	Closed   bool   `json:"closed"`
}

func InsertRedemption(ctx context.Context, db Execer, seq int64, ts time.Time, r *core.RedemptionRecord) error {
	lots := make([]RedemptionLotRow, 0, len(r.Lots))
	for _, l := range r.Lots {
		lots = append(lots, RedemptionLotRow{Borrower: l.Borrower.String(), Debt: l.Debt.Dec(), Coll: l.Coll.Dec(), Closed: l.Closed})
	}
	lotsJSON, err := json.Marshal(lots)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.redemption_history
			(sequence, asset, redeemer, price, requested, debt_redeemed, coll_redeemed, coll_fee, vessels_closed, lots, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
	`, seq, r.Asset, r.Redeemer, r.Price.Dec(), r.Requested.Dec(), r.DebtRedeemed.Dec(), r.CollRedeemed.Dec(),
		r.CollFee.Dec(), r.VesselsClosed, lotsJSON, ts)
	return err
}

func setWatermark(ctx context.Context, db Execer, seq int64) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $1), updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}
