package query

import (
	"context"
	"database/sql"
	"fmt"
)

// historyQuery appends the asset filter, cursor and limit shared by the
// history endpoints.
func historyQuery(base, asset string, before int64, limit int) (string, []interface{}) {
	query := base + " WHERE asset = $1"
	args := []interface{}{asset}
	if before > 0 {
		args = append(args, before)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", len(args))
	return query, args
}

func (qs *QueryService) historyPreamble(limit int) error {
	if qs.db == nil {
		return ErrHistoryUnavailable
	}
	if limit <= 0 || limit > maxPageSize {
		return ErrInvalidPageSize
	}
	return nil
}

// GetLiquidationHistory pages liquidations of one asset, newest first.
// before is an exclusive sequence cursor; zero starts at the newest row.
func (qs *QueryService) GetLiquidationHistory(ctx context.Context, asset string, limit int, before int64) (page *HistoryPage[LiquidationResponse], err error) {
	defer qs.track("liquidation_history")(&err)
	if err = qs.historyPreamble(limit); err != nil {
		return nil, err
	}

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}

	query, args := historyQuery(`
		SELECT sequence, asset, borrower::TEXT, liquidator::TEXT, mode,
		       collateral::TEXT, debt::TEXT, icr::TEXT, price::TEXT,
		       coll_gas_compensation::TEXT, debt_gas_compensation::TEXT,
		       debt_to_offset::TEXT, coll_to_stability_pool::TEXT,
		       debt_to_redistribute::TEXT, coll_to_redistribute::TEXT,
		       coll_surplus::TEXT, timestamp
		FROM projections.liquidation_history`, asset, before, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page = &HistoryPage[LiquidationResponse]{Items: []LiquidationResponse{}, AsOfSequence: asOf}
	for rows.Next() {
		var r LiquidationResponse
		var ts sql.NullTime
		if err = rows.Scan(
			&r.Sequence, &r.Asset, &r.Borrower, &r.Liquidator, &r.Mode,
			&r.Collateral, &r.Debt, &r.ICR, &r.Price,
			&r.CollGasCompensation, &r.DebtGasCompensation,
			&r.DebtToOffset, &r.CollToStabilityPool,
			&r.DebtToRedistribute, &r.CollToRedistribute,
			&r.CollSurplus, &ts,
		); err != nil {
			return nil, err
		}
		r.Timestamp = ts.Time.UnixMicro()
		page.Items = append(page.Items, r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	page.NextBefore = nextCursor(len(page.Items), limit, func() int64 { return page.Items[len(page.Items)-1].Sequence })
	return page, nil
}

// GetRedemptionHistory pages redemptions of one asset, newest first.
func (qs *QueryService) GetRedemptionHistory(ctx context.Context, asset string, limit int, before int64) (page *HistoryPage[RedemptionResponse], err error) {
	defer qs.track("redemption_history")(&err)
	if err = qs.historyPreamble(limit); err != nil {
		return nil, err
	}

	asOf, err := qs.watermark(ctx)
	if err != nil {
		return nil, err
	}

	query, args := historyQuery(`
		SELECT sequence, asset, redeemer::TEXT, price::TEXT, requested::TEXT,
		       debt_redeemed::TEXT, coll_redeemed::TEXT, coll_fee::TEXT,
		       vessels_closed, lots, timestamp
		FROM projections.redemption_history`, asset, before, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page = &HistoryPage[RedemptionResponse]{Items: []RedemptionResponse{}, AsOfSequence: asOf}
	for rows.Next() {
		var r RedemptionResponse
		var ts sql.NullTime
		var lots []byte
		if err = rows.Scan(
			&r.Sequence, &r.Asset, &r.Redeemer, &r.Price, &r.Requested,
			&r.DebtRedeemed, &r.CollRedeemed, &r.CollFee,
			&r.VesselsClosed, &lots, &ts,
		); err != nil {
			return nil, err
		}
		r.Lots = lots
		r.Timestamp = ts.Time.UnixMicro()
		page.Items = append(page.Items, r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	page.NextBefore = nextCursor(len(page.Items), limit, func() int64 { return page.Items[len(page.Items)-1].Sequence })
	return page, nil
}

// nextCursor returns the cursor for the following page, or zero when this
// page was short.
func nextCursor(n, limit int, last func() int64) int64 {
	if n < limit || n == 0 {
		return 0
	}
	return last()
}
