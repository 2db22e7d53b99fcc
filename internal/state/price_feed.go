package state

import (
	fpmath "VesselLedger/internal/math"
	"errors"
	"fmt"
)

var ErrNoPrice = errors.New("no price for asset")

// PriceState tracks the latest oracle price per asset
type PriceState struct {
	Price         fpmath.Amount // debt-token units per 1 collateral, 1e18-scaled
	PriceSequence int64
	Timestamp     int64
}

// PriceFeed is the in-core view of the oracle. Prices arrive as events so
// every replay sees the same value.
type PriceFeed struct {
	prices map[string]*PriceState
}

func NewPriceFeed() *PriceFeed {
	return &PriceFeed{prices: make(map[string]*PriceState)}
}

// UpdatePrice stores a newer price. Stale sequences are ignored.
func (pf *PriceFeed) UpdatePrice(asset string, price fpmath.Amount, sequence, timestamp int64) error {
	if price.IsZero() {
		return fmt.Errorf("zero price for %s", asset)
	}
	current, ok := pf.prices[asset]
	if ok && sequence <= current.PriceSequence {
		return nil
	}
	pf.prices[asset] = &PriceState{Price: price, PriceSequence: sequence, Timestamp: timestamp}
	return nil
}

// GetPrice returns the latest price of asset.
func (pf *PriceFeed) GetPrice(asset string) (fpmath.Amount, error) {
	ps, ok := pf.prices[asset]
	if !ok {
		return fpmath.Amount{}, fmt.Errorf("%w: %s", ErrNoPrice, asset)
	}
	return ps.Price, nil
}

func (pf *PriceFeed) GetAllPrices() map[string]PriceState {
	out := make(map[string]PriceState, len(pf.prices))
	for asset, ps := range pf.prices {
		out[asset] = *ps
	}
	return out
}

func (pf *PriceFeed) RestorePrice(asset string, ps PriceState) {
	restored := ps
	pf.prices[asset] = &restored
}
