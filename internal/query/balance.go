package query

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/token"
	"context"
)

// BalanceResponse is one account's balance of one token.
type BalanceResponse struct {
	Token        string `json:"token"`
	Account      string `json:"account"`
	Balance      string `json:"balance"`
	TotalSupply  string `json:"total_supply"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetBalance reads a token balance from the core. Unknown tokens and
// accounts read as zero.
func (qs *QueryService) GetBalance(ctx context.Context, tok string, account token.Account) (resp *BalanceResponse, err error) {
	defer qs.track("get_balance")(&err)

	err = qs.core.Read(ctx, func(c *core.DeterministicCore) {
		resp = &BalanceResponse{
			Token:        tok,
			Account:      account.String(),
			Balance:      amount(c.BalanceOf(tok, account)),
			TotalSupply:  amount(c.TotalSupply(tok)),
			AsOfSequence: lastSequence(c),
		}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
