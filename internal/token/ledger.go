package token

import (
	fpmath "VesselLedger/internal/math"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Account identifies a token holder: a user wallet or a protocol account.
type Account string

const (
	// AccountProtocol holds every unit of collateral backing the pools.
	AccountProtocol Account = "system:protocol"
	// AccountStabilityPool holds the debt tokens deposited in the pools.
	AccountStabilityPool Account = "system:stability_pool"
	// AccountGasPool reserves the debt-token gas compensation of open Vessels.
	AccountGasPool Account = "system:gas_pool"
	// AccountFeeCollector receives borrowing and redemption fees.
	AccountFeeCollector Account = "system:fee_collector"
	// AccountCommunityIssuance holds reward tokens not yet paid to depositors.
	AccountCommunityIssuance Account = "system:community_issuance"
)

// User returns the wallet account of a user.
func User(id uuid.UUID) Account {
	return Account("user:" + id.String())
}

func (a Account) String() string { return string(a) }

// Balance is one (token, account) balance.
type Balance struct {
	Token   string
	Account Account
	Amount  fpmath.Amount
}

// Ledger is the in-memory token collaborator. It only moves balances; all
// protocol rules live in the core.
type Ledger struct {
	balances map[string]map[Account]fpmath.Amount
	supply   map[string]fpmath.Amount
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]map[Account]fpmath.Amount),
		supply:   make(map[string]fpmath.Amount),
	}
}

func (l *Ledger) accounts(token string) map[Account]fpmath.Amount {
	m, ok := l.balances[token]
	if !ok {
		m = make(map[Account]fpmath.Amount)
		l.balances[token] = m
	}
	return m
}

// BalanceOf returns the balance of account in token.
func (l *Ledger) BalanceOf(token string, account Account) fpmath.Amount {
	return l.balances[token][account]
}

// TotalSupply returns the minted minus burned amount of token.
func (l *Ledger) TotalSupply(token string) fpmath.Amount {
	return l.supply[token]
}

// Mint creates amount of token in account. Zero is a no-op.
func (l *Ledger) Mint(token string, to Account, amount fpmath.Amount) {
	if amount.IsZero() {
		return
	}
	accts := l.accounts(token)
	accts[to] = fpmath.Add(accts[to], amount)
	l.supply[token] = fpmath.Add(l.supply[token], amount)
}

// Burn destroys amount of token held by account.
func (l *Ledger) Burn(token string, from Account, amount fpmath.Amount) error {
	if amount.IsZero() {
		return nil
	}
	if err := l.RequireBalance(token, from, amount); err != nil {
		return err
	}
	accts := l.accounts(token)
	if rest := fpmath.Sub(accts[from], amount); rest.IsZero() {
		delete(accts, from)
	} else {
		accts[from] = rest
	}
	l.supply[token] = fpmath.Sub(l.supply[token], amount)
	return nil
}

// Transfer moves amount of token between accounts.
func (l *Ledger) Transfer(token string, from, to Account, amount fpmath.Amount) error {
	if amount.IsZero() || from == to {
		return nil
	}
	if err := l.RequireBalance(token, from, amount); err != nil {
		return err
	}
	accts := l.accounts(token)
	if rest := fpmath.Sub(accts[from], amount); rest.IsZero() {
		delete(accts, from)
	} else {
		accts[from] = rest
	}
	accts[to] = fpmath.Add(accts[to], amount)
	return nil
}

// RequireBalance fails with ErrInsufficientBalance when account holds less
// than amount.
func (l *Ledger) RequireBalance(token string, account Account, amount fpmath.Amount) error {
	have := l.BalanceOf(token, account)
	if have.Lt(&amount) {
		return fmt.Errorf("%w: %s %s has %s, needs %s",
			ErrInsufficientBalance, account, token, fpmath.Format(have), fpmath.Format(amount))
	}
	return nil
}

// Balances returns every non-zero balance ordered by token then account.
func (l *Ledger) Balances() []Balance {
	out := make([]Balance, 0)
	for tok, accts := range l.balances {
		for acct, amt := range accts {
			if amt.IsZero() {
				continue
			}
			out = append(out, Balance{Token: tok, Account: acct, Amount: amt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].Account < out[j].Account
	})
	return out
}

// Restore installs a balance from a snapshot and adds it to the supply.
func (l *Ledger) Restore(b Balance) {
	l.Mint(b.Token, b.Account, b.Amount)
}
