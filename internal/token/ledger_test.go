package token_test

import (
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/token"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestMintTransferBurn(t *testing.T) {
	l := token.NewLedger()
	alice := token.User(uuid.New())
	bob := token.User(uuid.New())

	l.Mint("VUSD", alice, fpmath.Units(100))
	if err := l.Transfer("VUSD", alice, bob, fpmath.Units(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := l.Burn("VUSD", bob, fpmath.Units(10)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	if got := l.BalanceOf("VUSD", alice); !got.Eq(ptr(fpmath.Units(70))) {
		t.Errorf("alice: got %s, want 70", fpmath.Format(got))
	}
	if got := l.BalanceOf("VUSD", bob); !got.Eq(ptr(fpmath.Units(20))) {
		t.Errorf("bob: got %s, want 20", fpmath.Format(got))
	}
	if got := l.TotalSupply("VUSD"); !got.Eq(ptr(fpmath.Units(90))) {
		t.Errorf("supply: got %s, want 90", fpmath.Format(got))
	}
}

func TestInsufficientBalance(t *testing.T) {
	l := token.NewLedger()
	alice := token.User(uuid.New())
	l.Mint("WETH", alice, fpmath.Units(1))

	err := l.Transfer("WETH", alice, token.AccountProtocol, fpmath.Units(2))
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := l.Burn("WETH", token.AccountGasPool, fpmath.NewAmount(1)); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance on burn, got %v", err)
	}
	if got := l.BalanceOf("WETH", alice); !got.Eq(ptr(fpmath.Units(1))) {
		t.Errorf("failed transfer moved funds: %s", fpmath.Format(got))
	}
}

func TestBalancesAreSortedAndRestorable(t *testing.T) {
	l := token.NewLedger()
	l.Mint("WETH", token.AccountProtocol, fpmath.Units(5))
	l.Mint("VUSD", token.AccountGasPool, fpmath.Units(200))
	l.Mint("VUSD", token.AccountFeeCollector, fpmath.Units(3))

	balances := l.Balances()
	if len(balances) != 3 {
		t.Fatalf("expected 3 balances, got %d", len(balances))
	}
	if balances[0].Token != "VUSD" || balances[0].Account != token.AccountFeeCollector {
		t.Errorf("unexpected first balance: %+v", balances[0])
	}

	restored := token.NewLedger()
	for _, b := range balances {
		restored.Restore(b)
	}
	if got := restored.TotalSupply("VUSD"); !got.Eq(ptr(fpmath.Units(203))) {
		t.Errorf("restored supply: got %s, want 203", fpmath.Format(got))
	}
}

func ptr(a fpmath.Amount) *fpmath.Amount { return &a }
