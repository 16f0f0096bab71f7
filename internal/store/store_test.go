package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	wrapped := fmt.Errorf("settle milestone: %w", ErrEscrowGuardFailed)

	if !errors.Is(wrapped, ErrEscrowGuardFailed) {
		t.Error("expected wrapped error to match ErrEscrowGuardFailed")
	}
	// An escrow guard miss is still a guard failure.
	if !errors.Is(wrapped, ErrGuardFailed) {
		t.Error("expected ErrEscrowGuardFailed to wrap ErrGuardFailed")
	}
	if errors.Is(ErrGuardFailed, ErrEscrowGuardFailed) {
		t.Error("plain guard failure must not match the escrow guard")
	}
	if errors.Is(ErrStateConflict, ErrGuardFailed) {
		t.Error("state conflicts are not guard failures")
	}
}

func TestBalanceFieldNames(t *testing.T) {
	if PendingBalance == AvailableBalance {
		t.Fatal("balance fields must be distinct")
	}
	if string(PendingBalance) != "pending_balance" || string(AvailableBalance) != "available_balance" {
		t.Errorf("unexpected column names: %s, %s", PendingBalance, AvailableBalance)
	}
}
