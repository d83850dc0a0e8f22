package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"vestry.org/internal/addr"
	"vestry.org/internal/token"
	"vestry.org/internal/vesting"
)

// End-to-end smoke run against the in-memory engine: fund an owner,
// create a program, allocate an employee, walk the clock across the
// cliff and drain the schedule, then round-trip the state through a
// snapshot. Exits non-zero on the first mismatch.
func main() {
	log.SetFlags(0)

	now := int64(1_000)
	clock := func() time.Time { return time.Unix(now, 0).UTC() }

	tokens := token.NewInMemory()
	svc := vesting.NewInMemory(tokens, vesting.WithClock(clock))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	owner := addr.Derive([]byte("smoke-owner"))
	mint := addr.Derive([]byte("smoke-mint"))
	beneficiary := addr.Derive([]byte("smoke-beneficiary"))

	if err := tokens.Mint(ctx, owner, 1_000_000_000); err != nil {
		log.Fatalf("mint: %v", err)
	}

	program, err := svc.CreateProgram(ctx, owner, mint, "Smoke Industries")
	if err != nil {
		log.Fatalf("create program: %v", err)
	}

	const total = uint64(1_000_000_000)
	if _, err := svc.AllocateEmployee(ctx, owner, "Smoke Industries", beneficiary, total, 1_000, 2_000, 3_000); err != nil {
		log.Fatalf("allocate employee: %v", err)
	}

	// Before the cliff nothing is claimable.
	now = 1_500
	if _, err := svc.Claim(ctx, beneficiary, "Smoke Industries"); err != vesting.ErrNothingToClaim {
		log.Fatalf("pre-cliff claim: expected nothing to claim, got %v", err)
	}

	// Halfway past the cliff: 3/4 of the schedule has elapsed.
	now = 2_500
	claim, err := svc.Claim(ctx, beneficiary, "Smoke Industries")
	if err != nil {
		log.Fatalf("mid-schedule claim: %v", err)
	}
	if claim.Amount != 750_000_000 {
		log.Fatalf("mid-schedule claim amount: got %d, want 750000000", claim.Amount)
	}

	// Snapshot and restore into a fresh engine; claimed progress must
	// survive the round trip.
	snapshot, err := svc.Snapshot(ctx)
	if err != nil {
		log.Fatalf("snapshot: %v", err)
	}
	restoredTokens := token.NewInMemory()
	if err := restoredTokens.Mint(ctx, program.Treasury, total-claim.Amount); err != nil {
		log.Fatalf("refund treasury: %v", err)
	}
	restored := vesting.NewInMemory(restoredTokens, vesting.WithClock(clock))
	if err := restored.Restore(ctx, snapshot); err != nil {
		log.Fatalf("restore: %v", err)
	}

	// Past the end the remainder drains.
	now = 4_000
	claim, err = restored.Claim(ctx, beneficiary, "Smoke Industries")
	if err != nil {
		log.Fatalf("final claim: %v", err)
	}
	if claim.Amount != 250_000_000 {
		log.Fatalf("final claim amount: got %d, want 250000000", claim.Amount)
	}

	balance, err := restoredTokens.Balance(ctx, beneficiary)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	if balance != 250_000_000 {
		log.Fatalf("beneficiary balance: got %d, want 250000000", balance)
	}
	treasury, err := restoredTokens.Balance(ctx, program.Treasury)
	if err != nil {
		log.Fatalf("treasury balance: %v", err)
	}
	if treasury != 0 {
		log.Fatalf("treasury not drained: %d left", treasury)
	}

	fmt.Printf("✅ vesting smoke test passed: program=%s\n", program.Address)
}
