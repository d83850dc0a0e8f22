package vesting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vestry.org/internal/addr"
	"vestry.org/internal/ids"
	"vestry.org/internal/token"
)

// Service defines the vesting engine operations. Every mutation is
// atomic: it either fully commits or reports exactly one error with no
// partial effect.
type Service interface {
	CreateProgram(ctx context.Context, owner, mint addr.Address, companyName string) (Program, error)
	GetProgram(ctx context.Context, companyName string) (Program, error)
	ListPrograms(ctx context.Context) ([]Program, error)

	AllocateEmployee(ctx context.Context, owner addr.Address, companyName string, beneficiary addr.Address, totalAmount uint64, startTime, cliffTime, endTime int64) (EmployeeRecord, error)
	GetEmployee(ctx context.Context, companyName string, beneficiary addr.Address) (EmployeeRecord, error)
	ListEmployees(ctx context.Context, companyName string) ([]EmployeeRecord, error)

	Claim(ctx context.Context, beneficiary addr.Address, companyName string) (Claim, error)
	ListClaims(ctx context.Context, limit int, afterSeq uint64) ([]Claim, uint64, error)
}

// InMemory implements Service with in-process concurrency safety. The
// escrow ledger is injected; the single service lock makes the transfer
// and the record update one atomic step.
type InMemory struct {
	mu        sync.RWMutex
	programs  map[addr.Address]*Program
	employees map[addr.Address]*EmployeeRecord
	byProgram map[addr.Address][]addr.Address // program -> employee addresses, creation order
	claims    []Claim
	seq       uint64

	tokens token.Ledger
	now    func() time.Time
}

// Option configures InMemory.
type Option func(*InMemory)

// WithClock overrides the time source. The engine never measures time
// itself beyond calling this.
func WithClock(now func() time.Time) Option {
	return func(s *InMemory) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemory creates a fresh vesting engine backed by the given token
// ledger.
func NewInMemory(tokens token.Ledger, opts ...Option) *InMemory {
	s := &InMemory{
		programs:  make(map[addr.Address]*Program),
		employees: make(map[addr.Address]*EmployeeRecord),
		byProgram: make(map[addr.Address][]addr.Address),
		tokens:    tokens,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) CreateProgram(ctx context.Context, owner, mint addr.Address, companyName string) (Program, error) {
	if err := ValidateCompanyName(companyName); err != nil {
		return Program{}, err
	}
	if owner.IsZero() || mint.IsZero() {
		return Program{}, ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	address := addr.ForProgram(companyName)
	if _, ok := s.programs[address]; ok {
		return Program{}, fmt.Errorf("%w: program %q", ErrAlreadyExists, companyName)
	}

	p := &Program{
		Address:     address,
		Owner:       owner,
		Mint:        mint,
		Treasury:    addr.ForTreasury(companyName),
		CompanyName: companyName,
		CreatedAt:   s.now().UTC(),
	}
	s.programs[address] = p
	return *p, nil
}

func (s *InMemory) GetProgram(ctx context.Context, companyName string) (Program, error) {
	if err := ValidateCompanyName(companyName); err != nil {
		return Program{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.programs[addr.ForProgram(companyName)]
	if !ok {
		return Program{}, fmt.Errorf("%w: program %q", ErrNotFound, companyName)
	}
	return *p, nil
}

func (s *InMemory) ListPrograms(ctx context.Context) ([]Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Program, 0, len(s.programs))
	for _, p := range s.programs {
		res = append(res, *p)
	}
	return res, nil
}

func (s *InMemory) AllocateEmployee(ctx context.Context, owner addr.Address, companyName string, beneficiary addr.Address, totalAmount uint64, startTime, cliffTime, endTime int64) (EmployeeRecord, error) {
	if err := ValidateCompanyName(companyName); err != nil {
		return EmployeeRecord{}, err
	}
	if totalAmount == 0 {
		return EmployeeRecord{}, ErrInvalidAmount
	}
	if err := ValidateSchedule(startTime, cliffTime, endTime); err != nil {
		return EmployeeRecord{}, err
	}
	if beneficiary.IsZero() {
		return EmployeeRecord{}, fmt.Errorf("%w: zero beneficiary", ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	program, ok := s.programs[addr.ForProgram(companyName)]
	if !ok {
		return EmployeeRecord{}, fmt.Errorf("%w: program %q", ErrNotFound, companyName)
	}
	if owner != program.Owner {
		return EmployeeRecord{}, fmt.Errorf("%w: caller is not the program owner", ErrUnauthorized)
	}

	address := addr.ForEmployee(beneficiary, program.Address)
	if _, ok := s.employees[address]; ok {
		return EmployeeRecord{}, fmt.Errorf("%w: employee schedule", ErrAlreadyExists)
	}

	// The allocation is only backed once the owner's funds sit in escrow,
	// so the debit happens before the record becomes visible.
	if err := s.tokens.Transfer(ctx, owner, program.Treasury, totalAmount); err != nil {
		if errors.Is(err, token.ErrInsufficientFunds) {
			return EmployeeRecord{}, fmt.Errorf("%w: funding allocation of %d", ErrInsufficientFunds, totalAmount)
		}
		return EmployeeRecord{}, fmt.Errorf("%w: %v", ErrEscrowTransfer, err)
	}

	rec := &EmployeeRecord{
		Address:        address,
		Beneficiary:    beneficiary,
		Program:        program.Address,
		TotalAllocated: totalAmount,
		TotalClaimed:   0,
		StartTime:      startTime,
		CliffTime:      cliffTime,
		EndTime:        endTime,
		CreatedAt:      s.now().UTC(),
	}
	s.employees[address] = rec
	s.byProgram[program.Address] = append(s.byProgram[program.Address], address)
	return *rec, nil
}

func (s *InMemory) GetEmployee(ctx context.Context, companyName string, beneficiary addr.Address) (EmployeeRecord, error) {
	if err := ValidateCompanyName(companyName); err != nil {
		return EmployeeRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.employees[addr.ForEmployee(beneficiary, addr.ForProgram(companyName))]
	if !ok {
		return EmployeeRecord{}, fmt.Errorf("%w: employee schedule", ErrNotFound)
	}
	return *rec, nil
}

func (s *InMemory) ListEmployees(ctx context.Context, companyName string) ([]EmployeeRecord, error) {
	if err := ValidateCompanyName(companyName); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	program := addr.ForProgram(companyName)
	if _, ok := s.programs[program]; !ok {
		return nil, fmt.Errorf("%w: program %q", ErrNotFound, companyName)
	}
	addrs := s.byProgram[program]
	res := make([]EmployeeRecord, 0, len(addrs))
	for _, a := range addrs {
		res = append(res, *s.employees[a])
	}
	return res, nil
}

func (s *InMemory) Claim(ctx context.Context, beneficiary addr.Address, companyName string) (Claim, error) {
	if err := ValidateCompanyName(companyName); err != nil {
		return Claim{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	program, ok := s.programs[addr.ForProgram(companyName)]
	if !ok {
		return Claim{}, fmt.Errorf("%w: program %q", ErrNotFound, companyName)
	}
	rec, ok := s.employees[addr.ForEmployee(beneficiary, program.Address)]
	if !ok {
		return Claim{}, fmt.Errorf("%w: employee schedule", ErrNotFound)
	}
	// Derivation already binds the record to the beneficiary; the check
	// stays because the record is the authority, not the lookup key.
	if rec.Beneficiary != beneficiary {
		return Claim{}, fmt.Errorf("%w: caller is not the beneficiary", ErrUnauthorized)
	}

	nowAt := s.now().UTC()
	claimable, err := ClaimableAmount(*rec, nowAt.Unix())
	if err != nil {
		return Claim{}, err
	}
	if claimable == 0 {
		return Claim{}, ErrNothingToClaim
	}

	if err := s.tokens.Transfer(ctx, program.Treasury, beneficiary, claimable); err != nil {
		return Claim{}, fmt.Errorf("%w: %v", ErrEscrowTransfer, err)
	}

	rec.TotalClaimed += claimable
	s.seq++
	claim := Claim{
		ID:          ids.New(),
		Program:     program.Address,
		Beneficiary: beneficiary,
		Amount:      claimable,
		Sequence:    s.seq,
		ClaimedAt:   nowAt,
	}
	s.claims = append(s.claims, claim)
	return claim, nil
}

func (s *InMemory) ListClaims(ctx context.Context, limit int, afterSeq uint64) ([]Claim, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Claim
	var last uint64
	for _, c := range s.claims {
		if c.Sequence <= afterSeq {
			continue
		}
		res = append(res, c)
		last = c.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
