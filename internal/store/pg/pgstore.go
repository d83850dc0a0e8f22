package pg

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vestry.org/internal/addr"
	"vestry.org/internal/ids"
	"vestry.org/internal/token"
	"vestry.org/internal/vesting"
)

// Store backs the vesting engine with Postgres. It covers both the
// vesting service and the token ledger so that an escrow movement and
// the record mutation it belongs to commit in one transaction.
type Store struct {
	db *sql.DB
}

var (
	_ vesting.Service = (*Store)(nil)
	_ token.Ledger    = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Amounts live in bigint columns, so anything above MaxInt64 cannot be
// represented and is rejected up front.
func checkAmount(amount uint64) error {
	if amount > math.MaxInt64 {
		return vesting.ErrArithmeticOverflow
	}
	return nil
}

// --- vesting.Service ---

func (s *Store) CreateProgram(ctx context.Context, owner, mint addr.Address, companyName string) (vesting.Program, error) {
	if err := vesting.ValidateCompanyName(companyName); err != nil {
		return vesting.Program{}, err
	}
	program := vesting.Program{
		Address:     addr.ForProgram(companyName),
		Owner:       owner,
		Mint:        mint,
		Treasury:    addr.ForTreasury(companyName),
		CompanyName: companyName,
		CreatedAt:   time.Now().UTC(),
	}

	res, err := s.db.ExecContext(ctx, `
		insert into programs(address, owner, mint, treasury, company_name, created_at)
		values ($1,$2,$3,$4,$5,$6)
		on conflict (address) do nothing
	`, program.Address.String(), program.Owner.String(), program.Mint.String(),
		program.Treasury.String(), program.CompanyName, program.CreatedAt)
	if err != nil {
		return vesting.Program{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return vesting.Program{}, vesting.ErrAlreadyExists
	}
	return program, nil
}

func (s *Store) GetProgram(ctx context.Context, companyName string) (vesting.Program, error) {
	if err := vesting.ValidateCompanyName(companyName); err != nil {
		return vesting.Program{}, err
	}
	return s.getProgram(ctx, s.db, addr.ForProgram(companyName), false)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getProgram(ctx context.Context, q querier, address addr.Address, lock bool) (vesting.Program, error) {
	query := `
		select owner, mint, treasury, company_name, created_at
		from programs where address=$1`
	if lock {
		query += ` for update`
	}
	var (
		p                     vesting.Program
		owner, mint, treasury string
	)
	p.Address = address
	err := q.QueryRowContext(ctx, query, address.String()).
		Scan(&owner, &mint, &treasury, &p.CompanyName, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return vesting.Program{}, vesting.ErrNotFound
	}
	if err != nil {
		return vesting.Program{}, err
	}
	if p.Owner, err = addr.Parse(owner); err != nil {
		return vesting.Program{}, err
	}
	if p.Mint, err = addr.Parse(mint); err != nil {
		return vesting.Program{}, err
	}
	if p.Treasury, err = addr.Parse(treasury); err != nil {
		return vesting.Program{}, err
	}
	return p, nil
}

func (s *Store) ListPrograms(ctx context.Context) ([]vesting.Program, error) {
	rows, err := s.db.QueryContext(ctx, `
		select address, owner, mint, treasury, company_name, created_at
		from programs order by created_at asc, address asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []vesting.Program
	for rows.Next() {
		var (
			p                              vesting.Program
			address, owner, mint, treasury string
		)
		if err := rows.Scan(&address, &owner, &mint, &treasury, &p.CompanyName, &p.CreatedAt); err != nil {
			return nil, err
		}
		if p.Address, err = addr.Parse(address); err != nil {
			return nil, err
		}
		if p.Owner, err = addr.Parse(owner); err != nil {
			return nil, err
		}
		if p.Mint, err = addr.Parse(mint); err != nil {
			return nil, err
		}
		if p.Treasury, err = addr.Parse(treasury); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s *Store) AllocateEmployee(ctx context.Context, owner addr.Address, companyName string, beneficiary addr.Address, totalAmount uint64, startTime, cliffTime, endTime int64) (vesting.EmployeeRecord, error) {
	if err := vesting.ValidateCompanyName(companyName); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	if totalAmount == 0 {
		return vesting.EmployeeRecord{}, vesting.ErrInvalidAmount
	}
	if err := checkAmount(totalAmount); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	if err := vesting.ValidateSchedule(startTime, cliffTime, endTime); err != nil {
		return vesting.EmployeeRecord{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return vesting.EmployeeRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	program, err := s.getProgram(ctx, tx, addr.ForProgram(companyName), true)
	if err != nil {
		return vesting.EmployeeRecord{}, err
	}
	if program.Owner != owner {
		return vesting.EmployeeRecord{}, vesting.ErrUnauthorized
	}

	rec := vesting.EmployeeRecord{
		Address:        addr.ForEmployee(beneficiary, program.Address),
		Beneficiary:    beneficiary,
		Program:        program.Address,
		TotalAllocated: totalAmount,
		StartTime:      startTime,
		CliffTime:      cliffTime,
		EndTime:        endTime,
		CreatedAt:      time.Now().UTC(),
	}

	var exists int
	err = tx.QueryRowContext(ctx, `select 1 from employees where address=$1`, rec.Address.String()).Scan(&exists)
	if err == nil {
		return vesting.EmployeeRecord{}, vesting.ErrAlreadyExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return vesting.EmployeeRecord{}, err
	}

	// Fund the escrow from the owner before the record lands. Both fail
	// or both commit.
	if err := moveTokens(ctx, tx, owner, program.Treasury, totalAmount); err != nil {
		if errors.Is(err, token.ErrInsufficientFunds) {
			return vesting.EmployeeRecord{}, vesting.ErrInsufficientFunds
		}
		return vesting.EmployeeRecord{}, vesting.ErrEscrowTransfer
	}

	if _, err := tx.ExecContext(ctx, `
		insert into employees(address, beneficiary, program, total_allocated, total_claimed,
		                      start_time, cliff_time, end_time, created_at)
		values ($1,$2,$3,$4,0,$5,$6,$7,$8)
	`, rec.Address.String(), rec.Beneficiary.String(), rec.Program.String(),
		int64(rec.TotalAllocated), rec.StartTime, rec.CliffTime, rec.EndTime, rec.CreatedAt); err != nil {
		return vesting.EmployeeRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	return rec, nil
}

func (s *Store) GetEmployee(ctx context.Context, companyName string, beneficiary addr.Address) (vesting.EmployeeRecord, error) {
	if err := vesting.ValidateCompanyName(companyName); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	address := addr.ForEmployee(beneficiary, addr.ForProgram(companyName))
	return s.getEmployee(ctx, s.db, address, false)
}

func (s *Store) getEmployee(ctx context.Context, q querier, address addr.Address, lock bool) (vesting.EmployeeRecord, error) {
	query := `
		select beneficiary, program, total_allocated, total_claimed,
		       start_time, cliff_time, end_time, created_at
		from employees where address=$1`
	if lock {
		query += ` for update`
	}
	var (
		rec                  vesting.EmployeeRecord
		beneficiary, program string
		allocated, claimed   int64
	)
	rec.Address = address
	err := q.QueryRowContext(ctx, query, address.String()).Scan(
		&beneficiary, &program, &allocated, &claimed,
		&rec.StartTime, &rec.CliffTime, &rec.EndTime, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return vesting.EmployeeRecord{}, vesting.ErrNotFound
	}
	if err != nil {
		return vesting.EmployeeRecord{}, err
	}
	rec.TotalAllocated = uint64(allocated)
	rec.TotalClaimed = uint64(claimed)
	if rec.Beneficiary, err = addr.Parse(beneficiary); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	if rec.Program, err = addr.Parse(program); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	return rec, nil
}

func (s *Store) ListEmployees(ctx context.Context, companyName string) ([]vesting.EmployeeRecord, error) {
	if err := vesting.ValidateCompanyName(companyName); err != nil {
		return nil, err
	}
	program := addr.ForProgram(companyName)

	var exists int
	err := s.db.QueryRowContext(ctx, `select 1 from programs where address=$1`, program.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vesting.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select address, beneficiary, total_allocated, total_claimed,
		       start_time, cliff_time, end_time, created_at
		from employees where program=$1
		order by created_at asc, address asc
	`, program.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []vesting.EmployeeRecord
	for rows.Next() {
		var (
			rec                  vesting.EmployeeRecord
			address, beneficiary string
			allocated, claimed   int64
		)
		if err := rows.Scan(&address, &beneficiary, &allocated, &claimed,
			&rec.StartTime, &rec.CliffTime, &rec.EndTime, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Program = program
		rec.TotalAllocated = uint64(allocated)
		rec.TotalClaimed = uint64(claimed)
		if rec.Address, err = addr.Parse(address); err != nil {
			return nil, err
		}
		if rec.Beneficiary, err = addr.Parse(beneficiary); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (s *Store) Claim(ctx context.Context, beneficiary addr.Address, companyName string) (vesting.Claim, error) {
	if err := vesting.ValidateCompanyName(companyName); err != nil {
		return vesting.Claim{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return vesting.Claim{}, err
	}
	defer func() { _ = tx.Rollback() }()

	program, err := s.getProgram(ctx, tx, addr.ForProgram(companyName), false)
	if err != nil {
		return vesting.Claim{}, err
	}
	rec, err := s.getEmployee(ctx, tx, addr.ForEmployee(beneficiary, program.Address), true)
	if err != nil {
		return vesting.Claim{}, err
	}
	if rec.Beneficiary != beneficiary {
		return vesting.Claim{}, vesting.ErrUnauthorized
	}

	now := time.Now().UTC()
	amount, err := vesting.ClaimableAmount(rec, now.Unix())
	if err != nil {
		return vesting.Claim{}, err
	}
	if amount == 0 {
		return vesting.Claim{}, vesting.ErrNothingToClaim
	}

	if err := moveTokens(ctx, tx, program.Treasury, beneficiary, amount); err != nil {
		return vesting.Claim{}, vesting.ErrEscrowTransfer
	}

	if _, err := tx.ExecContext(ctx, `
		update employees set total_claimed = total_claimed + $2 where address=$1
	`, rec.Address.String(), int64(amount)); err != nil {
		return vesting.Claim{}, err
	}

	claim := vesting.Claim{
		ID:          ids.New(),
		Program:     program.Address,
		Beneficiary: beneficiary,
		Amount:      amount,
		ClaimedAt:   now,
	}
	if err := tx.QueryRowContext(ctx, `
		insert into claims(id, program, beneficiary, amount, claimed_at)
		values ($1,$2,$3,$4,$5) returning sequence
	`, claim.ID, claim.Program.String(), claim.Beneficiary.String(),
		int64(claim.Amount), claim.ClaimedAt).Scan(&claim.Sequence); err != nil {
		return vesting.Claim{}, err
	}

	if err := tx.Commit(); err != nil {
		return vesting.Claim{}, err
	}
	return claim, nil
}

func (s *Store) ListClaims(ctx context.Context, limit int, afterSeq uint64) ([]vesting.Claim, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, program, beneficiary, amount, sequence, claimed_at
		from claims
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []vesting.Claim
	var last uint64
	for rows.Next() {
		var (
			c                    vesting.Claim
			program, beneficiary string
			amount               int64
		)
		if err := rows.Scan(&c.ID, &program, &beneficiary, &amount, &c.Sequence, &c.ClaimedAt); err != nil {
			return nil, 0, err
		}
		c.Amount = uint64(amount)
		if c.Program, err = addr.Parse(program); err != nil {
			return nil, 0, err
		}
		if c.Beneficiary, err = addr.Parse(beneficiary); err != nil {
			return nil, 0, err
		}
		res = append(res, c)
		last = c.Sequence
	}
	return res, last, rows.Err()
}

// --- token.Ledger ---

func (s *Store) Mint(ctx context.Context, to addr.Address, amount uint64) error {
	if amount == 0 {
		return token.ErrInvalidAmount
	}
	if err := checkAmount(amount); err != nil {
		return token.ErrBalanceOverflow
	}
	_, err := s.db.ExecContext(ctx, `
		insert into token_balances(account, amount)
		values ($1,$2)
		on conflict (account) do update
		set amount = token_balances.amount + excluded.amount
	`, to.String(), int64(amount))
	return err
}

func (s *Store) Transfer(ctx context.Context, from, to addr.Address, amount uint64) error {
	if amount == 0 {
		return token.ErrInvalidAmount
	}
	if err := checkAmount(amount); err != nil {
		return token.ErrBalanceOverflow
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := moveTokens(ctx, tx, from, to, amount); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Balance(ctx context.Context, account addr.Address) (uint64, error) {
	var amount int64
	err := s.db.QueryRowContext(ctx, `
		select coalesce(amount,0) from token_balances where account=$1
	`, account.String()).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(amount), nil
}

// moveTokens debits from and credits to within the caller's transaction.
// Rows lock in account order to avoid deadlocks between concurrent
// transfers touching the same pair.
func moveTokens(ctx context.Context, tx *sql.Tx, from, to addr.Address, amount uint64) error {
	fromKey, toKey := from.String(), to.String()

	for _, acc := range sorted(fromKey, toKey) {
		if _, err := tx.ExecContext(ctx, `
			insert into token_balances(account, amount)
			values ($1,0) on conflict do nothing
		`, acc); err != nil {
			return err
		}
	}

	var fromBal int64
	if err := tx.QueryRowContext(ctx, `
		select amount from token_balances where account=$1 for update
	`, fromKey).Scan(&fromBal); err != nil {
		return err
	}
	if uint64(fromBal) < amount {
		return token.ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `
		update token_balances set amount = amount - $2 where account=$1
	`, fromKey, int64(amount)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update token_balances set amount = amount + $2 where account=$1
	`, toKey, int64(amount)); err != nil {
		return err
	}
	return nil
}

func sorted(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
