package vesting

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"vestry.org/internal/addr"
)

// Snapshot magic, bumped when the framing changes. The record layouts
// themselves are frozen (see codec.go).
var snapshotMagic = [4]byte{'V', 'S', 'T', '1'}

// Snapshot serialises all program and employee records. Claim history is
// deliberately not part of the exchange format: the records alone describe
// the entitlement state, which is what interoperates with other ledgers.
func (s *InMemory) Snapshot(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := append([]byte(nil), snapshotMagic[:]...)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.programs)))
	for _, p := range s.programs {
		buf = appendFramed(buf, EncodeProgram(*p), p.CreatedAt)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.employees)))
	for _, rec := range s.employees {
		buf = appendFramed(buf, EncodeEmployee(*rec), rec.CreatedAt)
	}
	return buf, nil
}

// Restore replaces the engine's records with the snapshot contents. Claim
// history and the claim sequence restart from zero; TotalClaimed inside
// each record carries the accounting forward.
func (s *InMemory) Restore(ctx context.Context, snapshot []byte) error {
	r := reader{buf: snapshot}
	magic, err := r.take(len(snapshotMagic))
	if err != nil || string(magic) != string(snapshotMagic[:]) {
		return fmt.Errorf("%w: bad snapshot magic", ErrBadRecord)
	}

	programCount, err := r.u32()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	programs := make(map[addr.Address]*Program, programCount)
	for i := uint32(0); i < programCount; i++ {
		blob, createdAt, err := readFramed(&r)
		if err != nil {
			return err
		}
		p, err := DecodeProgram(blob)
		if err != nil {
			return err
		}
		p.CreatedAt = createdAt
		if _, ok := programs[p.Address]; ok {
			return fmt.Errorf("%w: duplicate program %q", ErrBadRecord, p.CompanyName)
		}
		programs[p.Address] = &p
	}

	employeeCount, err := r.u32()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	employees := make(map[addr.Address]*EmployeeRecord, employeeCount)
	byProgram := make(map[addr.Address][]addr.Address)
	for i := uint32(0); i < employeeCount; i++ {
		blob, createdAt, err := readFramed(&r)
		if err != nil {
			return err
		}
		rec, err := DecodeEmployee(blob)
		if err != nil {
			return err
		}
		rec.CreatedAt = createdAt
		if _, ok := programs[rec.Program]; !ok {
			return fmt.Errorf("%w: employee record references unknown program", ErrBadRecord)
		}
		if err := ValidateSchedule(rec.StartTime, rec.CliffTime, rec.EndTime); err != nil {
			return fmt.Errorf("%w: employee schedule", ErrBadRecord)
		}
		if _, ok := employees[rec.Address]; ok {
			return fmt.Errorf("%w: duplicate employee record", ErrBadRecord)
		}
		employees[rec.Address] = &rec
		byProgram[rec.Program] = append(byProgram[rec.Program], rec.Address)
	}
	if err := r.done(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRecord, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs = programs
	s.employees = employees
	s.byProgram = byProgram
	s.claims = nil
	s.seq = 0
	return nil
}

func appendFramed(buf, blob []byte, createdAt time.Time) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(blob)))
	buf = append(buf, blob...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(createdAt.Unix()))
	return buf
}

func readFramed(r *reader) ([]byte, time.Time, error) {
	n, err := r.u32()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	blob, err := r.take(int(n))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	unix, err := r.u64()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	return blob, time.Unix(int64(unix), 0).UTC(), nil
}
