package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/platform/errors"
	"github.com/brokerops/be-commissions/internal/repository"
)

// memDB backs the in-memory stores so deduction batches can see commissions
// and debts created through the other stores.
type memDB struct {
	mu          sync.Mutex
	commissions map[string]*repository.Commission
	debts       map[string]*repository.Debt
	deductions  []*repository.Deduction
	audit       []*repository.AuditEntry
	seq         int
	failCreate  error
}

func newMemDB() *memDB {
	return &memDB{
		commissions: make(map[string]*repository.Commission),
		debts:       make(map[string]*repository.Debt),
	}
}

func (m *memDB) tick() time.Time {
	m.seq++
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Minute)
}

type memCommissions struct{ *memDB }

func (m memCommissions) Create(_ context.Context, c *repository.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate != nil {
		return m.failCreate
	}
	c.ID = uuid.NewString()
	c.CreatedAt = m.tick()
	for _, s := range c.Shares {
		s.ID = uuid.NewString()
		s.CommissionID = c.ID
	}
	m.commissions[c.ID] = c
	m.audit = append(m.audit, &repository.AuditEntry{CommissionID: c.ID, Action: repository.AuditCreated})
	return nil
}

func (m memCommissions) GetByID(_ context.Context, id string) (*repository.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commissions[id]
	if !ok {
		return nil, errors.NotFound("commission", id)
	}
	return c, nil
}

func (m memCommissions) List(_ context.Context, f repository.CommissionFilter) ([]*repository.Commission, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*repository.Commission, 0)
	for _, c := range m.commissions {
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if f.Offset >= len(out) {
		return []*repository.Commission{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (m memCommissions) Transition(_ context.Context, id string, next engine.CommissionStatus, actor *string) (*repository.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commissions[id]
	if !ok {
		return nil, errors.NotFound("commission", id)
	}
	if err := engine.CheckTransition(c.Status, next); err != nil {
		return nil, err
	}
	at := m.tick()
	switch next {
	case engine.CommissionApproved:
		c.ApprovedBy, c.ApprovedAt = actor, &at
	case engine.CommissionPaid:
		c.PaidBy, c.PaidAt = actor, &at
	}
	c.Status = next
	m.audit = append(m.audit, &repository.AuditEntry{CommissionID: id, Action: string(next), PerformedBy: actor})
	return c, nil
}

func (m memCommissions) ListByCommission(_ context.Context, id string) ([]*repository.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*repository.AuditEntry, 0)
	for _, e := range m.audit {
		if e.CommissionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

type memDebts struct{ *memDB }

func (m memDebts) Create(_ context.Context, d *repository.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = uuid.NewString()
	d.CreatedAt = m.tick()
	m.debts[d.ID] = d
	return nil
}

func (m memDebts) GetByID(_ context.Context, id string) (*repository.Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[id]
	if !ok {
		return nil, errors.NotFound("debt", id)
	}
	return d, nil
}

func (m memDebts) ListPendingAutoDeduct(_ context.Context, employeeIDs []string) ([]*repository.Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(employeeIDs))
	for _, id := range employeeIDs {
		wanted[id] = true
	}
	out := make([]*repository.Debt, 0)
	for _, d := range m.debts {
		if wanted[d.DebtorID] && d.Status == engine.DebtPending && d.AutoDeduct {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m memDebts) ApplyPayment(_ context.Context, id string, apply func(*repository.Debt) (engine.DebtUpdate, error)) (*repository.Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[id]
	if !ok {
		return nil, errors.NotFound("debt", id)
	}
	update, err := apply(d)
	if err != nil {
		return nil, err
	}
	storeUpdate(d, update)
	return d, nil
}

func storeUpdate(d *repository.Debt, u engine.DebtUpdate) {
	d.Amount = u.Amount
	d.Status = u.Status
	d.Notes = engine.AppendNote(d.Notes, u.Note)
	if u.Settled {
		at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
		d.PaidAt = &at
	}
}

type memDeductions struct{ *memDB }

// ApplyBatch mirrors the repository: all or nothing under one lock.
func (m memDeductions) ApplyBatch(_ context.Context, commissionID string, debtIDs []string, decidedBy *string, decide repository.DecideFunc) (*repository.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commissions[commissionID]
	if !ok {
		return nil, errors.NotFound("commission", commissionID)
	}
	locked := make(map[string]*repository.Debt, len(debtIDs))
	for _, id := range debtIDs {
		d, ok := m.debts[id]
		if !ok {
			return nil, errors.NotFound("debt", id)
		}
		cp := *d
		locked[id] = &cp
	}

	decisions, err := decide(c, locked)
	if err != nil {
		return nil, err
	}

	net := make(map[string]*repository.CommissionShare, len(c.Shares))
	pending := make(map[string]repository.CommissionShare, len(c.Shares))
	for _, s := range c.Shares {
		net[s.EmployeeID] = s
		pending[s.EmployeeID] = *s
	}
	res := &repository.BatchResult{Commission: c}
	for _, dec := range decisions {
		if dec.Action == engine.ActionDeduct {
			debt := locked[dec.DebtID]
			update, err := engine.ApplyDeduction(debt.Status, debt.Amount, dec.Amount, c.ID, time.Now())
			if err != nil {
				return nil, err
			}
			storeUpdate(debt, update)
			s := pending[dec.EmployeeID]
			s.NetAmount = s.NetAmount.Sub(dec.Amount)
			pending[dec.EmployeeID] = s
			res.Debts = append(res.Debts, debt)
		}
		rec := &repository.Deduction{
			ID:           uuid.NewString(),
			CommissionID: c.ID,
			DebtID:       dec.DebtID,
			EmployeeID:   dec.EmployeeID,
			Action:       dec.Action,
			Amount:       dec.Amount,
			DecidedBy:    decidedBy,
		}
		res.Deductions = append(res.Deductions, rec)
	}

	for id, s := range pending {
		net[id].NetAmount = s.NetAmount
	}
	for _, d := range res.Debts {
		m.debts[d.ID] = d
	}
	m.deductions = append(m.deductions, res.Deductions...)
	m.audit = append(m.audit, &repository.AuditEntry{CommissionID: c.ID, Action: repository.AuditDeductionsApplied, PerformedBy: decidedBy})
	return res, nil
}

func (m memDeductions) ListByCommission(_ context.Context, commissionID string) ([]*repository.Deduction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*repository.Deduction, 0)
	for _, d := range m.deductions {
		if d.CommissionID == commissionID {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeStaff struct {
	employees map[string]string
	inactive  map[string]bool
	err       error
}

func (f *fakeStaff) ValidateEmployee(_ context.Context, id string) (bool, string, error) {
	if f.err != nil {
		return false, "", f.err
	}
	name, ok := f.employees[id]
	if !ok || f.inactive[id] {
		return false, name, nil
	}
	return true, name, nil
}

type recordedEvent struct {
	resource, event, id string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) PublishCommissionEvent(_ context.Context, eventType, commissionID, _ string, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{"commission", eventType, commissionID})
}

func (f *fakeEvents) PublishDebtEvent(_ context.Context, eventType, debtID, _ string, _ map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{"debt", eventType, debtID})
}

func (f *fakeEvents) count(resource, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.resource == resource && e.event == event {
			n++
		}
	}
	return n
}

type fakeIdempotency struct {
	mu       sync.Mutex
	keys     map[string]idempotencyEntry
	beginErr error
}

// idempotencyEntry is pending while commissionID is empty.
type idempotencyEntry struct {
	fingerprint  string
	commissionID string
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{keys: make(map[string]idempotencyEntry)}
}

func (f *fakeIdempotency) Begin(_ context.Context, key, fingerprint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return "", f.beginErr
	}
	e, ok := f.keys[key]
	if !ok {
		f.keys[key] = idempotencyEntry{fingerprint: fingerprint}
		return "", nil
	}
	if e.fingerprint != fingerprint {
		return "", errors.Conflict("idempotency key was already used for a different request")
	}
	if e.commissionID == "" {
		return "", errors.Conflict("a request with this idempotency key is still in progress")
	}
	return e.commissionID, nil
}

func (f *fakeIdempotency) Complete(_ context.Context, key, fingerprint, commissionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = idempotencyEntry{fingerprint: fingerprint, commissionID: commissionID}
	return nil
}

func (f *fakeIdempotency) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}
