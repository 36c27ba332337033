package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/workflow"
	"github.com/irlwork/settlement/pkg/utils"
)

// Mock repositories keep rows in memory and honour the same guards as the
// sqlite implementations. Func fields override a single method.

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

type mockTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*entity.Task

	getByIDFunc      func(ctx context.Context, id string) (*entity.Task, error)
	transitionFunc   func(ctx context.Context, id string, upd port.StatusUpdate) (bool, error)
	updateEscrowFunc func(ctx context.Context, id string, from []workflow.EscrowStatus, to workflow.EscrowStatus, at time.Time) (bool, error)
}

func newMockTaskRepo(tasks ...*entity.Task) *mockTaskRepo {
	m := &mockTaskRepo{tasks: make(map[string]*entity.Task)}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *mockTaskRepo) Create(ctx context.Context, task *entity.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *mockTaskRepo) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *mockTaskRepo) ListByStatus(ctx context.Context, status workflow.Status, limit int) ([]*entity.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Task
	for _, t := range m.tasks {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTaskRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Task
	for _, t := range m.tasks {
		if t.Status == workflow.StatusOpen && t.Deadline != nil && t.Deadline.Before(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTaskRepo) ListReleasedWithoutPending(ctx context.Context, limit int) ([]*entity.Task, error) {
	return nil, nil
}

func (m *mockTaskRepo) TransitionStatus(ctx context.Context, id string, upd port.StatusUpdate) (bool, error) {
	if m.transitionFunc != nil {
		return m.transitionFunc(ctx, id, upd)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != upd.From {
		return false, nil
	}
	t.Status = upd.To
	t.UpdatedAt = upd.At
	if upd.HumanID != nil {
		t.HumanID = *upd.HumanID
	}
	if upd.IncrementRevision {
		t.RevisionCount++
	}
	return true, nil
}

func (m *mockTaskRepo) UpdateEscrowStatus(ctx context.Context, id string, from []workflow.EscrowStatus, to workflow.EscrowStatus, at time.Time) (bool, error) {
	if m.updateEscrowFunc != nil {
		return m.updateEscrowFunc(ctx, id, from, to, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if t.EscrowStatus == f {
			t.EscrowStatus = to
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTaskRepo) clone() map[string]*entity.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*entity.Task, len(m.tasks))
	for id, t := range m.tasks {
		cp := *t
		out[id] = &cp
	}
	return out
}

func (m *mockTaskRepo) get(id string) *entity.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

type mockPendingRepo struct {
	mu   sync.Mutex
	rows []*entity.PendingTransaction

	markAvailableFunc func(ctx context.Context, id string, now time.Time) (bool, error)
	markWithdrawnFunc func(ctx context.Context, id string, now time.Time) (bool, error)
}

func (m *mockPendingRepo) Create(ctx context.Context, pt *entity.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pt
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *mockPendingRepo) find(id string) *entity.PendingTransaction {
	for _, r := range m.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *mockPendingRepo) GetByID(ctx context.Context, id string) (*entity.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(id), nil
}

func (m *mockPendingRepo) GetByTaskID(ctx context.Context, taskID string) (*entity.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TaskID == taskID {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockPendingRepo) ListByUser(ctx context.Context, userID string) ([]*entity.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.PendingTransaction
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockPendingRepo) ListClearable(ctx context.Context, now time.Time, after port.ClearCursor, limit int) ([]*entity.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.PendingTransaction
	for _, r := range m.rows {
		if r.Status != entity.PendingStatusPending || !r.ClearsAt.Before(now) {
			continue
		}
		if r.ClearsAt.Before(after.ClearsAt) || (r.ClearsAt.Equal(after.ClearsAt) && r.ID <= after.ID) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ClearsAt.Equal(out[j].ClearsAt) {
			return out[i].ClearsAt.Before(out[j].ClearsAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockPendingRepo) MarkAvailable(ctx context.Context, id string, now time.Time) (bool, error) {
	if m.markAvailableFunc != nil {
		return m.markAvailableFunc(ctx, id, now)
	}
	return m.markAvailable(id, now), nil
}

func (m *mockPendingRepo) markAvailable(id string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil || r.Status != entity.PendingStatusPending || !r.ClearsAt.Before(now) {
		return false
	}
	r.Status = entity.PendingStatusAvailable
	cleared := now
	r.ClearedAt = &cleared
	return true
}

func (m *mockPendingRepo) ListAvailableByUser(ctx context.Context, userID string) ([]*entity.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.PendingTransaction
	for _, r := range m.rows {
		if r.UserID == userID && r.Status == entity.PendingStatusAvailable {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ClearedAt.Before(*out[j].ClearedAt)
	})
	return out, nil
}

func (m *mockPendingRepo) MarkWithdrawn(ctx context.Context, id string, now time.Time) (bool, error) {
	if m.markWithdrawnFunc != nil {
		return m.markWithdrawnFunc(ctx, id, now)
	}
	return m.markWithdrawn(id, now), nil
}

func (m *mockPendingRepo) markWithdrawn(id string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil || r.Status != entity.PendingStatusAvailable {
		return false
	}
	r.Status = entity.PendingStatusWithdrawn
	at := now
	r.WithdrawnAt = &at
	return true
}

func (m *mockPendingRepo) SumByStatus(ctx context.Context, userID string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := make(map[string]int64)
	for _, r := range m.rows {
		if r.UserID == userID {
			sums[r.Status] += r.AmountCents
		}
	}
	return sums, nil
}

func (m *mockPendingRepo) NextClearsAt(ctx context.Context, userID string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *time.Time
	for _, r := range m.rows {
		if r.UserID == userID && r.Status == entity.PendingStatusPending {
			if next == nil || r.ClearsAt.Before(*next) {
				c := r.ClearsAt
				next = &c
			}
		}
	}
	return next, nil
}

func (m *mockPendingRepo) clone() []*entity.PendingTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.PendingTransaction, 0, len(m.rows))
	for _, r := range m.rows {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

func (m *mockPendingRepo) statusOf(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.find(id); r != nil {
		return r.Status
	}
	return ""
}

// availableRow builds an already-promoted pending transaction
func availableRow(id, userID string, cents int64, clearedAt time.Time) *entity.PendingTransaction {
	c := clearedAt
	return &entity.PendingTransaction{
		ID:          id,
		UserID:      userID,
		TaskID:      "task-" + id,
		AmountCents: cents,
		Status:      entity.PendingStatusAvailable,
		ClearsAt:    clearedAt.Add(-time.Minute),
		ClearedAt:   &c,
		CreatedAt:   clearedAt.Add(-48 * time.Hour),
	}
}

type mockPayoutRepo struct {
	mu      sync.Mutex
	payouts map[string]*entity.Payout
}

func newMockPayoutRepo() *mockPayoutRepo {
	return &mockPayoutRepo{payouts: make(map[string]*entity.Payout)}
}

func (m *mockPayoutRepo) clone() map[string]*entity.Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*entity.Payout, len(m.payouts))
	for id, p := range m.payouts {
		cp := *p
		out[id] = &cp
	}
	return out
}

func (m *mockPayoutRepo) Create(ctx context.Context, p *entity.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payouts[p.TaskID] = &cp
	return nil
}

func (m *mockPayoutRepo) GetByTaskID(ctx context.Context, taskID string) (*entity.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payouts[taskID], nil
}

func (m *mockPayoutRepo) UpdateStatus(ctx context.Context, taskID string, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[taskID]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (m *mockPayoutRepo) AttachTxHash(ctx context.Context, taskID string, txHash string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payouts[taskID]; ok {
		p.TxHash = txHash
		p.Status = status
	}
	return nil
}

func (m *mockPayoutRepo) ListMissingPendingTransaction(ctx context.Context, limit int) ([]*entity.Payout, error) {
	return nil, nil
}

type mockLedgerRepo struct {
	mu           sync.Mutex
	transactions []*entity.LedgerTransaction
	withdrawals  []*entity.Withdrawal

	createTransactionFunc func(ctx context.Context, tx *entity.LedgerTransaction) error
}

func (m *mockLedgerRepo) CreateTransaction(ctx context.Context, tx *entity.LedgerTransaction) error {
	if m.createTransactionFunc != nil {
		return m.createTransactionFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *mockLedgerRepo) CreateWithdrawal(ctx context.Context, w *entity.Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals = append(m.withdrawals, w)
	return nil
}

func (m *mockLedgerRepo) ListWithdrawalsByUser(ctx context.Context, userID string) ([]*entity.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Withdrawal
	for _, w := range m.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

type mockDisputeRepo struct {
	mu       sync.Mutex
	disputes []*entity.Dispute
}

func (m *mockDisputeRepo) clone() []*entity.Dispute {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entity.Dispute, 0, len(m.disputes))
	for _, d := range m.disputes {
		cp := *d
		out = append(out, &cp)
	}
	return out
}

func (m *mockDisputeRepo) Create(ctx context.Context, d *entity.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes = append(m.disputes, d)
	return nil
}

func (m *mockDisputeRepo) GetOpenByTaskID(ctx context.Context, taskID string) (*entity.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.disputes {
		if d.TaskID == taskID && d.Status == entity.DisputeStatusOpen {
			return d, nil
		}
	}
	return nil, nil
}

func (m *mockDisputeRepo) ListByTaskID(ctx context.Context, taskID string) ([]*entity.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Dispute
	for _, d := range m.disputes {
		if d.TaskID == taskID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockDisputeRepo) Resolve(ctx context.Context, id string, outcome string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.disputes {
		if d.ID == id && d.Status == entity.DisputeStatusOpen {
			d.Status = entity.DisputeStatusResolved
			d.Outcome = outcome
			return true, nil
		}
	}
	return false, nil
}

type mockStatsRepo struct {
	mu    sync.Mutex
	stats map[string]*entity.UserStats
}

func newMockStatsRepo(users ...*entity.UserStats) *mockStatsRepo {
	m := &mockStatsRepo{stats: make(map[string]*entity.UserStats)}
	for _, u := range users {
		m.stats[u.UserID] = u
	}
	return m
}

func (m *mockStatsRepo) Get(ctx context.Context, userID string) (*entity.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockStatsRepo) Upsert(ctx context.Context, s *entity.UserStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.stats[s.UserID] = &cp
	return nil
}

func (m *mockStatsRepo) Increment(ctx context.Context, userID string, counter string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[userID]
	if !ok {
		s = &entity.UserStats{UserID: userID}
		m.stats[userID] = s
	}
	switch counter {
	case entity.CounterTasksCompleted:
		s.TotalTasksCompleted += int(delta)
	case entity.CounterDisputesLost:
		s.TotalDisputesLost += int(delta)
	case entity.CounterRejections:
		s.TotalRejections += int(delta)
	case entity.CounterTasksPosted:
		s.TotalTasksPosted += int(delta)
	case entity.CounterTasksCancelled:
		s.TotalTasksCancelled += int(delta)
	case entity.CounterPaidCents:
		s.TotalPaidCents += delta
	case entity.CounterEarnedCents:
		s.TotalEarnedCents += delta
	default:
		return errors.New("unknown counter")
	}
	return nil
}

func (m *mockStatsRepo) clone() map[string]*entity.UserStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*entity.UserStats, len(m.stats))
	for id, u := range m.stats {
		cp := *u
		out[id] = &cp
	}
	return out
}

func (m *mockStatsRepo) get(userID string) entity.UserStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[userID]; ok {
		return *s
	}
	return entity.UserStats{UserID: userID}
}

type mockHoldRepo struct {
	mu    sync.Mutex
	holds map[string]*entity.EscrowHold
}

func newMockHoldRepo(holds ...*entity.EscrowHold) *mockHoldRepo {
	m := &mockHoldRepo{holds: make(map[string]*entity.EscrowHold)}
	for _, h := range holds {
		m.holds[h.TaskID] = h
	}
	return m
}

func (m *mockHoldRepo) Create(ctx context.Context, h *entity.EscrowHold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.holds[h.TaskID] = &cp
	return nil
}

func (m *mockHoldRepo) GetByTaskID(ctx context.Context, taskID string) (*entity.EscrowHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[taskID]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (m *mockHoldRepo) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.EscrowHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.EscrowHold
	for _, h := range m.holds {
		if h.Status == entity.HoldStatusActive && !h.ExpiresAt.After(before) {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockHoldRepo) RecordRenewal(ctx context.Context, taskID string, intentID string, expiresAt time.Time, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[taskID]
	if !ok || h.Status != entity.HoldStatusActive {
		return false, nil
	}
	h.PaymentIntentID = intentID
	h.ExpiresAt = expiresAt
	h.AuthorizedAt = at
	h.RenewalAttempts = 0
	h.LastRenewalError = ""
	h.ExpiryNotifiedAt = nil
	return true, nil
}

func (m *mockHoldRepo) RecordRenewalFailure(ctx context.Context, taskID string, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holds[taskID]; ok {
		h.RenewalAttempts++
		h.LastRenewalError = errMsg
	}
	return nil
}

func (m *mockHoldRepo) MarkExpiryNotified(ctx context.Context, taskID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holds[taskID]; ok {
		t := at
		h.ExpiryNotifiedAt = &t
	}
	return nil
}

func (m *mockHoldRepo) UpdateStatus(ctx context.Context, taskID string, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[taskID]
	if !ok || h.Status != from {
		return false, nil
	}
	h.Status = to
	return true, nil
}

func (m *mockHoldRepo) clone() map[string]*entity.EscrowHold {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*entity.EscrowHold, len(m.holds))
	for id, h := range m.holds {
		cp := *h
		out[id] = &cp
	}
	return out
}

func (m *mockHoldRepo) get(taskID string) entity.EscrowHold {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.holds[taskID]
}

type mockTxKey struct{}

// mockTxManager joins nested calls like the sqlite manager does. When
// snapshot is set, a failed outermost unit restores the captured state.
type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
	snapshot            func() (restore func())
	calls               int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	if ctx.Value(mockTxKey{}) != nil {
		return fn(ctx)
	}
	var restore func()
	if m.snapshot != nil {
		restore = m.snapshot()
	}
	err := fn(context.WithValue(ctx, mockTxKey{}, true))
	if err != nil && restore != nil {
		restore()
	}
	return err
}

type mockTransfer struct {
	mu    sync.Mutex
	sends []float64

	sendFunc func(ctx context.Context, address string, amount float64) (*port.TransferResult, error)
}

func (m *mockTransfer) SendTransfer(ctx context.Context, address string, amount float64) (*port.TransferResult, error) {
	m.mu.Lock()
	m.sends = append(m.sends, amount)
	m.mu.Unlock()
	if m.sendFunc != nil {
		return m.sendFunc(ctx, address, amount)
	}
	return &port.TransferResult{Success: true, TxHash: "0xfeed"}, nil
}

func (m *mockTransfer) GetBalance(ctx context.Context, address string) (*port.WalletBalance, error) {
	return &port.WalletBalance{Success: true}, nil
}

func (m *mockTransfer) IsValidAddress(address string) bool {
	return utils.IsValidWalletAddress(address)
}

type mockCard struct {
	authorizeFunc func(ctx context.Context, taskID string, amountCents int64) (*port.CardAuthorization, error)
	captureFunc   func(ctx context.Context, intentID string, amountCents int64) error
	refundFunc    func(ctx context.Context, intentID string) error
	renewFunc     func(ctx context.Context, intentID string, amountCents int64) (*port.CardAuthorization, error)

	refunds  []string
	captures []string
}

func (m *mockCard) Authorize(ctx context.Context, taskID string, amountCents int64) (*port.CardAuthorization, error) {
	if m.authorizeFunc != nil {
		return m.authorizeFunc(ctx, taskID, amountCents)
	}
	return &port.CardAuthorization{PaymentIntentID: "pi_" + taskID}, nil
}

func (m *mockCard) Capture(ctx context.Context, intentID string, amountCents int64) error {
	m.captures = append(m.captures, intentID)
	if m.captureFunc != nil {
		return m.captureFunc(ctx, intentID, amountCents)
	}
	return nil
}

func (m *mockCard) Refund(ctx context.Context, intentID string) error {
	m.refunds = append(m.refunds, intentID)
	if m.refundFunc != nil {
		return m.refundFunc(ctx, intentID)
	}
	return nil
}

func (m *mockCard) Renew(ctx context.Context, intentID string, amountCents int64) (*port.CardAuthorization, error) {
	if m.renewFunc != nil {
		return m.renewFunc(ctx, intentID, amountCents)
	}
	return &port.CardAuthorization{PaymentIntentID: intentID}, nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []entity.Notification
	err  error
}

func (m *mockNotifier) CreateNotification(ctx context.Context, n entity.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

func (m *mockNotifier) ofType(typ string) []entity.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Notification
	for _, n := range m.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type mockLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Warn(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, msg)
}

const (
	testWallet = "0x52908400098527886E0F7030069857D2E4169EE7"
	testAgent  = "agent-1"
	testHuman  = "human-1"
)

func newTask(id string, status workflow.Status, escrow workflow.EscrowStatus) *entity.Task {
	return &entity.Task{
		ID:           id,
		Title:        "Photograph storefront",
		Status:       status,
		EscrowStatus: escrow,
		Budget:       100,
		EscrowAmount: 100,
		AgentID:      testAgent,
		HumanID:      testHuman,
		CreatedAt:    testNow.Add(-72 * time.Hour),
		UpdatedAt:    testNow.Add(-72 * time.Hour),
	}
}

// settlementFixture wires every service over shared in-memory mocks
type settlementFixture struct {
	tasks    *mockTaskRepo
	pending  *mockPendingRepo
	payouts  *mockPayoutRepo
	ledger   *mockLedgerRepo
	disputes *mockDisputeRepo
	stats    *mockStatsRepo
	holds    *mockHoldRepo
	tx       *mockTxManager
	transfer *mockTransfer
	card     *mockCard
	notifier *mockNotifier
	logger   *mockLogger

	payment    *paymentServiceImpl
	withdrawal *withdrawalServiceImpl
	escrow     *escrowServiceImpl
	dispute    *disputeServiceImpl
	task       *taskServiceImpl
}

func newFixture(tasks ...*entity.Task) *settlementFixture {
	f := &settlementFixture{
		tasks:    newMockTaskRepo(tasks...),
		pending:  &mockPendingRepo{},
		payouts:  newMockPayoutRepo(),
		ledger:   &mockLedgerRepo{},
		disputes: &mockDisputeRepo{},
		stats:    newMockStatsRepo(&entity.UserStats{UserID: testHuman, WalletAddress: testWallet}),
		holds:    newMockHoldRepo(),
		tx:       &mockTxManager{},
		transfer: &mockTransfer{},
		card:     &mockCard{},
		notifier: &mockNotifier{},
		logger:   &mockLogger{},
	}

	f.payment = NewPaymentService(f.tasks, f.pending, f.payouts, f.ledger, f.stats, f.tx,
		f.notifier, nil, DefaultPaymentConfig(), f.logger).(*paymentServiceImpl)
	f.withdrawal = NewWithdrawalService(f.pending, f.payouts, f.ledger, f.stats, f.transfer,
		f.notifier, nil, f.logger).(*withdrawalServiceImpl)
	f.escrow = NewEscrowService(f.tasks, f.holds, f.ledger, f.card, f.tx,
		f.notifier, nil, DefaultEscrowConfig(), f.logger).(*escrowServiceImpl)
	f.dispute = NewDisputeService(f.tasks, f.disputes, f.stats, f.payment, f.escrow, f.tx,
		f.notifier, nil, f.logger).(*disputeServiceImpl)
	f.task = NewTaskService(f.tasks, f.stats, f.payment, f.escrow,
		f.notifier, nil, f.logger).(*taskServiceImpl)
	f.tx.snapshot = f.snapshot
	f.setNow(testNow)
	return f
}

// snapshot captures every mock store; restore puts them back as a rollback would
func (f *settlementFixture) snapshot() func() {
	tasks := f.tasks.clone()
	pending := f.pending.clone()
	payouts := f.payouts.clone()
	disputes := f.disputes.clone()
	stats := f.stats.clone()
	holdRepo := f.holds
	holds := holdRepo.clone()

	f.ledger.mu.Lock()
	ledgerTx, ledgerW := len(f.ledger.transactions), len(f.ledger.withdrawals)
	f.ledger.mu.Unlock()

	return func() {
		f.tasks.mu.Lock()
		f.tasks.tasks = tasks
		f.tasks.mu.Unlock()

		f.pending.mu.Lock()
		f.pending.rows = pending
		f.pending.mu.Unlock()

		f.payouts.mu.Lock()
		f.payouts.payouts = payouts
		f.payouts.mu.Unlock()

		f.disputes.mu.Lock()
		f.disputes.disputes = disputes
		f.disputes.mu.Unlock()

		f.stats.mu.Lock()
		f.stats.stats = stats
		f.stats.mu.Unlock()

		holdRepo.mu.Lock()
		holdRepo.holds = holds
		holdRepo.mu.Unlock()

		f.ledger.mu.Lock()
		f.ledger.transactions = f.ledger.transactions[:ledgerTx]
		f.ledger.withdrawals = f.ledger.withdrawals[:ledgerW]
		f.ledger.mu.Unlock()
	}
}

func (f *settlementFixture) setNow(t time.Time) {
	clock := fixedClock(t)
	f.payment.now = clock
	f.withdrawal.now = clock
	f.escrow.now = clock
	f.dispute.now = clock
	f.task.now = clock
}
