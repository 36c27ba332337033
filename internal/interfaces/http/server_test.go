package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irlwork/settlement/internal/application/service"
	"github.com/irlwork/settlement/internal/domain/dispute"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/reputation"
	"github.com/irlwork/settlement/internal/domain/workflow"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type fakeTasks struct {
	service.TaskService
	transitionFunc func(ctx context.Context, taskID string, to workflow.Status) (*entity.Task, error)
	acceptFunc     func(ctx context.Context, taskID, humanID string) (*entity.Task, error)
	approveFunc    func(ctx context.Context, taskID, agentID string) (*service.ReleaseResult, error)
	expired        int
}

func (f *fakeTasks) GetTask(ctx context.Context, taskID string) (*entity.Task, error) {
	if taskID != "task-1" {
		return nil, service.ErrTaskNotFound
	}
	return &entity.Task{ID: taskID, Status: workflow.StatusOpen}, nil
}

func (f *fakeTasks) Transition(ctx context.Context, taskID string, to workflow.Status) (*entity.Task, error) {
	return f.transitionFunc(ctx, taskID, to)
}

func (f *fakeTasks) Accept(ctx context.Context, taskID, humanID string) (*entity.Task, error) {
	return f.acceptFunc(ctx, taskID, humanID)
}

func (f *fakeTasks) Approve(ctx context.Context, taskID, agentID string) (*service.ReleaseResult, error) {
	return f.approveFunc(ctx, taskID, agentID)
}

func (f *fakeTasks) ExpireStale(ctx context.Context) (int, error) {
	return f.expired, nil
}

type fakeDisputes struct {
	service.DisputeService
	filed dispute.Filing
}

func (f *fakeDisputes) FileDispute(ctx context.Context, taskID string, filing dispute.Filing) (*entity.Dispute, error) {
	f.filed = filing
	if filing.Reason == "" {
		return nil, dispute.ErrReasonRequired
	}
	return &entity.Dispute{ID: "d-1", TaskID: taskID, FiledBy: filing.FiledBy}, nil
}

type fakePayments struct {
	service.PaymentService
}

func (f *fakePayments) GetWalletBalance(ctx context.Context, userID string) (*service.Balance, error) {
	return &service.Balance{UserID: userID, AvailableCents: 7000, Available: 70}, nil
}

func (f *fakePayments) PromotePendingBalances(ctx context.Context) (*service.PromotionReport, error) {
	return &service.PromotionReport{Scanned: 2, Promoted: 2}, nil
}

type fakeWithdrawals struct {
	service.WithdrawalService
	requested *int64
	err       error
}

func (f *fakeWithdrawals) ProcessWithdrawal(ctx context.Context, userID string, amountCents *int64) (*service.WithdrawalResult, error) {
	f.requested = amountCents
	if f.err != nil {
		return nil, f.err
	}
	return &service.WithdrawalResult{AmountWithdrawnCents: 7000, TxHash: "0xfeed"}, nil
}

type fakeReputation struct {
	service.ReputationService
}

func (f *fakeReputation) GetReputation(ctx context.Context, userID string) (*reputation.Summary, error) {
	rate := 80.0
	return &reputation.Summary{UserID: userID, SuccessRate: &rate, TasksCompleted: 4, DisputesLost: 1}, nil
}

type fakeStatements struct {
	err error
}

func (f *fakeStatements) Export(ctx context.Context, userID string, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK-xlsx"))
	return err
}

type fixture struct {
	server      *Server
	tasks       *fakeTasks
	disputes    *fakeDisputes
	withdrawals *fakeWithdrawals
	statements  *fakeStatements
}

func newFixture() *fixture {
	f := &fixture{
		tasks:       &fakeTasks{},
		disputes:    &fakeDisputes{},
		withdrawals: &fakeWithdrawals{},
		statements:  &fakeStatements{},
	}
	reg := prometheus.NewRegistry()
	f.server = NewServer(DefaultServerConfig(), Services{
		Tasks:       f.tasks,
		Disputes:    f.disputes,
		Payments:    &fakePayments{},
		Withdrawals: f.withdrawals,
		Reputation:  &fakeReputation{},
		Statements:  f.statements,
	}, func(ctx context.Context) map[string]interface{} {
		return map[string]interface{}{"database": "ok"}
	}, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nopLogger{})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHealthCheck(t *testing.T) {
	f := newFixture()

	rec, resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTask(t *testing.T) {
	f := newFixture()

	rec, resp := f.do(t, http.MethodGet, "/api/tasks/task-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = f.do(t, http.MethodGet, "/api/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, CodeTaskNotFound, resp.Code)
}

func TestTransitionTask(t *testing.T) {
	f := newFixture()
	f.tasks.transitionFunc = func(ctx context.Context, taskID string, to workflow.Status) (*entity.Task, error) {
		switch to {
		case workflow.StatusPaid:
			return nil, fmt.Errorf("%w: open -> paid", workflow.ErrInvalidTransition)
		case workflow.StatusCancelled:
			return nil, fmt.Errorf("%w: open -> cancelled", service.ErrDedicatedOperation)
		}
		return &entity.Task{ID: taskID, Status: to}, nil
	}

	rec, resp := f.do(t, http.MethodPost, "/api/tasks/task-1/transition", `{"to":"paid"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeInvalidTransition, resp.Code)
	assert.Contains(t, resp.Error, "open -> paid")

	rec, resp = f.do(t, http.MethodPost, "/api/tasks/task-1/transition", `{"to":"cancelled"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeUseOperation, resp.Code)

	rec, resp = f.do(t, http.MethodPost, "/api/tasks/task-1/transition", `{"to":"in_progress"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = f.do(t, http.MethodPost, "/api/tasks/task-1/transition", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, resp.Code)
}

func TestActorActions(t *testing.T) {
	f := newFixture()
	var gotHuman string
	f.tasks.acceptFunc = func(ctx context.Context, taskID, humanID string) (*entity.Task, error) {
		gotHuman = humanID
		return nil, service.ErrNotAssignee
	}
	f.tasks.approveFunc = func(ctx context.Context, taskID, agentID string) (*service.ReleaseResult, error) {
		return &service.ReleaseResult{TaskID: taskID, NetAmountCents: 8500, PlatformFeeCents: 1500}, nil
	}

	rec, resp := f.do(t, http.MethodPost, "/api/tasks/task-1/accept", `{"user_id":"human-2"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, resp.Code)
	assert.Equal(t, "human-2", gotHuman)

	rec, _ = f.do(t, http.MethodPost, "/api/tasks/task-1/approve", `{"user_id":"agent-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"net_amount_cents":8500`)

	rec, _ = f.do(t, http.MethodPost, "/api/tasks/task-1/approve", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFileDispute(t *testing.T) {
	f := newFixture()

	rec, resp := f.do(t, http.MethodPost, "/api/tasks/task-1/disputes",
		`{"filed_by":"agent-1","reason":"never delivered","category":"non_delivery","evidence_urls":["https://x/1.png"]}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"https://x/1.png"}, f.disputes.filed.EvidenceURLs)
	assert.Equal(t, "non_delivery", f.disputes.filed.Category)

	rec, resp = f.do(t, http.MethodPost, "/api/tasks/task-1/disputes", `{"filed_by":"agent-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidRequest, resp.Code)
}

func TestWithdraw(t *testing.T) {
	t.Run("all available when body is empty", func(t *testing.T) {
		f := newFixture()
		rec, resp := f.do(t, http.MethodPost, "/api/users/human-1/withdraw", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)
		assert.Nil(t, f.withdrawals.requested)
	})

	t.Run("explicit amount", func(t *testing.T) {
		f := newFixture()
		rec, _ := f.do(t, http.MethodPost, "/api/users/human-1/withdraw", `{"amount_cents":3000}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, f.withdrawals.requested)
		assert.Equal(t, int64(3000), *f.withdrawals.requested)
	})

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"insufficient", fmt.Errorf("%w: requested 9000, available 7000", service.ErrInsufficientBalance), http.StatusBadRequest, CodeInsufficientBalance},
		{"no wallet", service.ErrNoPayoutDestination, http.StatusBadRequest, CodeNoPayoutDestination},
		{"transfer", fmt.Errorf("%w: gateway timeout", service.ErrTransferFailed), http.StatusBadGateway, CodeTransferFailed},
		{"race", service.ErrConcurrentUpdate, http.StatusConflict, CodeConflict},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.withdrawals.err = tc.err
			rec, resp := f.do(t, http.MethodPost, "/api/users/human-1/withdraw", `{"amount_cents":9000}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, resp.Code)
		})
	}
}

func TestWithdraw_TransferFailureAsksToRetry(t *testing.T) {
	f := newFixture()
	f.withdrawals.err = service.ErrTransferFailed

	_, resp := f.do(t, http.MethodPost, "/api/users/human-1/withdraw", "")
	assert.Contains(t, resp.Error, "try again")
}

func TestInternalErrorsAreNotExposed(t *testing.T) {
	f := newFixture()
	f.withdrawals.err = errors.New("sqlite: database is locked")

	_, resp := f.do(t, http.MethodPost, "/api/users/human-1/withdraw", "")
	assert.Equal(t, "internal error", resp.Error)
}

func TestBalanceAndReputation(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/api/users/human-1/balance", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available_cents":7000`)

	rec, _ = f.do(t, http.MethodGet, "/api/users/human-1/reputation", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success_rate":80`)
}

func TestExportStatement(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/api/users/human-1/statement.xlsx", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "statement-human-1-")
	assert.Equal(t, "PK-xlsx", rec.Body.String())

	f.statements.err = errors.New("boom")
	rec, resp := f.do(t, http.MethodGet, "/api/users/human-1/statement.xlsx", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Success)
}

func TestAdminSweeps(t *testing.T) {
	f := newFixture()
	f.tasks.expired = 3

	rec, _ := f.do(t, http.MethodPost, "/api/admin/sweeps/promote", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"promoted":2`)

	rec, _ = f.do(t, http.MethodPost, "/api/admin/sweeps/expire", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"expired":3`)
}

func TestClassify(t *testing.T) {
	status, code := classify(fmt.Errorf("resolve: %w", service.ErrDisputeNotFound))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeDisputeNotFound, code)

	status, code = classify(workflow.ErrRevisionLimit)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeRevisionLimit, code)

	status, code = classify(service.ErrCardProcessor)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, CodeCardProcessor, code)
}
