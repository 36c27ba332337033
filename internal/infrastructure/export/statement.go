package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/irlwork/settlement/internal/application/service"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/money"
)

// Sheet names of the earnings statement workbook
const (
	SummarySheet     = "Summary"
	EarningsSheet    = "Earnings"
	WithdrawalsSheet = "Withdrawals"
)

const dateLayout = "2006-01-02 15:04"

// BalanceReader returns a user's balance split by clearing state
type BalanceReader interface {
	GetWalletBalance(ctx context.Context, userID string) (*service.Balance, error)
}

// EarningsLister returns every pending transaction of a user
type EarningsLister interface {
	ListByUser(ctx context.Context, userID string) ([]*entity.PendingTransaction, error)
}

// WithdrawalLister returns a user's withdrawals
type WithdrawalLister interface {
	ListWithdrawals(ctx context.Context, userID string) ([]*entity.Withdrawal, error)
}

// Statement is the data rendered into one workbook
type Statement struct {
	UserID      string
	GeneratedAt time.Time
	Balance     *service.Balance
	Earnings    []*entity.PendingTransaction
	Withdrawals []*entity.Withdrawal
}

// StatementExporter assembles and renders earnings statements
type StatementExporter struct {
	balances    BalanceReader
	earnings    EarningsLister
	withdrawals WithdrawalLister
	logger      *zap.Logger
	now         func() time.Time
}

// NewStatementExporter creates a new exporter
func NewStatementExporter(balances BalanceReader, earnings EarningsLister, withdrawals WithdrawalLister, logger *zap.Logger) *StatementExporter {
	return &StatementExporter{
		balances:    balances,
		earnings:    earnings,
		withdrawals: withdrawals,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Build gathers the statement data for a user
func (e *StatementExporter) Build(ctx context.Context, userID string) (*Statement, error) {
	balance, err := e.balances.GetWalletBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}
	earnings, err := e.earnings.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load earnings: %w", err)
	}
	withdrawals, err := e.withdrawals.ListWithdrawals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawals: %w", err)
	}

	return &Statement{
		UserID:      userID,
		GeneratedAt: e.now(),
		Balance:     balance,
		Earnings:    earnings,
		Withdrawals: withdrawals,
	}, nil
}

// Export builds the statement for userID and writes it to w as xlsx
func (e *StatementExporter) Export(ctx context.Context, userID string, w io.Writer) error {
	st, err := e.Build(ctx, userID)
	if err != nil {
		return err
	}
	if err := WriteStatement(st, w); err != nil {
		return err
	}

	e.logger.Info("Earnings statement exported",
		zap.String("user_id", userID),
		zap.Int("earnings", len(st.Earnings)),
		zap.Int("withdrawals", len(st.Withdrawals)))
	return nil
}

// WriteStatement renders st as an xlsx workbook
func WriteStatement(st *Statement, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{EarningsSheet, WithdrawalsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	amount, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}

	sw := &sheetWriter{f: f, header: header, amount: amount}
	sw.summary(st)
	sw.earnings(st.Earnings)
	sw.withdrawals(st.Withdrawals)
	if sw.err != nil {
		return fmt.Errorf("failed to fill statement: %w", sw.err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// sheetWriter keeps the first error so the fill code reads top to bottom
type sheetWriter struct {
	f      *excelize.File
	header int
	amount int
	err    error
}

func (s *sheetWriter) row(sheet string, row int, values ...interface{}) {
	if s.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		s.err = err
		return
	}
	s.err = s.f.SetSheetRow(sheet, cell, &values)
}

func (s *sheetWriter) style(sheet, from, to string, id int) {
	if s.err != nil {
		return
	}
	s.err = s.f.SetCellStyle(sheet, from, to, id)
}

func (s *sheetWriter) width(sheet, from, to string, width float64) {
	if s.err != nil {
		return
	}
	s.err = s.f.SetColWidth(sheet, from, to, width)
}

func (s *sheetWriter) summary(st *Statement) {
	b := st.Balance
	if b == nil {
		b = &service.Balance{UserID: st.UserID}
	}

	s.row(SummarySheet, 1, "Earnings statement")
	s.style(SummarySheet, "A1", "A1", s.header)
	s.row(SummarySheet, 2, "User", st.UserID)
	s.row(SummarySheet, 3, "Generated", st.GeneratedAt.Format(dateLayout))
	s.row(SummarySheet, 5, "Pending", money.FromCents(b.PendingCents))
	s.row(SummarySheet, 6, "Available", money.FromCents(b.AvailableCents))
	s.row(SummarySheet, 7, "Withdrawn", money.FromCents(b.WithdrawnCents))
	s.style(SummarySheet, "B5", "B7", s.amount)
	next := ""
	if b.NextClearsAt != nil {
		next = b.NextClearsAt.Format(dateLayout)
	}
	s.row(SummarySheet, 8, "Next clearing", next)
	s.width(SummarySheet, "A", "A", 18)
	s.width(SummarySheet, "B", "B", 24)
}

func (s *sheetWriter) earnings(rows []*entity.PendingTransaction) {
	s.row(EarningsSheet, 1, "Task", "Amount", "Status", "Released", "Clears", "Withdrawn")
	s.style(EarningsSheet, "A1", "F1", s.header)
	for i, pt := range rows {
		s.row(EarningsSheet, i+2,
			pt.TaskID,
			money.FromCents(pt.AmountCents),
			pt.Status,
			pt.CreatedAt.Format(dateLayout),
			pt.ClearsAt.Format(dateLayout),
			formatOptional(pt.WithdrawnAt),
		)
	}
	if len(rows) > 0 {
		s.style(EarningsSheet, "B2", fmt.Sprintf("B%d", len(rows)+1), s.amount)
	}
	s.width(EarningsSheet, "A", "A", 38)
	s.width(EarningsSheet, "B", "F", 18)
}

func (s *sheetWriter) withdrawals(rows []*entity.Withdrawal) {
	s.row(WithdrawalsSheet, 1, "Date", "Amount", "Wallet", "Tx hash", "Transactions")
	s.style(WithdrawalsSheet, "A1", "E1", s.header)
	for i, wd := range rows {
		s.row(WithdrawalsSheet, i+2,
			wd.CreatedAt.Format(dateLayout),
			money.FromCents(wd.AmountCents),
			wd.WalletAddress,
			wd.TxHash,
			len(wd.PendingTransactionIDs),
		)
	}
	if len(rows) > 0 {
		s.style(WithdrawalsSheet, "B2", fmt.Sprintf("B%d", len(rows)+1), s.amount)
	}
	s.width(WithdrawalsSheet, "A", "B", 18)
	s.width(WithdrawalsSheet, "C", "D", 44)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
