package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
)

func cents(v int64) *int64 { return &v }

func TestProcessWithdrawal_WholeRecordsOnly(t *testing.T) {
	tests := []struct {
		name      string
		rows      []*entity.PendingTransaction
		requested *int64
		wantCents int64
		wantIDs   []string
	}{
		{
			name: "smaller record is older",
			rows: []*entity.PendingTransaction{
				availableRow("small", testHuman, 3000, testNow.Add(-2*time.Hour)),
				availableRow("large", testHuman, 4000, testNow.Add(-time.Hour)),
			},
			requested: cents(5000),
			wantCents: 3000,
			wantIDs:   []string{"small"},
		},
		{
			name: "larger record is older",
			rows: []*entity.PendingTransaction{
				availableRow("large", testHuman, 4000, testNow.Add(-2*time.Hour)),
				availableRow("small", testHuman, 3000, testNow.Add(-time.Hour)),
			},
			requested: cents(5000),
			wantCents: 4000,
			wantIDs:   []string{"large"},
		},
		{
			name: "exact fit takes both",
			rows: []*entity.PendingTransaction{
				availableRow("a", testHuman, 3000, testNow.Add(-2*time.Hour)),
				availableRow("b", testHuman, 4000, testNow.Add(-time.Hour)),
			},
			requested: cents(7000),
			wantCents: 7000,
			wantIDs:   []string{"a", "b"},
		},
		{
			name: "nil drains everything",
			rows: []*entity.PendingTransaction{
				availableRow("a", testHuman, 1234, testNow.Add(-2*time.Hour)),
				availableRow("b", testHuman, 766, testNow.Add(-time.Hour)),
			},
			wantCents: 2000,
			wantIDs:   []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.pending.rows = tt.rows

			res, err := f.withdrawal.ProcessWithdrawal(context.Background(), testHuman, tt.requested)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCents, res.AmountWithdrawnCents)
			assert.Equal(t, tt.wantIDs, res.TransactionIDs)
			assert.Equal(t, "0xfeed", res.TxHash)
			require.Len(t, f.transfer.sends, 1)
			assert.InDelta(t, float64(tt.wantCents)/100, f.transfer.sends[0], 1e-9)

			for _, id := range tt.wantIDs {
				assert.Equal(t, entity.PendingStatusWithdrawn, f.pending.statusOf(id))
			}
			require.Len(t, f.ledger.withdrawals, 1)
			assert.Equal(t, tt.wantIDs, f.ledger.withdrawals[0].PendingTransactionIDs)
			assert.Len(t, f.notifier.ofType(entity.NotificationWithdrawal), 1)
		})
	}
}

func TestProcessWithdrawal_Conservation(t *testing.T) {
	f := newFixture()
	f.pending.rows = []*entity.PendingTransaction{
		availableRow("a", testHuman, 3000, testNow.Add(-3*time.Hour)),
		availableRow("b", testHuman, 4000, testNow.Add(-2*time.Hour)),
		availableRow("c", testHuman, 1500, testNow.Add(-time.Hour)),
	}
	ctx := context.Background()

	before, err := f.payment.GetWalletBalance(ctx, testHuman)
	require.NoError(t, err)

	res, err := f.withdrawal.ProcessWithdrawal(ctx, testHuman, cents(5000))
	require.NoError(t, err)
	assert.Equal(t, int64(4500), res.AmountWithdrawnCents)
	assert.Equal(t, []string{"a", "c"}, res.TransactionIDs)

	after, err := f.payment.GetWalletBalance(ctx, testHuman)
	require.NoError(t, err)
	assert.Equal(t, before.AvailableCents-res.AmountWithdrawnCents, after.AvailableCents)
	assert.Equal(t, res.AmountWithdrawnCents, after.WithdrawnCents)
}

func TestProcessWithdrawal_TransferFailureLeavesRowsAvailable(t *testing.T) {
	tests := []struct {
		name string
		send func(ctx context.Context, address string, amount float64) (*port.TransferResult, error)
	}{
		{
			name: "transport error",
			send: func(ctx context.Context, address string, amount float64) (*port.TransferResult, error) {
				return nil, errors.New("connection refused")
			},
		},
		{
			name: "rejected transfer",
			send: func(ctx context.Context, address string, amount float64) (*port.TransferResult, error) {
				return &port.TransferResult{Success: false, Error: "insufficient gas"}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.pending.rows = []*entity.PendingTransaction{availableRow("a", testHuman, 3000, testNow.Add(-time.Hour))}
			f.transfer.sendFunc = tt.send

			_, err := f.withdrawal.ProcessWithdrawal(context.Background(), testHuman, nil)
			assert.ErrorIs(t, err, ErrTransferFailed)
			assert.Equal(t, entity.PendingStatusAvailable, f.pending.statusOf("a"))
			assert.Empty(t, f.ledger.withdrawals)
			assert.Empty(t, f.ledger.transactions)
			assert.Empty(t, f.notifier.sent)
		})
	}
}

func TestProcessWithdrawal_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		wallet    string
		requested *int64
		wantErr   error
	}{
		{name: "no wallet", wallet: "", wantErr: ErrNoPayoutDestination},
		{name: "malformed wallet", wallet: "0x1234", wantErr: ErrInvalidWallet},
		{name: "zero amount", wallet: testWallet, requested: cents(0), wantErr: ErrInvalidAmount},
		{name: "negative amount", wallet: testWallet, requested: cents(-100), wantErr: ErrInvalidAmount},
		{name: "more than available", wallet: testWallet, requested: cents(3001), wantErr: ErrInsufficientBalance},
		{name: "smaller than every record", wallet: testWallet, requested: cents(2999), wantErr: ErrNothingToWithdraw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.stats.stats[testHuman].WalletAddress = tt.wallet
			f.pending.rows = []*entity.PendingTransaction{availableRow("a", testHuman, 3000, testNow.Add(-time.Hour))}

			_, err := f.withdrawal.ProcessWithdrawal(context.Background(), testHuman, tt.requested)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.transfer.sends)
			assert.Equal(t, entity.PendingStatusAvailable, f.pending.statusOf("a"))
		})
	}
}

func TestProcessWithdrawal_UnknownUser(t *testing.T) {
	f := newFixture()

	_, err := f.withdrawal.ProcessWithdrawal(context.Background(), "nobody", nil)
	assert.ErrorIs(t, err, ErrNoPayoutDestination)
}

func TestProcessWithdrawal_RowTakenConcurrently(t *testing.T) {
	f := newFixture()
	f.pending.rows = []*entity.PendingTransaction{
		availableRow("a", testHuman, 3000, testNow.Add(-2*time.Hour)),
		availableRow("b", testHuman, 4000, testNow.Add(-time.Hour)),
	}
	f.pending.markWithdrawnFunc = func(ctx context.Context, id string, now time.Time) (bool, error) {
		if id == "a" {
			return false, nil
		}
		return f.pending.markWithdrawn(id, now), nil
	}

	res, err := f.withdrawal.ProcessWithdrawal(context.Background(), testHuman, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), res.AmountWithdrawnCents)
	assert.Equal(t, []string{"b"}, res.TransactionIDs)
	assert.Equal(t, []string{"a"}, res.UnreconciledIDs)
	assert.Contains(t, f.logger.warns, "Reconciliation needed: pending transaction no longer available")

	require.Len(t, f.ledger.withdrawals, 1)
	assert.Equal(t, []string{"b"}, f.ledger.withdrawals[0].PendingTransactionIDs)
}

func TestProcessWithdrawal_MarkFailureReportedUnreconciled(t *testing.T) {
	f := newFixture()
	f.pending.rows = []*entity.PendingTransaction{
		availableRow("a", testHuman, 3000, testNow.Add(-2*time.Hour)),
		availableRow("b", testHuman, 4000, testNow.Add(-time.Hour)),
	}
	f.pending.markWithdrawnFunc = func(ctx context.Context, id string, now time.Time) (bool, error) {
		if id == "b" {
			return false, errors.New("disk full")
		}
		return f.pending.markWithdrawn(id, now), nil
	}

	res, err := f.withdrawal.ProcessWithdrawal(context.Background(), testHuman, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.TransactionIDs)
	assert.Equal(t, []string{"b"}, res.UnreconciledIDs)
	assert.Contains(t, f.logger.errs, "Reconciliation needed: failed to mark withdrawn")
}

func TestListWithdrawals(t *testing.T) {
	f := newFixture()
	f.pending.rows = []*entity.PendingTransaction{availableRow("a", testHuman, 3000, testNow.Add(-time.Hour))}
	ctx := context.Background()

	_, err := f.withdrawal.ProcessWithdrawal(ctx, testHuman, nil)
	require.NoError(t, err)

	list, err := f.withdrawal.ListWithdrawals(ctx, testHuman)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(3000), list[0].AmountCents)
	assert.Equal(t, testWallet, list[0].WalletAddress)
}
