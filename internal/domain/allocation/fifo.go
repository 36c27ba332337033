// Package allocation picks which available balance records a withdrawal consumes.
package allocation

import (
	"sort"
	"time"

	"github.com/irlwork/settlement/internal/domain/entity"
)

// Selection is the outcome of SelectFIFO
type Selection struct {
	Records        []*entity.PendingTransaction
	TotalCents     int64
	RequestedCents int64
}

// Shortfall is how far the selection falls below the request
func (s Selection) Shortfall() int64 {
	return s.RequestedCents - s.TotalCents
}

// IDs returns the ids of the selected records in selection order
func (s Selection) IDs() []string {
	ids := make([]string, len(s.Records))
	for i, r := range s.Records {
		ids[i] = r.ID
	}
	return ids
}

// SelectFIFO walks records oldest-first and takes a record only when its whole
// amount fits in what is left of requestedCents. Records that do not fit are
// skipped, never split, so the total may fall short of the request.
func SelectFIFO(records []*entity.PendingTransaction, requestedCents int64) Selection {
	sel := Selection{RequestedCents: requestedCents}
	if requestedCents <= 0 {
		return sel
	}

	ordered := append([]*entity.PendingTransaction(nil), records...)
	SortOldestFirst(ordered)

	remaining := requestedCents
	for _, r := range ordered {
		if remaining == 0 {
			break
		}
		if r.AmountCents <= 0 || r.AmountCents > remaining {
			continue
		}
		sel.Records = append(sel.Records, r)
		sel.TotalCents += r.AmountCents
		remaining -= r.AmountCents
	}
	return sel
}

// Total sums the amounts of records
func Total(records []*entity.PendingTransaction) int64 {
	var total int64
	for _, r := range records {
		total += r.AmountCents
	}
	return total
}

// SortOldestFirst orders records by clearing time, then creation time, then id
func SortOldestFirst(records []*entity.PendingTransaction) {
	sort.SliceStable(records, func(i, j int) bool {
		ci, cj := clearedOrCreated(records[i]), clearedOrCreated(records[j])
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
}

func clearedOrCreated(r *entity.PendingTransaction) time.Time {
	if r.ClearedAt != nil {
		return *r.ClearedAt
	}
	return r.CreatedAt
}
