package expense

import (
	"cmp"
	"slices"
	"time"

	"spendings/internal/core"
)

// Total sums every amount in insertion order. Plain float64 addition, so
// the usual accumulation error applies.
func (s *Store) Total() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, e := range s.items {
		total += e.Amount
	}
	return total
}

// ByCategory returns one total per category present, sorted by label.
// Categories without expenses are left out.
func (s *Store) ByCategory() []core.CategoryTotal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[core.Category]float64)
	for _, e := range s.items {
		sums[e.Category] += e.Amount
	}

	out := make([]core.CategoryTotal, 0, len(sums))
	for c, total := range sums {
		out = append(out, core.CategoryTotal{Category: c, Total: total})
	}
	slices.SortFunc(out, func(a, b core.CategoryTotal) int {
		return cmp.Compare(a.Category.String(), b.Category.String())
	})
	return out
}

// ByDate sums amounts per calendar day in the store's location.
func (s *Store) ByDate() map[core.Day]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[core.Day]float64)
	for _, e := range s.items {
		out[core.DayOf(e.Date, s.loc)] += e.Amount
	}
	return out
}

// InRange returns the records dated within [start, end], both inclusive,
// in insertion order.
func (s *Store) InRange(start, end time.Time) []core.Expense {
	return s.filter(func(e core.Expense) bool {
		return !e.Date.Before(start) && !e.Date.After(end)
	})
}

// OnDays returns the records whose calendar day lies within [from, to],
// both inclusive, whatever their time of day.
func (s *Store) OnDays(from, to core.Day) []core.Expense {
	return s.filter(func(e core.Expense) bool {
		d := core.DayOf(e.Date, s.loc)
		return !d.Before(from) && !to.Before(d)
	})
}

func (s *Store) filter(keep func(core.Expense) bool) []core.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Expense
	for _, e := range s.items {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
