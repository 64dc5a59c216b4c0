package expense

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"spendings/internal/blob/memory"
	"spendings/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func mustAdd(t *testing.T, s *Store, e core.Expense) core.Expense {
	t.Helper()
	got, err := s.Add(context.Background(), e)
	if err != nil {
		t.Fatalf("add %q: %v", e.Name, err)
	}
	return got
}

func names(items []core.Expense) []string {
	out := make([]string, len(items))
	for i, e := range items {
		out[i] = e.Name
	}
	return out
}

func equalNames(t *testing.T, got []core.Expense, want ...string) {
	t.Helper()
	gotNames := names(got)
	if len(gotNames) != len(want) {
		t.Fatalf("got %v, want %v", gotNames, want)
	}
	for i := range want {
		if gotNames[i] != want[i] {
			t.Fatalf("got %v, want %v", gotNames, want)
		}
	}
}

func TestCoffeeAndBusScenario(t *testing.T) {
	s := New(context.Background(), memory.New())
	mustAdd(t, s, core.NewExpense("Coffee", 4.50, core.Food, day(2024, 1, 1)))
	mustAdd(t, s, core.NewExpense("Bus", 2.75, core.Transportation, day(2024, 1, 1)))

	if !approx(s.Total(), 7.25) {
		t.Fatalf("total = %v", s.Total())
	}

	byCat := s.ByCategory()
	if len(byCat) != 2 ||
		byCat[0].Category != core.Food || !approx(byCat[0].Total, 4.50) ||
		byCat[1].Category != core.Transportation || !approx(byCat[1].Total, 2.75) {
		t.Fatalf("by category = %+v", byCat)
	}

	byDate := s.ByDate()
	if len(byDate) != 1 || !approx(byDate[core.Day{Year: 2024, Month: time.January, Day: 1}], 7.25) {
		t.Fatalf("by date = %v", byDate)
	}
}

func TestTotalMatchesSumOfAdds(t *testing.T) {
	s := New(context.Background(), memory.New())
	if s.Total() != 0 {
		t.Fatalf("empty total = %v", s.Total())
	}
	amounts := []float64{0.1, 0.2, 19.99, -5, 1e6, 3.333}
	var want float64
	for i, a := range amounts {
		mustAdd(t, s, core.NewExpense("e", a, core.Other, day(2024, 1, i+1)))
		want += a
	}
	if !approx(s.Total(), want) {
		t.Fatalf("total = %v, want %v", s.Total(), want)
	}
}

func TestByCategoryOmitsEmptyAndSumsToTotal(t *testing.T) {
	s := New(context.Background(), memory.New())
	mustAdd(t, s, core.NewExpense("rent", 900, core.Rent, day(2024, 1, 1)))
	mustAdd(t, s, core.NewExpense("film", 12, core.Entertainment, day(2024, 1, 2)))
	mustAdd(t, s, core.NewExpense("pizza", 15, core.Food, day(2024, 1, 3)))
	mustAdd(t, s, core.NewExpense("sushi", 30, core.Food, day(2024, 1, 4)))

	byCat := s.ByCategory()
	want := []core.Category{core.Entertainment, core.Food, core.Rent}
	if len(byCat) != len(want) {
		t.Fatalf("by category = %+v", byCat)
	}
	var sum float64
	for i, ct := range byCat {
		if ct.Category != want[i] {
			t.Fatalf("position %d = %s, want %s", i, ct.Category, want[i])
		}
		if ct.Total == 0 {
			t.Fatalf("zero total for %s", ct.Category)
		}
		sum += ct.Total
	}
	if !approx(sum, s.Total()) {
		t.Fatalf("category sum %v != total %v", sum, s.Total())
	}
	if !approx(byCat[1].Total, 45) {
		t.Fatalf("food total = %v", byCat[1].Total)
	}
}

func TestByDateUsesStoreLocation(t *testing.T) {
	east := time.FixedZone("UTC+2", 2*60*60)
	s := New(context.Background(), memory.New(), WithLocation(east))
	// 23:00 UTC on Jan 1 is Jan 2 in UTC+2.
	mustAdd(t, s, core.NewExpense("late", 10, core.Food, time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)))
	mustAdd(t, s, core.NewExpense("early", 5, core.Food, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)))

	byDate := s.ByDate()
	if !approx(byDate[core.Day{Year: 2024, Month: time.January, Day: 2}], 10) ||
		!approx(byDate[core.Day{Year: 2024, Month: time.January, Day: 1}], 5) {
		t.Fatalf("by date = %v", byDate)
	}
}

func TestRoundTripThroughBackingStore(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := New(ctx, blobs)
	a := mustAdd(t, s, core.NewExpense("Coffee", 4.50, core.Food, time.Date(2024, 1, 1, 8, 15, 30, 123456789, time.UTC)))
	b := mustAdd(t, s, core.NewExpense("Rent", 1200, core.Rent, time.Date(2024, 2, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))))
	c := mustAdd(t, s, core.NewExpense("", -3.25, core.Other, day(2024, 3, 1)))

	reloaded := New(ctx, blobs)
	got := reloaded.Expenses()
	want := []core.Expense{a, b, c}
	if len(got) != len(want) {
		t.Fatalf("reloaded %d records, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if !reloaded.lastLoad.ok() || !reloaded.lastLoad.found {
		t.Fatalf("unexpected load result %+v", reloaded.lastLoad)
	}
}

func TestCustomKey(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := New(ctx, blobs, WithKey("other"))
	mustAdd(t, s, core.NewExpense("x", 1, core.Food, day(2024, 1, 1)))

	if _, err := blobs.Get(ctx, "other"); err != nil {
		t.Fatalf("expected blob under custom key: %v", err)
	}
	if New(ctx, blobs).Len() != 0 {
		t.Fatalf("default key should still be empty")
	}
}

func TestLoadCorruptBlobStartsEmpty(t *testing.T) {
	cases := map[string]string{
		"garbage":          `not json at all`,
		"wrong shape":      `{"id":"x"}`,
		"unknown category": `[{"id":"0b6f4f8e-3c1a-4d55-9c1e-2f1f6b5a7e10","name":"x","amount":1,"category":"Groceries","date":"2024-01-01T00:00:00Z"}]`,
		"bad id":           `[{"id":"nope","name":"x","amount":1,"category":"Food","date":"2024-01-01T00:00:00Z"}]`,
		"bad date":         `[{"id":"0b6f4f8e-3c1a-4d55-9c1e-2f1f6b5a7e10","name":"x","amount":1,"category":"Food","date":"yesterday"}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			s := New(context.Background(), memory.NewWith(DefaultKey, []byte(raw)))
			if s.Len() != 0 {
				t.Fatalf("expected empty collection, got %d", s.Len())
			}
			if s.lastLoad.failure != failureDecode || s.lastLoad.err == nil {
				t.Fatalf("expected decode failure, got %+v", s.lastLoad)
			}
		})
	}
}

type failingBlobs struct{ err error }

func (f failingBlobs) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingBlobs) Set(context.Context, string, []byte) error   { return f.err }

func TestLoadReadFailureStartsEmpty(t *testing.T) {
	boom := errors.New("io error")
	s := New(context.Background(), failingBlobs{err: boom})
	if s.Len() != 0 {
		t.Fatalf("expected empty collection")
	}
	if s.lastLoad.failure != failureRead || !errors.Is(s.lastLoad.err, boom) {
		t.Fatalf("expected read failure, got %+v", s.lastLoad)
	}
}

func TestLoadMissingBlob(t *testing.T) {
	s := New(context.Background(), memory.New())
	if s.Len() != 0 || !s.lastLoad.ok() || s.lastLoad.found {
		t.Fatalf("unexpected state len=%d load=%+v", s.Len(), s.lastLoad)
	}
}

func TestWriteFailureIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	boom := errors.New("disk full")
	blobs.SetErr = boom

	s := New(ctx, blobs)
	e, err := s.Add(ctx, core.NewExpense("Coffee", 4.5, core.Food, day(2024, 1, 1)))
	if err != nil {
		t.Fatalf("write failure must not surface: %v", err)
	}
	if s.Len() != 1 || s.Expenses()[0].ID != e.ID {
		t.Fatalf("in-memory mutation should stand")
	}
	if s.lastSave.failure != failureWrite || !errors.Is(s.lastSave.err, boom) {
		t.Fatalf("expected write failure, got %+v", s.lastSave)
	}

	blobs.SetErr = nil
	s.Edit(ctx, e)
	if !s.lastSave.ok() {
		t.Fatalf("expected recovery on next save, got %+v", s.lastSave)
	}
	if New(ctx, blobs).Len() != 1 {
		t.Fatalf("next successful save should persist the full collection")
	}
}

func TestEncodeFailureIsAbsorbed(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := New(ctx, blobs)
	mustAdd(t, s, core.NewExpense("ok", 1, core.Food, day(2024, 1, 1)))

	// NaN has no JSON representation.
	if _, err := s.Add(ctx, core.NewExpense("nan", math.NaN(), core.Food, day(2024, 1, 2))); err != nil {
		t.Fatalf("encode failure must not surface: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("in-memory mutation should stand, len=%d", s.Len())
	}
	if s.lastSave.failure != failureEncode {
		t.Fatalf("expected encode failure, got %+v", s.lastSave)
	}
	// The last good blob is untouched.
	equalNames(t, New(ctx, blobs).Expenses(), "ok")
}

func TestAddRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, memory.New())
	e := mustAdd(t, s, core.NewExpense("a", 1, core.Food, day(2024, 1, 1)))
	dup := e
	dup.Name = "b"

	if _, err := s.Add(ctx, dup); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	equalNames(t, s.Expenses(), "a")
	if s.Version() != 1 {
		t.Fatalf("rejected add must not bump version, got %d", s.Version())
	}
}

func TestAddAssignsIDWhenNil(t *testing.T) {
	s := New(context.Background(), memory.New())
	e := mustAdd(t, s, core.Expense{Name: "x", Amount: 1, Category: core.Food, Date: day(2024, 1, 1)})
	if e.ID == uuid.Nil || s.Expenses()[0].ID != e.ID {
		t.Fatalf("expected generated id, got %s", e.ID)
	}
}

func TestEditReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := New(ctx, blobs)
	mustAdd(t, s, core.NewExpense("a", 1, core.Food, day(2024, 1, 1)))
	b := mustAdd(t, s, core.NewExpense("b", 2, core.Food, day(2024, 1, 2)))
	mustAdd(t, s, core.NewExpense("c", 3, core.Food, day(2024, 1, 3)))

	b.Name = "B"
	b.Amount = 20
	b.Category = core.Rent
	if !s.Edit(ctx, b) {
		t.Fatalf("expected edit to match")
	}
	equalNames(t, s.Expenses(), "a", "B", "c")
	if got := s.Expenses()[1]; !got.Equal(b) {
		t.Fatalf("edited record = %+v", got)
	}
	equalNames(t, New(ctx, blobs).Expenses(), "a", "B", "c")
}

func TestEditUnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, memory.New())
	mustAdd(t, s, core.NewExpense("a", 1, core.Food, day(2024, 1, 1)))
	before := s.Expenses()
	version := s.Version()

	if s.Edit(ctx, core.NewExpense("ghost", 99, core.Other, day(2024, 1, 1))) {
		t.Fatalf("edit of unknown id reported a match")
	}
	after := s.Expenses()
	if len(after) != 1 || !after[0].Equal(before[0]) || s.Version() != version {
		t.Fatalf("collection changed: %+v", after)
	}
}

func TestDeleteBySnapshotPositions(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := New(ctx, blobs)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		mustAdd(t, s, core.NewExpense(n, 1, core.Food, day(2024, 1, 1)))
	}

	// Removing 1 and 2 as positions in one snapshot drops b and c, not b and d.
	if removed := s.Delete(ctx, 1, 2); removed != 2 {
		t.Fatalf("removed = %d", removed)
	}
	equalNames(t, s.Expenses(), "a", "d", "e")
	equalNames(t, New(ctx, blobs).Expenses(), "a", "d", "e")

	// Duplicates count once, out-of-range positions are skipped.
	if removed := s.Delete(ctx, 2, 2, 7, -1); removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	equalNames(t, s.Expenses(), "a", "d")

	if removed := s.Delete(ctx, 0, 1); removed != 2 || s.Len() != 0 {
		t.Fatalf("delete all left %d records", s.Len())
	}
	if New(ctx, blobs).Len() != 0 {
		t.Fatalf("empty collection not persisted")
	}
}

func TestDeleteNothingDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, memory.New())
	mustAdd(t, s, core.NewExpense("a", 1, core.Food, day(2024, 1, 1)))
	version := s.Version()
	if s.Delete(ctx) != 0 || s.Delete(ctx, 5) != 0 {
		t.Fatalf("expected nothing removed")
	}
	if s.Version() != version {
		t.Fatalf("version bumped without a change")
	}
}

func TestDeleteByID(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, memory.New())
	a := mustAdd(t, s, core.NewExpense("a", 1, core.Food, day(2024, 1, 1)))
	mustAdd(t, s, core.NewExpense("b", 1, core.Food, day(2024, 1, 1)))
	c := mustAdd(t, s, core.NewExpense("c", 1, core.Food, day(2024, 1, 1)))

	if removed := s.DeleteByID(ctx, c.ID, uuid.New(), a.ID); removed != 2 {
		t.Fatalf("removed = %d", removed)
	}
	equalNames(t, s.Expenses(), "b")
	if s.DeleteByID(ctx, a.ID) != 0 {
		t.Fatalf("second delete of same id should remove nothing")
	}
}

func TestInRangeInclusive(t *testing.T) {
	s := New(context.Background(), memory.New())
	mustAdd(t, s, core.NewExpense("dec31", 1, core.Food, day(2023, 12, 31)))
	mustAdd(t, s, core.NewExpense("jan1", 1, core.Food, day(2024, 1, 1)))
	mustAdd(t, s, core.NewExpense("jan2", 1, core.Food, day(2024, 1, 2)))
	mustAdd(t, s, core.NewExpense("jan1-again", 1, core.Food, day(2024, 1, 1)))
	mustAdd(t, s, core.NewExpense("jan3", 1, core.Food, day(2024, 1, 3)))

	equalNames(t, s.InRange(day(2024, 1, 1), day(2024, 1, 1)), "jan1", "jan1-again")
	equalNames(t, s.InRange(day(2024, 1, 1), day(2024, 1, 2)), "jan1", "jan2", "jan1-again")
	if got := s.InRange(day(2024, 1, 3), day(2024, 1, 1)); len(got) != 0 {
		t.Fatalf("inverted range returned %v", names(got))
	}
}

func TestOnDaysCoversWholeDays(t *testing.T) {
	s := New(context.Background(), memory.New())
	mustAdd(t, s, core.NewExpense("morning", 1, core.Food, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)))
	mustAdd(t, s, core.NewExpense("night", 1, core.Food, time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC)))
	mustAdd(t, s, core.NewExpense("next", 1, core.Food, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	d := core.Day{Year: 2024, Month: time.January, Day: 1}
	equalNames(t, s.OnDays(d, d), "morning", "night")
	// A point range only catches records stamped exactly at midnight.
	if got := s.InRange(day(2024, 1, 1), day(2024, 1, 1)); len(got) != 0 {
		t.Fatalf("point range matched %v", names(got))
	}
}

func TestSubscribeAndVersion(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, memory.New())

	var got []Change
	unsubscribe := s.Subscribe(func(c Change) { got = append(got, c) })

	e := mustAdd(t, s, core.NewExpense("a", 1, core.Food, day(2024, 1, 1)))
	s.Edit(ctx, e)
	s.Edit(ctx, core.NewExpense("ghost", 1, core.Food, day(2024, 1, 1)))
	s.Delete(ctx, 0)

	if len(got) != 3 {
		t.Fatalf("expected 3 notifications, got %+v", got)
	}
	wantOps := []Op{OpAdd, OpEdit, OpDelete}
	for i, c := range got {
		if c.Op != wantOps[i] || c.Version != uint64(i+1) {
			t.Fatalf("notification %d = %+v", i, c)
		}
	}
	if got[2].Count != 0 || s.Version() != 3 {
		t.Fatalf("unexpected final state %+v version=%d", got[2], s.Version())
	}

	unsubscribe()
	mustAdd(t, s, core.NewExpense("b", 1, core.Food, day(2024, 1, 1)))
	if len(got) != 3 {
		t.Fatalf("listener still called after unsubscribe")
	}
}

func TestListenerMayReadStore(t *testing.T) {
	s := New(context.Background(), memory.New())
	var total float64
	s.Subscribe(func(Change) { total = s.Total() })
	mustAdd(t, s, core.NewExpense("a", 2.5, core.Food, day(2024, 1, 1)))
	if !approx(total, 2.5) {
		t.Fatalf("listener saw total %v", total)
	}
}

func TestConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := New(ctx, blobs)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Add(ctx, core.NewExpense("x", 1, core.Food, day(2024, 1, 1))); err != nil {
				t.Errorf("add: %v", err)
			}
		}()
	}
	wg.Wait()

	if s.Len() != 50 || !approx(s.Total(), 50) || s.Version() != 50 {
		t.Fatalf("len=%d total=%v version=%d", s.Len(), s.Total(), s.Version())
	}
	if New(ctx, blobs).Len() != 50 {
		t.Fatalf("last write did not hold the full collection")
	}
}

func TestConcurrentChangesCarryDistinctVersions(t *testing.T) {
	ctx := context.Background()
	s := New(ctx, memory.New())

	var mu sync.Mutex
	seen := make(map[uint64]int)
	s.Subscribe(func(c Change) {
		mu.Lock()
		seen[c.Version]++
		mu.Unlock()
	})

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Add(ctx, core.NewExpense("x", 1, core.Food, day(2024, 1, 1))); err != nil {
				t.Errorf("add: %v", err)
			}
		}()
	}
	wg.Wait()

	// Delivery order is not guaranteed, but every version from 1 to n
	// arrives exactly once, so consumers can reorder by Version.
	if len(seen) != n {
		t.Fatalf("saw %d distinct versions, want %d", len(seen), n)
	}
	for v := uint64(1); v <= n; v++ {
		if seen[v] != 1 {
			t.Fatalf("version %d delivered %d times", v, seen[v])
		}
	}
}

func TestExpensesReturnsCopy(t *testing.T) {
	s := New(context.Background(), memory.New())
	mustAdd(t, s, core.NewExpense("a", 1, core.Food, day(2024, 1, 1)))
	items := s.Expenses()
	items[0].Name = "mutated"
	if s.Expenses()[0].Name != "a" {
		t.Fatalf("caller mutated store state")
	}
}
