package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"spendings/internal/core"
)

const maxBodyBytes = 1 << 20

// errValidation marks request problems answered with 422.
var errValidation = errors.New("validation failed")

// expenseRequest is the body of POST and PUT expense requests. Date takes
// RFC 3339 or YYYY-MM-DD, the latter meaning midnight in the store's
// location.
type expenseRequest struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Amount   *float64 `json:"amount"`
	Category string   `json:"category"`
	Date     string   `json:"date"`
}

type deleteRequest struct {
	Positions []int `json:"positions"`
}

// decodeJSON reads a single JSON value from the body, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode request body: unexpected trailing data")
	}
	return nil
}

// toExpense validates the payload. A missing or empty id yields uuid.Nil,
// which the store replaces.
func (req expenseRequest) toExpense(loc *time.Location) (core.Expense, error) {
	var e core.Expense

	if id := strings.TrimSpace(req.ID); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return e, fmt.Errorf("%w: invalid id %q", errValidation, req.ID)
		}
		e.ID = parsed
	}

	// Name is free text and stored verbatim, empty included.
	e.Name = req.Name

	if req.Amount == nil {
		return e, fmt.Errorf("%w: amount is required", errValidation)
	}
	e.Amount = *req.Amount

	category, err := core.ParseCategory(strings.TrimSpace(req.Category))
	if err != nil {
		return e, fmt.Errorf("%w: %w", errValidation, err)
	}
	e.Category = category

	date, err := parseDate(req.Date, loc)
	if err != nil {
		return e, fmt.Errorf("%w: %w", errValidation, err)
	}
	e.Date = date

	return e, nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("date is required")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	day, err := core.ParseDay(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want RFC 3339 or %s", s, core.DayLayout)
	}
	return day.Start(loc), nil
}

type rangeKind int

const (
	rangeNone rangeKind = iota
	rangeInstant
	rangeDays
)

// rangeQuery is the optional filter of GET /api/expenses.
type rangeQuery struct {
	kind       rangeKind
	start, end time.Time
	from, to   core.Day
}

func parseRangeQuery(r *http.Request) (rangeQuery, error) {
	q := r.URL.Query()
	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	dayFrom, dayTo := strings.TrimSpace(q.Get("day_from")), strings.TrimSpace(q.Get("day_to"))

	instant := from != "" || to != ""
	days := dayFrom != "" || dayTo != ""

	switch {
	case instant && days:
		return rangeQuery{}, errors.New("use either from/to or day_from/day_to, not both")
	case instant:
		if from == "" || to == "" {
			return rangeQuery{}, errors.New("from and to must be given together")
		}
		start, err := time.Parse(time.RFC3339Nano, from)
		if err != nil {
			return rangeQuery{}, fmt.Errorf("invalid from %q: %w", from, err)
		}
		end, err := time.Parse(time.RFC3339Nano, to)
		if err != nil {
			return rangeQuery{}, fmt.Errorf("invalid to %q: %w", to, err)
		}
		return rangeQuery{kind: rangeInstant, start: start, end: end}, nil
	case days:
		if dayFrom == "" || dayTo == "" {
			return rangeQuery{}, errors.New("day_from and day_to must be given together")
		}
		fromDay, err := core.ParseDay(dayFrom)
		if err != nil {
			return rangeQuery{}, err
		}
		toDay, err := core.ParseDay(dayTo)
		if err != nil {
			return rangeQuery{}, err
		}
		return rangeQuery{kind: rangeDays, from: fromDay, to: toDay}, nil
	default:
		return rangeQuery{}, nil
	}
}
