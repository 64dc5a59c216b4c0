package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	Food           Category = "Food"
	Transportation Category = "Transportation"
	Rent           Category = "Rent"
	Entertainment  Category = "Entertainment"
	Other          Category = "Other"
)

type (
	// Category is the closed set of expense categories. The label is part of
	// the persisted format and doubles as the grouping key.
	Category string

	Expense struct {
		ID       uuid.UUID `json:"id"`
		Name     string    `json:"name"`
		Amount   float64   `json:"amount"`
		Category Category  `json:"category"`
		Date     time.Time `json:"date"`
	}

	// CategoryTotal is the summed amount of one category.
	CategoryTotal struct {
		Category Category `json:"category"`
		Total    float64  `json:"total"`
	}
)

var ErrUnknownCategory = errors.New("unknown category")

var categories = []Category{Food, Transportation, Rent, Entertainment, Other}

// Categories returns every category in declaration order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

// ParseCategory maps a label back to its category.
func ParseCategory(label string) (Category, error) {
	for _, c := range categories {
		if string(c) == label {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, label)
}

func (c Category) String() string {
	return string(c)
}

func (c Category) Validate() error {
	_, err := ParseCategory(string(c))
	return err
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseCategory(label)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// NewExpense builds an expense with a fresh random ID.
func NewExpense(name string, amount float64, category Category, date time.Time) Expense {
	return Expense{
		ID:       uuid.New(),
		Name:     name,
		Amount:   amount,
		Category: category,
		Date:     date,
	}
}

// Equal reports field-for-field equality. Dates compare by instant.
func (e Expense) Equal(o Expense) bool {
	return e.ID == o.ID &&
		e.Name == o.Name &&
		e.Amount == o.Amount &&
		e.Category == o.Category &&
		e.Date.Equal(o.Date)
}
