package money

import (
	"encoding/json"
	"fmt"
)

// Currency represents an ISO 4217 currency code.
type Currency string

// VND is the only currency the wallet handles. Vietnamese dong has no
// minor subdivision, so every amount is an integer number of dong.
const VND Currency = "VND"

// Amount represents a monetary amount in dong.
type Amount struct {
	Value    int64    `json:"amount"`
	Currency Currency `json:"currency"`
}

// New creates a new Amount in dong.
func New(value int64) Amount {
	return Amount{Value: value, Currency: VND}
}

// Zero returns a zero amount.
func Zero() Amount {
	return Amount{Value: 0, Currency: VND}
}

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool {
	return a.Value == 0
}

// IsPositive returns true if the amount is strictly positive.
func (a Amount) IsPositive() bool {
	return a.Value > 0
}

// IsNegative returns true if the amount is negative.
func (a Amount) IsNegative() bool {
	return a.Value < 0
}

// Add adds two amounts (must be same currency).
func (a Amount) Add(other Amount) (Amount, error) {
	if a.Currency != other.Currency {
		return Amount{}, fmt.Errorf("currency mismatch: %s vs %s", a.Currency, other.Currency)
	}
	return Amount{Value: a.Value + other.Value, Currency: a.Currency}, nil
}

// Sub subtracts two amounts (must be same currency).
func (a Amount) Sub(other Amount) (Amount, error) {
	if a.Currency != other.Currency {
		return Amount{}, fmt.Errorf("currency mismatch: %s vs %s", a.Currency, other.Currency)
	}
	return Amount{Value: a.Value - other.Value, Currency: a.Currency}, nil
}

// Compare returns -1, 0, or 1.
func (a Amount) Compare(other Amount) (int, error) {
	if a.Currency != other.Currency {
		return 0, fmt.Errorf("currency mismatch: %s vs %s", a.Currency, other.Currency)
	}
	switch {
	case a.Value < other.Value:
		return -1, nil
	case a.Value > other.Value:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal checks equality.
func (a Amount) Equal(other Amount) bool {
	return a.Value == other.Value && a.Currency == other.Currency
}

// String returns a human-readable representation.
func (a Amount) String() string {
	return fmt.Sprintf("%d %s", a.Value, a.Currency)
}

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value    int64  `json:"amount"`
		Currency string `json:"currency"`
	}{
		Value:    a.Value,
		Currency: string(a.Currency),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var v struct {
		Value    int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	a.Value = v.Value
	a.Currency = Currency(v.Currency)
	if a.Currency == "" {
		a.Currency = VND
	}
	return nil
}
