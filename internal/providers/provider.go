package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Settlement errors
var (
	ErrSignatureMismatch = errors.New("callback signature mismatch")
	ErrInvalidAmount     = errors.New("amount outside provider limits")
	ErrMalformedCallback = errors.New("malformed callback payload")
)

// CreatePaymentRequest asks a provider to start collecting a payment
type CreatePaymentRequest struct {
	TransactionCode string
	Amount          int64
	OrderInfo       string
	ReturnURL       string
	ClientIP        string
}

// BankDetails are static instructions for a manual transfer
type BankDetails struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	Reference     string `json:"reference"`
}

// PaymentInstruction tells the client how to complete the payment.
// Redirect gateways set RedirectURL; manual transfer sets BankDetails.
type PaymentInstruction struct {
	Provider    string       `json:"provider"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	BankDetails *BankDetails `json:"bank_details,omitempty"`
}

// SettlementEvent is the provider-neutral result of a verified callback.
// Amount is always plain VND; unit conversion happens inside the adapter.
type SettlementEvent struct {
	ReferenceCode string
	Succeeded     bool
	Amount        int64
	ProviderTxnID string
	FailureReason string
	Raw           map[string]string
}

// AckOutcome tells the adapter which provider-specific acknowledgment to
// write back to the gateway.
type AckOutcome int

const (
	AckSuccess AckOutcome = iota
	AckInvalidSignature
	AckAlreadyProcessed
	AckOrderNotFound
	AckFailure
)

// Adapter is the capability set every payment provider implements
type Adapter interface {
	Name() string
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentInstruction, error)
	ParseCallback(r *http.Request) (*SettlementEvent, error)
	WriteAck(w http.ResponseWriter, outcome AckOutcome)
}

// Limits are the accepted top-up bounds, in VND
type Limits struct {
	MinAmount int64 `envconfig:"TOPUP_MIN_AMOUNT" default:"10000"`
	MaxAmount int64 `envconfig:"TOPUP_MAX_AMOUNT" default:"5000000"`
}

// Check validates an amount against the limits
func (l Limits) Check(amount int64) error {
	if amount < l.MinAmount || amount > l.MaxAmount {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidAmount, amount, l.MinAmount, l.MaxAmount)
	}
	return nil
}

// Registry maps provider names to adapters
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry from the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for a provider name
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return a, nil
}

// Names returns the registered provider names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
