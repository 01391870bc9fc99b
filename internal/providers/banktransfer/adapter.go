package banktransfer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"cupcycle/internal/providers"
)

// Config holds the receiving account details shown to users
type Config struct {
	BankName      string `envconfig:"BANKTRANSFER_BANK_NAME" default:"Vietcombank"`
	AccountName   string `envconfig:"BANKTRANSFER_ACCOUNT_NAME" required:"true"`
	AccountNumber string `envconfig:"BANKTRANSFER_ACCOUNT_NUMBER" required:"true"`
}

// Adapter implements manual bank transfer top-ups. There is no online
// gateway: the user transfers with a unique reference and the back
// office confirms the settlement through the callback endpoint.
type Adapter struct {
	cfg Config
}

// NewAdapter creates a new bank transfer adapter
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "banktransfer"
}

// TransferReference derives the wire reference from a transaction code.
// The short prefix is what users can realistically type into a banking
// app; the full code is still recoverable via the pending transaction.
func TransferReference(transactionCode string) string {
	ref := transactionCode
	if len(ref) > 8 {
		ref = ref[:8]
	}
	return "CUP-" + ref
}

// CreatePayment returns static transfer instructions
func (a *Adapter) CreatePayment(_ context.Context, req providers.CreatePaymentRequest) (*providers.PaymentInstruction, error) {
	return &providers.PaymentInstruction{
		Provider: a.Name(),
		BankDetails: &providers.BankDetails{
			BankName:      a.cfg.BankName,
			AccountName:   a.cfg.AccountName,
			AccountNumber: a.cfg.AccountNumber,
			Reference:     TransferReference(req.TransactionCode),
		},
	}, nil
}

type confirmPayload struct {
	TransactionCode string `json:"transaction_code"`
	Amount          int64  `json:"amount"`
	BankReference   string `json:"bank_reference"`
}

// ParseCallback reads a back-office confirmation. The endpoint is
// internal, so reference matching stands in for signature checks.
func (a *Adapter) ParseCallback(r *http.Request) (*providers.SettlementEvent, error) {
	var p confirmPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedCallback, err)
	}
	if p.TransactionCode == "" || p.Amount <= 0 {
		return nil, fmt.Errorf("%w: transaction_code and amount required", providers.ErrMalformedCallback)
	}

	return &providers.SettlementEvent{
		ReferenceCode: p.TransactionCode,
		Succeeded:     true,
		Amount:        p.Amount,
		ProviderTxnID: p.BankReference,
		Raw: map[string]string{
			"transaction_code": p.TransactionCode,
			"bank_reference":   p.BankReference,
		},
	}, nil
}

type ackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WriteAck responds to the back-office confirmation
func (a *Adapter) WriteAck(w http.ResponseWriter, outcome providers.AckOutcome) {
	w.Header().Set("Content-Type", "application/json")

	switch outcome {
	case providers.AckSuccess:
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ackResponse{Status: "confirmed"})
	case providers.AckAlreadyProcessed:
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(ackResponse{Status: "already_confirmed"})
	case providers.AckOrderNotFound:
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(ackResponse{Status: "error", Message: "transaction not found"})
	default:
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(ackResponse{Status: "error", Message: "confirmation rejected"})
	}
}
