package vnpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cupcycle/internal/providers"
)

// Config holds VNPay configuration
type Config struct {
	PayURL     string        `envconfig:"VNPAY_PAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	TmnCode    string        `envconfig:"VNPAY_TMN_CODE" required:"true"`
	HashSecret string        `envconfig:"VNPAY_HASH_SECRET" required:"true"`
	ReturnURL  string        `envconfig:"VNPAY_RETURN_URL" required:"true"`
	OrderType  string        `envconfig:"VNPAY_ORDER_TYPE" default:"topup"`
	Expiry     time.Duration `envconfig:"VNPAY_EXPIRY" default:"15m"`
}

// Adapter implements the VNPay bank-redirect flow
type Adapter struct {
	cfg Config
	now func() time.Time
}

// NewAdapter creates a new VNPay adapter
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, now: time.Now}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "vnpay"
}

const dateLayout = "20060102150405"

// CreatePayment builds the signed redirect URL. VNPay carries VND
// multiplied by 100 on the wire.
func (a *Adapter) CreatePayment(_ context.Context, req providers.CreatePaymentRequest) (*providers.PaymentInstruction, error) {
	now := a.now().In(vnTimezone())

	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", a.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", req.TransactionCode)
	params.Set("vnp_OrderInfo", req.OrderInfo)
	params.Set("vnp_OrderType", a.cfg.OrderType)
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", a.cfg.ReturnURL)
	params.Set("vnp_IpAddr", req.ClientIP)
	params.Set("vnp_CreateDate", now.Format(dateLayout))
	params.Set("vnp_ExpireDate", now.Add(a.cfg.Expiry).Format(dateLayout))

	canonical := providers.CanonicalQuery(params)
	signature := providers.SignHMAC(providers.SHA512, a.cfg.HashSecret, canonical)

	return &providers.PaymentInstruction{
		Provider:    a.Name(),
		RedirectURL: fmt.Sprintf("%s?%s&vnp_SecureHash=%s", a.cfg.PayURL, canonical, signature),
	}, nil
}

// ParseCallback verifies a return or IPN request. The signature covers
// every vnp_ parameter except the hash fields, canonicalized exactly as
// on the outbound leg.
func (a *Adapter) ParseCallback(r *http.Request) (*providers.SettlementEvent, error) {
	query := r.URL.Query()

	signature := query.Get("vnp_SecureHash")
	if signature == "" {
		return nil, providers.ErrMalformedCallback
	}

	params := url.Values{}
	for k, vs := range query {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		if len(vs) > 0 {
			params.Set(k, vs[0])
		}
	}

	canonical := providers.CanonicalQuery(params)
	if !providers.VerifyHMAC(providers.SHA512, a.cfg.HashSecret, canonical, signature) {
		return nil, providers.ErrSignatureMismatch
	}

	wireAmount, err := strconv.ParseInt(query.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad vnp_Amount", providers.ErrMalformedCallback)
	}

	responseCode := query.Get("vnp_ResponseCode")

	event := &providers.SettlementEvent{
		ReferenceCode: query.Get("vnp_TxnRef"),
		Succeeded:     responseCode == "00",
		Amount:        wireAmount / 100,
		ProviderTxnID: query.Get("vnp_TransactionNo"),
		Raw:           flatten(params),
	}
	if !event.Succeeded {
		event.FailureReason = fmt.Sprintf("vnp_ResponseCode=%s", responseCode)
	}
	if event.ReferenceCode == "" {
		return nil, fmt.Errorf("%w: missing vnp_TxnRef", providers.ErrMalformedCallback)
	}

	return event, nil
}

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// WriteAck writes the IPN acknowledgment VNPay expects. "00" stops
// retries; "97" tells the gateway the checksum failed.
func (a *Adapter) WriteAck(w http.ResponseWriter, outcome providers.AckOutcome) {
	var resp ipnResponse
	switch outcome {
	case providers.AckSuccess:
		resp = ipnResponse{RspCode: "00", Message: "Confirm Success"}
	case providers.AckInvalidSignature:
		resp = ipnResponse{RspCode: "97", Message: "Invalid Checksum"}
	case providers.AckAlreadyProcessed:
		resp = ipnResponse{RspCode: "02", Message: "Order already confirmed"}
	case providers.AckOrderNotFound:
		resp = ipnResponse{RspCode: "01", Message: "Order not found"}
	default:
		resp = ipnResponse{RspCode: "99", Message: "Unknown error"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func vnTimezone() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

func flatten(values url.Values) map[string]string {
	m := make(map[string]string, len(values))
	for k := range values {
		m[k] = values.Get(k)
	}
	return m
}
