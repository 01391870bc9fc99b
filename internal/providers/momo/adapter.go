package momo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"cupcycle/internal/providers"
)

// Config holds MoMo configuration
type Config struct {
	Endpoint    string        `envconfig:"MOMO_ENDPOINT" default:"https://test-payment.momo.vn/v2/gateway/api/create"`
	PartnerCode string        `envconfig:"MOMO_PARTNER_CODE" required:"true"`
	AccessKey   string        `envconfig:"MOMO_ACCESS_KEY" required:"true"`
	SecretKey   string        `envconfig:"MOMO_SECRET_KEY" required:"true"`
	RedirectURL string        `envconfig:"MOMO_REDIRECT_URL" required:"true"`
	IPNURL      string        `envconfig:"MOMO_IPN_URL" required:"true"`
	Timeout     time.Duration `envconfig:"MOMO_TIMEOUT" default:"10s"`
}

// Adapter implements the MoMo e-wallet flow
type Adapter struct {
	cfg        Config
	httpClient *http.Client
}

// NewAdapter creates a new MoMo adapter
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "momo"
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type createResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	PayURL     string `json:"payUrl"`
}

// CreatePayment calls the MoMo create endpoint and returns the payment
// URL. The request signature is an HMAC-SHA256 over a fixed-order raw
// string, not a sorted query.
func (a *Adapter) CreatePayment(ctx context.Context, req providers.CreatePaymentRequest) (*providers.PaymentInstruction, error) {
	requestID := ulid.Make().String()

	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		a.cfg.AccessKey, req.Amount, "", a.cfg.IPNURL, req.TransactionCode,
		req.OrderInfo, a.cfg.PartnerCode, a.cfg.RedirectURL, requestID, "captureWallet",
	)

	body := createRequest{
		PartnerCode: a.cfg.PartnerCode,
		AccessKey:   a.cfg.AccessKey,
		RequestID:   requestID,
		Amount:      req.Amount,
		OrderID:     req.TransactionCode,
		OrderInfo:   req.OrderInfo,
		RedirectURL: a.cfg.RedirectURL,
		IPNURL:      a.cfg.IPNURL,
		ExtraData:   "",
		RequestType: "captureWallet",
		Lang:        "vi",
		Signature:   providers.SignHMAC(providers.SHA256, a.cfg.SecretKey, raw),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling create request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling momo: %w", err)
	}
	defer resp.Body.Close()

	var created createResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decoding momo response: %w", err)
	}

	if created.ResultCode != 0 {
		return nil, fmt.Errorf("momo create failed: %d %s", created.ResultCode, created.Message)
	}

	return &providers.PaymentInstruction{
		Provider:    a.Name(),
		RedirectURL: created.PayURL,
	}, nil
}

type ipnPayload struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// ParseCallback verifies a MoMo IPN. The IPN signature covers a fixed
// field order that differs from the create request's.
func (a *Adapter) ParseCallback(r *http.Request) (*providers.SettlementEvent, error) {
	var p ipnPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedCallback, err)
	}
	if p.OrderID == "" {
		return nil, fmt.Errorf("%w: missing orderId", providers.ErrMalformedCallback)
	}

	raw := fmt.Sprintf(
		"accessKey=%s&amount=%d&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%d&resultCode=%d&transId=%d",
		a.cfg.AccessKey, p.Amount, p.ExtraData, p.Message, p.OrderID, p.OrderInfo,
		p.OrderType, p.PartnerCode, p.PayType, p.RequestID, p.ResponseTime,
		p.ResultCode, p.TransID,
	)

	if !providers.VerifyHMAC(providers.SHA256, a.cfg.SecretKey, raw, p.Signature) {
		return nil, providers.ErrSignatureMismatch
	}

	event := &providers.SettlementEvent{
		ReferenceCode: p.OrderID,
		Succeeded:     p.ResultCode == 0,
		Amount:        p.Amount,
		ProviderTxnID: strconv.FormatInt(p.TransID, 10),
		Raw: map[string]string{
			"orderId":    p.OrderID,
			"requestId":  p.RequestID,
			"resultCode": strconv.Itoa(p.ResultCode),
			"message":    p.Message,
		},
	}
	if !event.Succeeded {
		event.FailureReason = fmt.Sprintf("resultCode=%d %s", p.ResultCode, p.Message)
	}

	return event, nil
}

type ackResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

// WriteAck acknowledges a MoMo IPN. Non-zero codes make the gateway
// retry delivery; the settlement claim makes redelivery safe.
func (a *Adapter) WriteAck(w http.ResponseWriter, outcome providers.AckOutcome) {
	var resp ackResponse
	switch outcome {
	case providers.AckSuccess, providers.AckAlreadyProcessed:
		resp = ackResponse{ResultCode: 0, Message: "success"}
	case providers.AckInvalidSignature:
		resp = ackResponse{ResultCode: 97, Message: "invalid signature"}
	case providers.AckOrderNotFound:
		resp = ackResponse{ResultCode: 1, Message: "order not found"}
	default:
		resp = ackResponse{ResultCode: 99, Message: "internal error"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
