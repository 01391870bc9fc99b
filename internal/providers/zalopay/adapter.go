package zalopay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cupcycle/internal/providers"
)

// Config holds ZaloPay configuration. Key1 signs outbound orders,
// Key2 verifies callbacks.
type Config struct {
	Endpoint string        `envconfig:"ZALOPAY_ENDPOINT" default:"https://sb-openapi.zalopay.vn/v2/create"`
	AppID    int           `envconfig:"ZALOPAY_APP_ID" required:"true"`
	Key1     string        `envconfig:"ZALOPAY_KEY1" required:"true"`
	Key2     string        `envconfig:"ZALOPAY_KEY2" required:"true"`
	AppUser  string        `envconfig:"ZALOPAY_APP_USER" default:"cupcycle"`
	Timeout  time.Duration `envconfig:"ZALOPAY_TIMEOUT" default:"10s"`
}

// Adapter implements the ZaloPay e-wallet flow
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewAdapter creates a new ZaloPay adapter
func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		now: time.Now,
	}
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return "zalopay"
}

type createResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
}

// CreatePayment posts a signed order. ZaloPay requires app_trans_id to
// start with the current date as yymmdd; the transaction code rides
// after the underscore and comes back in the callback.
func (a *Adapter) CreatePayment(ctx context.Context, req providers.CreatePaymentRequest) (*providers.PaymentInstruction, error) {
	now := a.now()
	appTransID := fmt.Sprintf("%s_%s", now.Format("060102"), req.TransactionCode)
	appTime := now.UnixMilli()

	embed, err := json.Marshal(map[string]string{"redirecturl": req.ReturnURL})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed_data: %w", err)
	}
	item := "[]"

	// mac covers app_id|app_trans_id|app_user|amount|app_time|embed_data|item
	data := fmt.Sprintf("%d|%s|%s|%d|%d|%s|%s",
		a.cfg.AppID, appTransID, a.cfg.AppUser, req.Amount, appTime, embed, item)

	form := url.Values{}
	form.Set("app_id", strconv.Itoa(a.cfg.AppID))
	form.Set("app_trans_id", appTransID)
	form.Set("app_user", a.cfg.AppUser)
	form.Set("app_time", strconv.FormatInt(appTime, 10))
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("item", item)
	form.Set("embed_data", string(embed))
	form.Set("description", req.OrderInfo)
	form.Set("mac", providers.SignHMAC(providers.SHA256, a.cfg.Key1, data))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling zalopay: %w", err)
	}
	defer resp.Body.Close()

	var created createResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decoding zalopay response: %w", err)
	}

	if created.ReturnCode != 1 {
		return nil, fmt.Errorf("zalopay create failed: %d %s", created.ReturnCode, created.ReturnMessage)
	}

	return &providers.PaymentInstruction{
		Provider:    a.Name(),
		RedirectURL: created.OrderURL,
	}, nil
}

type callbackEnvelope struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

type callbackData struct {
	AppID      int    `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	AppUser    string `json:"app_user"`
	Amount     int64  `json:"amount"`
	AppTime    int64  `json:"app_time"`
	ZpTransID  int64  `json:"zp_trans_id"`
	Channel    int    `json:"channel"`
}

// ParseCallback verifies the {data, mac} envelope with key2 and decodes
// the inner order. ZaloPay only delivers callbacks for paid orders, so
// a verified callback is always a success.
func (a *Adapter) ParseCallback(r *http.Request) (*providers.SettlementEvent, error) {
	var env callbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedCallback, err)
	}
	if env.Data == "" || env.Mac == "" {
		return nil, fmt.Errorf("%w: missing data or mac", providers.ErrMalformedCallback)
	}

	if !providers.VerifyHMAC(providers.SHA256, a.cfg.Key2, env.Data, env.Mac) {
		return nil, providers.ErrSignatureMismatch
	}

	var data callbackData
	if err := json.Unmarshal([]byte(env.Data), &data); err != nil {
		return nil, fmt.Errorf("%w: bad inner data", providers.ErrMalformedCallback)
	}

	// strip the yymmdd_ prefix to recover the transaction code
	reference := data.AppTransID
	if idx := strings.Index(reference, "_"); idx >= 0 {
		reference = reference[idx+1:]
	}
	if reference == "" {
		return nil, fmt.Errorf("%w: missing app_trans_id", providers.ErrMalformedCallback)
	}

	return &providers.SettlementEvent{
		ReferenceCode: reference,
		Succeeded:     true,
		Amount:        data.Amount,
		ProviderTxnID: strconv.FormatInt(data.ZpTransID, 10),
		Raw: map[string]string{
			"app_trans_id": data.AppTransID,
			"zp_trans_id":  strconv.FormatInt(data.ZpTransID, 10),
		},
	}, nil
}

type ackResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

// WriteAck acknowledges a ZaloPay callback. 1 stops delivery, -1 asks
// for a retry, 2 reports a bad mac and stops delivery.
func (a *Adapter) WriteAck(w http.ResponseWriter, outcome providers.AckOutcome) {
	var resp ackResponse
	switch outcome {
	case providers.AckSuccess, providers.AckAlreadyProcessed:
		resp = ackResponse{ReturnCode: 1, ReturnMessage: "success"}
	case providers.AckInvalidSignature:
		resp = ackResponse{ReturnCode: 2, ReturnMessage: "invalid mac"}
	default:
		resp = ackResponse{ReturnCode: -1, ReturnMessage: "retry later"}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
