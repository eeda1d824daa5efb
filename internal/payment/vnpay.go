package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/cinema-ticketing/internal/model"
)

const vnpVersion = "2.1.0"

// vnpLocation is the zone VNPay expects in vnp_CreateDate.
var vnpLocation = time.FixedZone("GMT+7", 7*3600)

// VNPayGateway builds HMAC-SHA512 signed redirects to the VNPay payment
// page and verifies the signed IPN and return queries.
type VNPayGateway struct {
	tmnCode    string
	hashSecret string
	payURL     string
	queryURL   string
	client     *http.Client
	now        func() time.Time
}

func NewVNPayGateway(tmnCode, hashSecret, payURL, queryURL string) (*VNPayGateway, error) {
	if tmnCode == "" || hashSecret == "" {
		return nil, errors.New("vnpay tmn code and hash secret are required")
	}
	if payURL == "" {
		return nil, errors.New("vnpay pay url is required")
	}
	return &VNPayGateway{
		tmnCode:    tmnCode,
		hashSecret: hashSecret,
		payURL:     payURL,
		queryURL:   queryURL,
		client:     &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}, nil
}

func (g *VNPayGateway) Rail() model.PaymentRail { return model.RailVNPay }

// Initiate signs the payment request.  The merchant transaction ref is the
// order code; amounts are sent in hundredths as VNPay requires.
func (g *VNPayGateway) Initiate(_ context.Context, c Checkout) (*Initiation, error) {
	now := g.now().In(vnpLocation)
	ip := c.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	params := url.Values{}
	params.Set("vnp_Version", vnpVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", g.tmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(c.Payment.Amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", c.Order.Code)
	params.Set("vnp_OrderInfo", "Thanh toan don hang "+c.Order.Code)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", c.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", now.Format("20060102150405"))
	params.Set("vnp_ExpireDate", now.Add(15*time.Minute).Format("20060102150405"))

	query := params.Encode()
	u := g.payURL + "?" + query + "&vnp_SecureHash=" + g.sign(query)
	return &Initiation{PaymentID: c.Payment.ID, Rail: model.RailVNPay, URL: u, GatewayRef: c.Order.Code}, nil
}

// VerifyCallback verifies an IPN query.
func (g *VNPayGateway) VerifyCallback(_ context.Context, cb Callback) (*Notification, error) {
	if err := g.verify(cb.Query); err != nil {
		return nil, err
	}
	return g.parse(cb.Query)
}

func (g *VNPayGateway) ReturnOrderCode(q url.Values) (string, error) {
	if err := g.verify(q); err != nil {
		return "", err
	}
	code := q.Get("vnp_TxnRef")
	if code == "" {
		return "", errors.New("missing vnp_TxnRef")
	}
	return code, nil
}

func (g *VNPayGateway) parse(q url.Values) (*Notification, error) {
	raw, err := strconv.ParseInt(q.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("vnpay: bad vnp_Amount: %w", err)
	}
	n := &Notification{
		Rail:           model.RailVNPay,
		OrderCode:      q.Get("vnp_TxnRef"),
		Amount:         raw / 100,
		TransactionRef: q.Get("vnp_TransactionNo"),
		GatewayRef:     q.Get("vnp_TxnRef"),
	}
	n.Outcome, n.Reason = vnpOutcome(q.Get("vnp_ResponseCode"), q.Get("vnp_TransactionStatus"))
	return n, nil
}

func vnpOutcome(response, status string) (Outcome, string) {
	switch {
	case response == "00" && (status == "" || status == "00"):
		return OutcomeSucceeded, ""
	case status == "01":
		return OutcomePending, ""
	case response == "24":
		return OutcomeFailed, "customer cancelled"
	default:
		return OutcomeFailed, fmt.Sprintf("vnpay response %s, status %s", response, status)
	}
}

type queryDRResponse struct {
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
}

// QueryStatus calls the querydr merchant API for the order's transaction.
func (g *VNPayGateway) QueryStatus(ctx context.Context, o *model.Order, p *model.Payment) (*Notification, error) {
	if g.queryURL == "" {
		return nil, errors.New("vnpay query url not configured")
	}
	now := g.now().In(vnpLocation)
	req := map[string]string{
		"vnp_RequestId":       strings.ReplaceAll(uuid.NewString(), "-", ""),
		"vnp_Version":         vnpVersion,
		"vnp_Command":         "querydr",
		"vnp_TmnCode":         g.tmnCode,
		"vnp_TxnRef":          o.Code,
		"vnp_OrderInfo":       "Truy van don hang " + o.Code,
		"vnp_TransactionDate": p.CreatedAt.In(vnpLocation).Format("20060102150405"),
		"vnp_CreateDate":      now.Format("20060102150405"),
		"vnp_IpAddr":          "127.0.0.1",
	}
	req["vnp_SecureHash"] = g.sign(strings.Join([]string{
		req["vnp_RequestId"], req["vnp_Version"], req["vnp_Command"], req["vnp_TmnCode"], req["vnp_TxnRef"],
		req["vnp_TransactionDate"], req["vnp_CreateDate"], req["vnp_IpAddr"], req["vnp_OrderInfo"],
	}, "|"))
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.queryURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("vnpay querydr: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vnpay querydr: http %d", resp.StatusCode)
	}
	var out queryDRResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("vnpay querydr: decode: %w", err)
	}
	if out.ResponseCode != "00" {
		return nil, fmt.Errorf("vnpay querydr: response %s %s", out.ResponseCode, out.Message)
	}
	raw, _ := strconv.ParseInt(out.Amount, 10, 64)
	n := &Notification{
		Rail:           model.RailVNPay,
		OrderCode:      o.Code,
		Amount:         raw / 100,
		TransactionRef: out.TransactionNo,
		GatewayRef:     out.TxnRef,
	}
	n.Outcome, n.Reason = vnpOutcome("00", out.TransactionStatus)
	return n, nil
}

// verify recomputes vnp_SecureHash over every other non-empty vnp_
// parameter, form-encoded in key order.
func (g *VNPayGateway) verify(q url.Values) error {
	got := q.Get("vnp_SecureHash")
	if got == "" {
		return ErrSignatureInvalid
	}
	signed := url.Values{}
	for k, v := range q {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		if len(v) > 0 && v[0] != "" {
			signed.Set(k, v[0])
		}
	}
	want := g.sign(signed.Encode())
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return ErrSignatureInvalid
	}
	return nil
}

func (g *VNPayGateway) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(g.hashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
