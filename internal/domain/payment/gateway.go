// Package payment adapts the VNPay redirect protocol: it builds signed payment
// request URLs and parses the return URL the gateway sends the customer back
// to.
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/aims-checkout/internal/domain/invoice"
)

// AmountScale converts VND to the gateway amount field, which carries two
// implied decimal places.
const AmountScale = 100

// SuccessCode is the only vnp_ResponseCode that denotes a successful payment.
const SuccessCode = "00"

const dateLayout = "20060102150405"

// vnTime is the gateway's clock (GMT+7).
var vnTime = time.FixedZone("ICT", 7*60*60)

// ErrInvalidAmount is returned when an invoice total cannot be charged.
var ErrInvalidAmount = errors.New("invoice amount must be positive")

// Config holds the merchant settings issued by VNPay.
type Config struct {
	PayURL     string
	TmnCode    string
	HashSecret string
	ReturnURL  string
	Version    string
	Locale     string
	OrderType  string
	CurrCode   string
	// Expire is how long the payment page stays valid.
	Expire time.Duration
	// AllowUnsigned accepts an empty HashSecret, in which case return URLs
	// are not verified. Only for local development against a stub gateway.
	AllowUnsigned bool
}

// GatewayAmount converts a VND total to the gateway amount field.
func GatewayAmount(total int64) int64 {
	return total * AmountScale
}

// Gateway builds and parses VNPay URLs. It performs no I/O.
type Gateway struct {
	cfg       Config
	returnURL *url.URL
	now       func() time.Time
}

// NewGateway validates cfg and returns a Gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.PayURL == "" {
		return nil, errors.New("payment URL is required")
	}
	if cfg.TmnCode == "" {
		return nil, errors.New("terminal code is required")
	}
	if cfg.HashSecret == "" && !cfg.AllowUnsigned {
		return nil, errors.New("hash secret is required to verify callbacks")
	}
	ret, err := url.Parse(cfg.ReturnURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse return URL")
	}
	if ret.Scheme == "" || ret.Host == "" {
		return nil, errors.Errorf("return URL %q must be absolute", cfg.ReturnURL)
	}
	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}
	if cfg.CurrCode == "" {
		cfg.CurrCode = "VND"
	}
	if cfg.Expire <= 0 {
		cfg.Expire = 15 * time.Minute
	}
	return &Gateway{cfg: cfg, returnURL: ret, now: time.Now}, nil
}

// ReturnURL returns the address the gateway redirects back to.
func (g *Gateway) ReturnURL() string {
	return g.returnURL.String()
}

// BuildPaymentRequestURL maps an invoice to a signed payment page URL. The
// order reference is the invoice ID and the amount is the invoice total.
func (g *Gateway) BuildPaymentRequestURL(inv *invoice.Invoice, clientIP string) (string, error) {
	if inv.TotalAmount <= 0 {
		return "", ErrInvalidAmount
	}
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	now := g.now().In(vnTime)

	v := url.Values{}
	v.Set("vnp_Version", g.cfg.Version)
	v.Set("vnp_Command", "pay")
	v.Set("vnp_TmnCode", g.cfg.TmnCode)
	v.Set("vnp_Amount", strconv.FormatInt(GatewayAmount(inv.TotalAmount), 10))
	v.Set("vnp_CurrCode", g.cfg.CurrCode)
	v.Set("vnp_TxnRef", inv.ID)
	v.Set("vnp_OrderInfo", "Thanh toan hoa don AIMS "+inv.ID)
	v.Set("vnp_OrderType", g.cfg.OrderType)
	v.Set("vnp_Locale", g.cfg.Locale)
	v.Set("vnp_ReturnUrl", g.returnURL.String())
	v.Set("vnp_IpAddr", clientIP)
	v.Set("vnp_CreateDate", now.Format(dateLayout))
	v.Set("vnp_ExpireDate", now.Add(g.cfg.Expire).Format(dateLayout))

	// Encode sorts by key, which is the canonical form VNPay signs.
	query := v.Encode()
	return g.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + sign(g.cfg.HashSecret, query), nil
}

func sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
