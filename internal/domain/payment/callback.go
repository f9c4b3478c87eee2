package payment

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Wire keys of the return URL.
const (
	keyResponseCode      = "vnp_ResponseCode"
	keyTxnRef            = "vnp_TxnRef"
	keyAmount            = "vnp_Amount"
	keyTransactionStatus = "vnp_TransactionStatus"
	keyBankCode          = "vnp_BankCode"
	keyBankTranNo        = "vnp_BankTranNo"
	keyTransactionNo     = "vnp_TransactionNo"
	keyPayDate           = "vnp_PayDate"
	keyOrderInfo         = "vnp_OrderInfo"
	keySecureHash        = "vnp_SecureHash"
	keySecureHashType    = "vnp_SecureHashType"
)

var requiredKeys = []string{keyResponseCode, keyTxnRef, keyAmount, keyTransactionStatus}

var (
	// ErrParse matches every *ParseError.
	ErrParse = errors.New("invalid payment callback")
	// ErrInvalidSignature is wrapped by a ParseError when vnp_SecureHash does
	// not match the callback fields.
	ErrInvalidSignature = errors.New("invalid callback signature")
)

// ParseError reports a return URL that cannot be trusted or understood.
type ParseError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "invalid payment callback"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func (e *ParseError) Unwrap() error { return e.Err }

// Callback is the transaction outcome carried by a return URL. Amount is in
// the gateway scale (VND × AmountScale).
type Callback struct {
	OrderRef          string
	ResponseCode      string
	TransactionStatus string
	Amount            int64
	BankCode          string
	BankTranNo        string
	TransactionNo     string
	PayDate           string
	OrderInfo         string
	RawQuery          string
}

// Succeeded reports whether the gateway declared success.
func (c *Callback) Succeeded() bool {
	return c.ResponseCode == SuccessCode
}

// PaidAt parses PayDate in the gateway's time zone.
func (c *Callback) PaidAt() (time.Time, error) {
	return time.ParseInLocation(dateLayout, c.PayDate, vnTime)
}

// ParseCallback extracts the transaction outcome from a return URL. Unknown
// query keys are ignored. The secure hash is verified before any field is
// trusted unless the gateway was configured to allow unsigned callbacks.
func (g *Gateway) ParseCallback(raw string) (*Callback, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ParseError{Reason: "malformed url", Err: err}
	}
	if !g.matchesReturn(u) {
		return nil, &ParseError{Reason: fmt.Sprintf("not a return address: %s://%s%s", u.Scheme, u.Host, u.Path)}
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, &ParseError{Reason: "malformed query", Err: err}
	}
	for _, key := range requiredKeys {
		if q.Get(key) == "" {
			return nil, &ParseError{Field: key, Reason: "missing"}
		}
	}
	amount, err := strconv.ParseInt(q.Get(keyAmount), 10, 64)
	if err != nil || amount < 0 {
		return nil, &ParseError{Field: keyAmount, Reason: fmt.Sprintf("not a valid amount %q", q.Get(keyAmount))}
	}
	if !g.cfg.AllowUnsigned || g.cfg.HashSecret != "" {
		if err := verify(g.cfg.HashSecret, q); err != nil {
			return nil, &ParseError{Field: keySecureHash, Reason: "verification failed", Err: err}
		}
	}

	return &Callback{
		OrderRef:          q.Get(keyTxnRef),
		ResponseCode:      q.Get(keyResponseCode),
		TransactionStatus: q.Get(keyTransactionStatus),
		Amount:            amount,
		BankCode:          q.Get(keyBankCode),
		BankTranNo:        q.Get(keyBankTranNo),
		TransactionNo:     q.Get(keyTransactionNo),
		PayDate:           q.Get(keyPayDate),
		OrderInfo:         q.Get(keyOrderInfo),
		RawQuery:          u.RawQuery,
	}, nil
}

func (g *Gateway) matchesReturn(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, g.returnURL.Scheme) &&
		strings.EqualFold(u.Host, g.returnURL.Host) &&
		trimPath(u.Path) == trimPath(g.returnURL.Path)
}

func trimPath(p string) string {
	return strings.TrimSuffix(p, "/")
}

// verify recomputes the HMAC over every vnp_ field except the hash fields.
func verify(secret string, q url.Values) error {
	got, err := hex.DecodeString(q.Get(keySecureHash))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}

	signed := url.Values{}
	for k, vs := range q {
		if !strings.HasPrefix(k, "vnp_") || k == keySecureHash || k == keySecureHashType {
			continue
		}
		signed[k] = vs
	}
	want, err := hex.DecodeString(sign(secret, signed.Encode()))
	if err != nil {
		return errors.Wrap(err, "decode signature")
	}
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}
