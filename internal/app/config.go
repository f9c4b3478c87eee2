package app

import (
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/aims-checkout/internal/catalog"
	"github.com/xenking/aims-checkout/internal/domain/payment"
	"github.com/xenking/aims-checkout/internal/domain/pricing"
	"github.com/xenking/aims-checkout/internal/events"
)

// Config holds the complete application configuration, loadable from
// environment variables (AIMS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (AIMS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Gateway     GatewayConfig
	Shipping    ShippingConfig
	Checkout    CheckoutConfig
	Catalog     CatalogConfig
	Events      EventsConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig

	// TrustedProxies lists the CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty means the peer address is the client.
	TrustedProxies []string `usage:"CIDRs of reverse proxies allowed to set forwarded client addresses"`
}

// GatewayConfig holds the VNPay merchant settings.
type GatewayConfig struct {
	PayURL     string        `default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html" usage:"VNPay payment page URL" flag:"gateway-pay-url"`
	TmnCode    string        `usage:"VNPay terminal code" flag:"gateway-tmn-code"`
	HashSecret string        `usage:"VNPay HMAC secret used to sign requests and verify callbacks" flag:"gateway-hash-secret"`
	ReturnURL  string        `default:"http://localhost:8080/payment/return" usage:"Absolute URL the gateway redirects back to" flag:"gateway-return-url"`
	Locale     string        `default:"vn" usage:"Payment page locale"`
	OrderType  string        `default:"other" usage:"VNPay order type"`
	Expire     time.Duration `default:"15m" usage:"Payment page validity"`

	AllowUnsignedCallbacks bool `default:"false" usage:"Accept unsigned callbacks when no hash secret is set (development only)" flag:"gateway-allow-unsigned-callbacks"`
}

// ShippingConfig holds the delivery fee tiers. Weights are decimal kilograms.
type ShippingConfig struct {
	MajorProvinces  []string `default:"Hà Nội,Hồ Chí Minh" usage:"Provinces billed at the inner-city tier"`
	MajorBaseFee    int64    `default:"22000" usage:"Inner-city base fee"`
	MajorBaseWeight string   `default:"3" usage:"Weight covered by the inner-city base fee"`
	OtherBaseFee    int64    `default:"30000" usage:"Base fee elsewhere"`
	OtherBaseWeight string   `default:"0.5" usage:"Weight covered by the base fee elsewhere"`
	StepFee         int64    `default:"2500" usage:"Fee per started step above the base weight"`
	StepWeight      string   `default:"0.5" usage:"Step size above the base weight"`
	MinFee          int64    `default:"22000" usage:"Shipping fee floor"`
	RushFeePerItem  int64    `default:"10000" usage:"Rush surcharge per unit"`
}

// CheckoutConfig controls invoice expiry.
type CheckoutConfig struct {
	PaymentTimeout time.Duration `default:"20m" usage:"How long an invoice may await the gateway callback; must outlast the payment page" flag:"payment-timeout"`
	SweepInterval  time.Duration `default:"1m" usage:"How often stale invoices are expired" flag:"sweep-interval"`
}

// CatalogConfig tunes the catalog circuit breakers.
type CatalogConfig struct {
	MaxRequests         uint32        `default:"1" usage:"Requests allowed while half-open"`
	Interval            time.Duration `default:"1m" usage:"Closed-state counter reset interval"`
	Timeout             time.Duration `default:"10s" usage:"Open-state duration"`
	ConsecutiveFailures uint32        `default:"5" usage:"Consecutive failures that open the breaker"`
}

// EventsConfig configures invoice event publishing. Publishing is disabled
// when no brokers are set.
type EventsConfig struct {
	Brokers      []string      `usage:"Kafka broker addresses"`
	Topic        string        `default:"aims.invoices" usage:"Kafka topic for invoice events"`
	WriteTimeout time.Duration `default:"10s" usage:"Kafka write timeout"`
	QueueSize    int           `default:"1024" usage:"Invoice events buffered ahead of Kafka"`
}

// RateLimitConfig controls the per-client sliding window rate limiter on
// checkout routes.
type RateLimitConfig struct {
	Max    int           `default:"20" usage:"Max checkout requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "AIMS",
		Files:     []string{"config.yaml", "/etc/aims/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// paymentTimeoutMargin is the minimum slack between the payment page expiry
// and the invoice timeout, on top of one sweep interval.
const paymentTimeoutMargin = time.Minute

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set AIMS_DATABASE_URL or DATABASE_URL")
	}
	if c.Gateway.TmnCode == "" {
		return errors.New("gateway terminal code is required: set AIMS_GATEWAY_TMN_CODE")
	}
	if c.Gateway.HashSecret == "" && !c.Gateway.AllowUnsignedCallbacks {
		return errors.New("gateway hash secret is required: set AIMS_GATEWAY_HASH_SECRET")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.Errorf("rate limit must be positive, got %d per %s", c.RateLimit.Max, c.RateLimit.Window)
	}
	if c.Checkout.SweepInterval <= 0 {
		return errors.Errorf("sweep interval must be positive, got %s", c.Checkout.SweepInterval)
	}
	if minTimeout := c.Gateway.Expire + c.Checkout.SweepInterval + paymentTimeoutMargin; c.Checkout.PaymentTimeout < minTimeout {
		return errors.Errorf("payment timeout %s must be at least %s (page expiry + sweep interval + %s)",
			c.Checkout.PaymentTimeout, minTimeout, paymentTimeoutMargin)
	}
	if _, err := c.Proxies(); err != nil {
		return err
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's AIMS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// Payment returns the gateway adapter settings.
func (c GatewayConfig) Payment() payment.Config {
	return payment.Config{
		PayURL:     c.PayURL,
		TmnCode:    c.TmnCode,
		HashSecret: c.HashSecret,
		ReturnURL:  c.ReturnURL,
		Locale:     c.Locale,
		OrderType:  c.OrderType,
		Expire:     c.Expire,

		AllowUnsigned: c.AllowUnsignedCallbacks,
	}
}

// Proxies parses TrustedProxies. Bare addresses are single-host prefixes.
func (c *Config) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "parse trusted proxy %q", raw)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parse trusted proxy %q", raw)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Pricing parses the tiers into a pricing.Config.
func (c ShippingConfig) Pricing() (pricing.Config, error) {
	weights := make([]decimal.Decimal, 3)
	for i, raw := range []string{c.MajorBaseWeight, c.OtherBaseWeight, c.StepWeight} {
		w, err := decimal.NewFromString(raw)
		if err != nil {
			return pricing.Config{}, errors.Wrapf(err, "parse shipping weight %q", raw)
		}
		if w.IsNegative() {
			return pricing.Config{}, errors.Errorf("shipping weight %q is negative", raw)
		}
		weights[i] = w
	}
	return pricing.Config{
		MajorProvinces:  c.MajorProvinces,
		MajorBaseFee:    c.MajorBaseFee,
		MajorBaseWeight: weights[0],
		OtherBaseFee:    c.OtherBaseFee,
		OtherBaseWeight: weights[1],
		StepFee:         c.StepFee,
		StepWeight:      weights[2],
		MinFee:          c.MinFee,
		RushFeePerItem:  c.RushFeePerItem,
	}, nil
}

// Breaker returns the catalog breaker settings.
func (c CatalogConfig) Breaker() catalog.BreakerConfig {
	return catalog.BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval,
		Timeout:             c.Timeout,
		ConsecutiveFailures: c.ConsecutiveFailures,
	}
}

// Kafka returns the publisher settings.
func (c EventsConfig) Kafka() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers:      c.Brokers,
		Topic:        c.Topic,
		WriteTimeout: c.WriteTimeout,
	}
}
