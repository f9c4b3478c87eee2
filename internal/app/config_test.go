package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/aims-checkout/internal/domain/pricing"
)

func TestShippingConfig_Pricing(t *testing.T) {
	cfg := ShippingConfig{
		MajorProvinces:  []string{"Hà Nội", "Hồ Chí Minh"},
		MajorBaseFee:    22_000,
		MajorBaseWeight: "3",
		OtherBaseFee:    30_000,
		OtherBaseWeight: "0.5",
		StepFee:         2_500,
		StepWeight:      "0.5",
		MinFee:          22_000,
		RushFeePerItem:  10_000,
	}

	got, err := cfg.Pricing()
	require.NoError(t, err)

	want := pricing.DefaultConfig()
	assert.Equal(t, want.MajorProvinces, got.MajorProvinces)
	assert.Equal(t, want.MajorBaseFee, got.MajorBaseFee)
	assert.True(t, want.MajorBaseWeight.Equal(got.MajorBaseWeight))
	assert.True(t, want.OtherBaseWeight.Equal(got.OtherBaseWeight))
	assert.True(t, want.StepWeight.Equal(got.StepWeight))
	assert.Equal(t, want.RushFeePerItem, got.RushFeePerItem)

	cfg.StepWeight = "half"
	_, err = cfg.Pricing()
	require.Error(t, err)

	cfg.StepWeight = "-1"
	_, err = cfg.Pricing()
	require.Error(t, err)
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/aims")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/aims", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	// Explicit settings win.
	cfg = Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/aims"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/aims", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestSubConfigs(t *testing.T) {
	gw := GatewayConfig{
		PayURL:     "https://pay.example/vpcpay.html",
		TmnCode:    "AIMS0001",
		HashSecret: "secret",
		ReturnURL:  "http://localhost:8080/payment/return",
		Expire:     10 * time.Minute,
	}.Payment()
	assert.Equal(t, "AIMS0001", gw.TmnCode)
	assert.Equal(t, 10*time.Minute, gw.Expire)
	assert.False(t, gw.AllowUnsigned)

	br := CatalogConfig{MaxRequests: 2, Timeout: time.Second, ConsecutiveFailures: 7}.Breaker()
	assert.Equal(t, uint32(7), br.ConsecutiveFailures)
	assert.Equal(t, time.Second, br.Timeout)

	kc := EventsConfig{Brokers: []string{"kafka:9092"}, Topic: "aims.invoices"}.Kafka()
	assert.Equal(t, []string{"kafka:9092"}, kc.Brokers)
	assert.Equal(t, "aims.invoices", kc.Topic)
}

func validConfig() Config {
	return Config{
		DatabaseURL: "postgres://localhost/aims",
		Gateway: GatewayConfig{
			TmnCode:    "AIMS0001",
			HashSecret: "secret",
			Expire:     15 * time.Minute,
		},
		Checkout:  CheckoutConfig{PaymentTimeout: 20 * time.Minute, SweepInterval: time.Minute},
		RateLimit: RateLimitConfig{Max: 20, Window: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL"},
		{name: "missing terminal code", mutate: func(c *Config) { c.Gateway.TmnCode = "" }, wantErr: "AIMS_GATEWAY_TMN_CODE"},
		{name: "missing hash secret", mutate: func(c *Config) { c.Gateway.HashSecret = "" }, wantErr: "AIMS_GATEWAY_HASH_SECRET"},
		{
			name: "unsigned callbacks opted in",
			mutate: func(c *Config) {
				c.Gateway.HashSecret = ""
				c.Gateway.AllowUnsignedCallbacks = true
			},
		},
		{name: "zero rate window", mutate: func(c *Config) { c.RateLimit.Window = 0 }, wantErr: "rate limit"},
		{name: "negative rate max", mutate: func(c *Config) { c.RateLimit.Max = -1 }, wantErr: "rate limit"},
		{name: "zero sweep interval", mutate: func(c *Config) { c.Checkout.SweepInterval = 0 }, wantErr: "sweep interval"},
		{name: "timeout equals page expiry", mutate: func(c *Config) { c.Checkout.PaymentTimeout = 15 * time.Minute }, wantErr: "payment timeout"},
		{name: "timeout within sweep jitter", mutate: func(c *Config) { c.Checkout.PaymentTimeout = 16 * time.Minute }, wantErr: "payment timeout"},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/33"} }, wantErr: "trusted proxy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Proxies(t *testing.T) {
	cfg := Config{TrustedProxies: []string{"10.1.2.3/8", "192.168.0.10", "::1"}}
	got, err := cfg.Proxies()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "192.168.0.10/32", got[1].String())
	assert.Equal(t, "::1/128", got[2].String())

	cfg.TrustedProxies = []string{"proxy.internal"}
	_, err = cfg.Proxies()
	require.Error(t, err)
}
