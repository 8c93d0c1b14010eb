package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COMMISSION_PCT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STRIPE_SECRET_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, "10", cfg.CommissionPct.String())
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, 7*24*time.Hour, cfg.OfferDefaultTTL)
}

func TestLoad_CommissionOverride(t *testing.T) {
	t.Setenv("COMMISSION_PCT", "7.5")
	t.Setenv("STRIPE_SECRET_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7.5", cfg.CommissionPct.String())
}

func TestLoad_InvalidCommission(t *testing.T) {
	t.Setenv("COMMISSION_PCT", "banana")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_CommissionRange(t *testing.T) {
	t.Setenv("COMMISSION_PCT", "150")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_StripeNeedsWebhookSecret(t *testing.T) {
	t.Setenv("COMMISSION_PCT", "10")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk_test_123", cfg.StripeSecretKey)
}

func TestValidate_ProductionNeedsAdminSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("ADMIN_SECRET", "")
	t.Setenv("STRIPE_SECRET_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}
