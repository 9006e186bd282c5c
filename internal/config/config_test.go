package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("DB_CONN", "postgres://u:p@db:5432/finpay?sslmode=disable")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 5, cfg.DBMaxOpenConns)
	assert.Equal(t, 10*time.Second, cfg.OperationTimeout)
	assert.True(t, cfg.EnforceFunds)
	assert.Equal(t, []int64{11, 12, 13}, cfg.UtilityMerchantIDs)
	assert.Equal(t, "0001", cfg.BranchCode)
	assert.False(t, cfg.SMTPEnabled())
}

func TestNewConfigOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENFORCE_FUNDS", "false")
	t.Setenv("UTILITY_MERCHANT_IDS", " 21, 22 ,")
	t.Setenv("DB_STATEMENT_TIMEOUT", "750ms")
	t.Setenv("SMTP_HOST", "smtp.example.com")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.False(t, cfg.EnforceFunds)
	assert.Equal(t, []int64{21, 22}, cfg.UtilityMerchantIDs)
	assert.Equal(t, 750*time.Millisecond, cfg.DBStatementTimeout)
	assert.True(t, cfg.SMTPEnabled())
}

func TestNewConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad int", "DB_MAX_OPEN_CONNS", "many"},
		{"zero pool", "DB_MAX_OPEN_CONNS", "0"},
		{"bad duration", "OPERATION_TIMEOUT", "soon"},
		{"bad bool", "ENFORCE_FUNDS", "maybe"},
		{"bad merchant list", "UTILITY_MERCHANT_IDS", "11,x"},
		{"unknown driver", "STORE_DRIVER", "mysql"},
		{"empty secret", "JWT_SECRET", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := NewConfig()
			assert.Error(t, err)
		})
	}
}
