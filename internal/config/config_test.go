package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:rifas.db")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 3, cfg.TxMaxAttempts)
	require.Equal(t, 30*time.Second, cfg.ConfigCacheTTL)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 5.0, cfg.ReserveRatePerSec)
	require.Equal(t, 10, cfg.ReserveBurst)
	require.Equal(t, []string{"*"}, cfg.Origins())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/rifas")
	t.Setenv("PORT", "9090")
	t.Setenv("TX_MAX_ATTEMPTS", "7")
	t.Setenv("CONFIG_CACHE_TTL", "2m")
	t.Setenv("TELEGRAM_ADMIN_CHAT_IDS", "123, -456;789")
	t.Setenv("ALLOWED_ORIGINS", "https://rifas.example.com, http://localhost:3000")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 7, cfg.TxMaxAttempts)
	require.Equal(t, 2*time.Minute, cfg.ConfigCacheTTL)
	require.Equal(t, []string{"https://rifas.example.com", "http://localhost:3000"}, cfg.Origins())

	ids, err := cfg.AdminChatIDs()
	require.NoError(t, err)
	require.Equal(t, []int64{123, -456, 789}, ids)
}

func TestLoadRejectsBadEnvironment(t *testing.T) {
	tests := map[string]map[string]string{
		"missing database": {"DATABASE_URL": ""},
		"zero attempts":    {"DATABASE_URL": "file:x.db", "TX_MAX_ATTEMPTS": "0"},
		"bad chat id":      {"DATABASE_URL": "file:x.db", "TELEGRAM_ADMIN_CHAT_IDS": "12,abc"},
		"bad port":         {"DATABASE_URL": "file:x.db", "PORT": "eighty"},
		"bad cache ttl":    {"DATABASE_URL": "file:x.db", "CONFIG_CACHE_TTL": "soon"},
		"bad burst":        {"DATABASE_URL": "file:x.db", "RESERVE_BURST": "ten"},
		"bad rate":         {"DATABASE_URL": "file:x.db", "RESERVE_RATE_PER_SEC": "fast"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "debug", LogFormat: "json"}
	log, err := cfg.NewLogger()
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = (&Config{LogLevel: "loud"}).NewLogger()
	require.Error(t, err)
	_, err = (&Config{LogLevel: "info", LogFormat: "xml"}).NewLogger()
	require.Error(t, err)
}

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	path := writeSeed(t, `
drawDate: "2025-01-15"
drawCorrelative: 12
ticketPriceUsd: 2.5
usdRate: 36.4
zuliaSchedule:
  - "12:00 PM"
  - "4:00 PM"
  - "7:00 PM"
adminContacts:
  phones: ["+584140000000"]
  telegramChatIds: [1234]
mailConfig:
  host: smtp.example.com
  port: 587
`)

	cfg, err := LoadSeed(path)
	require.NoError(t, err)
	require.Equal(t, "2025-01-15", *cfg.DrawDate)
	require.Equal(t, int64(12), cfg.DrawCorrelative)
	require.Equal(t, int64(0), cfg.LastTicketNumber)
	require.Equal(t, 2.5, cfg.TicketPriceUSD)
	require.Equal(t, 36.4, cfg.USDRate)
	require.Len(t, cfg.Schedule, 3)
	require.Equal(t, []int64{1234}, cfg.AdminContacts.TelegramChatIDs)
	require.Equal(t, "smtp.example.com", cfg.MailConfig["host"])
}

func TestLoadSeedDefaults(t *testing.T) {
	cfg, err := LoadSeed(writeSeed(t, "usdRate: 40\n"))
	require.NoError(t, err)
	require.Nil(t, cfg.DrawDate)
	require.Equal(t, int64(1), cfg.DrawCorrelative)
	require.Equal(t, 1.0, cfg.TicketPriceUSD)
}

func TestLoadSeedRejectsInvalid(t *testing.T) {
	bodies := map[string]string{
		"bad date":       `drawDate: "15/01/2025"`,
		"negative draw":  `drawCorrelative: -1`,
		"negative rate":  `usdRate: -3`,
		"repeated slot":  "zuliaSchedule: [\"12:00 PM\", \"12:00 PM\"]",
		"blank slot":     "zuliaSchedule: [\" \"]",
		"malformed yaml": "zuliaSchedule: [",
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSeed(writeSeed(t, body))
			require.Error(t, err)
		})
	}

	_, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
