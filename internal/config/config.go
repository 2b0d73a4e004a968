package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

type Config struct {
	Port int `env:"PORT,default=8080"`

	DatabaseURL    string `env:"DATABASE_URL,required"`
	TursoAuthToken string `env:"TURSO_AUTH_TOKEN"`
	TxMaxAttempts  int    `env:"TX_MAX_ATTEMPTS,default=3"`

	RedisURL       string        `env:"REDIS_URL"`
	ConfigCacheTTL time.Duration `env:"CONFIG_CACHE_TTL,default=30s"`

	TelegramToken        string `env:"TELEGRAM_TOKEN"`
	TelegramAdminChatIDs string `env:"TELEGRAM_ADMIN_CHAT_IDS"`

	SeedFile        string `env:"SEED_FILE"`
	SalesCutoffCron string `env:"SALES_CUTOFF_CRON"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	ReserveRatePerSec float64 `env:"RESERVE_RATE_PER_SEC,default=5"`
	ReserveBurst      int     `env:"RESERVE_BURST,default=10"`
	AllowedOrigins    string  `env:"ALLOWED_ORIGINS,default=*"`
}

// Load reads .env when present and decodes the environment. A variable
// that is set but does not parse is an error, never a silent default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.StrictDecode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}
	if cfg.TxMaxAttempts < 1 {
		return nil, fmt.Errorf("TX_MAX_ATTEMPTS must be >= 1, got %d", cfg.TxMaxAttempts)
	}
	if _, err := cfg.AdminChatIDs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AdminChatIDs parses TELEGRAM_ADMIN_CHAT_IDS, a comma separated list.
func (c *Config) AdminChatIDs() ([]int64, error) {
	var ids []int64
	for _, part := range strings.FieldsFunc(c.TelegramAdminChatIDs, func(r rune) bool { return r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(c.LogFormat) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	return log, nil
}

// Seed is the initial configuration written the first time the
// configuration row is created.
type Seed struct {
	DrawDate           string          `yaml:"drawDate"`
	DrawCorrelative    int64           `yaml:"drawCorrelative"`
	TicketPriceUSD     float64         `yaml:"ticketPriceUsd"`
	USDRate            float64         `yaml:"usdRate"`
	PageBlocked        bool            `yaml:"pageBlocked"`
	BlockReasonMessage string          `yaml:"blockReasonMessage"`
	Schedule           []string        `yaml:"zuliaSchedule"`
	AdminContacts      models.Contacts `yaml:"adminContacts"`
	MailConfig         map[string]any  `yaml:"mailConfig"`
}

// LoadSeed reads a YAML seed file into a configuration.
func LoadSeed(path string) (*models.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return seed.Configuration()
}

func (s *Seed) Configuration() (*models.Configuration, error) {
	cfg := models.DefaultConfiguration()

	if s.DrawDate != "" {
		if _, err := time.Parse(time.DateOnly, s.DrawDate); err != nil {
			return nil, fmt.Errorf("seed drawDate %q is not YYYY-MM-DD", s.DrawDate)
		}
		d := s.DrawDate
		cfg.DrawDate = &d
	}
	if s.DrawCorrelative < 0 {
		return nil, errors.New("seed drawCorrelative must be positive")
	}
	if s.DrawCorrelative > 0 {
		cfg.DrawCorrelative = s.DrawCorrelative
	}
	if s.TicketPriceUSD < 0 || s.USDRate < 0 {
		return nil, errors.New("seed price and rate must not be negative")
	}
	if s.TicketPriceUSD > 0 {
		cfg.TicketPriceUSD = s.TicketPriceUSD
	}
	cfg.USDRate = s.USDRate
	cfg.PageBlocked = s.PageBlocked
	cfg.BlockReasonMessage = s.BlockReasonMessage

	seen := make(map[string]struct{}, len(s.Schedule))
	for _, slot := range s.Schedule {
		slot = strings.TrimSpace(slot)
		if slot == "" {
			return nil, errors.New("seed schedule has a blank slot")
		}
		if _, dup := seen[slot]; dup {
			return nil, fmt.Errorf("seed schedule repeats slot %q", slot)
		}
		seen[slot] = struct{}{}
		cfg.Schedule = append(cfg.Schedule, slot)
	}

	cfg.AdminContacts = s.AdminContacts
	for k, v := range s.MailConfig {
		cfg.MailConfig[k] = v
	}
	return cfg, nil
}
