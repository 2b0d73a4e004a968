package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

// Store is the persistence the services run on. *db.Store implements it.
type Store interface {
	db.Queries
	WithTransaction(ctx context.Context, fn func(q db.Queries) error) error
}

// Registry owns the single configuration row.
type Registry struct {
	store Store
	cache ConfigCache
	seed  *models.Configuration
	log   logrus.FieldLogger
}

// NewRegistry builds a registry. seed, when non-nil, is used instead of the
// built-in defaults the first time the row is created.
func NewRegistry(store Store, cache ConfigCache, seed *models.Configuration, log logrus.FieldLogger) *Registry {
	if cache == nil {
		cache = NewMemoryCache(30 * time.Second)
	}
	return &Registry{store: store, cache: cache, seed: seed, log: log}
}

// Get returns the current configuration, creating it on first access.
func (r *Registry) Get(ctx context.Context) (*models.Configuration, error) {
	if cfg, ok := r.cache.Get(ctx); ok {
		return cfg, nil
	}

	gen, cacheable := r.cache.Generation(ctx)
	cfg, err := r.store.LoadConfiguration(ctx)
	if errors.Is(err, db.ErrNotFound) {
		err = r.store.WithTransaction(ctx, func(q db.Queries) error {
			var txErr error
			cfg, txErr = r.load(ctx, q)
			return txErr
		})
	}
	if err != nil {
		return nil, translate(r.log, "config.get", err)
	}

	if cacheable {
		r.cache.Set(ctx, cfg, gen)
	}
	return cfg.Clone(), nil
}

// load reads the configuration inside q, inserting the initial row if the
// table is empty.
func (r *Registry) load(ctx context.Context, q db.Queries) (*models.Configuration, error) {
	cfg, err := q.LoadConfiguration(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	initial := models.DefaultConfiguration()
	if r.seed != nil {
		initial = r.seed.Clone()
		initial.ID = 1
		initial.LastTicketNumber = 0
		if initial.DrawCorrelative < 1 {
			initial.DrawCorrelative = 1
		}
	}
	if err := q.InsertConfiguration(ctx, initial); err != nil {
		return nil, err
	}
	r.log.WithField("draw", initial.DrawCorrelative).Info("configuration created")
	return q.LoadConfiguration(ctx)
}

// Invalidate drops the cached configuration. Called after every write.
func (r *Registry) Invalidate(ctx context.Context) {
	r.cache.Invalidate(ctx)
}

// Update applies a partial override and returns the stored result.
func (r *Registry) Update(ctx context.Context, patch ConfigPatch) (*models.Configuration, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	var updated *models.Configuration
	err := r.store.WithTransaction(ctx, func(q db.Queries) error {
		cfg, err := r.load(ctx, q)
		if err != nil {
			return err
		}
		patch.apply(cfg)
		if err := q.SaveConfiguration(ctx, cfg); err != nil {
			return err
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return nil, translate(r.log, "config.update", err)
	}

	r.Invalidate(ctx)
	r.log.WithFields(logrus.Fields{
		"draw":    updated.DrawCorrelative,
		"blocked": updated.PageBlocked,
	}).Info("configuration updated")
	return updated, nil
}

// AddTelegramChat stores chatID in the admin contacts so it survives a
// restart. Adding a known chat is a no-op.
func (r *Registry) AddTelegramChat(ctx context.Context, chatID int64) error {
	added := false
	err := r.store.WithTransaction(ctx, func(q db.Queries) error {
		added = false
		cfg, err := r.load(ctx, q)
		if err != nil {
			return err
		}
		if slices.Contains(cfg.AdminContacts.TelegramChatIDs, chatID) {
			return nil
		}
		cfg.AdminContacts.TelegramChatIDs = append(cfg.AdminContacts.TelegramChatIDs, chatID)
		added = true
		return q.SaveConfiguration(ctx, cfg)
	})
	if err != nil {
		return translate(r.log, "config.add_telegram_chat", err)
	}
	if added {
		r.Invalidate(ctx)
	}
	return nil
}

// TelegramChats returns the stored admin chats merged with extra, sorted
// and without repeats.
func (r *Registry) TelegramChats(ctx context.Context, extra []int64) ([]int64, error) {
	cfg, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}
	ids := append(slices.Clone(extra), cfg.AdminContacts.TelegramChatIDs...)
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// ConfigPatch is a partial configuration update. Nil fields are left alone.
type ConfigPatch struct {
	DrawDate           *string           `json:"drawDate"`
	DrawCorrelative    *Number           `json:"drawCorrelative"`
	LastTicketNumber   *Number           `json:"lastTicketNumber"`
	TicketPriceUSD     *Number           `json:"ticketPriceUsd"`
	USDRate            *Number           `json:"usdRate"`
	PageBlocked        *bool             `json:"pageBlocked"`
	BlockReasonMessage *string           `json:"blockReasonMessage"`
	Schedule           *[]string         `json:"zuliaSchedule"`
	AdminContacts      *models.Contacts  `json:"adminContacts"`
	MailConfig         models.JSONObject `json:"mailConfig"`
}

func (p *ConfigPatch) validate() error {
	if p.DrawDate != nil && *p.DrawDate != "" {
		if err := validateDate(*p.DrawDate); err != nil {
			return err
		}
	}
	if p.DrawCorrelative != nil {
		if !p.DrawCorrelative.IsInteger() || *p.DrawCorrelative < 1 || *p.DrawCorrelative > maxCounter {
			return validationError("drawCorrelative must be an integer between 1 and %d", int64(maxCounter))
		}
	}
	if p.LastTicketNumber != nil {
		if !p.LastTicketNumber.IsInteger() || *p.LastTicketNumber < 0 || *p.LastTicketNumber > maxCounter {
			return validationError("lastTicketNumber must be an integer between 0 and %d", int64(maxCounter))
		}
	}
	if p.TicketPriceUSD != nil && *p.TicketPriceUSD < 0 {
		return validationError("ticketPriceUsd must not be negative")
	}
	if p.USDRate != nil && *p.USDRate < 0 {
		return validationError("usdRate must not be negative")
	}
	if p.Schedule != nil {
		seen := make(map[string]struct{}, len(*p.Schedule))
		for _, slot := range *p.Schedule {
			slot = strings.TrimSpace(slot)
			if slot == "" {
				return validationError("schedule slots must not be blank")
			}
			if _, dup := seen[slot]; dup {
				return validationError("duplicate schedule slot %q", slot)
			}
			seen[slot] = struct{}{}
		}
	}
	return nil
}

func (p *ConfigPatch) apply(cfg *models.Configuration) {
	if p.DrawDate != nil {
		if *p.DrawDate == "" {
			cfg.DrawDate = nil
		} else {
			d := *p.DrawDate
			cfg.DrawDate = &d
		}
	}
	if p.DrawCorrelative != nil {
		cfg.DrawCorrelative = int64(*p.DrawCorrelative)
	}
	if p.LastTicketNumber != nil {
		cfg.LastTicketNumber = int64(*p.LastTicketNumber)
	}
	if p.TicketPriceUSD != nil {
		cfg.TicketPriceUSD = float64(*p.TicketPriceUSD)
	}
	if p.USDRate != nil {
		cfg.USDRate = float64(*p.USDRate)
	}
	if p.PageBlocked != nil {
		cfg.PageBlocked = *p.PageBlocked
	}
	if p.BlockReasonMessage != nil {
		cfg.BlockReasonMessage = *p.BlockReasonMessage
	}
	if p.Schedule != nil {
		slots := make(models.StringList, 0, len(*p.Schedule))
		for _, slot := range *p.Schedule {
			slots = append(slots, strings.TrimSpace(slot))
		}
		cfg.Schedule = slots
	}
	if p.AdminContacts != nil {
		cfg.AdminContacts = *p.AdminContacts
	}
	if p.MailConfig != nil {
		cfg.MailConfig = p.MailConfig
	}
}

// maxCounter is the largest counter a float64 still holds exactly.
const maxCounter = 1 << 53

// Number accepts both JSON numbers and numeric strings ("1.50"), which is
// what the admin panel forms send.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return validationError("%s is not a number", string(b))
	}
	*n = Number(f)
	return nil
}

func (n Number) IsInteger() bool {
	return float64(n) == math.Trunc(float64(n))
}

func validateDate(s string) error {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return validationError("%q is not a YYYY-MM-DD date", s)
	}
	return nil
}
