// Package services holds the draw lifecycle: number availability, sale
// reservation, the sale state machine, draw rollover and results.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

// Notifier delivers free-text messages to the administrators. Delivery is
// best effort.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) {}

type Service struct {
	store    Store
	registry *Registry
	notifier Notifier
	validate *validator.Validate
	log      logrus.FieldLogger
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, registry *Registry, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		registry: registry,
		notifier: nopNotifier{},
		validate: newValidator(),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) timestamp() models.Timestamp {
	return models.NewTimestamp(s.now())
}

// notify runs in the background so a slow chat API never holds a request.
func (s *Service) notify(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.notifier.Notify(ctx, text)
	}()
}

// ListSales returns the sales matching filter. A zero DrawCorrelative means
// the current draw.
func (s *Service) ListSales(ctx context.Context, filter db.SaleFilter) ([]models.Sale, error) {
	if filter.DrawCorrelative == 0 {
		cfg, err := s.registry.Get(ctx)
		if err != nil {
			return nil, err
		}
		filter.DrawCorrelative = cfg.DrawCorrelative
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, validationError("unknown status %q", st)
		}
	}
	sales, err := s.store.ListSales(ctx, filter)
	if err != nil {
		return nil, translate(s.log, "sales.list", err)
	}
	return sales, nil
}

// GetSale looks a ticket up. A zero drawCorrelative means the current draw.
func (s *Service) GetSale(ctx context.Context, drawCorrelative int64, ticketNumber string) (*models.Sale, error) {
	if drawCorrelative == 0 {
		cfg, err := s.registry.Get(ctx)
		if err != nil {
			return nil, err
		}
		drawCorrelative = cfg.DrawCorrelative
	}
	sale, err := s.store.FindSaleByTicket(ctx, drawCorrelative, ticketNumber)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ticketNotFound(drawCorrelative, ticketNumber)
	}
	if err != nil {
		return nil, translate(s.log, "sales.get", err)
	}
	return sale, nil
}

func ticketNotFound(drawCorrelative int64, ticketNumber string) *Error {
	return newError(KindNotFound, "ticket %s not found in draw %d", ticketNumber, drawCorrelative)
}
