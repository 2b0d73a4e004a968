package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/metrics"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

// ReserveRequest is a buyer's purchase of one or more numbers. DrawDate is
// the draw the client believes is current.
type ReserveRequest struct {
	Numbers           []string   `json:"numbers" validate:"required,min=1,max=1000,dive,triple"`
	BuyerName         string     `json:"buyerName" validate:"notblank,max=200"`
	BuyerPhone        string     `json:"buyerPhone" validate:"notblank,max=50"`
	BuyerID           string     `json:"buyerId" validate:"max=50"`
	BuyerEmail        string     `json:"buyerEmail" validate:"omitempty,email"`
	PaymentMethod     string     `json:"paymentMethod" validate:"notblank,max=100"`
	PaymentReference  string     `json:"paymentReference" validate:"notblank,max=200"`
	ValueUSD          float64    `json:"valueUsd" validate:"gt=0"`
	ValueLocal        float64    `json:"valueLocal" validate:"gt=0"`
	AppliedRate       float64    `json:"appliedRate" validate:"gt=0"`
	PurchaseTimestamp *time.Time `json:"purchaseTimestamp"`
	DrawDate          string     `json:"drawDate"`
	VoucherURI        string     `json:"voucherUri" validate:"max=2048"`
}

// normalize trims the free-text fields, rejects numbers repeated inside
// the request and sorts them. Numbers are kept verbatim so " 007" fails
// the triple rule.
func (r *ReserveRequest) normalize() error {
	r.BuyerName = strings.TrimSpace(r.BuyerName)
	r.BuyerPhone = strings.TrimSpace(r.BuyerPhone)
	r.BuyerID = strings.TrimSpace(r.BuyerID)
	r.BuyerEmail = strings.TrimSpace(r.BuyerEmail)
	r.PaymentMethod = strings.TrimSpace(r.PaymentMethod)
	r.PaymentReference = strings.TrimSpace(r.PaymentReference)
	r.DrawDate = strings.TrimSpace(r.DrawDate)

	numbers := make([]string, len(r.Numbers))
	seen := make(map[string]struct{}, len(r.Numbers))
	for i, n := range r.Numbers {
		if _, dup := seen[n]; dup {
			e := validationError("number %s appears more than once", n)
			e.Details = map[string]any{"field": "numbers"}
			return e
		}
		seen[n] = struct{}{}
		numbers[i] = n
	}
	sort.Strings(numbers)
	r.Numbers = numbers
	return nil
}

// Reserve atomically checks the requested numbers against the current
// draw, takes the next ticket number and stores a pending sale.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*models.Sale, error) {
	var sale *models.Sale
	err := s.store.WithTransaction(ctx, func(q db.Queries) error {
		sale = nil

		cfg, err := s.registry.load(ctx, q)
		if err != nil {
			return err
		}
		if cfg.PageBlocked {
			return pageBlocked(cfg)
		}
		if cfg.DrawDate == nil || *cfg.DrawDate != strings.TrimSpace(req.DrawDate) {
			return drawDateMismatch(cfg, req.DrawDate)
		}

		r := req
		if err := r.normalize(); err != nil {
			return err
		}
		if err := s.validateStruct(&r); err != nil {
			return err
		}

		active, err := q.ActiveSalesForDraw(ctx, cfg.DrawCorrelative)
		if err != nil {
			return err
		}
		if taken := conflicts(r.Numbers, reservedSet(active)); len(taken) > 0 {
			return &Error{
				Kind:    KindNumberConflict,
				Message: fmt.Sprintf("numbers already taken: %s", strings.Join(taken, ", ")),
				Details: map[string]any{"conflicting": taken},
			}
		}

		cfg.LastTicketNumber++
		if err := q.SaveConfiguration(ctx, cfg); err != nil {
			return err
		}

		now := s.timestamp()
		purchased := now
		if r.PurchaseTimestamp != nil && !r.PurchaseTimestamp.IsZero() {
			purchased = models.NewTimestamp(*r.PurchaseTimestamp)
		}

		candidate := &models.Sale{
			ID:                 uuid.NewString(),
			TicketNumber:       formatTicket(cfg.LastTicketNumber),
			DrawCorrelative:    cfg.DrawCorrelative,
			DrawDate:           *cfg.DrawDate,
			Numbers:            models.StringList(r.Numbers),
			BuyerName:          r.BuyerName,
			BuyerPhone:         r.BuyerPhone,
			BuyerID:            r.BuyerID,
			BuyerEmail:         r.BuyerEmail,
			PaymentMethod:      r.PaymentMethod,
			PaymentReference:   r.PaymentReference,
			ValueUSD:           r.ValueUSD,
			ValueLocal:         r.ValueLocal,
			AppliedRate:        r.AppliedRate,
			PurchaseTimestamp:  purchased,
			VoucherURI:         strings.TrimSpace(r.VoucherURI),
			Status:             models.StatusPending,
			StatusTransitionAt: now,
		}
		if err := q.InsertSale(ctx, candidate); err != nil {
			return err
		}
		sale = candidate
		return nil
	})
	if err != nil {
		err = translate(s.log, "sales.reserve", err)
		if e, ok := AsError(err); ok {
			metrics.SalesRejected.WithLabelValues(string(e.Kind)).Inc()
		}
		return nil, err
	}

	s.registry.Invalidate(ctx)
	metrics.SalesReserved.Inc()
	s.log.WithFields(logrus.Fields{
		"ticket":  sale.TicketNumber,
		"draw":    sale.DrawCorrelative,
		"numbers": strings.Join(sale.Numbers, ","),
	}).Info("sale reserved")

	s.notify(fmt.Sprintf("Nueva venta #%s (sorteo %d, %s)\nNúmeros: %s\nComprador: %s %s\nPago: %s %s, %.2f USD",
		sale.TicketNumber, sale.DrawCorrelative, sale.DrawDate,
		strings.Join(sale.Numbers, ", "),
		sale.BuyerName, sale.BuyerPhone,
		sale.PaymentMethod, sale.PaymentReference, sale.ValueUSD))
	return sale, nil
}

func pageBlocked(cfg *models.Configuration) *Error {
	msg := cfg.BlockReasonMessage
	if msg == "" {
		msg = "sales are closed"
	}
	return &Error{
		Kind:    KindPageBlocked,
		Message: msg,
		Details: map[string]any{"blockReasonMessage": cfg.BlockReasonMessage},
	}
}

func drawDateMismatch(cfg *models.Configuration, asserted string) *Error {
	var current any
	if cfg.DrawDate != nil {
		current = *cfg.DrawDate
	}
	return &Error{
		Kind:    KindDrawDateMismatch,
		Message: "the draw date has changed, reload and try again",
		Details: map[string]any{"currentDrawDate": current, "requestedDrawDate": asserted},
	}
}
