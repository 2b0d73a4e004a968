package services

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/metrics"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

// Action is an administrator command on a sale.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
	ActionVoid    Action = "void"
	ActionClose   Action = "close"
)

var actionTargets = map[Action]models.SaleStatus{
	ActionConfirm: models.StatusConfirmed,
	ActionCancel:  models.StatusCancelled,
	ActionVoid:    models.StatusVoided,
	ActionClose:   models.StatusClosed,
}

// allowedFrom lists, per target status, the statuses a sale may move from.
// Cancelled, voided and closed are terminal.
var allowedFrom = map[models.SaleStatus][]models.SaleStatus{
	models.StatusConfirmed: {models.StatusPending},
	models.StatusCancelled: {models.StatusPending, models.StatusConfirmed},
	models.StatusVoided:    {models.StatusPending, models.StatusConfirmed},
	models.StatusClosed:    {models.StatusPending, models.StatusConfirmed},
}

func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	_, ok := actionTargets[a]
	return a, ok
}

// CanTransition reports whether a sale in from may move to to.
func CanTransition(from, to models.SaleStatus) bool {
	for _, st := range allowedFrom[to] {
		if st == from {
			return true
		}
	}
	return false
}

func (s *Service) Confirm(ctx context.Context, drawCorrelative int64, ticketNumber, reason string) (*models.Sale, error) {
	return s.Transition(ctx, ActionConfirm, drawCorrelative, ticketNumber, reason)
}

func (s *Service) Cancel(ctx context.Context, drawCorrelative int64, ticketNumber, reason string) (*models.Sale, error) {
	return s.Transition(ctx, ActionCancel, drawCorrelative, ticketNumber, reason)
}

func (s *Service) Void(ctx context.Context, drawCorrelative int64, ticketNumber, reason string) (*models.Sale, error) {
	return s.Transition(ctx, ActionVoid, drawCorrelative, ticketNumber, reason)
}

func (s *Service) Close(ctx context.Context, drawCorrelative int64, ticketNumber, reason string) (*models.Sale, error) {
	return s.Transition(ctx, ActionClose, drawCorrelative, ticketNumber, reason)
}

// Transition applies action to the ticket. A zero drawCorrelative addresses
// the current draw.
func (s *Service) Transition(ctx context.Context, action Action, drawCorrelative int64, ticketNumber, reason string) (*models.Sale, error) {
	target, ok := actionTargets[action]
	if !ok {
		return nil, validationError("unknown action %q", action)
	}
	ticketNumber = strings.TrimSpace(ticketNumber)
	if ticketNumber == "" {
		return nil, validationError("ticketNumber is required")
	}
	reason = strings.TrimSpace(reason)

	var updated *models.Sale
	var from models.SaleStatus
	err := s.store.WithTransaction(ctx, func(q db.Queries) error {
		draw := drawCorrelative
		if draw == 0 {
			cfg, err := s.registry.load(ctx, q)
			if err != nil {
				return err
			}
			draw = cfg.DrawCorrelative
		}

		sale, err := q.FindSaleByTicket(ctx, draw, ticketNumber)
		if errors.Is(err, db.ErrNotFound) {
			return ticketNotFound(draw, ticketNumber)
		}
		if err != nil {
			return err
		}

		if sale.Status == target {
			return &Error{
				Kind:    KindAlreadyInState,
				Message: "ticket " + ticketNumber + " is already " + string(target),
				Details: map[string]any{"status": sale.Status},
			}
		}
		if !CanTransition(sale.Status, target) {
			return &Error{
				Kind:    KindInvalidTransition,
				Message: "cannot " + string(action) + " a " + string(sale.Status) + " sale",
				Details: map[string]any{"status": sale.Status, "action": action},
			}
		}

		from = sale.Status
		updated, err = q.UpdateSaleStatus(ctx, sale.ID, target, s.timestamp(), reason)
		return err
	})
	if err != nil {
		return nil, translate(s.log, "sales."+string(action), err)
	}

	metrics.SaleTransitions.WithLabelValues(string(target)).Inc()
	s.log.WithFields(logrus.Fields{
		"ticket": updated.TicketNumber,
		"draw":   updated.DrawCorrelative,
		"from":   from,
		"status": updated.Status,
	}).Info("sale status changed")
	return updated, nil
}
