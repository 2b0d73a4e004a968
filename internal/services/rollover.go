package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/metrics"
	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

// CloseDraw ends the current draw and opens the next one on nextDrawDate.
// Past sales are left untouched; they stay attached to their draw.
func (s *Service) CloseDraw(ctx context.Context, nextDrawDate string) (*models.Configuration, error) {
	nextDrawDate = strings.TrimSpace(nextDrawDate)
	if nextDrawDate == "" {
		return nil, validationError("nextDrawDate is required")
	}
	if err := validateDate(nextDrawDate); err != nil {
		return nil, err
	}

	var (
		updated  *models.Configuration
		previous int64
	)
	err := s.store.WithTransaction(ctx, func(q db.Queries) error {
		cfg, err := s.registry.load(ctx, q)
		if err != nil {
			return err
		}
		previous = cfg.DrawCorrelative

		cfg.DrawCorrelative++
		cfg.LastTicketNumber = 0
		cfg.DrawDate = &nextDrawDate
		cfg.PageBlocked = false
		if err := q.SaveConfiguration(ctx, cfg); err != nil {
			return err
		}
		updated = cfg
		return nil
	})
	if err != nil {
		return nil, translate(s.log, "draws.close", err)
	}

	s.registry.Invalidate(ctx)
	metrics.DrawRollovers.Inc()
	s.log.WithFields(logrus.Fields{
		"previous": previous,
		"draw":     updated.DrawCorrelative,
		"drawDate": nextDrawDate,
	}).Info("draw closed")

	s.notify(fmt.Sprintf("Sorteo %d cerrado. Nuevo sorteo %d para el %s.",
		previous, updated.DrawCorrelative, nextDrawDate))
	return updated, nil
}
