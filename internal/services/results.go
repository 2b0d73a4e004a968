package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

type ResultRequest struct {
	DrawDate      string `json:"drawDate"`
	Slot          string `json:"slot"`
	WinningNumber string `json:"winningNumber"`
}

// RecordResult stores the official number for a draw date and slot,
// replacing any earlier entry for the same pair.
func (s *Service) RecordResult(ctx context.Context, req ResultRequest) (*models.ResultEntry, error) {
	entry := &models.ResultEntry{
		DrawDate:      strings.TrimSpace(req.DrawDate),
		Slot:          strings.TrimSpace(req.Slot),
		WinningNumber: strings.TrimSpace(req.WinningNumber),
		RecordedAt:    s.timestamp(),
	}
	if !isTriple(entry.WinningNumber) {
		return nil, validationError("winningNumber must be a three-digit number")
	}
	if entry.Slot == "" {
		return nil, validationError("slot is required")
	}
	if err := validateDate(entry.DrawDate); err != nil {
		return nil, err
	}

	if err := s.store.UpsertResult(ctx, entry); err != nil {
		return nil, translate(s.log, "results.record", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"drawDate": entry.DrawDate,
		"slot":     entry.Slot,
		"number":   entry.WinningNumber,
	})
	log.Info("result recorded")

	// Not atomic with the upsert; a stale marker only affects display.
	if err := s.store.SetLastResultsDate(ctx, entry.DrawDate); err != nil {
		log.WithError(err).Warn("failed to update last results date")
	} else {
		s.registry.Invalidate(ctx)
	}
	return entry, nil
}

// ListResults returns recorded results, newest date first. An empty
// drawDate lists every date.
func (s *Service) ListResults(ctx context.Context, drawDate string) ([]models.ResultEntry, error) {
	drawDate = strings.TrimSpace(drawDate)
	if drawDate != "" {
		if err := validateDate(drawDate); err != nil {
			return nil, err
		}
	}
	entries, err := s.store.ListResults(ctx, drawDate)
	if err != nil {
		return nil, translate(s.log, "results.list", err)
	}
	return entries, nil
}
