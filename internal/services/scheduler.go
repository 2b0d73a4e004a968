package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CutoffReason is shown to buyers when the scheduled cutoff blocks sales.
const CutoffReason = "Ventas cerradas para el sorteo"

// Scheduler blocks the sales page on a cron schedule, ahead of each draw.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	log     logrus.FieldLogger
	timeout time.Duration
}

// NewScheduler parses spec as a standard five-field cron expression.
func NewScheduler(service *Service, spec string, log logrus.FieldLogger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		service: service,
		log:     log,
		timeout: 30 * time.Second,
	}
	if _, err := s.cron.AddFunc(spec, s.cutoff); err != nil {
		return nil, fmt.Errorf("invalid sales cutoff schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("sales cutoff scheduler started")
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) cutoff() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.service.CutoffSales(ctx); err != nil {
		s.log.WithError(err).Error("scheduled sales cutoff failed")
	}
}

// CutoffSales blocks new reservations for the current draw.
func (s *Service) CutoffSales(ctx context.Context) error {
	blocked := true
	reason := CutoffReason
	cfg, err := s.registry.Update(ctx, ConfigPatch{PageBlocked: &blocked, BlockReasonMessage: &reason})
	if err != nil {
		return err
	}
	s.notify(fmt.Sprintf("Ventas cerradas automáticamente para el sorteo %d.", cfg.DrawCorrelative))
	return nil
}
