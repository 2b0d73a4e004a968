package services

import (
	"context"
)

// Availability is the purchasable-number snapshot shown to buyers.
type Availability struct {
	Numbers            []string `json:"numbers"`
	DrawDate           *string  `json:"drawDate"`
	DrawCorrelative    int64    `json:"drawCorrelative"`
	PageBlocked        bool     `json:"pageBlocked"`
	BlockReasonMessage string   `json:"blockReasonMessage,omitempty"`
	NoDrawConfigured   bool     `json:"noDrawConfigured,omitempty"`
	TicketPriceUSD     float64  `json:"ticketPriceUsd"`
	USDRate            float64  `json:"usdRate"`
}

// Available lists the numbers of the current draw nobody holds, in
// ascending order. It reads without a transaction, so the answer can be
// stale by the time a buyer acts on it; Reserve re-checks.
func (s *Service) Available(ctx context.Context) (*Availability, error) {
	cfg, err := s.registry.Get(ctx)
	if err != nil {
		return nil, err
	}

	out := &Availability{
		Numbers:         []string{},
		DrawDate:        cfg.DrawDate,
		DrawCorrelative: cfg.DrawCorrelative,
		PageBlocked:     cfg.PageBlocked,
		TicketPriceUSD:  cfg.TicketPriceUSD,
		USDRate:         cfg.USDRate,
	}

	if cfg.PageBlocked {
		out.BlockReasonMessage = cfg.BlockReasonMessage
		return out, nil
	}
	if cfg.DrawDate == nil {
		out.NoDrawConfigured = true
		return out, nil
	}

	sales, err := s.store.ActiveSalesForDraw(ctx, cfg.DrawCorrelative)
	if err != nil {
		return nil, translate(s.log, "availability", err)
	}
	reserved := reservedSet(sales)

	out.Numbers = make([]string, 0, UniverseSize-len(reserved))
	for _, n := range universe {
		if _, taken := reserved[n]; !taken {
			out.Numbers = append(out.Numbers, n)
		}
	}
	return out, nil
}
