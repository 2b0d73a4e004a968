package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/models"
)

// Queries are the operations the raffle core needs. They are implemented
// both on the connection pool and inside a transaction.
type Queries interface {
	LoadConfiguration(ctx context.Context) (*models.Configuration, error)
	InsertConfiguration(ctx context.Context, cfg *models.Configuration) error
	SaveConfiguration(ctx context.Context, cfg *models.Configuration) error
	SetLastResultsDate(ctx context.Context, drawDate string) error

	ActiveSalesForDraw(ctx context.Context, drawCorrelative int64) ([]models.Sale, error)
	FindSaleByTicket(ctx context.Context, drawCorrelative int64, ticketNumber string) (*models.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]models.Sale, error)
	InsertSale(ctx context.Context, sale *models.Sale) error
	UpdateSaleStatus(ctx context.Context, id string, status models.SaleStatus, at models.Timestamp, reason string) (*models.Sale, error)

	UpsertResult(ctx context.Context, entry *models.ResultEntry) error
	ListResults(ctx context.Context, drawDate string) ([]models.ResultEntry, error)
}

// SaleFilter narrows ListSales. Zero values mean "any".
type SaleFilter struct {
	DrawCorrelative int64
	Statuses        []models.SaleStatus
	BuyerPhone      string
}

type queries struct {
	ext sqlx.ExtContext
}

const configColumns = `id, draw_date, draw_correlative, last_ticket_number, ticket_price_usd, usd_rate,
	page_blocked, block_reason_message, schedule, admin_contacts, mail_config, last_results_date`

const saleColumns = `id, ticket_number, draw_correlative, draw_date, numbers, buyer_name, buyer_phone,
	buyer_id, buyer_email, payment_method, payment_reference, value_usd, value_local, applied_rate,
	purchase_timestamp, voucher_uri, status, status_transition_at, status_reason`

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q *queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
}

func (q *queries) LoadConfiguration(ctx context.Context) (*models.Configuration, error) {
	var cfg models.Configuration
	if err := q.get(ctx, &cfg, `SELECT `+configColumns+` FROM configuration WHERE id = 1`); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}

// InsertConfiguration creates the configuration row unless another writer
// got there first.
func (q *queries) InsertConfiguration(ctx context.Context, cfg *models.Configuration) error {
	_, err := q.exec(ctx, `
		INSERT INTO configuration (`+configColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		cfg.DrawDate, cfg.DrawCorrelative, cfg.LastTicketNumber, cfg.TicketPriceUSD, cfg.USDRate,
		cfg.PageBlocked, cfg.BlockReasonMessage, cfg.Schedule, cfg.AdminContacts, cfg.MailConfig,
		cfg.LastResultsDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert configuration: %w", err)
	}
	return nil
}

func (q *queries) SaveConfiguration(ctx context.Context, cfg *models.Configuration) error {
	res, err := q.exec(ctx, `
		UPDATE configuration SET
			draw_date = ?, draw_correlative = ?, last_ticket_number = ?, ticket_price_usd = ?,
			usd_rate = ?, page_blocked = ?, block_reason_message = ?, schedule = ?,
			admin_contacts = ?, mail_config = ?, last_results_date = ?
		WHERE id = 1`,
		cfg.DrawDate, cfg.DrawCorrelative, cfg.LastTicketNumber, cfg.TicketPriceUSD,
		cfg.USDRate, cfg.PageBlocked, cfg.BlockReasonMessage, cfg.Schedule,
		cfg.AdminContacts, cfg.MailConfig, cfg.LastResultsDate,
	)
	if err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) SetLastResultsDate(ctx context.Context, drawDate string) error {
	if _, err := q.exec(ctx, `UPDATE configuration SET last_results_date = ? WHERE id = 1`, drawDate); err != nil {
		return fmt.Errorf("failed to set last results date: %w", err)
	}
	return nil
}

// ActiveSalesForDraw returns the sales of a draw whose numbers are still taken.
func (q *queries) ActiveSalesForDraw(ctx context.Context, drawCorrelative int64) ([]models.Sale, error) {
	sales, err := q.ListSales(ctx, SaleFilter{
		DrawCorrelative: drawCorrelative,
		Statuses:        models.ReservingStatuses,
	})
	if err != nil {
		return nil, err
	}
	return sales, nil
}

func (q *queries) FindSaleByTicket(ctx context.Context, drawCorrelative int64, ticketNumber string) (*models.Sale, error) {
	var sale models.Sale
	err := q.get(ctx, &sale,
		`SELECT `+saleColumns+` FROM sales WHERE draw_correlative = ? AND ticket_number = ?`,
		drawCorrelative, ticketNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find sale %s: %w", ticketNumber, err)
	}
	return &sale, nil
}

func (q *queries) ListSales(ctx context.Context, filter SaleFilter) ([]models.Sale, error) {
	var (
		where []string
		args  []any
	)
	if filter.DrawCorrelative > 0 {
		where = append(where, "draw_correlative = ?")
		args = append(args, filter.DrawCorrelative)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.BuyerPhone != "" {
		where = append(where, "buyer_phone = ?")
		args = append(args, filter.BuyerPhone)
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY draw_correlative ASC, LENGTH(ticket_number) ASC, ticket_number ASC"

	sales := []models.Sale{}
	if err := q.selectAll(ctx, &sales, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	return sales, nil
}

func (q *queries) InsertSale(ctx context.Context, sale *models.Sale) error {
	_, err := q.exec(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.TicketNumber, sale.DrawCorrelative, sale.DrawDate, sale.Numbers,
		sale.BuyerName, sale.BuyerPhone, sale.BuyerID, sale.BuyerEmail,
		sale.PaymentMethod, sale.PaymentReference, sale.ValueUSD, sale.ValueLocal, sale.AppliedRate,
		sale.PurchaseTimestamp, sale.VoucherURI, string(sale.Status), sale.StatusTransitionAt, sale.StatusReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale %s: %w", sale.TicketNumber, err)
	}
	return nil
}

func (q *queries) UpdateSaleStatus(ctx context.Context, id string, status models.SaleStatus, at models.Timestamp, reason string) (*models.Sale, error) {
	res, err := q.exec(ctx,
		`UPDATE sales SET status = ?, status_transition_at = ?, status_reason = ? WHERE id = ?`,
		string(status), at, reason, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update sale status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	var sale models.Sale
	if err := q.get(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to reload sale: %w", err)
	}
	return &sale, nil
}

func (q *queries) UpsertResult(ctx context.Context, entry *models.ResultEntry) error {
	_, err := q.exec(ctx, `
		INSERT INTO results (draw_date, slot, winning_number, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (draw_date, slot) DO UPDATE SET
			winning_number = excluded.winning_number,
			recorded_at = excluded.recorded_at`,
		entry.DrawDate, entry.Slot, entry.WinningNumber, entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert result: %w", err)
	}
	return nil
}

func (q *queries) ListResults(ctx context.Context, drawDate string) ([]models.ResultEntry, error) {
	query := `SELECT draw_date, slot, winning_number, recorded_at FROM results`
	var args []any
	if drawDate != "" {
		query += ` WHERE draw_date = ?`
		args = append(args, drawDate)
	}
	query += ` ORDER BY draw_date DESC, slot ASC`

	entries := []models.ResultEntry{}
	if err := q.selectAll(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return entries, nil
}
