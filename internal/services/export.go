package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SkyNet7k/rifas-backend-sub000/internal/db"
)

const exportSheet = "Ventas"

var exportHeader = []any{
	"Ticket", "Sorteo", "Fecha sorteo", "Números", "Comprador", "Teléfono", "Cédula", "Email",
	"Método de pago", "Referencia", "Monto USD", "Monto Bs", "Tasa", "Fecha compra", "Comprobante",
	"Estado", "Fecha estado", "Motivo",
}

// ExportSales builds a workbook with every sale of a draw, in ticket
// order. A zero drawCorrelative exports the current draw.
func (s *Service) ExportSales(ctx context.Context, drawCorrelative int64) (*excelize.File, error) {
	sales, err := s.ListSales(ctx, db.SaleFilter{DrawCorrelative: drawCorrelative})
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, sale := range sales {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []any{
			sale.TicketNumber,
			sale.DrawCorrelative,
			sale.DrawDate,
			strings.Join(sale.Numbers, ", "),
			sale.BuyerName,
			sale.BuyerPhone,
			sale.BuyerID,
			sale.BuyerEmail,
			sale.PaymentMethod,
			sale.PaymentReference,
			sale.ValueUSD,
			sale.ValueLocal,
			sale.AppliedRate,
			sale.PurchaseTimestamp.Format(time.DateTime),
			sale.VoucherURI,
			string(sale.Status),
			sale.StatusTransitionAt.Format(time.DateTime),
			sale.StatusReason,
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	s.log.WithField("draw", drawCorrelative).WithField("rows", len(sales)).Debug("sales exported")
	return f, nil
}
