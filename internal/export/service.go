package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

const (
	SheetReceipts = "Receipts"
	SheetItems    = "Items"
)

// Source is the read side of the receipt repository.
type Source interface {
	ListReceipts(ctx context.Context, ownerID uuid.UUID, fromDate, toDate *time.Time) ([]*entity.Receipt, error)
	ListItems(ctx context.Context, receiptIDs []uuid.UUID) (map[uuid.UUID][]entity.ReceiptItem, error)
}

// Service is a tiny façade over the repository that produces XLSX bytes for exports.
type Service struct {
	receipts Source
	logger   *slog.Logger
}

func NewService(receipts Source, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receipts: receipts, logger: logger}
}

// ExportXLSX returns an XLSX workbook (as bytes) for the owner and date window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all receipts for owner.
func (s *Service) ExportXLSX(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()
	fromDate, toDate := window(from, to, start)

	recs, err := s.receipts.ListReceipts(ctx, ownerID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	items, err := s.receipts.ListItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// the default sheet becomes Receipts
	if err := f.SetSheetName(f.GetSheetName(0), SheetReceipts); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetItems); err != nil {
		return nil, err
	}

	writeRow(f, SheetReceipts, 1, []any{
		"Date", "Store", "Merchant", "City", "Total", "Discount", "SGR Recovered", "Currency", "Status", "Warnings", "Items", "File",
	})
	writeRow(f, SheetItems, 1, []any{
		"Date", "Store", "Item", "Quantity", "Unit", "Unit Price", "Paid", "Discount", "Food", "Food Quality", "Needs Review",
	})

	row, itemRow := 2, 2
	for _, r := range recs {
		date := ""
		if r.Timestamp != nil {
			date = r.Timestamp.Format("2006-01-02")
		}
		lines := items[r.ID]
		writeRow(f, SheetReceipts, row, []any{
			date,
			r.Store,
			deref(r.Merchant.Name),
			deref(r.Merchant.City),
			r.TotalValue(),
			r.DiscountTotal,
			r.SGRRecoveredAmount,
			r.Currency,
			string(r.Processing.Status),
			warningCodes(r.Processing.Warnings),
			len(lines),
			r.Source.RelPath,
		})
		row++

		for _, it := range lines {
			quality := ""
			if it.FoodQuality != nil {
				quality = string(*it.FoodQuality)
			}
			writeRow(f, SheetItems, itemRow, []any{
				date,
				r.Store,
				truncate(it.Name, 140),
				num(it.Quantity),
				deref(it.Unit),
				num(it.UnitPrice),
				num(it.PaidAmount),
				it.Discount,
				yesNo(it.FoodFlag()),
				quality,
				yesNo(it.NeedsReview),
			})
			itemRow++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetReceipts, "A", "B", 12) // date, store
	_ = f.SetColWidth(SheetReceipts, "C", "D", 28) // merchant
	_ = f.SetColWidth(SheetReceipts, "J", "J", 36) // warnings
	_ = f.SetColWidth(SheetReceipts, "L", "L", 48) // path
	_ = f.SetColWidth(SheetItems, "C", "C", 36)    // item

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"owner_id", ownerID.String(),
		"receipts", len(recs),
		"items", itemRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// window turns the requested dates into an inclusive range over whole days (UTC).
func window(from, to *time.Time, now time.Time) (*time.Time, *time.Time) {
	var fromDate, toDate *time.Time
	if from != nil {
		f := day(*from)
		fromDate = &f
	}
	if to != nil {
		t := day(*to)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := day(now.UTC())
		toDate = &t
	}
	if toDate != nil {
		end := toDate.AddDate(0, 0, 1).Add(-time.Second)
		toDate = &end
	}
	return fromDate, toDate
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func warningCodes(ws []entity.Warning) string {
	codes := make([]string, 0, len(ws))
	for _, w := range ws {
		codes = append(codes, string(w.Code))
	}
	return strings.Join(codes, ", ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func num(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
