// Package lidl parses receipts printed by Lidl Romania tills.
package lidl

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/entity"
	"github.com/joseph-ayodele/receipts-worker/internal/ocr"
	"github.com/joseph-ayodele/receipts-worker/internal/parser"
)

// StoreID is the inbox folder and registry key for this parser.
const StoreID = "lidl"

const totalNotFoundMsg = "Could not extract TOTAL (missing LEI stream or parse failure)"

// TextExtractor turns source bytes into receipt text.
type TextExtractor interface {
	ExtractBytes(ctx context.Context, name string, data []byte, hashHex string) (ocr.ExtractionResult, error)
}

type Parser struct {
	extractor TextExtractor
	logger    *slog.Logger
}

func New(extractor TextExtractor, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{extractor: extractor, logger: logger}
}

// Parse extracts text from the source and parses it. OCR tool failures are
// returned as plain errors so the caller may retry them.
func (p *Parser) Parse(ctx context.Context, in parser.Input) (*entity.Receipt, error) {
	res, err := p.extractor.ExtractBytes(ctx, in.FileName, in.Data, in.Hash)
	if err != nil {
		if errors.Is(err, ocr.ErrNoText) || errors.Is(err, ocr.ErrUnsupported) {
			return nil, parser.NewParseError(parser.CodeParserException, err.Error(), nil)
		}
		return nil, err
	}

	rec, err := ParseText(res.Text, in.Store, in.FileName, in.RelBase)
	if rec != nil {
		rec.Processing.OCREngine = res.Engine
	}
	if err != nil {
		return nil, err
	}
	p.logger.Debug("lidl.parse.ok",
		"file", in.FileName,
		"items", len(rec.Items),
		"total", rec.TotalValue(),
		"status", rec.Processing.Status,
		"engine", res.Engine,
	)
	return rec, nil
}

// ParseText builds a receipt from OCR text. When no total can be found the
// returned error is a *parser.ParseError carrying the partial receipt, which
// is also returned.
func ParseText(text, store, fileName, relBase string) (*entity.Receipt, error) {
	if store == "" {
		store = StoreID
	}
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		if ln := normSpaces(raw); ln != "" {
			lines = append(lines, ln)
		}
	}

	rec := entity.NewReceipt(store, fileName, relBase)
	rec.RawText = strings.Join(lines, "\n")
	rec.Merchant = extractMerchant(lines)
	rec.Timestamp = extractTimestamp(lines)

	tokens := leiStream(lines)
	tot := extractTotals(lines, tokens)
	rec.Total = tot.total

	items, warnings := parseItems(lines)
	rec.DiscountTotal = attachDiscounts(items, tokens)
	rec.SGRRecoveredAmount = sgrRecovered(lines, tokens)
	for idx := range items {
		items[idx].needsReview = items[idx].paid == nil
	}
	items = dedupeIncomplete(items)

	for _, it := range items {
		rec.Items = append(rec.Items, it.toEntity())
	}
	for _, w := range warnings {
		rec.AddWarning(constants.WarnIncompleteItem, w)
	}
	if rec.Timestamp == nil {
		rec.AddWarning(constants.WarnMissingTimestamp, "no DATA line found")
	}
	for _, it := range items {
		if it.needsReview {
			rec.AddWarning(constants.WarnItemNeedsReview, it.name)
		}
	}

	if rec.Total == nil {
		msg := totalNotFoundMsg
		rec.Processing.Status = constants.StatusFail
		rec.Processing.Error = &msg
		return rec, parser.NewParseError(parser.CodeTotalNotFound, msg, rec)
	}
	return rec, nil
}

func (it item) toEntity() entity.ReceiptItem {
	out := entity.ReceiptItem{
		Name:        it.name,
		Quantity:    it.qty,
		UnitPrice:   it.unitPrice,
		PaidAmount:  it.paid,
		Discount:    it.discount,
		NeedsReview: it.needsReview,
		Meta: entity.ItemMeta{
			QuantityRaw:   optional(it.qtyRaw),
			UnitPriceRaw:  optional(it.unitPriceRaw),
			PaidAmountRaw: optional(it.paidRaw),
			DiscountRaw:   optional(it.discountRaw),
			VATCode:       optional(it.vat),
		},
	}
	if it.unit != "" {
		out.Unit = ptr(it.unit)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
