package entity

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-worker/constants"
)

// Receipt is the canonical parsed document for one source file.
// It is both the audit artifact body and the input to persistence.
type Receipt struct {
	ID                 uuid.UUID     `json:"-"`
	OwnerID            uuid.UUID     `json:"-"`
	SourceHash         string        `json:"-"`
	SchemaVersion      int           `json:"schema_version"`
	Store              string        `json:"store"`
	Timestamp          *Timestamp    `json:"timestamp"`
	Currency           string        `json:"currency"`
	Total              *float64      `json:"total"`
	DiscountTotal      float64       `json:"discount_total"`
	SGRBottleCharge    float64       `json:"sgr_bottle_charge"`
	SGRRecoveredAmount float64       `json:"sgr_recovered_amount"`
	Merchant           Merchant      `json:"merchant"`
	Items              []ReceiptItem `json:"items"`
	Processing         Processing    `json:"processing"`
	Source             Source        `json:"source"`
	RawText            string        `json:"raw_text,omitempty"`
	CreatedAt          time.Time     `json:"-"`
}

type Merchant struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	City    *string `json:"city"`
	CIF     *string `json:"cif"`
}

type Processing struct {
	Status    constants.ProcessingStatus `json:"status"`
	Warnings  []Warning                  `json:"warnings"`
	Error     *string                    `json:"error"`
	OCREngine string                     `json:"ocr_engine,omitempty"`
}

type Source struct {
	FileName    string `json:"file_name"`
	StoreFolder string `json:"store_folder"`
	RelPath     string `json:"rel_path"`
}

// Warning is one processing warning attached to a receipt.
type Warning struct {
	Code   constants.WarningCode `json:"code"`
	Detail string                `json:"detail,omitempty"`
}

// NewReceipt returns an empty receipt with the document defaults filled in.
func NewReceipt(store, fileName, relBase string) *Receipt {
	return &Receipt{
		SchemaVersion: constants.SchemaVersion,
		Store:         store,
		Currency:      constants.DefaultCurrency,
		Items:         []ReceiptItem{},
		Processing: Processing{
			Status:   constants.StatusOK,
			Warnings: []Warning{},
		},
		Source: Source{
			FileName:    fileName,
			StoreFolder: store,
			RelPath:     relBase + "/" + store + "/" + fileName,
		},
	}
}

// AddWarning appends a warning and downgrades an ok status to warn.
func (r *Receipt) AddWarning(code constants.WarningCode, detail string) {
	r.Processing.Warnings = append(r.Processing.Warnings, Warning{Code: code, Detail: detail})
	if r.Processing.Status == constants.StatusOK || r.Processing.Status == "" {
		r.Processing.Status = constants.StatusWarn
	}
}

// HasWarnings reports whether any warning was recorded.
func (r *Receipt) HasWarnings() bool {
	return len(r.Processing.Warnings) > 0
}

// TotalValue returns the total or 0 when none was extracted.
func (r *Receipt) TotalValue() float64 {
	if r.Total == nil {
		return 0
	}
	return *r.Total
}

// Normalize enforces item invariants and fills document defaults.
func (r *Receipt) Normalize() {
	if r.SchemaVersion == 0 {
		r.SchemaVersion = constants.SchemaVersion
	}
	if r.Currency == "" {
		r.Currency = constants.DefaultCurrency
	}
	if r.Items == nil {
		r.Items = []ReceiptItem{}
	}
	if r.Processing.Warnings == nil {
		r.Processing.Warnings = []Warning{}
	}
	if r.Processing.Status == "" {
		r.Processing.Status = constants.StatusOK
	}
	for i := range r.Items {
		r.Items[i].Normalize()
	}
}

// RoundMoney rounds to two decimals, half away from zero.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
