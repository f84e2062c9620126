package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-worker/constants"
)

// ReceiptItem is one product line of a receipt.
type ReceiptItem struct {
	ID          uuid.UUID              `json:"-"`
	Name        string                 `json:"name"`
	Quantity    *float64               `json:"quantity"`
	Unit        *string                `json:"unit"`
	UnitPrice   *float64               `json:"unit_price"`
	PaidAmount  *float64               `json:"paid_amount"`
	Discount    float64                `json:"discount"`
	NeedsReview bool                   `json:"needs_review"`
	IsFood      *bool                  `json:"is_food,omitempty"`
	FoodQuality *constants.FoodQuality `json:"food_quality,omitempty"`
	Meta        ItemMeta               `json:"meta"`
	CreatedAt   time.Time              `json:"-"`
}

// ItemMeta holds the raw OCR tokens behind the parsed item values.
type ItemMeta struct {
	QuantityRaw   *string `json:"quantity_raw,omitempty"`
	UnitPriceRaw  *string `json:"unit_price_raw,omitempty"`
	PaidAmountRaw *string `json:"paid_amount_raw,omitempty"`
	DiscountRaw   *string `json:"discount_raw,omitempty"`
	VATCode       *string `json:"vat_code,omitempty"`
}

// Normalize clears food_quality on non-food items.
func (it *ReceiptItem) Normalize() {
	if it.IsFood != nil && !*it.IsFood {
		it.FoodQuality = nil
	}
}

// FoodFlag resolves the stored food flag; unknown defaults to food.
func (it *ReceiptItem) FoodFlag() bool {
	if it.IsFood == nil {
		return true
	}
	return *it.IsFood
}

// FoodHint is the last known classification for an item name.
type FoodHint struct {
	IsFood      *bool
	FoodQuality *constants.FoodQuality
}

// ApplyHint fills unset food fields from a hint. Values set by the parser win.
func (it *ReceiptItem) ApplyHint(h FoodHint) {
	if it.IsFood == nil && h.IsFood != nil {
		v := *h.IsFood
		it.IsFood = &v
	}
	if it.IsFood != nil && !*it.IsFood {
		it.FoodQuality = nil
		return
	}
	if it.FoodQuality == nil && h.FoodQuality != nil {
		q := *h.FoodQuality
		it.FoodQuality = &q
	}
}
