package parser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/common"
	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

func okParser(store string) Parser {
	return ParserFunc(func(context.Context, Input) (*entity.Receipt, error) {
		total := 1.0
		r := entity.NewReceipt(store, "a.txt", "inbox")
		r.Total = &total
		return r, nil
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("lidl", okParser("lidl")))
	require.NoError(t, r.Register("kaufland", okParser("kaufland")))

	assert.Error(t, r.Register("lidl", okParser("lidl")))
	assert.Error(t, r.Register("", okParser("")))

	assert.Equal(t, []string{"kaufland", "lidl"}, r.Stores())

	_, err := r.Get("penny")
	assert.ErrorIs(t, err, common.ErrUnknownStore)

	t.Run("select all", func(t *testing.T) {
		got, err := r.Select([]string{"lidl"}, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"kaufland", "lidl"}, got)
	})
	t.Run("select explicit dedupes", func(t *testing.T) {
		got, err := r.Select([]string{"lidl", "lidl"}, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"lidl"}, got)
	})
	t.Run("select unknown", func(t *testing.T) {
		_, err := r.Select([]string{"penny"}, false)
		assert.ErrorIs(t, err, common.ErrUnknownStore)
	})
	t.Run("select nothing", func(t *testing.T) {
		_, err := r.Select(nil, false)
		assert.ErrorIs(t, err, common.ErrInvalidInput)
	})
}

func TestParseWithRetry(t *testing.T) {
	ctx := context.Background()
	in := Input{Store: "lidl", FileName: "a.txt"}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		p := ParserFunc(func(ctx context.Context, in Input) (*entity.Receipt, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("ocr timeout")
			}
			return okParser("lidl").Parse(ctx, in)
		})
		rec, err := ParseWithRetry(ctx, p, in, 3, time.Millisecond, nil)
		require.NoError(t, err)
		assert.NotNil(t, rec)
		assert.Equal(t, 3, calls)
	})

	t.Run("parse error is not retried", func(t *testing.T) {
		calls := 0
		p := ParserFunc(func(context.Context, Input) (*entity.Receipt, error) {
			calls++
			return nil, NewParseError(CodeTotalNotFound, "no total", nil)
		})
		_, err := ParseWithRetry(ctx, p, in, 3, time.Millisecond, nil)
		pe, ok := AsParseError(err)
		require.True(t, ok)
		assert.Equal(t, CodeTotalNotFound, pe.Code)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted attempts become parser exception", func(t *testing.T) {
		p := ParserFunc(func(context.Context, Input) (*entity.Receipt, error) {
			return nil, errors.New("boom")
		})
		_, err := ParseWithRetry(ctx, p, in, 2, time.Millisecond, nil)
		pe, ok := AsParseError(err)
		require.True(t, ok)
		assert.Equal(t, CodeParserException, pe.Code)
		assert.Equal(t, "boom", pe.Message)
	})

	t.Run("invalid attempts", func(t *testing.T) {
		_, err := ParseWithRetry(ctx, okParser("lidl"), in, 0, 0, nil)
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ParseWithRetry(cctx, okParser("lidl"), in, 3, time.Millisecond, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func validReceipt() *entity.Receipt {
	total, qty, price := 7.99, 1.0, 7.99
	unit, vat := "BUC", "B"
	r := entity.NewReceipt("lidl", "IMG_1.jpg", "inbox")
	r.Total = &total
	r.Timestamp = entity.NewTimestamp(time.Date(2025, 3, 15, 18, 42, 7, 0, time.UTC))
	r.Items = []entity.ReceiptItem{{
		Name:       "LAPTE",
		Quantity:   &qty,
		Unit:       &unit,
		UnitPrice:  &price,
		PaidAmount: &price,
		Meta:       entity.ItemMeta{VATCode: &vat},
	}}
	return r
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(validReceipt()))

	t.Run("warn status with warnings", func(t *testing.T) {
		r := validReceipt()
		r.AddWarning(constants.WarnMissingTimestamp, "")
		r.Timestamp = nil
		assert.NoError(t, Validate(r))
	})

	t.Run("missing total", func(t *testing.T) {
		r := validReceipt()
		r.Total = nil
		err := Validate(r)
		pe, ok := AsParseError(err)
		require.True(t, ok)
		assert.Equal(t, CodeSchemaInvalid, pe.Code)
	})

	t.Run("non-food item with quality", func(t *testing.T) {
		r := validReceipt()
		no := false
		q := constants.FoodJunk
		r.Items[0].IsFood = &no
		r.Items[0].FoodQuality = &q
		assert.Error(t, Validate(r))
	})

	t.Run("failed status is not a valid document", func(t *testing.T) {
		r := validReceipt()
		r.Processing.Status = constants.StatusFail
		assert.Error(t, Validate(r))
	})

	t.Run("empty item name", func(t *testing.T) {
		r := validReceipt()
		r.Items[0].Name = ""
		assert.Error(t, Validate(r))
	})
}
