package lidl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/ocr"
	"github.com/joseph-ayodele/receipts-worker/internal/parser"
)

const sampleReceipt = `LIDL DISCOUNT S.R.L.
STRADA FABRICII 12
CLUJ-NAPOCA
12345678
LEI
1,000 BUC x 7,99
LAPTE ZUZU 1,5%
7,99 B
2,000 BUC x 3,50
PAINE
7,00 B
REDUCERE 25%
DISCOUNT
1,75-B
0,500 KG x 10,00
MERE
5,00 A
1,000 BUC x 0,50
RETURNARE GARANTIE
-0,50 D
SUBTOTAL
17,74
TOTAL
17,74
CARD
17,74
DATA: 15/03/2025 ORA: 18:42:07
`

func TestParseText_FullReceipt(t *testing.T) {
	rec, err := ParseText(sampleReceipt, "lidl", "IMG_1.txt", "inbox")
	require.NoError(t, err)

	require.NotNil(t, rec.Total)
	assert.Equal(t, 17.74, *rec.Total)
	assert.Equal(t, 1.75, rec.DiscountTotal)
	assert.Equal(t, 0.50, rec.SGRRecoveredAmount)
	assert.Equal(t, constants.StatusOK, rec.Processing.Status)
	assert.Empty(t, rec.Processing.Warnings)

	require.NotNil(t, rec.Timestamp)
	assert.Equal(t, "2025-03-15T18:42:07", rec.Timestamp.String())

	require.NotNil(t, rec.Merchant.Name)
	assert.Equal(t, "LIDL DISCOUNT S.R.L.", *rec.Merchant.Name)
	assert.Equal(t, "STRADA FABRICII 12", *rec.Merchant.Address)
	assert.Equal(t, "CLUJ-NAPOCA", *rec.Merchant.City)
	assert.Equal(t, "12345678", *rec.Merchant.CIF)

	assert.Equal(t, "inbox/lidl/IMG_1.txt", rec.Source.RelPath)
	assert.Equal(t, constants.SchemaVersion, rec.SchemaVersion)

	require.Len(t, rec.Items, 3)

	milk := rec.Items[0]
	assert.Equal(t, "LAPTE ZUZU 1,5%", milk.Name)
	assert.Equal(t, 1.0, *milk.Quantity)
	assert.Equal(t, "BUC", *milk.Unit)
	assert.Equal(t, 7.99, *milk.UnitPrice)
	assert.Equal(t, 7.99, *milk.PaidAmount)
	assert.Zero(t, milk.Discount)
	assert.Equal(t, "B", *milk.Meta.VATCode)
	assert.Equal(t, "7,99 B", *milk.Meta.PaidAmountRaw)
	assert.Equal(t, "1,000", *milk.Meta.QuantityRaw)

	bread := rec.Items[1]
	assert.Equal(t, "PAINE", bread.Name)
	assert.Equal(t, 2.0, *bread.Quantity)
	assert.Equal(t, 1.75, bread.Discount)
	assert.Equal(t, "1,75-B", *bread.Meta.DiscountRaw)

	apples := rec.Items[2]
	assert.Equal(t, "MERE", apples.Name)
	assert.Equal(t, "KG", *apples.Unit)
	assert.Equal(t, 0.5, *apples.Quantity)
	assert.Equal(t, 10.0, *apples.UnitPrice)
	assert.Zero(t, apples.Discount, "a D-coded refund is not a discount")

	for _, it := range rec.Items {
		assert.False(t, it.NeedsReview)
		assert.Nil(t, it.IsFood)
	}
}

func TestParseText_NameAfterAmount(t *testing.T) {
	text := "LEI\n1,000 BUC x 2,50\n2,50 B\nAPA PLATA\nTOTAL\n2,50\nDATA: 01/02/2025\n"
	rec, err := ParseText(text, "lidl", "a.txt", "inbox")
	require.NoError(t, err)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, "APA PLATA", rec.Items[0].Name)
	assert.Equal(t, 2.50, *rec.Items[0].PaidAmount)
	assert.Equal(t, "2025-02-01T00:00:00", rec.Timestamp.String())
}

func TestParseText_SplitAmountAndVAT(t *testing.T) {
	text := "LEI\n1,000 BUC x 12,19\nCAFEA\n12,19\nB\nTOTAL\n12,19\nDATA: 01/02/2025 ORA: 10:00:00\n"
	rec, err := ParseText(text, "lidl", "a.txt", "inbox")
	require.NoError(t, err)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, 12.19, *rec.Items[0].PaidAmount)
	assert.Equal(t, "B", *rec.Items[0].Meta.VATCode)
	assert.Equal(t, "12,19 B", *rec.Items[0].Meta.PaidAmountRaw)
}

func TestParseText_IncompleteItemWarns(t *testing.T) {
	text := "LEI\n1,000 BUC x 2,00\nAPA\n1,000 BUC x 3,00\nSUC\n3,00 B\nTOTAL\n3,00\n"
	rec, err := ParseText(text, "lidl", "a.txt", "inbox")
	require.NoError(t, err)

	require.Len(t, rec.Items, 1)
	assert.Equal(t, "SUC", rec.Items[0].Name)
	assert.Equal(t, constants.StatusWarn, rec.Processing.Status)
	assert.Nil(t, rec.Timestamp)

	var codes []constants.WarningCode
	for _, w := range rec.Processing.Warnings {
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []constants.WarningCode{constants.WarnIncompleteItem, constants.WarnMissingTimestamp}, codes)
	assert.Contains(t, rec.Processing.Warnings[0].Detail, "APA")
}

func TestParseText_NoTotal(t *testing.T) {
	rec, err := ParseText("LIDL\n1,000 BUC x 2,00\nAPA\n2,00 B\n", "lidl", "a.txt", "inbox")
	require.Error(t, err)

	pe, ok := parser.AsParseError(err)
	require.True(t, ok)
	assert.Equal(t, parser.CodeTotalNotFound, pe.Code)
	assert.Same(t, rec, pe.Partial)
	assert.Equal(t, constants.StatusFail, rec.Processing.Status)
	require.NotNil(t, rec.Processing.Error)
	assert.Equal(t, totalNotFoundMsg, *rec.Processing.Error)
	assert.Len(t, rec.Items, 1)
}

func TestParseMoney(t *testing.T) {
	cases := map[string]float64{
		"7,99 B":     7.99,
		"1.234,56":   1234.56,
		"12.50":      12.50,
		"7, 99":      7.99,
		"TOTAL 0,50": 0.50,
	}
	for in, want := range cases {
		got, ok := parseMoney(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := parseMoney("PAINE")
	assert.False(t, ok)
}

func TestUpperASCII(t *testing.T) {
	assert.Equal(t, "MULTUMESC", upperASCII("Mulțumesc"))
	assert.Equal(t, "ACHIZITIE", upperASCII("achiziție"))
}

func TestDedupeIncomplete(t *testing.T) {
	q := ptr(1.0)
	p := ptr(4.2)
	items := []item{
		{name: "SIROP CU STEVIE", unit: "BUC", qty: q, unitPrice: p},
		{name: "SIROP  CU STEVIE", unit: "BUC", qty: q, unitPrice: p, paid: p},
		{name: "APA", unit: "BUC", qty: q, unitPrice: p, paid: p},
	}
	out := dedupeIncomplete(items)
	require.Len(t, out, 2)
	assert.NotNil(t, out[0].paid)
	assert.Equal(t, "APA", out[1].name)
}

type stubExtractor struct {
	res ocr.ExtractionResult
	err error
}

func (s stubExtractor) ExtractBytes(context.Context, string, []byte, string) (ocr.ExtractionResult, error) {
	return s.res, s.err
}

func TestParser_Parse(t *testing.T) {
	in := parser.Input{Store: "lidl", FileName: "IMG_1.jpg", RelBase: "inbox", Data: []byte{1}, Hash: "h"}

	t.Run("sets ocr engine", func(t *testing.T) {
		p := New(stubExtractor{res: ocr.ExtractionResult{Text: sampleReceipt, Engine: "tesseract"}}, nil)
		rec, err := p.Parse(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, "tesseract", rec.Processing.OCREngine)
		assert.Equal(t, "IMG_1.jpg", rec.Source.FileName)
	})

	t.Run("no text is a parse error", func(t *testing.T) {
		p := New(stubExtractor{err: ocr.ErrNoText}, nil)
		_, err := p.Parse(context.Background(), in)
		_, ok := parser.AsParseError(err)
		assert.True(t, ok)
	})

	t.Run("tool failure stays retryable", func(t *testing.T) {
		boom := errors.New("tesseract crashed")
		p := New(stubExtractor{err: boom}, nil)
		_, err := p.Parse(context.Background(), in)
		assert.ErrorIs(t, err, boom)
		_, ok := parser.AsParseError(err)
		assert.False(t, ok)
	})

	t.Run("partial receipt on missing total", func(t *testing.T) {
		p := New(stubExtractor{res: ocr.ExtractionResult{Text: "LIDL\nAPA\n", Engine: "text"}}, nil)
		_, err := p.Parse(context.Background(), in)
		pe, ok := parser.AsParseError(err)
		require.True(t, ok)
		require.NotNil(t, pe.Partial)
		assert.Equal(t, "text", pe.Partial.Processing.OCREngine)
	})
}
