package lidl

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

var (
	reSpaces   = regexp.MustCompile(`\s+`)
	reMoney    = regexp.MustCompile(`(\d{1,3}(?:[.\s]\d{3})*[.,]\s*\d{2})`)
	reQuantity = regexp.MustCompile(`(\d+[.,]\d+)`)
	reQtyLine  = regexp.MustCompile(`(?i)^\s*(\d+[.,]\d+)\s+(BUC|KG)\s*[xX×]\s*(\d+[.,]\s*\d{2})\s*$`)
	reVATTail  = regexp.MustCompile(`\b([ABD])\b\s*$`)
)

func normSpaces(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// upperASCII uppercases s with diacritics removed (Ș -> S, Ă -> A).
func upperASCII(s string) string {
	return strings.ToUpper(stripDiacritics(s))
}

// parseMoney reads the first amount in text. Both "1.234,56" and "12,50"
// forms are accepted; the separator before the last two digits is decimal.
func parseMoney(text string) (float64, bool) {
	m := reMoney.FindString(text)
	if m == "" {
		return 0, false
	}
	raw := strings.ReplaceAll(m, " ", "")
	raw = strings.ReplaceAll(raw, "\t", "")
	if len(raw) < 4 {
		return 0, false
	}
	intPart := strings.NewReplacer(".", "", ",", "").Replace(raw[:len(raw)-3])
	v, err := strconv.ParseFloat(intPart+"."+raw[len(raw)-2:], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseQuantity(text string) (float64, bool) {
	m := reQuantity.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// signed applies a minus sign printed anywhere on the line ("1,53-B", "-8,50").
func signed(v float64, line string) float64 {
	if strings.Contains(strings.ReplaceAll(line, " ", ""), "-") {
		if v > 0 {
			return -v
		}
	}
	return v
}

func moneyRound(v float64) float64 {
	return entity.RoundMoney(v)
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T { return &v }
