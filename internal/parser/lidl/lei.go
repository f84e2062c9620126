package lidl

import (
	"math"
	"regexp"
	"strings"
)

// leiToken is one amount printed in the right-hand LEI column.
type leiToken struct {
	value float64
	raw   string
}

var (
	reEndsWithD = regexp.MustCompile(`\bD\b\s*$`)

	leiStopPrefixes = []string{"TRANZAC", "CASA", "MG", "DATA", "TZ/POS", "ORA", "BON", "MULTUMESC", "ACHIZIT", "DETALII"}
)

func findLEISection(lines []string) int {
	for i, ln := range lines {
		if upperASCII(ln) == "LEI" {
			return i
		}
	}
	return -1
}

// leiStream collects the amounts after the LEI header until the payment
// footer starts. Quantity lines interleaved by OCR are skipped.
func leiStream(lines []string) []leiToken {
	start := findLEISection(lines)
	if start < 0 {
		return nil
	}
	var out []leiToken
	for _, ln := range lines[start+1:] {
		norm := normSpaces(ln)
		if reQtyLine.MatchString(norm) {
			continue
		}
		uu := upperASCII(norm)
		if (strings.Contains(uu, "BUC") || strings.Contains(uu, "KG")) &&
			(strings.Contains(" "+uu+" ", " X ") || strings.Contains(uu, "×") || strings.Contains(uu, " X")) {
			continue
		}
		if hasAnyPrefix(upperASCII(ln), leiStopPrefixes...) {
			break
		}
		if !reMoney.MatchString(norm) {
			continue
		}
		v, ok := parseMoney(ln)
		if !ok {
			continue
		}
		out = append(out, leiToken{value: moneyRound(signed(v, ln)), raw: ln})
	}
	return out
}

func vatFromRaw(raw string) string {
	m := reVATTail.FindStringSubmatch(upperASCII(normSpaces(raw)))
	if m == nil {
		return ""
	}
	return m[1]
}

type totals struct {
	total    *float64
	subtotal *float64
	totalTVA *float64
}

// extractTotals reads TOTAL as the last positive LEI amount and SUBTOTAL as
// the one before it.
func extractTotals(lines []string, tokens []leiToken) totals {
	var t totals
	var positives []float64
	for _, tok := range tokens {
		if tok.value > 0 {
			positives = append(positives, tok.value)
		}
	}
	if n := len(positives); n > 0 {
		t.total = ptr(positives[n-1])
		if n >= 2 {
			t.subtotal = ptr(positives[n-2])
		}
	}
	for i, ln := range lines {
		if !strings.HasPrefix(upperASCII(ln), "TOTAL TVA") {
			continue
		}
		for j := i + 1; j < len(lines) && j < i+40; j++ {
			if v, ok := parseMoney(lines[j]); ok {
				t.totalTVA = ptr(moneyRound(v))
				break
			}
		}
		break
	}
	return t
}

// attachDiscounts walks the LEI column once. A negative amount directly after
// an item's paid amount is that item's discount unless its VAT code is D,
// which marks a bottle deposit refund. Returns the summed discounts.
func attachDiscounts(items []item, tokens []leiToken) float64 {
	if len(items) == 0 || len(tokens) == 0 {
		return 0
	}
	ti := 0
	var total float64
	for idx := range items {
		it := &items[idx]
		if it.paid == nil {
			continue
		}
		paid := moneyRound(*it.paid)
		found := false
		for ti < len(tokens) {
			if tokens[ti].value > 0 && moneyRound(tokens[ti].value) == paid {
				found = true
				break
			}
			ti++
		}
		if !found {
			continue
		}
		if ti+1 < len(tokens) {
			next := tokens[ti+1]
			if next.value < 0 && vatFromRaw(next.raw) != "D" {
				disc := math.Abs(next.value)
				it.discount = moneyRound(disc)
				it.discountRaw = normSpaces(next.raw)
				total += disc
				ti += 2
				continue
			}
		}
		ti++
	}
	return moneyRound(total)
}

// sgrRecovered finds the deposit refund: a negative LEI amount tagged D, or
// failing that a negative amount followed by a lone "D" line.
func sgrRecovered(lines []string, tokens []leiToken) float64 {
	for _, tok := range tokens {
		if tok.value < 0 && reEndsWithD.MatchString(upperASCII(normSpaces(tok.raw))) {
			return moneyRound(math.Abs(tok.value))
		}
	}
	for idx := 0; idx+1 < len(lines); idx++ {
		a := normSpaces(lines[idx])
		if normSpaces(lines[idx+1]) != "D" {
			continue
		}
		v, ok := parseMoney(a)
		if !ok {
			continue
		}
		if v = moneyRound(signed(v, a)); v < 0 {
			return moneyRound(math.Abs(v))
		}
	}
	return 0
}
