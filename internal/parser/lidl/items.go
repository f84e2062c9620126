package lidl

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// item is the parser's working form of one product line.
type item struct {
	name         string
	qty          *float64
	qtyRaw       string
	unit         string
	unitPrice    *float64
	unitPriceRaw string
	paid         *float64
	paidRaw      string
	vat          string
	discount     float64
	discountRaw  string
	needsReview  bool
}

var (
	reLetters      = regexp.MustCompile(`[A-Z]`)
	reLeadNoise    = regexp.MustCompile(`^[^0-9\-]+`)
	reTrailNoise   = regexp.MustCompile(`[^0-9.,\-\s]+$`)
	reMoneyExact   = regexp.MustCompile(`^-?\d{1,3}(?:[.\s]\d{3})*[.,]\s*\d{2}$`)
	reNumericOnly  = regexp.MustCompile(`^[0-9.,\-\s]+$`)
	reVATTailAnyCs = regexp.MustCompile(`(?i)\b[ABD]\b\s*$`)

	footerPrefixes = []string{"TVA", "TRANZAC", "CASA", "MG", "DATA", "TZ/POS", "ORA", "BON", "MULTUMESC", "ACHIZIT", "DETALII"}
)

func up(s string) string { return upperASCII(normSpaces(s)) }

func isTotalsMarker(s string) bool {
	return hasAnyPrefix(up(s), "SUBTOTAL", "TOTAL")
}

func isDiscountMarker(s string) bool {
	return strings.HasPrefix(up(s), "DISCOUNT")
}

func isDiscountPrelude(s string) bool {
	u := up(s)
	return strings.HasPrefix(u, "REDUCERE") ||
		(strings.Contains(u, "REDUCERE") && strings.Contains(u, "LIDL") && strings.Contains(u, "PLUS"))
}

// isFooterNoise matches header/footer lines that never belong to an item.
// Lone VAT letters are left to vatOnly so they can tag the next amount.
func isFooterNoise(s string) bool {
	u := up(s)
	if u == "" || u == "CARD" || u == "LEI" {
		return true
	}
	return hasAnyPrefix(u, footerPrefixes...)
}

func isReturnGuarantee(s string) bool {
	u := upperASCII(s)
	return strings.Contains(u, "RETURNARE") && strings.Contains(u, "GARANT")
}

// vatOnly returns the VAT letter when the line holds nothing else.
func vatOnly(s string) string {
	switch u := up(s); u {
	case "A", "B", "D":
		return u
	}
	return ""
}

// moneyVATInline parses "7,99 B" style lines. namePart is what is left of
// the line once the amount and VAT letter are removed.
func moneyVATInline(s string) (val float64, vat, namePart string, ok bool) {
	ss := normSpaces(s)
	mm, found := parseMoney(ss)
	if !found {
		return 0, "", "", false
	}
	m := reVATTail.FindStringSubmatch(up(ss))
	if m == nil {
		return 0, "", "", false
	}
	loc := reMoney.FindStringIndex(ss)
	namePart = strings.TrimSpace(ss[:loc[0]] + ss[loc[1]:])
	namePart = strings.TrimSpace(reVATTailAnyCs.ReplaceAllString(namePart, ""))
	return moneyRound(signed(mm, ss)), m[1], namePart, true
}

// moneyThenVAT parses an amount and its VAT letter split over two lines, in
// either order.
func moneyThenVAT(lines []string, idx int) (val float64, vat string, consumed int, ok bool) {
	if idx+1 >= len(lines) {
		return 0, "", 0, false
	}
	a := normSpaces(lines[idx])
	b := normSpaces(lines[idx+1])
	if mm, found := parseMoney(a); found {
		if v := vatOnly(b); v != "" {
			return moneyRound(signed(mm, a)), v, 2, true
		}
	}
	if v := vatOnly(a); v != "" {
		if mm, found := parseMoney(b); found {
			return moneyRound(signed(mm, b)), v, 2, true
		}
	}
	return 0, "", 0, false
}

// moneyOnly parses a line holding nothing but an amount, tolerating stray
// punctuation around it.
func moneyOnly(s string) (float64, bool) {
	ss := normSpaces(s)
	mm, found := parseMoney(ss)
	if !found {
		return 0, false
	}
	u := upperASCII(ss)
	if reLetters.MatchString(u) {
		return 0, false
	}
	u = reLeadNoise.ReplaceAllString(u, "")
	u = strings.TrimSpace(reTrailNoise.ReplaceAllString(u, ""))
	if !reMoneyExact.MatchString(u) {
		return 0, false
	}
	return moneyRound(signed(mm, ss)), true
}

func looksLikeMoneyNoise(s string) bool {
	ss := normSpaces(s)
	if _, ok := parseMoney(ss); !ok {
		return false
	}
	return reNumericOnly.MatchString(up(ss))
}

// parseItems runs the item state machine. Every item opens on a quantity
// line ("1,000 BUC x 7,99") and then collects a name and a paid amount in
// whatever order OCR produced them. Incomplete items become warnings.
func parseItems(lines []string) ([]item, []string) {
	var (
		items    []item
		warnings []string
	)
	i := 0
	for i < len(lines) {
		ln := normSpaces(lines[i])
		if isTotalsMarker(ln) {
			break
		}
		m := reQtyLine.FindStringSubmatch(ln)
		if m == nil {
			i++
			continue
		}

		cur := item{qtyRaw: m[1], unit: strings.ToUpper(m[2]), unitPriceRaw: m[3]}
		if q, ok := parseQuantity(cur.qtyRaw); ok {
			cur.qty = ptr(q)
		}
		if p, ok := parseMoney(cur.unitPriceRaw); ok {
			cur.unitPrice = ptr(p)
		}
		hasName := false
		pendingVAT := ""

		j := i + 1
	collect:
		for j < len(lines) {
			cand := normSpaces(lines[j])
			switch {
			case isTotalsMarker(cand) || reQtyLine.MatchString(cand):
				break collect
			case isFooterNoise(cand), isDiscountPrelude(cand), isDiscountMarker(cand):
				j++
				continue
			}
			if v := vatOnly(cand); v != "" {
				pendingVAT = v
				j++
				continue
			}
			if !hasName && isReturnGuarantee(cand) {
				j++
				for j < len(lines) && !reQtyLine.MatchString(normSpaces(lines[j])) && !isTotalsMarker(lines[j]) {
					j++
				}
				cur.paid = nil
				break collect
			}
			if val, vat, namePart, ok := moneyVATInline(cand); ok && val > 0 && cur.paid == nil {
				cur.paid, cur.vat, cur.paidRaw = ptr(val), vat, cand
				if !hasName && namePart != "" && !looksLikeMoneyNoise(namePart) {
					cur.name, hasName = namePart, true
				}
				j++
				continue
			}
			if val, vat, consumed, ok := moneyThenVAT(lines, j); ok && val > 0 && cur.paid == nil {
				cur.paid, cur.vat = ptr(val), vat
				cur.paidRaw = normSpaces(lines[j]) + " " + normSpaces(lines[j+1])
				j += consumed
				continue
			}
			if val, ok := moneyOnly(cand); ok && val > 0 && cur.paid == nil {
				cur.paid, cur.vat, cur.paidRaw = ptr(val), pendingVAT, cand
				if pendingVAT != "" {
					cur.paidRaw = cand + " " + pendingVAT
				}
				pendingVAT = ""
				j++
				continue
			}
			if !hasName && !looksLikeMoneyNoise(cand) {
				cur.name, hasName = cand, true
			}
			j++
		}

		if !hasName || cur.paid == nil {
			// A skipped guarantee return lands on the next item boundary.
			if !hasName && cur.paid == nil && j > i+1 && j < len(lines) &&
				(reQtyLine.MatchString(normSpaces(lines[j])) || isTotalsMarker(lines[j])) {
				i = j
				continue
			}
			warnings = append(warnings, fmt.Sprintf("incomplete item after qty line %q (name=%s, paid=%s)",
				ln, describeName(hasName, cur.name), describePaid(cur.paid)))
			i++
			continue
		}

		k := j
		for k < len(lines) && isDiscountPrelude(lines[k]) {
			k++
		}
		if k < len(lines) && isDiscountMarker(lines[k]) {
			k++
		}
		if k < len(lines) {
			if disc, raw, consumed, vat, ok := takeNegativeAmount(lines, k); ok {
				if vat != "D" {
					cur.discount, cur.discountRaw = moneyRound(disc), raw
				}
				k += consumed
			}
		}

		items = append(items, cur)
		if k > i+1 {
			i = k
		} else {
			i++
		}
	}
	return items, warnings
}

// takeNegativeAmount reads a discount amount at lines[k].
func takeNegativeAmount(lines []string, k int) (abs float64, raw string, consumed int, vat string, ok bool) {
	line := normSpaces(lines[k])
	if v, code, _, found := moneyVATInline(line); found && v < 0 {
		return math.Abs(v), line, 1, code, true
	}
	if v, found := moneyOnly(line); found && v < 0 {
		return math.Abs(v), line, 1, "", true
	}
	if v, code, n, found := moneyThenVAT(lines, k); found && v < 0 {
		return math.Abs(v), normSpaces(lines[k]) + " " + normSpaces(lines[k+1]), n, code, true
	}
	return 0, "", 0, "", false
}

// dedupeIncomplete drops OCR duplicates: of two consecutive items with the
// same name, unit, quantity and unit price, the one without a paid amount
// goes.
func dedupeIncomplete(items []item) []item {
	if len(items) == 0 {
		return items
	}
	out := make([]item, 0, len(items))
	for _, it := range items {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if sameCore(prev, it) {
				prevIncomplete, curIncomplete := prev.paid == nil, it.paid == nil
				if prevIncomplete && !curIncomplete {
					out[n-1] = it
					continue
				}
				if curIncomplete && !prevIncomplete {
					continue
				}
			}
		}
		out = append(out, it)
	}
	return out
}

func sameCore(a, b item) bool {
	return normSpaces(a.name) == normSpaces(b.name) &&
		a.unit == b.unit &&
		eqFloat(a.qty, b.qty) &&
		eqFloat(a.unitPrice, b.unitPrice)
}

func eqFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func describeName(ok bool, name string) string {
	if !ok {
		return "none"
	}
	return fmt.Sprintf("%q", name)
}

func describePaid(p *float64) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%.2f", *p)
}
