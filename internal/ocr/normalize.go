package ocr

import (
	"strings"
)

// Normalize tidies extracted text line by line: runs of blanks become one
// space, ruler lines (----, ====, ____) are dropped and at most one empty
// line is kept between blocks.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var (
		out   []string
		blank bool
	)
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.Join(strings.Fields(ln), " ")
		if isRuler(ln) {
			ln = ""
		}
		if ln == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, ln)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func isRuler(ln string) bool {
	if len(ln) < 3 {
		return false
	}
	return strings.Trim(ln, "-=_") == ""
}

// receiptMarkers are substrings (lowercase) that show up on almost every
// Romanian till receipt.
var receiptMarkers = []struct {
	marker string
	weight float32
}{
	{"total", 0.25},
	{"lei", 0.15},
	{"buc", 0.1},
	{"cif", 0.1},
	{"data", 0.1},
	{"card", 0.05},
	{"numerar", 0.05},
}

// textScore is a rough 0..1 measure of how receipt-like extracted text
// looks. It is logged only; parsers decide what they can use.
func textScore(txt string) float32 {
	if txt == "" {
		return 0
	}
	lower := strings.ToLower(txt)
	score := float32(0.1)
	for _, m := range receiptMarkers {
		if strings.Contains(lower, m.marker) {
			score += m.weight
		}
	}
	amounts := 0
	for _, f := range strings.Fields(lower) {
		if looksLikeAmount(f) {
			amounts++
		}
	}
	switch {
	case amounts >= 5:
		score += 0.2
	case amounts > 0:
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// looksLikeAmount matches 12,34 or 12.34.
func looksLikeAmount(f string) bool {
	i := strings.LastIndexAny(f, ".,")
	if i < 1 || len(f)-i != 3 {
		return false
	}
	for j, c := range f {
		if j == i {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
