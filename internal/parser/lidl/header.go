package lidl

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

const merchantScanLines = 50

var (
	reCIF     = regexp.MustCompile(`^\d{8}$`)
	reDate    = regexp.MustCompile(`DATA\s*[: ]\s*([0-9]{2})/([0-9]{2})/([0-9]{4})`)
	reTime    = regexp.MustCompile(`[0O]RA\s*[: ]\s*([0-9]{2})[-: ]([0-9]{2})[-: ]([0-9]{2})`)
	reNonDigi = regexp.MustCompile(`\D`)
)

// extractMerchant reads the merchant block from the receipt header.
func extractMerchant(lines []string) entity.Merchant {
	var m entity.Merchant
	limit := len(lines)
	if limit > merchantScanLines {
		limit = merchantScanLines
	}
	for idx := 0; idx < limit; idx++ {
		line := lines[idx]
		u := upperASCII(line)
		if m.Name == nil && strings.Contains(u, "LIDL") {
			m.Name = ptr(normSpaces(line))
		}
		if m.CIF == nil && reCIF.MatchString(strings.TrimSpace(line)) {
			m.CIF = ptr(strings.TrimSpace(line))
		}
		if m.Address == nil && hasAnyPrefix(u, "STRADA", "BULEVARDUL") {
			m.Address = ptr(normSpaces(line))
			if idx+1 < len(lines) {
				m.City = ptr(normSpaces(lines[idx+1]))
			}
		}
	}
	return m
}

// extractTimestamp returns the receipt wall-clock time. The last DATA and
// ORA lines win; a date without a time resolves to midnight.
func extractTimestamp(lines []string) *entity.Timestamp {
	var date, clock string
	for _, line := range lines {
		u := upperASCII(line)
		if m := reDate.FindStringSubmatch(u); m != nil {
			date = fmt.Sprintf("%s-%s-%s", m[3], m[2], m[1])
		}
		if m := reTime.FindStringSubmatch(u); m != nil {
			clock = fmt.Sprintf("%s:%s:%s", cleanDigits(m[1]), cleanDigits(m[2]), cleanDigits(m[3]))
		}
	}
	if date == "" {
		return nil
	}
	if clock == "" {
		clock = "00:00:00"
	}
	t, err := time.Parse(entity.TimestampLayout, date+"T"+clock)
	if err != nil {
		// OCR garbage such as month 13; fall back to the date alone.
		t, err = time.Parse("2006-01-02", date)
		if err != nil {
			return nil
		}
	}
	return entity.NewTimestamp(t)
}

func cleanDigits(s string) string {
	return reNonDigi.ReplaceAllString(s, "0")
}
