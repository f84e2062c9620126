package constants

import "strings"

// FoodQuality classifies a food item. Only meaningful when the item is food.
type FoodQuality string

const (
	FoodHealthy  FoodQuality = "healthy"
	FoodBalanced FoodQuality = "balanced"
	FoodJunk     FoodQuality = "junk"
)

var allFoodQualities = []FoodQuality{FoodHealthy, FoodBalanced, FoodJunk}

// FoodQualityStrings returns the allowed values, e.g. for schema enums.
func FoodQualityStrings() []string {
	result := make([]string, len(allFoodQualities))
	for i, q := range allFoodQualities {
		result[i] = string(q)
	}
	return result
}

// CanonicalizeFoodQuality maps free-form labels (as edited in the dashboard
// or stored by older worker versions) onto the closed set.
func CanonicalizeFoodQuality(input string) (FoodQuality, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]FoodQuality{
		"sanatos":    FoodHealthy,
		"healthy":    FoodHealthy,
		"good":       FoodHealthy,
		"echilibrat": FoodBalanced,
		"balanced":   FoodBalanced,
		"ok":         FoodBalanced,
		"junk":       FoodJunk,
		"nesanatos":  FoodJunk,
		"bad":        FoodJunk,
	}
	if q, ok := synonyms[normalized]; ok {
		return q, true
	}
	return "", false
}

// WarningCode is the closed set of processing warnings.
type WarningCode string

const (
	WarnIncompleteItem           WarningCode = "incomplete_item"
	WarnMissingTimestamp         WarningCode = "missing_timestamp"
	WarnItemNeedsReview          WarningCode = "item_needs_review"
	WarnDuplicateContentMismatch WarningCode = "duplicate_content_mismatch"
	WarnArchiveFailed            WarningCode = "archive_failed"
)

// WarningCodeStrings returns every warning code, e.g. for schema enums.
func WarningCodeStrings() []string {
	return []string{
		string(WarnIncompleteItem),
		string(WarnMissingTimestamp),
		string(WarnItemNeedsReview),
		string(WarnDuplicateContentMismatch),
		string(WarnArchiveFailed),
	}
}
