package ocr

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var platePatterns = []*regexp.Regexp{
	regexp.MustCompile(`[ก-ฮ]{1,3}[\s\-]?\d{3,4}`),  // กข 1234
	regexp.MustCompile(`[A-Z]{2,3}[\s\-]?\d{3,4}`),  // AB 1234
	regexp.MustCompile(`\d[ก-ฮ]{2}[\s\-]?\d{3,4}`), // 1กข 1234
}

const (
	shortPlateConfidence   = 0.3
	matchedPlateConfidence = 0.8
	otherPlateConfidence   = 0.5
	provinceBonus          = 0.15
)

// EstimateConfidence scores a parsed answer with fixed heuristics. The number
// is a rough plausibility signal, not a calibrated probability.
func EstimateConfidence(f PlateFields) float64 {
	plate := strings.TrimSpace(f.LicensePlateNumber)
	if plate == "" || strings.Contains(strings.ToUpper(plate), UnreadableSentinel) {
		return 0
	}
	if utf8.RuneCountInString(plate) < 3 {
		return shortPlateConfidence
	}

	score := otherPlateConfidence
	if ValidPlateFormat(plate) {
		score = matchedPlateConfidence
	}

	province := strings.TrimSpace(f.Province)
	if province != "" &&
		!strings.EqualFold(province, UnreadableSentinel) &&
		utf8.RuneCountInString(province) > 2 {
		score += provinceBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// ValidPlateFormat reports whether the plate looks like a Thai, Latin or
// new-format registration.
func ValidPlateFormat(plate string) bool {
	for _, re := range platePatterns {
		if re.MatchString(plate) {
			return true
		}
	}
	return false
}
