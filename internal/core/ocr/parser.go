package ocr

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// PlateFields is the parsed model answer.
type PlateFields struct {
	LicensePlateNumber string `json:"license_plate_number"`
	Province           string `json:"province"`
}

var (
	fenceOpenRe  = regexp.MustCompile("^```[A-Za-z0-9_-]*[ \\t]*\\r?\\n?")
	fenceCloseRe = regexp.MustCompile("\\r?\\n?```\\s*$")

	plateKeyRe    = regexp.MustCompile(`(?i)["']?license_plate_number["']?\s*[:=]\s*["']?([^"'\n\r,}]*)`)
	provinceKeyRe = regexp.MustCompile(`(?i)["']?province["']?\s*[:=]\s*["']?([^"'\n\r,}]*)`)

	// Start of any key, used to end an unquoted value on a single line.
	anyKeyRe = regexp.MustCompile(`(?i)["']?\b(?:license_plate_number|province)\b["']?\s*[:=]`)
)

// StripCodeFences removes a surrounding ``` block, with or without a language tag.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = fenceOpenRe.ReplaceAllString(s, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseStructured decodes the answer as a JSON object. It fails when the text is
// not an object; missing keys decode as empty strings.
func ParseStructured(text string) (PlateFields, error) {
	cleaned := StripCodeFences(text)
	if cleaned == "" {
		return PlateFields{}, errors.New("empty response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return PlateFields{}, err
	}
	return normalizeFields(PlateFields{
		LicensePlateNumber: stringField(raw["license_plate_number"]),
		Province:           stringField(raw["province"]),
	}), nil
}

// ExtractFields pulls the two keys out of free text. It never fails; a key that
// does not appear yields an empty string.
func ExtractFields(text string) PlateFields {
	var out PlateFields
	if m := plateKeyRe.FindStringSubmatch(text); m != nil {
		out.LicensePlateNumber = cutAtKey(m[1])
	}
	if m := provinceKeyRe.FindStringSubmatch(text); m != nil {
		out.Province = cutAtKey(m[1])
	}
	return normalizeFields(out)
}

// cutAtKey drops everything from the next key onward.
func cutAtKey(value string) string {
	if loc := anyKeyRe.FindStringIndex(value); loc != nil {
		return value[:loc[0]]
	}
	return value
}

// ParseResponse tries strict JSON first and falls back to key extraction.
func ParseResponse(text string) PlateFields {
	if strings.TrimSpace(text) == "" {
		return PlateFields{}
	}
	if fields, err := ParseStructured(text); err == nil {
		return fields
	}
	return ExtractFields(text)
}

func normalizeFields(f PlateFields) PlateFields {
	return PlateFields{
		LicensePlateNumber: strings.ToUpper(strings.TrimSpace(f.LicensePlateNumber)),
		Province:           strings.TrimSpace(f.Province),
	}
}

func stringField(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
