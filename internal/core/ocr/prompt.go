package ocr

import "strings"

// BuildPrompt returns the instruction sent with every plate crop.
func BuildPrompt(languageHint string) string {
	var b strings.Builder
	b.WriteString("You are reading a single vehicle license plate from a cropped photo.\n")

	switch strings.ToLower(strings.TrimSpace(languageHint)) {
	case "thai":
		b.WriteString("The plate is a Thai plate written in Thai script and Arabic digits.\n")
	case "english", "latin":
		b.WriteString("The plate is written in Latin letters and digits.\n")
	default:
		b.WriteString("The plate may use Thai script, Latin letters, or both, plus digits.\n")
	}

	b.WriteString(`Rules:
- license_plate_number: the registration characters exactly as printed, keep the space between letters and digits (e.g. "กข 1234", "1กข 1234", "AB 1234").
- province: the province name printed under the number, in its original script. Empty string if there is none.
- Use "?" for a single character you cannot read.
- If the plate cannot be read at all, use "UNREADABLE" for that field.
Reply with JSON only, no explanations:
{"license_plate_number": "...", "province": "..."}`)
	return b.String()
}
