package ocr

import "testing"

func TestParseStructured(t *testing.T) {
	want := PlateFields{LicensePlateNumber: "กข 1234", Province: "เชียงราย"}
	inputs := map[string]string{
		"plain":        `{"license_plate_number": "กข 1234", "province": "เชียงราย"}`,
		"json fence":   "```json\n{\"license_plate_number\": \"กข 1234\", \"province\": \"เชียงราย\"}\n```",
		"bare fence":   "```\n{\"license_plate_number\": \"กข 1234\", \"province\": \"เชียงราย\"}\n```",
		"padded":       "  \n{\"license_plate_number\": \"กข 1234\", \"province\": \"  เชียงราย \"}\n ",
		"inline fence": "```json {\"license_plate_number\": \"กข 1234\", \"province\": \"เชียงราย\"}```",
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := ParseStructured(in)
			if err != nil {
				t.Fatalf("ParseStructured: %v", err)
			}
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestParseStructuredUppercasesPlate(t *testing.T) {
	got, err := ParseStructured(`{"license_plate_number": "ab 1234", "province": "Bangkok"}`)
	if err != nil {
		t.Fatal(err)
	}
	if got.LicensePlateNumber != "AB 1234" {
		t.Errorf("plate: got %q, want %q", got.LicensePlateNumber, "AB 1234")
	}
}

func TestParseStructuredRejectsText(t *testing.T) {
	for _, in := range []string{"", "   ", "license_plate_number: AB 1234", "[1,2]"} {
		if _, err := ParseStructured(in); err == nil {
			t.Errorf("ParseStructured(%q): expected error", in)
		}
	}
}

func TestExtractFields(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want PlateFields
	}{
		{
			name: "yaml-ish",
			in:   `license_plate_number: "AB 1234"` + "\nprovince: \"Bangkok\"",
			want: PlateFields{LicensePlateNumber: "AB 1234", Province: "Bangkok"},
		},
		{
			name: "broken json",
			in:   `Here you go {"License_Plate_Number": 'กข 1234', "province": "ภูเก็ต"`,
			want: PlateFields{LicensePlateNumber: "กข 1234", Province: "ภูเก็ต"},
		},
		{
			name: "no province",
			in:   `license_plate_number = 1กข 5678`,
			want: PlateFields{LicensePlateNumber: "1กข 5678"},
		},
		{
			name: "unquoted on one line",
			in:   "license_plate_number: AB 1234 province: เชียงราย",
			want: PlateFields{LicensePlateNumber: "AB 1234", Province: "เชียงราย"},
		},
		{
			name: "unquoted on one line, province first",
			in:   "Province= ภูเก็ต License_Plate_Number= กข 99",
			want: PlateFields{LicensePlateNumber: "กข 99", Province: "ภูเก็ต"},
		},
		{
			name: "nothing",
			in:   "I cannot see any plate.",
			want: PlateFields{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractFields(tt.in); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	if got := ParseResponse(""); got != (PlateFields{}) {
		t.Errorf("empty: got %+v", got)
	}
	if got := ParseResponse(" \n\t "); got != (PlateFields{}) {
		t.Errorf("whitespace: got %+v", got)
	}

	malformed := `{license_plate_number: "AB 1234", province: "X"`
	got := ParseResponse(malformed)
	if got.LicensePlateNumber != "AB 1234" {
		t.Errorf("malformed: got %q, want %q", got.LicensePlateNumber, "AB 1234")
	}

	fenced := "```json\n{\"license_plate_number\": \"กข 1234\", \"province\": \"เชียงราย\"}\n```"
	if got := ParseResponse(fenced); got.LicensePlateNumber != "กข 1234" || got.Province != "เชียงราย" {
		t.Errorf("fenced: got %+v", got)
	}

	oneLine := ParseResponse("license_plate_number: AB 1234 province: เชียงราย")
	want := PlateFields{LicensePlateNumber: "AB 1234", Province: "เชียงราย"}
	if oneLine != want {
		t.Errorf("one line: got %+v, want %+v", oneLine, want)
	}
	if !ValidPlateFormat(oneLine.LicensePlateNumber) {
		t.Errorf("one line: plate %q should match a plate format", oneLine.LicensePlateNumber)
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{}\n```": "{}",
		"```\n{}\n```":     "{}",
		"{}":               "{}",
		"  {}  ":           "{}",
	}
	for in, want := range tests {
		if got := StripCodeFences(in); got != want {
			t.Errorf("StripCodeFences(%q): got %q, want %q", in, got, want)
		}
	}
}
