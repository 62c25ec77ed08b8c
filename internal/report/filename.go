package report

import (
	"strings"
	"unicode"
)

// Filename derives the download name of a report from the patient's name:
// whitespace runs become "_", characters unsafe in file names are dropped,
// and "_Report.pdf" is appended. An empty name yields "Patient_Report.pdf".
func Filename(patientName string) string {
	var sb strings.Builder
	for i, field := range strings.Fields(patientName) {
		if i > 0 {
			sb.WriteByte('_')
		}
		for _, r := range field {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.' || r == '_' {
				sb.WriteRune(r)
			}
		}
	}
	base := strings.Trim(sb.String(), "._")
	if base == "" {
		base = "Patient"
	}
	return base + "_Report.pdf"
}
