package receipt

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// brandNames are merchant spellings that plain title casing would mangle.
// Keys are the upper-cased input.
var brandNames = map[string]string{
	"TARGET":     "Target",
	"WALMART":    "Walmart",
	"COSTCO":     "Costco",
	"BESTBUY":    "Best Buy",
	"BEST BUY":   "Best Buy",
	"MCDONALD'S": "McDonald's",
	"CVS":        "CVS",
	"WALGREENS":  "Walgreens",
}

// ProperCase converts text to a consistent display case: first letter of each
// word capitalized, the rest lowered, surrounding whitespace trimmed. Empty
// input passes through unchanged, and the function is idempotent so values
// already written to the database compare equal after re-normalization.
func ProperCase(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if brand, ok := brandNames[strings.ToUpper(text)]; ok {
		return brand
	}

	// cases.Caser carries transform state and is not safe to share across
	// goroutines, so each call builds its own.
	return cases.Title(language.AmericanEnglish).String(strings.ToLower(text))
}

// usStates and canadianProvinces are the accepted two-letter region codes.
var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true,
	"CT": true, "DE": true, "FL": true, "GA": true, "HI": true, "ID": true,
	"IL": true, "IN": true, "IA": true, "KS": true, "KY": true, "LA": true,
	"ME": true, "MD": true, "MA": true, "MI": true, "MN": true, "MS": true,
	"MO": true, "MT": true, "NE": true, "NV": true, "NH": true, "NJ": true,
	"NM": true, "NY": true, "NC": true, "ND": true, "OH": true, "OK": true,
	"OR": true, "PA": true, "RI": true, "SC": true, "SD": true, "TN": true,
	"TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true,
}

var canadianProvinces = map[string]bool{
	"AB": true, "BC": true, "MB": true, "NB": true, "NL": true, "NT": true,
	"NS": true, "NU": true, "ON": true, "PE": true, "QC": true, "SK": true,
	"YT": true,
}

// provinceNames maps spelled-out region names to their codes.
var provinceNames = map[string]string{
	"ONTARIO":              "ON",
	"ONT":                  "ON",
	"QUEBEC":               "QC",
	"BRITISH COLUMBIA":     "BC",
	"ALBERTA":              "AB",
	"MANITOBA":             "MB",
	"SASKATCHEWAN":         "SK",
	"NOVA SCOTIA":          "NS",
	"NEW BRUNSWICK":        "NB",
	"NEWFOUNDLAND":         "NL",
	"PRINCE EDWARD ISLAND": "PE",
}

// CleanState validates and normalizes a state or province to its two-letter
// code. Unrecognized input yields "" rather than a bad row.
func CleanState(state string) string {
	state = strings.ToUpper(strings.TrimSpace(state))
	if state == "" {
		return ""
	}

	if usStates[state] || canadianProvinces[state] {
		return state
	}

	for name, code := range provinceNames {
		if strings.Contains(state, name) {
			return code
		}
	}

	// Last resort: pull a known code out of a longer string like "CA 94102"
	for _, field := range strings.Fields(state) {
		if usStates[field] || canadianProvinces[field] {
			return field
		}
	}

	return ""
}

var nonDigitRe = regexp.MustCompile(`\D`)

// CleanZip normalizes a US ZIP code to 5 or 5+4 digits. Anything else is
// dropped.
func CleanZip(zip string) string {
	digits := nonDigitRe.ReplaceAllString(zip, "")
	switch len(digits) {
	case 5:
		return digits
	case 9:
		return digits[:5] + "-" + digits[5:]
	}
	return ""
}

// CleanPhone formats a North American phone number as (NNN) NNN-NNNN.
// Numbers that don't fit the pattern are passed through trimmed.
func CleanPhone(phone string) string {
	digits := nonDigitRe.ReplaceAllString(phone, "")
	switch {
	case len(digits) == 10:
		return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:]
	case len(digits) == 11 && digits[0] == '1':
		return "(" + digits[1:4] + ") " + digits[4:7] + "-" + digits[7:]
	}
	return strings.TrimSpace(phone)
}
