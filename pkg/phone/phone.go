// Package phone normalizes and validates North American phone numbers for
// SMS outreach. No third-party number-parsing library appears anywhere in
// the retrieval pack (the original Python service used the `phonenumbers`
// library, which has no Go equivalent among the examples), so this package
// is a deliberate, narrowly-scoped standard-library implementation — see
// DESIGN.md.
package phone

import "regexp"

var nonDigitPlus = regexp.MustCompile(`[^\d+]`)
var digitsOnly = regexp.MustCompile(`\D`)

// tollFreePrefixes are NANP area codes reserved for toll-free (business)
// lines, mirrored from the original service's BUSINESS_PHONE_PATTERNS.
var tollFreePrefixes = map[string]bool{
	"800": true, "833": true, "844": true, "855": true,
	"866": true, "877": true, "888": true,
}

// validAreaCode rejects obviously-fake NANP area/exchange codes (leading 0/1).
func validAreaCode(d string) bool {
	return d[0] != '0' && d[0] != '1'
}

// NormalizeE164 normalizes a raw NANP phone number to E.164, returning ""
// when the input cannot be parsed as a 10-digit NANP number.
func NormalizeE164(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := nonDigitPlus.ReplaceAllString(raw, "")
	if cleaned == "" {
		return ""
	}

	digits := digitsOnly.ReplaceAllString(cleaned, "")
	switch {
	case len(digits) == 11 && digits[0] == '1':
		digits = digits[1:]
	case len(digits) == 10:
		// already bare NANP
	default:
		return ""
	}

	if !validAreaCode(digits[0:3]) || !validAreaCode(digits[3:6]) {
		return ""
	}

	return "+1" + digits
}

// Result is the outcome of validating a phone number for SMS outreach.
type Result struct {
	Original   string
	E164       string
	IsValid    bool
	IsMobile   bool
	IsBusiness bool
	Error      string
}

// ValidateForSMS normalizes raw and classifies it as business (toll-free) or
// likely-mobile. Real line-type verification requires a carrier lookup
// (Twilio Lookup); this is the same heuristic the original service used.
func ValidateForSMS(raw string) Result {
	e164 := NormalizeE164(raw)
	if e164 == "" {
		return Result{Original: raw, IsValid: false, Error: "invalid format"}
	}

	areaCode := e164[2:5]
	isBusiness := tollFreePrefixes[areaCode]

	return Result{
		Original:   raw,
		E164:       e164,
		IsValid:    true,
		IsMobile:   !isBusiness,
		IsBusiness: isBusiness,
	}
}

// IsTCPASafe reports whether phoneNumber is a validly-formatted, likely
// mobile line. This is a formatting heuristic only — it does not replace a
// DNC registry check or litigator scrub.
func IsTCPASafe(phoneNumber string) bool {
	result := ValidateForSMS(phoneNumber)
	return result.IsValid && result.IsMobile
}
