package hipaa

import "unicode/utf8"

// PHIRoles lists the extracted parameter roles whose values can identify a
// patient under the HIPAA Safe Harbor standard (45 CFR 164.514(b)(2)):
// names, dates tied to an individual, phone numbers, email addresses and
// record numbers. Values of these roles never appear raw in logs.
func PHIRoles() map[string]bool {
	return map[string]bool{
		"personName":  true,
		"dateOfBirth": true,
		"phone":       true,
		"email":       true,
		"identifier":  true,
		"date":        true,
	}
}

// RedactValue masks a value of the given role for logging. Non-PHI roles
// pass through.
func RedactValue(role, value string) string {
	if !PHIRoles()[role] {
		return value
	}
	return Mask(value)
}

// Mask keeps the first character and hides the rest.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(value)
	return string(r) + "***"
}
