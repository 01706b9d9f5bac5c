package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "jane.roe@example.com" becomes "ja***@example.com". Local parts of
// two characters or fewer are fully masked, as are malformed inputs.
func RedactEmail(email string) string {
	at := strings.Index(email, "@")
	if at < 0 || strings.Count(email, "@") != 1 {
		return "***@***"
	}
	name, domain := email[:at], email[at+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactPhone masks a phone number, keeping only the last two digits.
// "+15551234567" becomes "*********67".
func RedactPhone(phone string) string {
	if len(phone) <= 2 {
		return "***"
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
