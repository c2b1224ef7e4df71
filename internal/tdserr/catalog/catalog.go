// Package catalog holds localized message templates keyed by locale and
// message id. Only "en" is populated; additional locales are pure data
// and require no code changes.
package catalog

import "fmt"

var messages = map[string]map[string]string{
	"en": {
		"login.failed":               "Login failed for user '%s'.",
		"tls.handshakeFailed":        "The driver could not establish a secure connection to SQL Server by using Secure Sockets Layer (SSL) encryption.",
		"tls.intermittentFailure":    "The connection is broken and recovery is not possible. The client driver attempted to recover the connection one or more times and all attempts failed.",
		"cek.decryptionFailed":       "Failed to decrypt a column encryption key using key store provider: '%s'. %v",
		"ae.serverSchemaUnexpected":  "Internal error. An invalid parameter encryption metadata version was returned from SQL Server.",
		"ae.notSupportedByServer":    "Always Encrypted is not supported by the instance of SQL Server you are connecting to.",
		"connect.timedOut":           "Connection timed out after %d ms while attempting %d address(es).",
		"connect.retryExhausted":     "The connection is broken and recovery is not possible after %d reconnect attempt(s).",
		"query.timedOut":             "The query has timed out after %d second(s).",
	},
}

// Format renders messageID in locale, substituting args. Unknown
// locale/messageID pairs fall back to the messageID itself so a missing
// translation never panics or hides the error.
func Format(locale, messageID string, args ...interface{}) string {
	set, ok := messages[locale]
	if !ok {
		set = messages["en"]
	}
	tmpl, ok := set[messageID]
	if !ok {
		return messageID
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
