package logger

import (
	"regexp"
	"strings"
)

var dsnPasswordRe = regexp.MustCompile(`(password=)[^ ;]+`)

// redactSecret masks credential-bearing values so connection strings and
// ledger credentials never land in the log.
func redactSecret(key, val string) string {
	k := strings.ToLower(key)
	if strings.Contains(k, "password") || strings.Contains(k, "secret") || strings.Contains(k, "api_key") {
		return "***"
	}
	return RedactDSN(val)
}

// RedactDSN masks the password component of a connection string.
// "host=db password=hunter2 dbname=hours" → "host=db password=*** dbname=hours"
func RedactDSN(dsn string) string {
	return dsnPasswordRe.ReplaceAllString(dsn, "${1}***")
}
