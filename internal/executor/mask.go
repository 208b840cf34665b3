package executor

import "regexp"

var (
	reDSNUserPass = regexp.MustCompile(`(?i)(://)([^:/@]+):([^@]+)(@)`)
	rePassword    = regexp.MustCompile(`(?i)(password=)([^\s&;]+)`)
)

// MaskDSN hides credentials in a connection string before it reaches a log.
func MaskDSN(dsn string) string {
	out := reDSNUserPass.ReplaceAllString(dsn, "$1$2:***$4")
	return rePassword.ReplaceAllString(out, "$1***")
}
