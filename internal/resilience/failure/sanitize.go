package failure

import "regexp"

var (
	dsnPasswordPattern = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)
	authHeaderPattern  = regexp.MustCompile(`(?i)\b(bearer)\s+[a-z0-9._~+/=-]{8,}`)
	slackHookPattern   = regexp.MustCompile(`hooks\.slack\.com/services/[A-Za-z0-9/_-]+`)
	discordHookPattern = regexp.MustCompile(`(discord(?:app)?\.com/api/webhooks/\d+)/[A-Za-z0-9_-]+`)
	secretParamPattern = regexp.MustCompile(`(?i)([?&](?:api_?key|access_token|token|secret|password|sig)=)[^&\s"]+`)
)

// Sanitize returns err's message with credentials masked: DSN passwords,
// authorization values, webhook secrets and secret query parameters. Messages
// are persisted in failure records and dead letters, so they pass through here.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString masks credentials in msg.
func SanitizeString(msg string) string {
	msg = dsnPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	msg = authHeaderPattern.ReplaceAllString(msg, "$1 ****")
	msg = slackHookPattern.ReplaceAllString(msg, "hooks.slack.com/services/****")
	msg = discordHookPattern.ReplaceAllString(msg, "$1/****")
	msg = secretParamPattern.ReplaceAllString(msg, "$1****")
	return msg
}
