package cap

import (
	"regexp"
	"strings"
)

// FallbackDescription replaces descriptions the trim heuristic reduced to
// nothing useful. Description text is never empty or error-valued.
const FallbackDescription = "BoilerCAP Message"

// encoderPrefixPattern locates the encoder boilerplate that many upstream
// transcriptions carry: the shortest leading span containing "until",
// followed by a timestamp in one of the known encoder formats, optionally
// followed by a trailing "MESSAGE FROM <callsign>" marker. The whole span
// is removed.
var encoderPrefixPattern = regexp.MustCompile(
	`(?is)^(.*?\buntil\b.*?)` +
		`(\b(?:` +
		`[A-Z][a-z]+ \d{1,2},? \d{1,2}:\d{2} [APM]{2}(?: [A-Z]{3})?|` + // DASDEC time
		`[A-Z][a-z]+ \d{1,2}- \d{1,2}:\d{2} [APM]{2} [A-Z]{3}|` + // EASyCAP time
		`\d{1,2}:\d{2} [APM]{2}|` + // bare time
		`\d{1,2}:\d{2} [APM]{2} [A-Z]{3} \d{1,2}, \d{4}` + // time with date
		`)\b)` +
		`(?:.*?\bMESSAGE FROM [A-Z\d/]{1,8}\b\.?)?`,
)

var leadingDots = regexp.MustCompile(`^\.+`)

// TrimEncoderPrefix removes the encoder boilerplate prefix from an alert
// transcription. Text the pattern does not match passes through unchanged.
// If the result is shorter than 3 characters the pattern over-matched or
// the text was useless to begin with, and the fixed fallback is returned
// instead.
func TrimEncoderPrefix(text string) string {
	cleaned := strings.TrimSpace(encoderPrefixPattern.ReplaceAllString(text, ""))
	cleaned = strings.TrimSpace(leadingDots.ReplaceAllString(cleaned, ""))

	if len(cleaned) < 3 {
		return FallbackDescription
	}
	return cleaned
}
