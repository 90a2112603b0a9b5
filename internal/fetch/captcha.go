package fetch

import (
	"regexp"

	"github.com/rotisserie/eris"
)

// ErrCaptchaDetected marks a fetch aborted by a bot challenge. The fetcher
// never retries within the same call; the next scheduled run retries after
// the match's cool-down expires.
var ErrCaptchaDetected = eris.New("fetch: captcha detected")

var challengeRe = regexp.MustCompile(`(?i)captcha|are you a robot`)

// IsChallenge reports whether rendered page content looks like a captcha
// or bot-check interstitial rather than real results.
func IsChallenge(content string) bool {
	return challengeRe.MatchString(content)
}
