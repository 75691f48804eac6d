package sources

import (
	"regexp"
	"strings"
)

// MinContentLength is the shortest post worth classifying.
const MinContentLength = 40

var lowValuePatterns = []*regexp.Regexp{
	// job postings
	regexp.MustCompile(`(?i)\b(we('| a)re hiring|now hiring|job opening|apply now|salary range|remote position)\b`),
	regexp.MustCompile(`(?i)\[(hiring|for hire)\]`),
	// promotions
	regexp.MustCompile(`(?i)\b(promo code|discount code|coupon code|use my referral|referral link|limited time offer|giveaway|affiliate link)\b`),
	// spam
	regexp.MustCompile(`(?i)\b(dm me for|click here|sign up now|guaranteed profits?|100% win rate|join my (telegram|discord)|whatsapp me)\b`),
	regexp.MustCompile(`(?i)(t\.me/|bit\.ly/|tinyurl\.com/)`),
}

// IsLowValue reports whether content is too short or matches spam, job or promotional patterns.
func IsLowValue(content string) bool {
	trimmed := strings.TrimSpace(content)
	if len([]rune(trimmed)) < MinContentLength {
		return true
	}
	for _, re := range lowValuePatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}
