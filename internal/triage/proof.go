package triage

import "regexp"

var proofPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://[^\s]+/sub/[^\s]+`),
	regexp.MustCompile(`(?i)https?://[^\s]+subscription[^\s]*`),
	regexp.MustCompile(`(?i)vless://[^\s]+`),
	regexp.MustCompile(`(?i)vmess://[^\s]+`),
	regexp.MustCompile(`(?i)trojan://[^\s]+`),
	regexp.MustCompile(`(?i)ss://[^\s]+`),
}

// DetectProof returns the first subscription link or proxy URI found in text.
func DetectProof(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, re := range proofPatterns {
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}
