package htmlutil

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// titles served by bot-protection interstitials instead of the real
// page
var challengeTitles = []string{
	"just a moment",
	"checking your browser",
	"please wait",
	"verifying",
	"attention required",
	"请稍候",
}

// IsChallengeTitle reports whether a page title belongs to a known
// bot-challenge interstitial.
func IsChallengeTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, marker := range challengeTitles {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// LooksLikeHtml is a cheap check for endpoints that are supposed to
// return JSON but serve an HTML interstitial instead.
func LooksLikeHtml(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

// PageTitle extracts the <title> text from an HTML document. Returns
// an empty string when the document has none or does not parse.
func PageTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// IsChallengePage combines the two checks for raw response bodies.
func IsChallengePage(body []byte) bool {
	return LooksLikeHtml(body) && IsChallengeTitle(PageTitle(body))
}
