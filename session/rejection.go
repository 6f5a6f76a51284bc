package session

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// captchaRejected reports whether the page carries the portal's active
// "CAPTCHA is incorrect" alert. The portal validates codes via AJAX and
// answers wrong ones with a SweetAlert popup instead of an HTTP error, so
// this is the only rejection signal available.
func captchaRejected(pageHTML string) bool {
	if !strings.Contains(pageHTML, "swal2") {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return false
	}

	rejected := false
	doc.Find(".swal2-popup, .swal2-modal").EachWithBreak(func(_ int, popup *goquery.Selection) bool {
		// Dismissed popups stay in the DOM with display:none.
		if style, ok := popup.Attr("style"); ok && strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none") {
			return true
		}
		text := strings.ToLower(popup.Text())
		if strings.Contains(text, "captcha") && strings.Contains(text, "incorrect") {
			rejected = true
			return false
		}
		return true
	})
	return rejected
}
