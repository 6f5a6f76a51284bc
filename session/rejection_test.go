package session

import "testing"

func TestCaptchaRejected(t *testing.T) {
	cases := []struct {
		name string
		html string
		want bool
	}{
		{
			"active rejection popup",
			`<html><body><div class="swal2-container"><div class="swal2-popup swal2-show">
			 <h2>Error</h2><div>CAPTCHA is incorrect. Please try again.</div></div></div></body></html>`,
			true,
		},
		{
			"dismissed popup",
			`<html><body><div class="swal2-popup" style="display: none;">
			 CAPTCHA is incorrect</div></body></html>`,
			false,
		},
		{
			"unrelated popup",
			`<html><body><div class="swal2-popup swal2-show">Session expired</div></body></html>`,
			false,
		},
		{
			"result page without popups",
			`<html><body><table id="caseTable"><tbody><tr><td>1</td></tr></tbody></table></body></html>`,
			false,
		},
		{
			"incorrect mentioned outside a popup",
			`<html><body><p>An incorrect CAPTCHA entry will reject the search.</p></body></html>`,
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := captchaRejected(tc.html); got != tc.want {
				t.Fatalf("captchaRejected = %v, want %v", got, tc.want)
			}
		})
	}
}
