package materializer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// substitutePlaceholders replaces {{first_name}}, {{last_name}}, {{email}}
// and any custom-field placeholders with the recipient's own values.
func substitutePlaceholders(html string, sub domain.Subscriber) string {
	html = strings.ReplaceAll(html, "{{first_name}}", sub.FirstName)
	html = strings.ReplaceAll(html, "{{last_name}}", sub.LastName)
	html = strings.ReplaceAll(html, "{{email}}", sub.Email)
	for k, v := range sub.CustomFields {
		html = strings.ReplaceAll(html, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	return html
}

// injectPreviewText prepends a hidden preheader span right after <body>, the
// standard technique for controlling inbox preview text independent of the
// visible message body.
func injectPreviewText(html, previewText string) string {
	if previewText == "" || html == "" {
		return html
	}
	preheader := fmt.Sprintf(
		`<div style="display:none;font-size:1px;color:#ffffff;line-height:1px;max-height:0px;max-width:0px;opacity:0;overflow:hidden;">%s</div>`,
		previewText,
	)
	if bodyIdx := strings.Index(strings.ToLower(html), "<body"); bodyIdx >= 0 {
		if closeIdx := strings.Index(html[bodyIdx:], ">"); closeIdx >= 0 {
			insertAt := bodyIdx + closeIdx + 1
			return html[:insertAt] + preheader + html[insertAt:]
		}
	}
	return preheader + html
}

var linkRe = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// tracker carries the HMAC secret and base URL used to sign and build
// tracking/unsubscribe links, bound once to the Materializer and reused
// across every recipient in a campaign.
type tracker struct {
	baseURL string
	secret  string
}

func (t tracker) sign(data string) string {
	h := hmac.New(sha256.New, []byte(t.secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// injectTrackingPixelAndLinks appends an open-tracking pixel before
// </body> and rewrites every outbound http(s) link through the
// click-tracking redirect, signing each with an HMAC over
// (campaignId|customerId|origUrl) so the redirect handler can verify the
// link wasn't tampered with.
func (t tracker) injectTrackingPixelAndLinks(html, campaignID, customerID string) string {
	data := campaignID + "|" + customerID
	sig := t.sign(data)
	encoded := base64.URLEncoding.EncodeToString([]byte(data))

	pixel := fmt.Sprintf(`<img src="%s/track/open/%s/%s" width="1" height="1" alt="" style="display:none;width:1px;height:1px" />`, t.baseURL, encoded, sig)
	if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
		html = html[:idx] + pixel + html[idx:]
	} else {
		html += pixel
	}

	return linkRe.ReplaceAllStringFunc(html, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		origURL := parts[1]
		if strings.Contains(origURL, "/track/") || strings.Contains(origURL, "mailto:") {
			return match
		}
		linkData := data + "|" + origURL
		linkSig := t.sign(linkData)
		linkEncoded := base64.URLEncoding.EncodeToString([]byte(linkData))
		return fmt.Sprintf(`href="%s/track/click/%s/%s"`, t.baseURL, linkEncoded, linkSig)
	})
}

// unsubscribeURL builds a signed one-click unsubscribe link bound to
// (customerId, email, campaignId).
func (t tracker) unsubscribeURL(campaignID, customerID, email string) string {
	data := campaignID + "|" + customerID + "|" + email
	sig := t.sign(data)
	encoded := base64.URLEncoding.EncodeToString([]byte(data))
	return fmt.Sprintf("%s/track/unsubscribe/%s/%s", t.baseURL, encoded, sig)
}

// RenderBody substitutes placeholders and injects the unsubscribe link,
// tracking pixel, and rewritten outbound links for one recipient. It is a
// pure function of the campaign template and the subscriber's own fields,
// called once per recipient by the Materializer; its output is persisted
// onto the recipient's WorkRecord, and the Dispatcher sends that persisted
// body as-is rather than calling this again.
func RenderBody(c *domain.Campaign, sub domain.Subscriber, campaignID, customerID, email, trackingBaseURL, trackingSecret string) string {
	t := tracker{baseURL: trackingBaseURL, secret: trackingSecret}
	html := substitutePlaceholders(c.HTMLContent, sub)
	html = injectPreviewText(html, c.PreviewText)
	html = t.injectTrackingPixelAndLinks(html, campaignID, customerID)
	html += fmt.Sprintf(`<p><a href="%s">Unsubscribe</a></p>`, t.unsubscribeURL(campaignID, customerID, email))
	return html
}
