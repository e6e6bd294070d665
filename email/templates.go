package email

import (
	"fmt"
	"net/url"
	"strings"

	"dodgerswin-notifier/pkg/notifier"
)

// formatWinBody renders the win notification for one recipient. The
// unsubscribe link is personal, so the body is built per recipient.
func (s *Sender) formatWinBody(to string, rec *notifier.GameRecord) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 465px; margin: 40px auto; padding: 20px; border: 1px solid #eaeaea; border-radius: 8px; }\n")
	b.WriteString(".header { text-align: center; padding-bottom: 10px; border-bottom: 2px solid #005a9c; margin-bottom: 20px; }\n")
	b.WriteString(".header h2 { color: #005a9c; margin: 10px 0; }\n")
	b.WriteString(".summary { background: #f8f9fa; padding: 20px; border-radius: 8px; margin: 15px 0; font-size: 1.05em; }\n")
	b.WriteString(".cta { display: block; text-align: center; background: #005a9c; color: #fff; border-radius: 6px; padding: 12px 20px; margin: 25px 0; font-weight: 600; text-decoration: none; }\n")
	b.WriteString(".footer { margin-top: 20px; padding-top: 10px; border-top: 1px solid #ecf0f1; color: #7f8c8d; font-size: 0.85em; }\n")
	b.WriteString("a { color: #005a9c; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	b.WriteString(fmt.Sprintf("<h2>&#9918; The %s Won at Home!</h2>\n", escapeHTML(s.teamName)))
	b.WriteString("</div>\n")

	b.WriteString("<div class=\"summary\">\n")
	b.WriteString(fmt.Sprintf("<p>The %s won %s!</p>\n", escapeHTML(s.teamName), escapeHTML(rec.Summary)))
	b.WriteString("</div>\n")

	if s.baseURL != "" {
		b.WriteString(fmt.Sprintf("<a href=\"%s\" class=\"cta\">View the latest result</a>\n", escapeHTML(s.baseURL)))
	}

	b.WriteString("<div class=\"footer\">\n")
	b.WriteString("<p>You're receiving this because you subscribed to home win alerts.</p>\n")
	if s.baseURL != "" {
		unsubURL := fmt.Sprintf("%s/unsubscribe?email=%s", s.baseURL, url.QueryEscape(to))
		b.WriteString(fmt.Sprintf("<a href=\"%s\">Unsubscribe</a>\n", escapeHTML(unsubURL)))
	}
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")

	return b.String()
}

// escapeHTML escapes HTML special characters for security.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
