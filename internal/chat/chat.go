// Package chat turns the chat-bookmarks HTML fragment returned by the runner
// endpoint into lightweight chat summaries.
package chat

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Summary is one entry of the chat list.
type Summary struct {
	User    string `json:"user"`
	Message string `json:"message"` // latest message excerpt
	Time    string `json:"time"`
	Node    string `json:"node"` // chat channel identifier
	Unread  bool   `json:"unread"`
}

// ParseBookmarks parses the chat list fragment. Entries without a sender or a
// message excerpt are skipped; the remaining order is the page order.
func ParseBookmarks(html string) ([]Summary, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse chat html: %w", err)
	}

	var out []Summary
	doc.Find(".contact-item").Each(func(_ int, item *goquery.Selection) {
		user := strings.TrimSpace(item.Find(".media-user-name").First().Text())
		message := strings.TrimSpace(item.Find(".contact-item-message").First().Text())
		if user == "" || message == "" {
			return
		}
		node, _ := item.Attr("data-id")
		out = append(out, Summary{
			User:    user,
			Message: message,
			Time:    strings.TrimSpace(item.Find(".contact-item-time").First().Text()),
			Node:    node,
			Unread:  item.HasClass("unread"),
		})
	})
	return out, nil
}
