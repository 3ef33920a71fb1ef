package transport

import (
	"net/http"
	"strings"
)

const mockPage = `<html><body data-app-data='{"userId":1,"csrf-token":"mock"}'>` +
	`<span class="user-link-name">MockUser</span></body></html>`

const mockRunner = `{"objects":[]}`

// mockResult answers without touching the network. Runner endpoints get an
// empty poll envelope, everything else a minimal logged-in page.
func (c *Client) mockResult(method, url string) *Result {
	c.logger.Info("[MOCK] request", "method", method, "url", url)

	header := http.Header{}
	header.Set("Set-Cookie", "PHPSESSID=mock; path=/")

	body := mockPage
	if strings.HasSuffix(strings.TrimSuffix(url, "/"), "/runner") {
		header.Set("Content-Type", "application/json")
		body = mockRunner
	} else {
		header.Set("Content-Type", "text/html; charset=utf-8")
	}
	return &Result{StatusCode: http.StatusOK, Header: header, body: []byte(body)}
}
