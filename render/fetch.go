package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"golang.org/x/net/html/charset"
)

// maxBodyBytes bounds how much of a response the static backend reads.
const maxBodyBytes = 10 << 20

var defaultClient = &http.Client{Timeout: 30 * time.Second}

// fetchUTF8 GETs url with browser-like headers and returns the body decoded
// to UTF-8 along with the final URL after redirects.
func fetchUTF8(ctx context.Context, client *http.Client, url, userAgent string) (io.Reader, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "de-AT,de;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", timeoutErr(ctx, fmt.Errorf("failed to fetch URL: %w", err))
	}
	defer resp.Body.Close()

	if slices.Contains([]int{http.StatusTooManyRequests, http.StatusForbidden}, resp.StatusCode) {
		return nil, "", fmt.Errorf("fetch %s blocked with status %d (retry after %q)",
			url, resp.StatusCode, resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s unexpected status code: %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", timeoutErr(ctx, fmt.Errorf("failed to read response body: %w", err))
	}

	final := url
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	encoding, name, _ := charset.DetermineEncoding(body, resp.Header.Get("Content-Type"))
	if name == "utf-8" {
		return bytes.NewReader(body), final, nil
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, encoding.NewDecoder().Reader(bytes.NewReader(body))); err != nil {
		return nil, "", fmt.Errorf("failed to convert %s body to UTF-8: %w", name, err)
	}
	return &buf, final, nil
}
