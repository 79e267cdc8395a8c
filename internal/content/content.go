// Package content extracts readable page text to give the model more than
// a title and URL to cluster on. Everything here is best effort: a page
// that cannot be fetched simply contributes no context.
package content

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/lotas/tabgruppen/internal/applog"
	"github.com/lotas/tabgruppen/internal/types"
)

var skipPrefixes = []string{"about:", "moz-extension:", "file:", "chrome:", "resource:", "data:"}

const (
	fetchTimeout = 15 * time.Second
	maxExcerpt   = 200
	maxWorkers   = 4
)

// Fetcher pulls readable excerpts for tabs.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a fetcher with a bounded per-request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: fetchTimeout}}
}

// FetchReadable fetches a URL and extracts its readable text. Non-HTTP
// URLs and extraction failures return an error.
func (f *Fetcher) FetchReadable(ctx context.Context, url string) (title, text string, err error) {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(url, prefix) {
			return "", "", fmt.Errorf("skipping non-HTTP URL: %s", url)
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, nil)
	if err != nil {
		return "", "", fmt.Errorf("extract readable content from %s: %w", url, err)
	}
	return article.Title, article.TextContent, nil
}

// Excerpt collapses whitespace and truncates text to one prompt-sized line.
func Excerpt(text string) string {
	fields := strings.Fields(text)
	joined := strings.Join(fields, " ")
	if len(joined) > maxExcerpt {
		joined = joined[:maxExcerpt]
	}
	return joined
}

// EnrichTabs fetches excerpts for the given tabs with a small worker pool,
// returning whatever succeeded keyed by tab id. Failures are logged at
// debug level only.
func (f *Fetcher) EnrichTabs(ctx context.Context, tabs []types.Tab) map[int]string {
	var mu sync.Mutex
	contexts := make(map[int]string)

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	for _, tab := range tabs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(t types.Tab) {
			defer wg.Done()
			defer func() { <-sem }()
			_, text, err := f.FetchReadable(ctx, t.URL)
			if err != nil {
				applog.Debug("content.skip", "tab", t.ID, "err", err)
				return
			}
			if excerpt := Excerpt(text); excerpt != "" {
				mu.Lock()
				contexts[t.ID] = excerpt
				mu.Unlock()
			}
		}(tab)
	}
	wg.Wait()
	return contexts
}
