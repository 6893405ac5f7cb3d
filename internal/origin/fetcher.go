// Package origin fetches images from the upstream origin on cache miss.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/catcache/internal/cache"
)

var (
	// ErrNotFound 表示上游明确返回了 404。
	ErrNotFound = errors.New("origin: not found")

	// ErrTransport 表示网络故障或上游返回了非 200/404 的状态。
	ErrTransport = errors.New("origin: transport failure")
)

// Fetcher 在缓存未命中时按 key 获取上游正文，实现需可被并发调用。
type Fetcher interface {
	Fetch(ctx context.Context, key cache.Key) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, key cache.Key) ([]byte, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, key cache.Key) ([]byte, error) {
	return f(ctx, key)
}

// HTTPFetcher 通过 GET <base><key> 回源，不做重试。
type HTTPFetcher struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPFetcher 构造回源器；base 会被补齐尾部斜杠，保证 key 作为最后一段路径拼接。
func NewHTTPFetcher(base string, client *http.Client) (*HTTPFetcher, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("origin url must be http/https: %s", base)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("origin url missing host: %s", base)
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{base: parsed, client: client}, nil
}

// URL 返回 key 对应的上游地址。
func (f *HTTPFetcher) URL(key cache.Key) string {
	return f.base.ResolveReference(&url.URL{Path: key.String()}).String()
}

func (f *HTTPFetcher) Fetch(ctx context.Context, key cache.Key) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target := f.URL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrTransport, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned status %d", ErrTransport, target, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	return body, nil
}
