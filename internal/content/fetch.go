package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrNoMessageFetcher is returned when no fetcher is registered for a platform.
var ErrNoMessageFetcher = errors.New("no message fetcher for platform")

const defaultMaxAttachmentBytes = 20 << 20

// HTTPFetcher downloads attachments over plain HTTP(S).
type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
	// Header is added to every request (for example an Authorization token).
	Header http.Header
}

// NewHTTPFetcher returns a fetcher with the given client timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultAttachmentTimeout
	}
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		MaxBytes: defaultMaxAttachmentBytes,
	}
}

// Fetch downloads att.URL.
func (h *HTTPFetcher) Fetch(ctx context.Context, att Attachment) ([]byte, error) {
	if strings.TrimSpace(att.URL) == "" {
		return nil, errors.New("attachment has no url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create attachment request: %w", err)
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute attachment request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("attachment fetch status %d", resp.StatusCode)
	}
	limit := h.MaxBytes
	if limit <= 0 {
		limit = defaultMaxAttachmentBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("attachment exceeds %d bytes", limit)
	}
	return data, nil
}

// FetcherMux routes attachment downloads by Attachment.Source.
type FetcherMux struct {
	mu       sync.RWMutex
	bySource map[string]Fetcher
	fallback Fetcher
}

// NewFetcherMux creates a mux that uses fallback for unknown sources.
func NewFetcherMux(fallback Fetcher) *FetcherMux {
	return &FetcherMux{bySource: make(map[string]Fetcher), fallback: fallback}
}

// Handle registers f for attachments from source.
func (m *FetcherMux) Handle(source string, f Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySource[source] = f
}

// Fetch implements Fetcher.
func (m *FetcherMux) Fetch(ctx context.Context, att Attachment) ([]byte, error) {
	m.mu.RLock()
	f, ok := m.bySource[att.Source]
	m.mu.RUnlock()
	if !ok {
		f = m.fallback
	}
	if f == nil {
		return nil, fmt.Errorf("no attachment fetcher for source %q", att.Source)
	}
	return f.Fetch(ctx, att)
}

// MessageFetcherMux routes reference lookups by Reference.Platform.
type MessageFetcherMux struct {
	mu         sync.RWMutex
	byPlatform map[string]MessageFetcher
}

// NewMessageFetcherMux creates an empty mux.
func NewMessageFetcherMux() *MessageFetcherMux {
	return &MessageFetcherMux{byPlatform: make(map[string]MessageFetcher)}
}

// Handle registers f for references on platform.
func (m *MessageFetcherMux) Handle(platform string, f MessageFetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPlatform[platform] = f
}

// FetchMessage implements MessageFetcher.
func (m *MessageFetcherMux) FetchMessage(ctx context.Context, ref Reference) (*RawMessage, error) {
	m.mu.RLock()
	f, ok := m.byPlatform[ref.Platform]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMessageFetcher, ref.Platform)
	}
	return f.FetchMessage(ctx, ref)
}

// CachedMessageFetcher keeps recently resolved references in an LRU.
type CachedMessageFetcher struct {
	next  MessageFetcher
	cache *lru.Cache[string, RawMessage]
}

// NewCachedMessageFetcher wraps next with an LRU of the given size.
func NewCachedMessageFetcher(next MessageFetcher, size int) (*CachedMessageFetcher, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, RawMessage](size)
	if err != nil {
		return nil, fmt.Errorf("reference cache init: %w", err)
	}
	return &CachedMessageFetcher{next: next, cache: cache}, nil
}

// FetchMessage implements MessageFetcher. Only successful lookups are cached.
func (c *CachedMessageFetcher) FetchMessage(ctx context.Context, ref Reference) (*RawMessage, error) {
	if msg, ok := c.cache.Get(ref.Key()); ok {
		return &msg, nil
	}
	msg, err := c.next.FetchMessage(ctx, ref)
	if err != nil {
		return nil, err
	}
	if msg != nil {
		c.cache.Add(ref.Key(), *msg)
	}
	return msg, nil
}

// Remember stores msg so later references to it resolve without a fetch.
func (c *CachedMessageFetcher) Remember(ref Reference, msg RawMessage) {
	c.cache.Add(ref.Key(), msg)
}
