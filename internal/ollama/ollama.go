// Package ollama lists the models installed in a local Ollama daemon and
// remembers the first one as the default chat model.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/singleflight"
)

const DefaultURL = "http://localhost:11434"

// Model is one entry of GET /api/tags.
type Model struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

type tagsResponse struct {
	Models []Model `json:"models"`
}

// Client talks to the Ollama HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Tags returns the installed models.
func (c *Client) Tags(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags: unexpected status %d", resp.StatusCode)
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama tags: decode: %w", err)
	}
	return tags.Models, nil
}

// Names returns just the model names from Tags.
func (c *Client) Names(ctx context.Context) ([]string, error) {
	models, err := c.Tags(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Lister is the part of Client the Resolver needs.
type Lister interface {
	Names(ctx context.Context) ([]string, error)
}

// Resolver memoizes the first discovered model name. Failed lookups return
// the fallback without memoizing so a daemon started later is still found.
// Concurrent callers share one in-flight lookup.
type Resolver struct {
	lister   Lister
	fallback string
	group    singleflight.Group

	mu   sync.Mutex
	name string
	gen  uint64
}

const lookupKey = "tags"

func NewResolver(l Lister, fallback string) *Resolver {
	return &Resolver{lister: l, fallback: fallback}
}

func (r *Resolver) Resolve(ctx context.Context) string {
	if name, ok := r.Cached(); ok {
		return name
	}
	v, _, _ := r.group.Do(lookupKey, func() (interface{}, error) {
		return r.lookup(ctx), nil
	})
	return v.(string)
}

func (r *Resolver) lookup(ctx context.Context) string {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	names, err := r.lister.Names(ctx)
	if err != nil {
		log.WithError(err).Warn("ollama.resolve.failed")
		return r.fallback
	}
	if len(names) == 0 || names[0] == "" {
		log.WithField("fallback", r.fallback).Warn("ollama.resolve.empty")
		return r.fallback
	}

	r.mu.Lock()
	// an Invalidate during the lookup wins over this result
	if r.gen == gen {
		r.name = names[0]
	}
	r.mu.Unlock()
	log.WithFields(log.Fields{"model": names[0], "available": len(names)}).Info("ollama.resolve.selected")
	return names[0]
}

// Invalidate forgets the memoized name. Lookups already running are not
// memoized.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.name = ""
	r.gen++
	r.mu.Unlock()
	r.group.Forget(lookupKey)
}

// Cached returns the memoized name, if any.
func (r *Resolver) Cached() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name, r.name != ""
}
