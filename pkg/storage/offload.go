package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultInlineLimit is the largest reply sent inline.
const DefaultInlineLimit = 1536 * 1024

// Reference points at an offloaded payload.
type Reference struct {
	URL         string `json:"url"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type"`
}

// Offloader moves payloads above a size limit into a BlobStore.
type Offloader struct {
	store  BlobStore
	limit  int
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewOffloader creates an offloader. A nil store disables offload; a
// non-positive limit uses DefaultInlineLimit.
func NewOffloader(store BlobStore, limit int, logger *zap.Logger) *Offloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = DefaultInlineLimit
	}
	return &Offloader{store: store, limit: limit, prefix: "replies", logger: logger, now: time.Now}
}

// Limit returns the inline size limit.
func (o *Offloader) Limit() int { return o.limit }

// Enabled reports whether a store is configured.
func (o *Offloader) Enabled() bool { return o.store != nil }

// Path returns the blob path used for key.
func (o *Offloader) Path(key string) string {
	return fmt.Sprintf("%s/%s/%s.json", o.prefix, o.now().UTC().Format("2006/01/02"), key)
}

// Offload uploads data when it exceeds the limit and returns its reference.
// It returns nil when data fits inline or no store is configured.
func (o *Offloader) Offload(ctx context.Context, key string, data []byte, metadata map[string]string) (*Reference, error) {
	if len(data) <= o.limit {
		return nil, nil
	}
	if o.store == nil {
		o.logger.Warn("Payload exceeds inline limit and no blob store is configured",
			zap.String("key", key),
			zap.Int("size", len(data)),
			zap.Int("limit", o.limit))
		return nil, nil
	}

	if err := validKey(key); err != nil {
		return nil, err
	}
	url, err := o.store.Upload(ctx, o.Path(key), data, metadata)
	if err != nil {
		return nil, fmt.Errorf("offload %s: %w", key, err)
	}
	o.logger.Info("Offloaded payload to blob storage",
		zap.String("key", key),
		zap.Int("size", len(data)))
	return &Reference{URL: url, Size: len(data), ContentType: "application/json"}, nil
}

// validKey rejects keys that would leave the dated prefix directory.
func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid offload key %q", key)
	}
	return nil
}

// Fetch downloads an offloaded payload.
func (o *Offloader) Fetch(ctx context.Context, ref *Reference) ([]byte, error) {
	if o.store == nil {
		return nil, fmt.Errorf("no blob store configured")
	}
	if ref == nil {
		return nil, fmt.Errorf("reference is required")
	}
	return o.store.Download(ctx, ref.URL)
}
