// Package archive persists Truth Shards: immutable records of oracle
// exchanges that only ever grow a list of remixes.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/ashureev/oracle-shell/internal/shared"
	"github.com/ashureev/oracle-shell/internal/store"
	"github.com/google/uuid"
)

const (
	// Collection is the document collection holding shards.
	Collection = "truthshards"

	sortKey     = "timestamp"
	remixesKey  = "remixes"
	linkRetries = 3
)

// Archive mints, remixes and reads Truth Shards from a document store.
type Archive struct {
	store  store.DocumentStore
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
	link   shared.RetryPolicy
}

// Option configures an Archive.
type Option func(*Archive)

// WithClock overrides the clock used to timestamp minted shards.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// WithIDGenerator overrides shard id generation.
func WithIDGenerator(newID func() string) Option {
	return func(a *Archive) { a.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) { a.logger = logger }
}

// New creates an archive and makes sure its collection exists.
func New(ctx context.Context, st store.DocumentStore, opts ...Option) (*Archive, error) {
	a := &Archive{
		store:  st,
		now:    time.Now,
		newID:  func() string { return "shard_" + uuid.NewString() },
		logger: slog.Default(),
		link: shared.RetryPolicy{
			MaxAttempts: linkRetries,
			BaseDelay:   50 * time.Millisecond,
			Retryable:   func(err error) bool { return !errors.Is(err, store.ErrNoDocument) },
		},
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := st.EnsureCollection(ctx, Collection); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return a, nil
}

// ListShards returns every shard, newest first.
func (a *Archive) ListShards(ctx context.Context) ([]*domain.TruthShard, error) {
	docs, err := a.store.ListAll(ctx, Collection, sortKey, true)
	if err != nil {
		return nil, fmt.Errorf("list shards: %w: %w", domain.ErrStoreUnavailable, err)
	}

	shards := make([]*domain.TruthShard, 0, len(docs))
	for _, doc := range docs {
		s, err := decodeShard(doc)
		if err != nil {
			a.logger.Warn("skipping malformed shard document", "error", err)
			continue
		}
		shards = append(shards, s)
	}
	return shards, nil
}

// FindShardByID returns the shard stored under id or domain.ErrNotFound.
func (a *Archive) FindShardByID(ctx context.Context, id string) (*domain.TruthShard, error) {
	doc, err := a.store.FindOne(ctx, Collection, id)
	if errors.Is(err, store.ErrNoDocument) {
		a.logger.Debug("shard not found", "shard_id", id)
		return nil, fmt.Errorf("shard %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find shard %s: %w: %w", id, domain.ErrStoreUnavailable, err)
	}

	s, err := decodeShard(doc)
	if err != nil {
		return nil, fmt.Errorf("decode shard %s: %w: %w", id, domain.ErrStoreUnavailable, err)
	}
	return s, nil
}

// UpsertShard validates the shard and writes it. When a record with the
// same id exists, only its remixes change: they become the union of the
// stored and the given lists, and any other differing field is rejected
// with a *domain.ValidationError.
func (a *Archive) UpsertShard(ctx context.Context, shard *domain.TruthShard) (*domain.TruthShard, error) {
	if err := shard.Validate(); err != nil {
		return nil, err
	}

	rec := shard.Record()
	raw, err := a.store.Merge(ctx, Collection, rec.ID, rec, func(stored json.RawMessage) (any, error) {
		var current domain.ShardRecord
		if err := json.Unmarshal(stored, &current); err != nil {
			return nil, fmt.Errorf("unmarshal shard: %w", err)
		}
		return mergeRecord(current, rec)
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, fmt.Errorf("upsert shard %s: %w: %w", rec.ID, domain.ErrStoreUnavailable, err)
	}

	stored, err := decodeShard(raw)
	if err != nil {
		return nil, fmt.Errorf("decode shard %s: %w: %w", rec.ID, domain.ErrStoreUnavailable, err)
	}
	return stored, nil
}

// mergeRecord applies next onto current. Fields other than remixes are
// fixed once stored; remixes only grow.
func mergeRecord(current, next domain.ShardRecord) (domain.ShardRecord, error) {
	fixed := []struct {
		field   string
		changed bool
	}{
		{"timestamp", current.Timestamp != next.Timestamp},
		{"mode", current.Mode != next.Mode},
		{"prompt", current.Prompt != next.Prompt},
		{"response", current.Response != next.Response},
		{"owner", current.Owner != next.Owner},
	}
	for _, f := range fixed {
		if f.changed {
			return current, &domain.ValidationError{Field: f.field, Reason: "cannot change once the shard exists"}
		}
	}

	merged := current.Shard()
	for _, id := range next.Remixes {
		if !merged.HasRemix(id) {
			merged.Remixes = append(merged.Remixes, id)
		}
	}
	return merged.Record(), nil
}

// MintShard stores a new shard for a prompt/response exchange.
func (a *Archive) MintShard(ctx context.Context, prompt, response string, mode domain.Mode, owner string) (*domain.TruthShard, error) {
	shard := &domain.TruthShard{
		ID:        a.newID(),
		Timestamp: time.UnixMilli(a.now().UnixMilli()),
		Mode:      mode,
		Prompt:    prompt,
		Response:  response,
		Owner:     owner,
		Remixes:   []string{},
	}

	stored, err := a.UpsertShard(ctx, shard)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Truth shard minted", "shard_id", stored.ID, "mode", stored.Mode)
	return stored, nil
}

// RemixShard mints a shard derived from originID and links it from the
// origin's remixes. The link is an atomic store-side append, so concurrent
// remixes of one origin never lose each other. If the link cannot be made,
// the returned error is a *domain.PartialRemixError holding the new shard.
func (a *Archive) RemixShard(ctx context.Context, originID, prompt, response string, mode domain.Mode, owner string) (*domain.TruthShard, error) {
	if _, err := a.FindShardByID(ctx, originID); err != nil {
		return nil, err
	}

	remix, err := a.MintShard(ctx, prompt, response, mode, owner)
	if err != nil {
		return nil, err
	}

	err = shared.Retry(ctx, a.link, "link remix", func(ctx context.Context) error {
		_, err := a.store.AppendUnique(ctx, Collection, originID, remixesKey, remix.ID)
		return err
	})
	if err != nil {
		a.logger.Error("Failed to link remix to origin",
			"origin_id", originID,
			"shard_id", remix.ID,
			"error", err)
		return remix, &domain.PartialRemixError{OriginID: originID, Remix: remix, Err: err}
	}

	a.logger.Info("Truth shard remixed", "origin_id", originID, "shard_id", remix.ID)
	return remix, nil
}

func decodeShard(doc json.RawMessage) (*domain.TruthShard, error) {
	var rec domain.ShardRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal shard: %w", err)
	}
	return rec.Shard(), nil
}
