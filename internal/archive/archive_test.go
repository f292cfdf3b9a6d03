package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/ashureev/oracle-shell/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "0x1234567890abcdef1234567890abcdef12345678"

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestArchive(t *testing.T, st store.DocumentStore) *Archive {
	t.Helper()
	if st == nil {
		s, err := store.NewSQLite(filepath.Join(t.TempDir(), "archive.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		st = s
	}
	clock := &steppingClock{now: time.UnixMilli(1_700_000_000_000)}
	a, err := New(context.Background(), st, WithClock(clock.Now))
	require.NoError(t, err)
	return a
}

func TestMintAndFindRoundTrip(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	minted, err := a.MintShard(ctx, "what is the meaning of life?", "forty-two comets", domain.ModeClairvoyant, owner)
	require.NoError(t, err)
	require.NotEmpty(t, minted.ID)
	require.False(t, minted.Timestamp.IsZero())

	found, err := a.FindShardByID(ctx, minted.ID)
	require.NoError(t, err)
	assert.Equal(t, minted.ID, found.ID)
	assert.Equal(t, "what is the meaning of life?", found.Prompt)
	assert.Equal(t, "forty-two comets", found.Response)
	assert.Equal(t, domain.ModeClairvoyant, found.Mode)
	assert.Equal(t, owner, found.Owner)
	assert.True(t, minted.Timestamp.Equal(found.Timestamp))
	assert.Empty(t, found.Remixes)
}

func TestMintGeneratesUniqueIDs(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	first, err := a.MintShard(ctx, "p", "r", domain.ModeDissociative, owner)
	require.NoError(t, err)
	second, err := a.MintShard(ctx, "p", "r", domain.ModeDissociative, owner)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestUpsertIsIdempotent(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	shard := &domain.TruthShard{
		ID:        "shard_fixed",
		Timestamp: time.UnixMilli(1_700_000_000_000),
		Mode:      domain.ModeClairvoyant,
		Prompt:    "p",
		Response:  "r",
		Owner:     owner,
	}
	_, err := a.UpsertShard(ctx, shard)
	require.NoError(t, err)
	_, err = a.UpsertShard(ctx, shard)
	require.NoError(t, err)

	all, err := a.ListShards(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpsertAddsRemixes(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	minted, err := a.MintShard(ctx, "p", "r", domain.ModeClairvoyant, owner)
	require.NoError(t, err)

	updated := minted.Clone()
	updated.Remixes = append(updated.Remixes, "shard_other")
	stored, err := a.UpsertShard(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, []string{"shard_other"}, stored.Remixes)

	found, err := a.FindShardByID(ctx, minted.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"shard_other"}, found.Remixes)
}

func TestUpsertKeepsFixedFields(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	minted, err := a.MintShard(ctx, "p", "r", domain.ModeClairvoyant, owner)
	require.NoError(t, err)

	edits := map[string]func(*domain.TruthShard){
		"prompt":    func(s *domain.TruthShard) { s.Prompt = "forged prompt" },
		"response":  func(s *domain.TruthShard) { s.Response = "forged response" },
		"owner":     func(s *domain.TruthShard) { s.Owner = "0xattacker" },
		"mode":      func(s *domain.TruthShard) { s.Mode = domain.ModeDissociative },
		"timestamp": func(s *domain.TruthShard) { s.Timestamp = time.UnixMilli(1) },
	}
	for field, edit := range edits {
		t.Run(field, func(t *testing.T) {
			forged := minted.Clone()
			edit(forged)
			_, err := a.UpsertShard(ctx, forged)
			require.ErrorIs(t, err, domain.ErrValidation)

			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, field, verr.Field)
		})
	}

	found, err := a.FindShardByID(ctx, minted.ID)
	require.NoError(t, err)
	assert.Equal(t, minted.Record(), found.Record())
}

func TestUpsertNeverDropsRemixes(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	origin, err := a.MintShard(ctx, "p", "r", domain.ModeClairvoyant, owner)
	require.NoError(t, err)
	stale := origin.Clone()

	remix, err := a.RemixShard(ctx, origin.ID, "p2", "r2", domain.ModeClairvoyant, owner)
	require.NoError(t, err)

	stored, err := a.UpsertShard(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, []string{remix.ID}, stored.Remixes)

	stale.Remixes = []string{"shard_other", remix.ID}
	stored, err = a.UpsertShard(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, []string{remix.ID, "shard_other"}, stored.Remixes)

	found, err := a.FindShardByID(ctx, origin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{remix.ID, "shard_other"}, found.Remixes)
}

func TestUpsertRejectsUnknownMode(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	_, err := a.UpsertShard(ctx, &domain.TruthShard{
		ID:        "shard_bad",
		Timestamp: time.Now(),
		Mode:      "oracle",
		Prompt:    "p",
		Response:  "r",
		Owner:     owner,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	all, err := a.ListShards(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = a.FindShardByID(ctx, "shard_bad")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMintRejectsMissingFields(t *testing.T) {
	a := newTestArchive(t, nil)
	_, err := a.MintShard(context.Background(), "", "r", domain.ModeClairvoyant, owner)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = a.MintShard(context.Background(), "p", "r", domain.ModeClairvoyant, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListShardsNewestFirst(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 3; i++ {
		s, err := a.MintShard(ctx, fmt.Sprintf("p%d", i), "r", domain.ModeClairvoyant, owner)
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	all, err := a.ListShards(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[1], all[1].ID)
	assert.Equal(t, ids[0], all[2].ID)
}

func TestFindShardByIDNotFound(t *testing.T) {
	a := newTestArchive(t, nil)
	_, err := a.FindShardByID(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestRemixLinksOriginInOrder(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	origin, err := a.MintShard(ctx, "p", "r", domain.ModeClairvoyant, owner)
	require.NoError(t, err)

	first, err := a.RemixShard(ctx, origin.ID, "p2", "r2", domain.ModeDissociative, owner)
	require.NoError(t, err)
	assert.Empty(t, first.Remixes)
	assert.Equal(t, "p2", first.Prompt)

	second, err := a.RemixShard(ctx, origin.ID, "p3", "r3", domain.ModeClairvoyant, owner)
	require.NoError(t, err)

	found, err := a.FindShardByID(ctx, origin.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, found.Remixes)
	assert.Equal(t, origin.Prompt, found.Prompt, "origin content must not change")
}

func TestRemixMissingOrigin(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	_, err := a.RemixShard(ctx, "nope", "p", "r", domain.ModeClairvoyant, owner)
	require.ErrorIs(t, err, domain.ErrNotFound)

	all, err := a.ListShards(ctx)
	require.NoError(t, err)
	assert.Empty(t, all, "no remix shard should be minted for a missing origin")
}

func TestConcurrentRemixesAllLinked(t *testing.T) {
	a := newTestArchive(t, nil)
	ctx := context.Background()

	origin, err := a.MintShard(ctx, "p", "r", domain.ModeClairvoyant, owner)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := a.RemixShard(ctx, origin.ID, fmt.Sprintf("p%d", i), "r", domain.ModeDissociative, owner)
			if assert.NoError(t, err) {
				ids <- s.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	found, err := a.FindShardByID(ctx, origin.ID)
	require.NoError(t, err)
	assert.Len(t, found.Remixes, n)
	for id := range ids {
		assert.True(t, found.HasRemix(id), "missing remix %s", id)
	}
}

// flakyStore wraps a real store and fails selected operations.
type flakyStore struct {
	store.DocumentStore
	failList   bool
	failAppend bool
	appends    int
}

var errOffline = errors.New("connection refused")

func (f *flakyStore) ListAll(ctx context.Context, collection, sortKey string, descending bool) ([]json.RawMessage, error) {
	if f.failList {
		return nil, errOffline
	}
	return f.DocumentStore.ListAll(ctx, collection, sortKey, descending)
}

func (f *flakyStore) AppendUnique(ctx context.Context, collection, id, field, value string) (bool, error) {
	f.appends++
	if f.failAppend {
		return false, errOffline
	}
	return f.DocumentStore.AppendUnique(ctx, collection, id, field, value)
}

func newFlakyStore(t *testing.T) *flakyStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "flaky.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &flakyStore{DocumentStore: s}
}

func TestListShardsStoreUnavailable(t *testing.T) {
	fs := newFlakyStore(t)
	a := newTestArchive(t, fs)
	fs.failList = true

	_, err := a.ListShards(context.Background())
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errOffline)
}

func TestRemixPartialFailure(t *testing.T) {
	fs := newFlakyStore(t)
	a := newTestArchive(t, fs)
	a.link.BaseDelay = time.Millisecond
	ctx := context.Background()

	origin, err := a.MintShard(ctx, "p", "r", domain.ModeClairvoyant, owner)
	require.NoError(t, err)

	fs.failAppend = true
	remix, err := a.RemixShard(ctx, origin.ID, "p2", "r2", domain.ModeClairvoyant, owner)
	require.ErrorIs(t, err, domain.ErrPartialRemix)
	require.NotNil(t, remix)
	assert.Equal(t, linkRetries, fs.appends, "link should be retried before giving up")

	var perr *domain.PartialRemixError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, origin.ID, perr.OriginID)
	assert.Equal(t, remix.ID, perr.Remix.ID)

	_, err = a.FindShardByID(ctx, remix.ID)
	assert.NoError(t, err, "orphaned remix is still stored")
}

func TestSchemaDescribesRecord(t *testing.T) {
	raw, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"id", "timestamp", "mode", "prompt", "response", "owner", "remixes"} {
		assert.Contains(t, props, field)
	}
}
