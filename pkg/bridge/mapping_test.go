package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContext(srcMsgID, targetMsgID string) ForwardContext {
	return ForwardContext{
		SourcePlatform:  PlatformTelegram,
		SourceChatID:    -100123,
		SourceMessageID: srcMsgID,
		TargetPlatform:  PlatformDiscord,
		TargetChatID:    555,
		TargetMessageID: targetMsgID,
	}
}

func lookup(t *testing.T, store ForwardMappingStore, srcMsgID string) string {
	t.Helper()
	id, err := store.TargetMessageID(context.Background(), PlatformTelegram, -100123, srcMsgID, PlatformDiscord, 555)
	require.NoError(t, err)
	return id
}

func TestMemoryMappingStore_RoundTrip(t *testing.T) {
	store := NewMemoryMappingStore(time.Minute, 0)
	ctx := context.Background()

	assert.Empty(t, lookup(t, store, "10"))

	require.NoError(t, store.SaveMapping(ctx, sampleContext("10", "900")))
	assert.Equal(t, "900", lookup(t, store, "10"))

	// Most recent write wins.
	require.NoError(t, store.SaveMapping(ctx, sampleContext("10", "901")))
	assert.Equal(t, "901", lookup(t, store, "10"))
}

func TestMemoryMappingStore_KeyIncludesFullTuple(t *testing.T) {
	store := NewMemoryMappingStore(time.Minute, 0)
	ctx := context.Background()
	require.NoError(t, store.SaveMapping(ctx, sampleContext("10", "900")))

	// Same source message toward a different target chat is a different key.
	id, err := store.TargetMessageID(ctx, PlatformTelegram, -100123, "10", PlatformDiscord, 556)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSQLiteMappingStore_RoundTripAndUpsert(t *testing.T) {
	store := NewSQLiteMappingStore(filepath.Join(t.TempDir(), "map.db"), 100)
	defer store.Close()
	ctx := context.Background()

	assert.Empty(t, lookup(t, store, "10"))

	require.NoError(t, store.SaveMapping(ctx, sampleContext("10", "900")))
	assert.Equal(t, "900", lookup(t, store, "10"))

	require.NoError(t, store.SaveMapping(ctx, sampleContext("10", "901")))
	assert.Equal(t, "901", lookup(t, store, "10"), "upsert must overwrite on the 5-tuple conflict")
}

func TestSQLiteMappingStore_TrimsToNewest(t *testing.T) {
	const maxItems = 5
	store := NewSQLiteMappingStore(filepath.Join(t.TempDir(), "map.db"), maxItems)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.SaveMapping(ctx, sampleContext(fmt.Sprintf("%d", i), fmt.Sprintf("t%d", i))))
	}

	// Only the newest maxItems survive.
	for i := 0; i < 20-maxItems; i++ {
		assert.Empty(t, lookup(t, store, fmt.Sprintf("%d", i)), "old row %d should be trimmed", i)
	}
	for i := 20 - maxItems; i < 20; i++ {
		assert.Equal(t, fmt.Sprintf("t%d", i), lookup(t, store, fmt.Sprintf("%d", i)))
	}
}

func TestCompositeMappingStore_WriteThroughAndFirstHit(t *testing.T) {
	ctx := context.Background()
	tier1 := NewMemoryMappingStore(time.Minute, 0)
	tier2 := NewMemoryMappingStore(time.Minute, 0)
	composite := NewCompositeMappingStore(tier1, tier2)

	require.NoError(t, composite.SaveMapping(ctx, sampleContext("10", "900")))

	// Write-through completeness: visible on every constituent backend.
	assert.Equal(t, "900", lookup(t, tier1, "10"))
	assert.Equal(t, "900", lookup(t, tier2, "10"))
	assert.Equal(t, "900", lookup(t, composite, "10"))
}

func TestCompositeMappingStore_ReadFallsBackAcrossTiers(t *testing.T) {
	ctx := context.Background()
	tier1 := NewMemoryMappingStore(time.Minute, 0)
	tier2 := NewMemoryMappingStore(time.Minute, 0)
	composite := NewCompositeMappingStore(tier1, tier2)

	// Only the second tier knows the mapping.
	require.NoError(t, tier2.SaveMapping(ctx, sampleContext("11", "911")))
	assert.Equal(t, "911", lookup(t, composite, "11"))
}
