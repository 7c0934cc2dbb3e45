package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-router/internal/shared/cache"
	"chat-router/internal/shared/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStoreFromClient(client), mr
}

func newTestContext() *model.ConversationContext {
	return model.NewConversationContext(&model.MiddlewareRequest{
		TenantID: "t1",
		UserID:   "u1",
		Platform: "web",
		Message:  "hi",
	}, time.Now())
}

func TestStore_GetContextMiss(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.GetContext(context.Background(), "ctx:none:none:web")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_SetAndGetContext(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	c := newTestContext()
	c.PushIntent(model.IntentGreeting)
	c.PushProvider(model.ProviderRuleBased)
	c.Metadata[model.MetaLastMessage] = "hi"
	c.DurableSynced = true

	require.NoError(t, s.SetContext(ctx, c, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL(c.ContextKey))

	got, err := s.GetContext(ctx, c.ContextKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ContextID, got.ContextID)
	assert.Equal(t, []string{model.IntentGreeting}, got.IntentHistory.Items())
	assert.Equal(t, model.MaxIntentHistory, got.IntentHistory.Capacity())
	assert.Equal(t, model.ProviderRuleBased, got.LastProvider)
	assert.Equal(t, "hi", got.Metadata[model.MetaLastMessage])
	assert.True(t, got.DurableSynced)
}

func TestStore_SetContextDefaultTTL(t *testing.T) {
	s, mr := newTestStore(t)
	c := newTestContext()

	require.NoError(t, s.SetContext(context.Background(), c, 0))
	assert.Equal(t, cache.TTLContext, mr.TTL(c.ContextKey))
}

func TestStore_ContextExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	c := newTestContext()

	require.NoError(t, s.SetContext(ctx, c, time.Minute))
	mr.FastForward(2 * time.Minute)

	got, err := s.GetContext(ctx, c.ContextKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ExistsExpireDelete(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	c := newTestContext()

	ok, err := s.ExistsContext(ctx, c.ContextKey)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ExpireContext(ctx, c.ContextKey, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "expire on missing key")

	require.NoError(t, s.SetContext(ctx, c, time.Minute))
	ok, err = s.ExpireContext(ctx, c.ContextKey, 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Hour, mr.TTL(c.ContextKey))

	ok, err = s.ExistsContext(ctx, c.ContextKey)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeleteContext(ctx, c.ContextKey))
	// 重复删除不报错
	require.NoError(t, s.DeleteContext(ctx, c.ContextKey))
	assert.False(t, mr.Exists(c.ContextKey))
}

func TestStore_GetContextCorrupted(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set("ctx:t:u:p", "{not json"))

	_, err := s.GetContext(context.Background(), "ctx:t:u:p")
	assert.Error(t, err)
}

func TestStore_ProviderHealth(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	h1 := &model.ProviderHealth{Healthy: true, LastCheck: time.Now()}
	h2 := &model.ProviderHealth{Healthy: false, ConsecutiveFailures: 3, LastMessage: "timeout"}
	require.NoError(t, s.PublishProviderHealth(ctx, "router-1", model.ProviderRuleBased, h1))
	require.NoError(t, s.PublishProviderHealth(ctx, "router-2", model.ProviderRuleBased, h2))
	require.NoError(t, s.PublishProviderHealth(ctx, "router-1", model.ProviderDialogue, h1))

	got, err := s.ListProviderHealth(ctx, model.ProviderRuleBased)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got["router-1"].Healthy)
	assert.Equal(t, 3, got["router-2"].ConsecutiveFailures)

	// 快照带 TTL，实例下线后自动消失
	mr.FastForward(cache.TTLProviderHealth + time.Second)
	got, err = s.ListProviderHealth(ctx, model.ProviderRuleBased)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Ping(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.SetError("LOADING")
	assert.Error(t, s.Ping(context.Background()))
}
