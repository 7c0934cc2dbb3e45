package etcd

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-router/internal/shared/model"
)

func TestDecodeSettings(t *testing.T) {
	s, err := decodeSettings([]byte(`{"strategy":"intent_based","fallback_enabled":false}`))
	require.NoError(t, err)
	assert.Equal(t, "intent_based", s.Strategy)
	require.NotNil(t, s.FallbackEnabled)
	assert.False(t, *s.FallbackEnabled)
	assert.Nil(t, s.CircuitBreakerEnabled)

	_, err = decodeSettings([]byte(`not json`))
	assert.Error(t, err)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "/chat-router/routing", routingKey("/chat-router"))
}

func TestNewStoreRequiresEndpoints(t *testing.T) {
	_, err := NewStore(Config{})
	assert.Error(t, err)
}

// 需要真实 etcd，设置 ETCD_TEST_ENDPOINTS 后运行
func TestRoutingSettingsWatch(t *testing.T) {
	endpoints := os.Getenv("ETCD_TEST_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_TEST_ENDPOINTS not set")
	}
	s, err := NewStore(Config{
		Endpoints: strings.Split(endpoints, ","),
		Prefix:    "/chat-router-test-" + time.Now().Format("150405.000"),
	})
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got, err := s.GetRoutingSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	ch := s.WatchRoutingSettings(ctx)
	enabled := true
	require.NoError(t, s.PutRoutingSettings(ctx, &model.RoutingSettings{Strategy: "health_based", CircuitBreakerEnabled: &enabled}))

	select {
	case settings := <-ch:
		assert.Equal(t, "health_based", settings.Strategy)
		assert.True(t, *settings.CircuitBreakerEnabled)
	case <-ctx.Done():
		t.Fatal("timed out waiting for routing settings")
	}

	got, err = s.GetRoutingSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "health_based", got.Strategy)

	_, err = s.client.Delete(ctx, s.RoutingKey())
	require.NoError(t, err)
}
