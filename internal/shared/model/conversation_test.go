// Package model 会话上下文模型测试
package model

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() *MiddlewareRequest {
	return &MiddlewareRequest{
		RequestID: "req-001",
		TenantID:  "tenant-a",
		UserID:    "user-1",
		Platform:  "facebook",
		BotID:     "bot-1",
		Message:   "xin chào",
	}
}

// ============================================================================
// BoundedHistory
// ============================================================================

func TestBoundedHistory_EvictsOldest(t *testing.T) {
	c := NewConversationContext(testRequest(), time.Now())

	for i := 0; i < 60; i++ {
		c.PushIntent(fmt.Sprintf("intent-%d", i))
	}

	items := c.IntentHistory.Items()
	require.Len(t, items, MaxIntentHistory)
	assert.Equal(t, "intent-10", items[0])
	assert.Equal(t, "intent-59", items[len(items)-1])
	assert.Equal(t, "intent-59", c.LastIntent)
}

func TestBoundedHistory_ProviderWindow(t *testing.T) {
	c := NewConversationContext(testRequest(), time.Now())

	for i := 0; i < 25; i++ {
		if i%2 == 0 {
			c.PushProvider(ProviderRuleBased)
		} else {
			c.PushProvider(ProviderDialogue)
		}
	}

	assert.Equal(t, MaxProviderHistory, c.ProviderHistory.Len())
	assert.Equal(t, ProviderRuleBased, c.LastProvider)
	assert.Equal(t, ProviderDialogue, c.PreviousProvider)
}

func TestBoundedHistory_JSONRoundTrip(t *testing.T) {
	c := NewConversationContext(testRequest(), time.Now())
	c.PushIntent(IntentGreeting)
	c.PushIntent(IntentOrderInquiry)

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"intent_history":["greeting","order_inquiry"]`)

	var got ConversationContext
	require.NoError(t, json.Unmarshal(data, &got))
	got.Normalize()

	assert.Equal(t, MaxIntentHistory, got.IntentHistory.Capacity())
	assert.Equal(t, []string{IntentGreeting, IntentOrderInquiry}, got.IntentHistory.Items())
	assert.Equal(t, c.ContextID, got.ContextID)
}

func TestBoundedHistory_TrimsOversizedInput(t *testing.T) {
	var c ConversationContext
	raw := make([]string, 30)
	for i := range raw {
		raw[i] = fmt.Sprintf("p-%d", i)
	}
	data, _ := json.Marshal(map[string]interface{}{"provider_history": raw})
	require.NoError(t, json.Unmarshal(data, &c))

	c.Normalize()
	assert.Equal(t, MaxProviderHistory, c.ProviderHistory.Len())
	assert.Equal(t, "p-10", c.ProviderHistory.Items()[0])
}

// ============================================================================
// 生命周期
// ============================================================================

func TestNewConversationContext_Defaults(t *testing.T) {
	now := time.Now()
	c := NewConversationContext(testRequest(), now)

	assert.NotEmpty(t, c.ContextID)
	assert.Equal(t, "ctx:tenant-a:user-1:facebook", c.ContextKey)
	assert.Equal(t, ContextStatusActive, c.Status)
	assert.Zero(t, c.MessageCount)
	assert.Zero(t, c.MessageCountInCurrentSession)
	assert.NotEmpty(t, c.SessionID)
	assert.Equal(t, now, c.CreatedAt)
	assert.True(t, c.IsActive(now))
}

func TestNewMinimalContext(t *testing.T) {
	c := NewMinimalContext(testRequest(), time.Now())

	assert.Equal(t, ContextStatusMinimal, c.Status)
	assert.Equal(t, 1, c.MessageCount)
	assert.Equal(t, "user-1", c.UserID)
	assert.Equal(t, "tenant-a", c.TenantID)
	assert.False(t, c.DurableSynced)
	assert.False(t, c.IsActive(time.Now()))
}

func TestConversationContext_Expiry(t *testing.T) {
	now := time.Now()
	c := NewConversationContext(testRequest(), now)

	past := now.Add(-time.Second)
	c.ExpiresAt = &past
	assert.True(t, c.IsExpired(now))
	assert.False(t, c.IsActive(now), "expired context must not be active")

	// 恰好到期也算过期
	c.ExpiresAt = &now
	assert.True(t, c.IsExpired(now))

	future := now.Add(time.Hour)
	c.ExpiresAt = &future
	assert.True(t, c.IsActive(now))

	c.Status = ContextStatusEscalated
	assert.False(t, c.IsActive(now))
}

func TestConversationContext_ResetSession(t *testing.T) {
	now := time.Now()
	c := NewConversationContext(testRequest(), now)
	c.MessageCount = 12
	c.MessageCountInCurrentSession = 7
	c.Status = ContextStatusError
	oldSession := c.SessionID

	c.ResetSession("", now.Add(time.Hour))

	assert.Equal(t, 12, c.MessageCount)
	assert.Zero(t, c.MessageCountInCurrentSession)
	assert.NotEqual(t, oldSession, c.SessionID)
	assert.Equal(t, ContextStatusActive, c.Status)
}

func TestConversationContext_Tags(t *testing.T) {
	c := NewConversationContext(testRequest(), time.Now())
	c.AddTag("vip")
	c.AddTag("vip")
	c.AddTag("returning")

	assert.Equal(t, []string{"vip", "returning"}, c.Tags)
	c.RemoveTag("vip")
	assert.False(t, c.HasTag("vip"))
	assert.True(t, c.HasTag("returning"))
}

func TestConversationContext_CloneIsIndependent(t *testing.T) {
	c := NewConversationContext(testRequest(), time.Now())
	c.PushIntent(IntentGreeting)
	c.Metadata["k"] = "v"

	cp := c.Clone()
	cp.PushIntent(IntentOrderInquiry)
	cp.Metadata["k"] = "changed"

	assert.Equal(t, 1, c.IntentHistory.Len())
	assert.Equal(t, "v", c.Metadata["k"])
	assert.Equal(t, c.ContextID, cp.ContextID)
}

// ============================================================================
// 请求与意图
// ============================================================================

func TestMiddlewareRequest_Validate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(r *MiddlewareRequest)
		field string
	}{
		{"valid", func(r *MiddlewareRequest) {}, ""},
		{"empty user", func(r *MiddlewareRequest) { r.UserID = "" }, "user_id"},
		{"blank message", func(r *MiddlewareRequest) { r.Message = "   " }, "message"},
		{"no platform", func(r *MiddlewareRequest) { r.Platform = "" }, "platform"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRequest()
			tt.mut(r)
			err := r.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestIntentAnalysisResult_Categories(t *testing.T) {
	assert.True(t, (&IntentAnalysisResult{PrimaryIntent: IntentOrderInquiry}).IsBusinessIntent())
	assert.True(t, (&IntentAnalysisResult{PrimaryIntent: IntentShippingInquiry}).IsBusinessIntent())
	assert.True(t, (&IntentAnalysisResult{PrimaryIntent: IntentRefundRequest}).IsSupportIntent())
	assert.False(t, (&IntentAnalysisResult{PrimaryIntent: IntentGreeting}).IsBusinessIntent())
	assert.False(t, (&IntentAnalysisResult{PrimaryIntent: IntentGreeting}).IsSupportIntent())

	var nilResult *IntentAnalysisResult
	assert.False(t, nilResult.IsBusinessIntent())
}

func TestProviderHealth_Usable(t *testing.T) {
	assert.True(t, ProviderHealth{Healthy: true}.Usable())
	assert.True(t, ProviderHealth{Healthy: true, ConsecutiveFailures: 2}.Usable())
	assert.False(t, ProviderHealth{Healthy: true, ConsecutiveFailures: 3}.Usable())
	assert.False(t, ProviderHealth{Healthy: false}.Usable())
}
