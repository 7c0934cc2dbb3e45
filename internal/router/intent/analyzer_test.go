package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-router/internal/shared/model"
)

func analyze(t *testing.T, msg string) *model.IntentAnalysisResult {
	t.Helper()
	res, err := NewKeywordAnalyzer().Analyze(context.Background(), &model.MiddlewareRequest{
		UserID: "u1", Platform: "web", Message: msg,
	}, nil)
	require.NoError(t, err)
	return res
}

func TestAnalyze_Intents(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"xin chào", model.IntentGreeting},
		{"Hello!", model.IntentGreeting},
		{"Đơn hàng của tôi đâu rồi?", model.IntentOrderInquiry},
		{"where is my order", model.IntentOrderInquiry},
		{"Cái này giá bao nhiêu?", model.IntentPriceInquiry},
		{"how much is shipping to Hanoi", model.IntentPriceInquiry},
		{"tôi muốn hoàn tiền", model.IntentRefundRequest},
		{"app bị lỗi không vào được", model.IntentTechnicalSupport},
		{"cảm ơn, tạm biệt", model.IntentGoodbye},
		{"the weather is nice", model.IntentUnknown},
		// "hi" 不应匹配 "this"
		{"this thing", model.IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, analyze(t, tt.msg).PrimaryIntent)
		})
	}
}

func TestAnalyze_Confidence(t *testing.T) {
	assert.Equal(t, 0.3, analyze(t, "lorem ipsum").Confidence)
	assert.Equal(t, 0.75, analyze(t, "hello").Confidence)
	assert.Greater(t, analyze(t, "order status of my order").Confidence, 0.75)

	for _, msg := range []string{"", "giá giá giá", "hi hello hey good morning"} {
		c := analyze(t, msg+" x").Confidence
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)
	}
}

func TestAnalyze_Language(t *testing.T) {
	assert.Equal(t, "vi", analyze(t, "xin chào").Language)
	assert.Equal(t, "vi", analyze(t, "đơn").Language)
	assert.Equal(t, "en", analyze(t, "hello there").Language)

	res, err := NewKeywordAnalyzer().Analyze(context.Background(),
		&model.MiddlewareRequest{Message: "ok", Language: "fr"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "fr", res.Language)

	res, err = NewKeywordAnalyzer().Analyze(context.Background(),
		&model.MiddlewareRequest{Message: "ok"}, &model.ConversationContext{Language: "vi"})
	require.NoError(t, err)
	assert.Equal(t, "vi", res.Language)
}

func TestComplexityOf(t *testing.T) {
	assert.Equal(t, model.ComplexityLow, ComplexityOf("hi"))
	assert.Equal(t, model.ComplexityMedium, ComplexityOf("is it in stock?"))
	assert.Equal(t, model.ComplexityHigh, ComplexityOf("is it in stock? what sizes?"))
	long := ""
	for i := 0; i < 31; i++ {
		long += "word "
	}
	assert.Equal(t, model.ComplexityHigh, ComplexityOf(long))
}

func TestAnalyze_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewKeywordAnalyzer().Analyze(ctx, &model.MiddlewareRequest{Message: "hi"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "xin chào bạn", normalize("  Xin   chào, bạn!! "))
	assert.Equal(t, "", normalize("?!"))
}
