package errhandler

import (
	"strings"
	"unicode"

	"chat-router/internal/router/intent"
	"chat-router/internal/shared/model"
)

// fallbackTopic 降级回复的话题
type fallbackTopic int

const (
	topicGeneric fallbackTopic = iota
	topicPrice
	topicOrder
	topicGreeting
)

var topicPhrases = []struct {
	topic   fallbackTopic
	phrases []string
}{
	{topicPrice, []string{"giá", "bao nhiêu", "báo giá", "price", "cost", "how much"}},
	{topicOrder, []string{"đơn hàng", "đơn", "giao hàng", "order", "delivery", "shipping"}},
	{topicGreeting, []string{"xin chào", "chào", "alo", "hello", "hi", "hey"}},
}

var fallbackTexts = map[fallbackTopic]map[string]string{
	topicPrice: {
		"vi": "Xin lỗi, bộ phận báo giá đang bận. Nhân viên sẽ gửi báo giá cho bạn trong thời gian sớm nhất.",
		"en": "Sorry, our pricing desk is busy right now. We will send you a quote as soon as possible.",
	},
	topicOrder: {
		"vi": "Xin lỗi, hệ thống tra cứu đơn hàng đang gián đoạn. Bộ phận hỗ trợ đơn hàng sẽ liên hệ bạn sớm.",
		"en": "Sorry, order lookup is temporarily unavailable. Our order support team will contact you shortly.",
	},
	topicGreeting: {
		"vi": "Xin chào! Hệ thống đang gặp chút trục trặc kỹ thuật, bạn vui lòng đợi trong giây lát nhé.",
		"en": "Hello! We are experiencing some technical difficulties, please bear with us for a moment.",
	},
	topicGeneric: {
		"vi": "Xin lỗi, hiện tại chúng tôi chưa thể trả lời. Vui lòng thử lại sau.",
		"en": "Sorry, we cannot answer right now. Please try again later.",
	},
}

// synthesizeFallback 根据原始消息生成上下文相关的降级回复
func synthesizeFallback(req *model.MiddlewareRequest, kind ErrorKind) (string, error) {
	lang := req.Language
	if lang == "" {
		lang = intent.DetectLanguage(req.Message, "en")
	}
	if lang != "en" {
		lang = "vi"
	}
	return fallbackTexts[topicOf(req.Message)][lang], nil
}

func topicOf(message string) fallbackTopic {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r)
	})
	text := " " + strings.Join(words, " ") + " "
	for _, tp := range topicPhrases {
		for _, p := range tp.phrases {
			if strings.Contains(text, " "+p+" ") {
				return tp.topic
			}
		}
	}
	return topicGeneric
}
