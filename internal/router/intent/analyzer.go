// Package intent 意图分析
//
// Analyzer 是 Engine 依赖的外部协作者，默认实现 KeywordAnalyzer 基于关键词目录，
// 同时覆盖越南语和英语。需要 NLU 模型时替换为其它 Analyzer 实现即可。
package intent

import (
	"context"
	"strings"
	"unicode"

	"chat-router/internal/shared/model"
)

// Analyzer 意图分析接口
type Analyzer interface {
	Analyze(ctx context.Context, req *model.MiddlewareRequest, c *model.ConversationContext) (*model.IntentAnalysisResult, error)
}

// catalogEntry 一个意图及其关键词
type catalogEntry struct {
	intent   string
	keywords []string
}

// defaultCatalog 默认关键词目录，命中数相同时靠前的意图优先
var defaultCatalog = []catalogEntry{
	{model.IntentOrderInquiry, []string{
		"đơn hàng", "mã đơn", "đặt hàng", "kiểm tra đơn", "order", "my order", "order status",
	}},
	{model.IntentPriceInquiry, []string{
		"giá", "bao nhiêu tiền", "giá bao nhiêu", "báo giá", "price", "how much", "cost",
	}},
	{model.IntentPaymentInquiry, []string{
		"thanh toán", "chuyển khoản", "trả góp", "payment", "pay", "credit card", "invoice",
	}},
	{model.IntentShippingInquiry, []string{
		"giao hàng", "vận chuyển", "phí ship", "ship", "shipping", "delivery", "tracking",
	}},
	{model.IntentProductInquiry, []string{
		"sản phẩm", "còn hàng", "mẫu", "size", "product", "in stock", "available",
	}},
	{model.IntentRefundRequest, []string{
		"hoàn tiền", "trả hàng", "đổi trả", "refund", "return", "money back",
	}},
	{model.IntentComplaint, []string{
		"khiếu nại", "tệ", "thất vọng", "bực", "complaint", "terrible", "disappointed", "angry",
	}},
	{model.IntentTechnicalSupport, []string{
		"lỗi", "không vào được", "đăng nhập", "bug", "error", "cannot login", "not working", "crash",
	}},
	{model.IntentCustomerSupport, []string{
		"hỗ trợ", "tư vấn", "nhân viên", "gặp người", "support", "help", "agent", "talk to human",
	}},
	{model.IntentGreeting, []string{
		"xin chào", "chào", "chào bạn", "alo", "hello", "hi", "hey", "good morning",
	}},
	{model.IntentGoodbye, []string{
		"tạm biệt", "cảm ơn", "bye", "goodbye", "thanks", "thank you", "see you",
	}},
}

// KeywordAnalyzer 基于关键词目录的意图分析器
type KeywordAnalyzer struct {
	catalog []catalogEntry
}

// NewKeywordAnalyzer 创建使用默认目录的分析器
func NewKeywordAnalyzer() *KeywordAnalyzer {
	catalog := make([]catalogEntry, len(defaultCatalog))
	for i, e := range defaultCatalog {
		kws := make([]string, len(e.keywords))
		for j, kw := range e.keywords {
			kws[j] = normalize(kw)
		}
		catalog[i] = catalogEntry{intent: e.intent, keywords: kws}
	}
	return &KeywordAnalyzer{catalog: catalog}
}

// Analyze 分析意图
//
// 置信度由命中关键词数量决定，未命中任何关键词时为 unknown。
func (a *KeywordAnalyzer) Analyze(ctx context.Context, req *model.MiddlewareRequest, c *model.ConversationContext) (*model.IntentAnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := " " + normalize(req.Message) + " "
	best, bestHits := model.IntentUnknown, 0
	for _, e := range a.catalog {
		hits := 0
		for _, kw := range e.keywords {
			if strings.Contains(text, " "+kw+" ") {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = e.intent, hits
		}
	}

	return &model.IntentAnalysisResult{
		PrimaryIntent: best,
		Confidence:    confidenceFor(bestHits),
		Complexity:    ComplexityOf(req.Message),
		Language:      DetectLanguage(req.Message, fallbackLanguage(req, c)),
	}, nil
}

func confidenceFor(hits int) float64 {
	switch {
	case hits == 0:
		return 0.3
	case hits == 1:
		return 0.75
	case hits == 2:
		return 0.85
	default:
		return 0.95
	}
}

func fallbackLanguage(req *model.MiddlewareRequest, c *model.ConversationContext) string {
	if req.Language != "" {
		return req.Language
	}
	if c != nil && c.Language != "" {
		return c.Language
	}
	return "en"
}

// ComplexityOf 根据长度和问句数估计复杂度
//
//	high:   超过 30 个词，或 2 个以上问句
//	medium: 超过 12 个词，或含 1 个问句
//	low:    其它
func ComplexityOf(message string) model.Complexity {
	words := len(strings.Fields(message))
	questions := strings.Count(message, "?")
	switch {
	case words > 30 || questions >= 2:
		return model.ComplexityHigh
	case words > 12 || questions == 1:
		return model.ComplexityMedium
	default:
		return model.ComplexityLow
	}
}

// vietnameseLetters 越南语特有字母（不含组合声调）
const vietnameseLetters = "ăâđêôơư"

// DetectLanguage 含越南语字母或声调时返回 "vi"，否则返回 fallback
func DetectLanguage(message, fallback string) string {
	for _, r := range strings.ToLower(message) {
		if strings.ContainsRune(vietnameseLetters, r) {
			return "vi"
		}
		// 带声调的拉丁字母（á à ả ã ạ ...）
		if r > unicode.MaxASCII && unicode.IsLetter(r) && unicode.Is(unicode.Latin, r) {
			return "vi"
		}
	}
	return fallback
}

// normalize 转小写，标点替换为空格，合并连续空白
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

var _ Analyzer = (*KeywordAnalyzer)(nil)
