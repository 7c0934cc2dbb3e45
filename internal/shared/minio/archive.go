package objstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"chat-router/internal/shared/model"
)

// ObjectKey 归档对象路径：contexts/{tenant}/{platform}/{user}/{context_id}.json
func ObjectKey(c *model.ConversationContext) string {
	tenant := c.TenantID
	if tenant == "" {
		tenant = "_"
	}
	return fmt.Sprintf("contexts/%s/%s/%s/%s.json",
		sanitize(tenant), sanitize(c.Platform), sanitize(c.UserID), c.ContextID)
}

func sanitize(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}

// ArchiveContexts 将过期会话上下文以 JSON 写入对象存储
//
// 任一对象写入失败即返回错误，调用方据此决定是否继续删除持久层数据。
func (c *Client) ArchiveContexts(ctx context.Context, contexts []*model.ConversationContext) error {
	for _, conv := range contexts {
		data, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("marshal context %s: %w", conv.ContextKey, err)
		}
		key := ObjectKey(conv)
		if err := c.upload(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
			return err
		}
	}
	if len(contexts) > 0 {
		log.Printf("[minio] Archived %d contexts to %s", len(contexts), c.bucket)
	}
	return nil
}
