package cleaner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedEnvelope 表示模型输出中缺少必需的标签。
var ErrMalformedEnvelope = errors.New("malformed cleaning envelope")

// ParseEnvelope 解析模型输出的 XML 信封。
// 优先级：出现 <error> 即视为清洗失败；否则取第一个 <title> 和第一个 <content>，
// 缺任一个则返回 ErrMalformedEnvelope。
func ParseEnvelope(raw string) (title, content string, err error) {
	if msg, ok := extractTag(raw, "error"); ok {
		return "", "", fmt.Errorf("cleaning rejected by model: %s", strings.TrimSpace(msg))
	}

	title, okTitle := extractTag(raw, "title")
	content, okContent := extractTag(raw, "content")
	if !okTitle || !okContent {
		return "", "", fmt.Errorf("%w: missing <title> or <content>", ErrMalformedEnvelope)
	}
	return strings.TrimSpace(title), strings.TrimSpace(content), nil
}

// extractTag 取第一个 <tag>…</tag> 的内部文本。
func extractTag(raw, tag string) (string, bool) {
	open := "<" + tag + ">"
	close := "</" + tag + ">"

	start := strings.Index(raw, open)
	if start < 0 {
		return "", false
	}
	rest := raw[start+len(open):]
	end := strings.Index(rest, close)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
