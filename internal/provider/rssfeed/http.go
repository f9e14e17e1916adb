package rssfeed

import (
	"net/http"
	"time"
)

// newHTTPClient 返回带超时的 HTTP 客户端供 gofeed 使用。
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
