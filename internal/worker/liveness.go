package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/kart-io/logger"
)

// Liveness 是容器编排用的存活探针。
// 只要进程的主循环还在，GET /healthz 返回 200。
type Liveness struct {
	server *http.Server
}

// NewLiveness 创建监听 addr 的存活探针。
func NewLiveness(addr string) *Liveness {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Liveness{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start 在后台启动探针服务。
func (l *Liveness) Start() {
	go func() {
		logger.Infow("liveness probe listening", "addr", l.server.Addr)
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("liveness probe server failed", "error", err)
		}
	}()
}

// Stop 优雅关闭探针服务。
func (l *Liveness) Stop(ctx context.Context) error {
	return l.server.Shutdown(ctx)
}
