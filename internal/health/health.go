package health

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"

	"otpmail/bot/internal/storage"
)

// Checker 进程健康检查器
type Checker struct {
	health healthcheck.Handler
	store  storage.Store
}

// NewChecker 创建健康检查器
func NewChecker(store storage.Store) *Checker {
	c := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
	}
	c.addChecks()
	return c
}

func (c *Checker) addChecks() {
	c.health.AddReadinessCheck("storage", func() error {
		return c.store.Health()
	})
	c.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
}

// LiveEndpoint 存活检查处理函数
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查处理函数
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.health.ReadyEndpoint(w, r)
}
