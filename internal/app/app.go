package app

import (
	"net/http"

	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/web/api"
)

// App 聚合 HTTP 入口与常驻领域核心，供 main 驱动
type App struct {
	Handler http.Handler
	Usecase *api.Usecase
}

// NewApp 组装应用，返回的 cleanup 负责停掉后台资源
func NewApp(bc *conf.Bootstrap) (*App, func(), error) {
	return wireApp(bc)
}
