package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/argus/internal/adapter/onvifadapter"
	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/core/device"
	"github.com/gowvp/argus/internal/core/device/store/devicemem"
	"github.com/gowvp/argus/internal/core/discovery"
	"github.com/gowvp/argus/internal/core/stream"
	"github.com/ixugo/goddd/pkg/web"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewDeviceStore, NewDeviceCore,
	NewONVIFAdapter,
	wire.Bind(new(stream.Protocoler), new(*onvifadapter.Adapter)),
	NewResolver, NewStreamCore,
	NewDiscoveryCore,
)

type Usecase struct {
	Conf          *conf.Bootstrap
	DeviceCore    device.Core
	DiscoveryCore *discovery.Core
	StreamCore    *stream.Core
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if !uc.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	// 如果启用了 Pprof，设置 Pprof 监控
	if cfg.HTTP.PProf.Enabled {
		web.SetupPProf(g, &cfg.HTTP.PProf.AccessIps)
	}

	setupRouter(g, uc) // 设置路由处理函数
	return g           // 返回配置好的 Gin 实例作为 http.Handler
}

func NewDeviceStore() device.Storer {
	return devicemem.NewStore()
}

func NewDeviceCore(store device.Storer) device.Core {
	return device.NewCore(store)
}

// NewONVIFAdapter ONVIF 协议适配器，兼任 stream.Protocoler
// 适配器带后台协程，cleanup 负责停掉
func NewONVIFAdapter(deviceCore device.Core) (*onvifadapter.Adapter, func()) {
	a := onvifadapter.NewAdapter(deviceCore)
	return a, a.Close
}

func NewResolver(bc *conf.Bootstrap, gateway stream.Protocoler) *stream.Resolver {
	return stream.NewResolver(bc, gateway)
}

func NewStreamCore(bc *conf.Bootstrap, deviceCore device.Core, resolver *stream.Resolver) *stream.Core {
	return stream.NewCore(bc, deviceCore, resolver)
}

func NewDiscoveryCore(deviceCore device.Core, bc *conf.Bootstrap) *discovery.Core {
	return discovery.NewCore(deviceCore, bc)
}
