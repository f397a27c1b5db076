package discovery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/core/device"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/jinzhu/copier"
)

// Core business domain
type Core struct {
	deviceCore device.Core
	cfg        *conf.Discovery
	log        *slog.Logger

	probers  map[device.DiscoveryMethod]Prober
	fallback Prober
}

type Option func(*Core)

// WithProber 注册或替换发现器
func WithProber(p Prober) Option {
	return func(c *Core) {
		c.probers[p.Method()] = p
	}
}

// WithFallback 替换兜底发现器
func WithFallback(p Prober) Option {
	return func(c *Core) {
		c.fallback = p
	}
}

// NewCore create business domain
// 默认注册多播与 SSDP 两个发现器，兜底扫描仅在两者均无结果时运行
func NewCore(deviceCore device.Core, bc *conf.Bootstrap, opts ...Option) *Core {
	c := Core{
		deviceCore: deviceCore,
		cfg:        &bc.Discovery,
		log:        slog.With("module", "discovery"),
		probers:    make(map[device.DiscoveryMethod]Prober),
	}
	c.probers[device.MethodONVIF] = NewOnvifProber(&bc.Discovery)
	c.probers[device.MethodSSDP] = NewSSDPProber(&bc.Discovery)
	c.fallback = NewIPScanProber(&bc.Discovery)
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Run 执行一轮发现：并发运行所有发现器，归并结果并入库
// 返回本轮归并出的设备快照，一台未发现也是正常结果
func (c *Core) Run(ctx context.Context) []*device.Device {
	var m sync.Mutex
	all := make([]Record, 0, 8)

	var wg sync.WaitGroup
	for _, p := range c.probers {
		wg.Add(1)
		go func(p Prober) {
			defer wg.Done()
			records := p.Discover(ctx)
			m.Lock()
			all = append(all, records...)
			m.Unlock()
		}(p)
	}
	wg.Wait()

	if len(all) == 0 && c.fallback != nil {
		c.log.Info("常规发现一无所获，启动兜底扫描")
		all = c.fallback.Discover(ctx)
	}

	merged := Merge(all)
	if len(merged) == 0 {
		c.log.Info("本轮未发现任何设备")
		return nil
	}

	out := make([]*device.Device, 0, len(merged))
	for i := range merged {
		var in device.DiscoveredInput
		if err := copier.Copy(&in, &merged[i]); err != nil {
			slog.ErrorContext(ctx, "Copy", "err", err)
			continue
		}
		dev, err := c.deviceCore.UpsertDiscovered(ctx, &in)
		if err != nil {
			c.log.Error("设备入库失败", "ip", merged[i].IP, "err", err)
			continue
		}
		out = append(out, dev)
	}
	c.log.Info("发现归并完成", "records", len(all), "devices", len(out))
	return out
}

// StartWorker 周期性重新发现，间隔为 0 时不启动
func (c *Core) StartWorker(ctx context.Context) {
	interval := c.cfg.Interval.Duration()
	if interval <= 0 {
		return
	}
	go func() {
		conc.Timer(ctx, interval, interval, func() {
			c.Run(ctx)
		})
	}()
}
