package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/core/device"
	"github.com/gowvp/argus/pkg/wsdiscovery"
)

// OnvifProber WS-Discovery 多播发现器
// 每个合格网卡独立探测，聚合时以 IP 去重，先到先得
type OnvifProber struct {
	cfg *conf.Discovery
	log *slog.Logger
}

func NewOnvifProber(cfg *conf.Discovery) *OnvifProber {
	return &OnvifProber{
		cfg: cfg,
		log: slog.With("prober", "onvif"),
	}
}

// Method implements Prober.
func (p *OnvifProber) Method() device.DiscoveryMethod {
	return device.MethodONVIF
}

// Discover implements Prober.
func (p *OnvifProber) Discover(ctx context.Context) []Record {
	ifaces := EligibleInterfaces()
	if len(ifaces) == 0 {
		p.log.Warn("没有可用于多播探测的网卡")
		return nil
	}

	var m sync.Mutex
	found := make(map[string]Record)
	onMatch := func(match wsdiscovery.Match) {
		rec, ok := p.recordFromMatch(match)
		if !ok {
			return
		}
		m.Lock()
		if _, exists := found[rec.IP]; !exists {
			found[rec.IP] = rec
		}
		m.Unlock()
	}

	wscfg := wsdiscovery.Config{
		ListenWindow: p.cfg.ListenWindow.Duration(),
		ProbeSpacing: p.cfg.ProbeSpacing.Duration(),
		Types:        wsdiscovery.DefaultProbeTypes,
	}

	var wg sync.WaitGroup
	for i := range ifaces {
		ifi := ifaces[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := wsdiscovery.ProbeInterface(&ifi, wscfg, onMatch); err != nil {
				p.log.Warn("网卡探测失败", "interface", ifi.Name, "err", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.GlobalTimeout.Duration()):
		p.log.Warn("多播探测触发全局超时", "timeout", p.cfg.GlobalTimeout.Duration())
	case <-ctx.Done():
	}

	m.Lock()
	defer m.Unlock()
	out := make([]Record, 0, len(found))
	for _, rec := range found {
		out = append(out, rec)
	}
	p.log.Info("多播探测完成", "interfaces", len(ifaces), "devices", len(out))
	return out
}

// recordFromMatch 应答转设备记录
// 没有可用的 XAddrs 视为无效应答；有 XAddrs 没有 Scopes 时厂商记为 Unknown
func (p *OnvifProber) recordFromMatch(match wsdiscovery.Match) (Record, bool) {
	endpoint, ip, port, ok := wsdiscovery.PickXAddr(match.XAddrs)
	if !ok {
		return Record{}, false
	}

	rec := Record{
		IP:       ip,
		Port:     port,
		Endpoint: endpoint,
		Scopes:   match.Scopes,
		Method:   device.MethodONVIF,
		SeenAt:   time.Now(),
	}
	rec.Capabilities = append(rec.Capabilities, device.CapabilityONVIF)
	if wsdiscovery.HasVideoType(match.Types) {
		rec.Capabilities = append(rec.Capabilities, device.CapabilityVideo)
	}

	if len(match.Scopes) == 0 {
		rec.Manufacturer = device.ManufacturerUnknown
		return rec, true
	}
	info := wsdiscovery.DecodeScopes(match.Scopes)
	rec.Name = info.Name
	rec.Hardware = info.Hardware
	rec.Location = info.Location
	rec.Manufacturer = VendorFromText(info.Name + " " + info.Hardware)
	return rec, true
}

var _ Prober = (*OnvifProber)(nil)
