package discovery

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/core/device"
	"github.com/gowvp/argus/pkg/ssdp"
)

// onvifTokens SSDP 应答中判定 ONVIF 相关设备的特征词
var onvifTokens = []string{"onvif", "networkvideotransmitter", "nvt", "ipcam", "camera"}

// SSDPProber UPnP/SSDP 搜索发现器
type SSDPProber struct {
	cfg    *conf.Discovery
	log    *slog.Logger
	client *http.Client
}

func NewSSDPProber(cfg *conf.Discovery) *SSDPProber {
	return &SSDPProber{
		cfg:    cfg,
		log:    slog.With("prober", "ssdp"),
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

// Method implements Prober.
func (p *SSDPProber) Method() device.DiscoveryMethod {
	return device.MethodSSDP
}

// Discover implements Prober.
func (p *SSDPProber) Discover(ctx context.Context) []Record {
	ifaces := EligibleInterfaces()
	if len(ifaces) == 0 {
		p.log.Warn("没有可用于 SSDP 搜索的网卡")
		return nil
	}

	var m sync.Mutex
	seenUSN := make(map[string]struct{})
	found := make(map[string]Record)
	onResponse := func(resp ssdp.Response) {
		rec, ok := p.recordFromResponse(resp)
		if !ok {
			return
		}
		m.Lock()
		defer m.Unlock()
		if usn := ssdp.NormalizeUSN(resp.USN); usn != "" {
			if _, dup := seenUSN[usn]; dup {
				return
			}
			seenUSN[usn] = struct{}{}
		}
		if _, dup := found[rec.IP]; dup {
			return
		}
		found[rec.IP] = rec
	}

	scfg := ssdp.Config{
		ListenWindow:  p.cfg.ListenWindow.Duration(),
		SearchSpacing: p.cfg.ProbeSpacing.Duration(),
		MaxWait:       p.cfg.SSDPMaxWait,
		Targets:       ssdp.DefaultSearchTargets,
	}

	var wg sync.WaitGroup
	for i := range ifaces {
		ifi := ifaces[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ssdp.Search(&ifi, scfg, onResponse); err != nil {
				p.log.Warn("网卡搜索失败", "interface", ifi.Name, "err", err)
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
		p.log.Warn("SSDP 搜索触发全局超时", "timeout", p.cfg.GlobalTimeout.Duration())
	case <-ctx.Done():
	}

	m.Lock()
	records := make([]Record, 0, len(found))
	for _, rec := range found {
		records = append(records, rec)
	}
	m.Unlock()

	// 抓取设备描述补充名称与厂商，失败不影响记录本身
	for i := range records {
		p.enrich(ctx, &records[i])
	}
	p.log.Info("SSDP 搜索完成", "interfaces", len(ifaces), "devices", len(records))
	return records
}

// recordFromResponse 应答转设备记录
// 需要 200 状态行、LOCATION 头以及 ONVIF 特征词，缺一不可
func (p *SSDPProber) recordFromResponse(resp ssdp.Response) (Record, bool) {
	if resp.Location == "" {
		return Record{}, false
	}
	haystack := strings.ToLower(resp.Server + " " + resp.ST + " " + resp.USN)
	matched := false
	for _, token := range onvifTokens {
		if strings.Contains(haystack, token) {
			matched = true
			break
		}
	}
	if !matched {
		return Record{}, false
	}

	u, err := url.Parse(resp.Location)
	if err != nil || u.Host == "" {
		return Record{}, false
	}
	host := u.Hostname()
	if net.ParseIP(host) == nil {
		return Record{}, false
	}
	port := 80
	if v := u.Port(); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			port = n
		}
	}

	rec := Record{
		IP:           host,
		Port:         port,
		Endpoint:     resp.Location,
		Manufacturer: VendorFromText(resp.Server),
		Method:       device.MethodSSDP,
		SeenAt:       time.Now(),
	}
	if strings.Contains(haystack, "onvif") || strings.Contains(haystack, "nvt") {
		rec.Capabilities = append(rec.Capabilities, device.CapabilityONVIF)
	}
	if strings.Contains(haystack, "networkvideotransmitter") {
		rec.Capabilities = append(rec.Capabilities, device.CapabilityVideo)
	}
	return rec, true
}

// enrich 抓取 LOCATION 指向的 UPnP 描述文档
func (p *SSDPProber) enrich(ctx context.Context, rec *Record) {
	ctx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	desc, err := ssdp.FetchDescription(ctx, p.client, rec.Endpoint)
	if err != nil {
		p.log.Debug("抓取设备描述失败", "location", rec.Endpoint, "err", err)
		return
	}
	if desc.FriendlyName != "" {
		rec.Name = desc.FriendlyName
	}
	if desc.Manufacturer != "" {
		rec.Manufacturer = desc.Manufacturer
	}
	if desc.ModelName != "" {
		rec.Model = desc.ModelName
	}
}

var _ Prober = (*SSDPProber)(nil)
