package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/core/device"
)

// IPScanProber 兜底 HTTP 扫描发现器
// 仅在多播与 SSDP 均一无所获时运行，对主网卡子网内的
// 常见摄像机主机位做 HEAD 请求，凭状态码判断设备存在
type IPScanProber struct {
	cfg    *conf.Discovery
	log    *slog.Logger
	client *http.Client
}

func NewIPScanProber(cfg *conf.Discovery) *IPScanProber {
	return &IPScanProber{
		cfg: cfg,
		log: slog.With("prober", "ipscan"),
		client: &http.Client{
			Timeout: cfg.ScanTimeout.Duration(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Method implements Prober.
func (p *IPScanProber) Method() device.DiscoveryMethod {
	return device.MethodIPScan
}

// Discover implements Prober.
func (p *IPScanProber) Discover(ctx context.Context) []Record {
	ifi, ok := PrimaryInterface()
	if !ok {
		p.log.Warn("没有可用于兜底扫描的网卡")
		return nil
	}
	self, ipnet, ok := InterfaceIPv4(ifi)
	if !ok {
		return nil
	}

	var m sync.Mutex
	out := make([]Record, 0, 4)
	var wg sync.WaitGroup
	for _, octet := range p.cfg.ScanOctets {
		candidate := hostWithOctet(ipnet, octet)
		if candidate == "" || candidate == self.String() {
			continue
		}
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			rec, ok := p.probeOne(ctx, ip)
			if !ok {
				return
			}
			m.Lock()
			out = append(out, rec)
			m.Unlock()
		}(candidate)
	}
	wg.Wait()
	p.log.Info("兜底扫描完成", "subnet", ipnet.String(), "devices", len(out))
	return out
}

// probeOne 对单个候选地址做 HEAD 请求
// 200/401/403 都视为设备存在，摄像机首页普遍要求认证
func (p *IPScanProber) probeOne(ctx context.Context, ip string) (Record, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ScanTimeout.Duration())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fmt.Sprintf("http://%s/", ip), nil)
	if err != nil {
		return Record{}, false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Record{}, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
	default:
		return Record{}, false
	}
	return Record{
		IP:           ip,
		Port:         80,
		Manufacturer: VendorFromText(resp.Header.Get("Server")),
		Method:       device.MethodIPScan,
		SeenAt:       time.Now(),
	}, true
}

// hostWithOctet 把子网基址的主机位替换为候选值
func hostWithOctet(ipnet *net.IPNet, octet int) string {
	if octet < 1 || octet > 254 {
		return ""
	}
	base := ipnet.IP.To4()
	if base == nil {
		return ""
	}
	ip := make(net.IP, 4)
	copy(ip, base)
	ip[3] = byte(octet)
	if !ipnet.Contains(ip) {
		return ""
	}
	return ip.String()
}

var _ Prober = (*IPScanProber)(nil)
