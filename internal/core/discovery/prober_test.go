package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/core/device"
	"github.com/gowvp/argus/pkg/ssdp"
	"github.com/gowvp/argus/pkg/wsdiscovery"
)

func testDiscoveryConf(t *testing.T) *conf.Discovery {
	t.Helper()
	bc, err := conf.SetupConfig("not-exist.toml")
	if err != nil {
		t.Fatal(err)
	}
	return &bc.Discovery
}

// TestRecordFromMatch 应答字段到设备记录的映射
func TestRecordFromMatch(t *testing.T) {
	p := NewOnvifProber(testDiscoveryConf(t))

	// 只有 Scopes 没有 XAddrs，不产生设备
	if _, ok := p.recordFromMatch(wsdiscovery.Match{
		Scopes: []string{"onvif://www.onvif.org/name/cam"},
	}); ok {
		t.Error("没有 XAddrs 不应产生设备")
	}

	// 有 XAddrs 没有 Scopes，厂商记为 Unknown
	rec, ok := p.recordFromMatch(wsdiscovery.Match{
		XAddrs: []string{"http://192.168.1.64/onvif/device_service"},
	})
	if !ok {
		t.Fatal("有 XAddrs 应产生设备")
	}
	if rec.Manufacturer != device.ManufacturerUnknown {
		t.Errorf("厂商应为 Unknown: %q", rec.Manufacturer)
	}
	if rec.IP != "192.168.1.64" || rec.Port != 80 {
		t.Errorf("地址解析错误: %s:%d", rec.IP, rec.Port)
	}

	// 完整应答
	rec, ok = p.recordFromMatch(wsdiscovery.Match{
		XAddrs: []string{"http://192.168.1.64:8000/onvif/device_service"},
		Scopes: []string{
			"onvif://www.onvif.org/name/HIKVISION%20DS-2CD2043G0-I",
			"onvif://www.onvif.org/hardware/DS-2CD2043G0-I",
			"onvif://www.onvif.org/location/city%2Fhangzhou",
		},
		Types: []string{"dn:NetworkVideoTransmitter"},
	})
	if !ok {
		t.Fatal(ok)
	}
	if rec.Name != "HIKVISION DS-2CD2043G0-I" || rec.Hardware != "DS-2CD2043G0-I" {
		t.Errorf("scopes 解析错误: %+v", rec)
	}
	if rec.Manufacturer != "Hikvision" {
		t.Errorf("应从名称识别厂商: %q", rec.Manufacturer)
	}
	if rec.Port != 8000 {
		t.Errorf("端口应为 8000: %d", rec.Port)
	}
	for _, want := range []string{device.CapabilityONVIF, device.CapabilityVideo} {
		found := false
		for _, c := range rec.Capabilities {
			if c == want {
				found = true
			}
		}
		if !found {
			t.Errorf("缺少能力 %s: %v", want, rec.Capabilities)
		}
	}
}

// TestRecordFromResponse SSDP 应答的判定条件
func TestRecordFromResponse(t *testing.T) {
	p := NewSSDPProber(testDiscoveryConf(t))

	// 缺少 LOCATION 不合格
	if _, ok := p.recordFromResponse(ssdp.Response{
		Server: "Hikvision-Webs", ST: "upnp:rootdevice",
	}); ok {
		t.Error("缺少 LOCATION 不应合格")
	}

	// 没有 ONVIF 特征词不合格
	if _, ok := p.recordFromResponse(ssdp.Response{
		Server:   "Linux/3.10 UPnP/1.0 router/1.0",
		ST:       "upnp:rootdevice",
		Location: "http://192.168.1.1:80/desc.xml",
	}); ok {
		t.Error("路由器等非摄像机设备不应合格")
	}

	// LOCATION 主机必须是 IP 字面量
	if _, ok := p.recordFromResponse(ssdp.Response{
		Server:   "Hikvision-Webs",
		ST:       "urn:schemas-onvif-org:device:NetworkVideoTransmitter:1",
		Location: "http://camera.local/desc.xml",
	}); ok {
		t.Error("主机名形式的 LOCATION 不应合格")
	}

	rec, ok := p.recordFromResponse(ssdp.Response{
		Server:   "HiLinux, UPnP/1.0, Hikvision-Webs/1.0",
		ST:       "urn:schemas-onvif-org:device:NetworkVideoTransmitter:1",
		USN:      "uuid:2419d68a-2dd2-21b2-a205-ec0bae14f079::urn:schemas-onvif-org:device:NetworkVideoTransmitter:1",
		Location: "http://192.168.1.64:8000/device.xml",
	})
	if !ok {
		t.Fatal("合规应答应产生记录")
	}
	if rec.IP != "192.168.1.64" || rec.Port != 8000 {
		t.Errorf("地址解析错误: %s:%d", rec.IP, rec.Port)
	}
	if rec.Manufacturer != "Hikvision" {
		t.Errorf("应从 SERVER 识别厂商: %q", rec.Manufacturer)
	}
	if rec.Method != device.MethodSSDP {
		t.Errorf("发现方式应为 ssdp_onvif: %s", rec.Method)
	}
}

// TestProbeOne 扫描判定：200/401/403 视为设备存在
func TestProbeOne(t *testing.T) {
	newServer := func(code int, server string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if server != "" {
				w.Header().Set("Server", server)
			}
			w.WriteHeader(code)
		}))
	}
	p := NewIPScanProber(testDiscoveryConf(t))
	ctx := context.Background()

	srv := newServer(http.StatusUnauthorized, "App-webs/ Hikvision")
	defer srv.Close()
	rec, ok := p.probeOne(ctx, strings.TrimPrefix(srv.URL, "http://"))
	if !ok {
		t.Fatal("401 应判定为设备存在")
	}
	if rec.Manufacturer != "Hikvision" {
		t.Errorf("应从 Server 头识别厂商: %q", rec.Manufacturer)
	}

	srv404 := newServer(http.StatusNotFound, "")
	defer srv404.Close()
	if _, ok := p.probeOne(ctx, strings.TrimPrefix(srv404.URL, "http://")); ok {
		t.Error("404 不应判定为设备存在")
	}

	// 不可达地址应在扫描超时内放弃
	begin := time.Now()
	if _, ok := p.probeOne(ctx, "192.0.2.1"); ok {
		t.Error("不可达地址不应判定为设备存在")
	}
	if time.Since(begin) > 3*time.Second {
		t.Error("单个候选的探测应受超时约束")
	}
}

func TestHostWithOctet(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("192.168.1.33/24")
	if err != nil {
		t.Fatal(err)
	}
	if got := hostWithOctet(ipnet, 10); got != "192.168.1.10" {
		t.Errorf("期望 192.168.1.10, 实际 %s", got)
	}
	if got := hostWithOctet(ipnet, 300); got != "" {
		t.Errorf("越界主机位应为空: %s", got)
	}

	_, small, _ := net.ParseCIDR("10.0.0.0/30")
	if got := hostWithOctet(small, 200); got != "" {
		t.Errorf("子网外地址应为空: %s", got)
	}
}

func TestVendorFromText(t *testing.T) {
	for text, want := range map[string]string{
		"App-webs/ Hikvision":           "Hikvision",
		"Dahua Rtsp Server":             "Dahua",
		"TP-LINK VIGI C440":             "TP-Link",
		"Linux/3.10 UPnP/1.0 nginx/1.0": "",
		"":                              "",
	} {
		if got := VendorFromText(text); got != want {
			t.Errorf("VendorFromText(%q) = %q, 期望 %q", text, got, want)
		}
	}
}

// TestInterfaceEligible 虚拟网卡与回环网卡不参与发现
func TestInterfaceEligible(t *testing.T) {
	base := net.Flags(net.FlagUp | net.FlagMulticast)
	cases := []struct {
		name  string
		flags net.Flags
		want  bool
	}{
		{"eth0", base, true},
		{"wlan0", base, true},
		{"lo", base | net.FlagLoopback, false},
		{"docker0", base, false},
		{"veth12ab", base, false},
		{"br-8a2c", base, false},
		{"tailscale0", base, false},
		{"eth1", net.FlagMulticast, false}, // 未启用
		{"eth2", net.FlagUp, false},        // 不支持多播
	}
	for _, c := range cases {
		if got := interfaceEligible(net.Interface{Name: c.name, Flags: c.flags}); got != c.want {
			t.Errorf("%s: 期望 %v, 实际 %v", c.name, c.want, got)
		}
	}
}
