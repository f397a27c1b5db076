package discovery

import (
	"slices"
	"testing"
	"time"

	"github.com/gowvp/argus/internal/core/device"
)

// TestMergePriorityAndUnion 同 IP 的 ip_scan 与 onvif 记录归并后，
// 发现方式取 onvif，能力集合取并，高优先级空字段由低优先级补充
func TestMergePriorityAndUnion(t *testing.T) {
	records := []Record{
		{
			IP:           "192.168.1.64",
			Method:       device.MethodIPScan,
			Manufacturer: "Hikvision",
			Capabilities: []string{device.CapabilityVideo},
		},
		{
			IP:           "192.168.1.64",
			Method:       device.MethodONVIF,
			Name:         "front-door",
			Endpoint:     "http://192.168.1.64/onvif/device_service",
			Capabilities: []string{device.CapabilityONVIF, device.CapabilityPTZ},
		},
	}
	out := Merge(records)
	if len(out) != 1 {
		t.Fatalf("同 IP 应归并为一条: %d", len(out))
	}
	got := out[0]
	if got.Method != device.MethodONVIF {
		t.Errorf("发现方式应为 onvif: %s", got.Method)
	}
	if got.Manufacturer != "Hikvision" {
		t.Errorf("高优先级空字段应由低优先级补充: %q", got.Manufacturer)
	}
	if got.Name != "front-door" || got.Endpoint == "" {
		t.Errorf("高优先级非空字段应保留: %+v", got)
	}
	want := []string{"onvif", "ptz", "video"}
	if !slices.Equal(got.Capabilities, want) {
		t.Errorf("能力应为并集 %v, 实际 %v", want, got.Capabilities)
	}
}

// TestMergeUniqueIP 归并结果中每个 IP 至多出现一次
func TestMergeUniqueIP(t *testing.T) {
	records := []Record{
		{IP: "10.0.0.1", Method: device.MethodONVIF},
		{IP: "10.0.0.2", Method: device.MethodSSDP},
		{IP: "10.0.0.1", Method: device.MethodSSDP},
		{IP: "10.0.0.2", Method: device.MethodIPScan},
		{IP: "10.0.0.3", Method: device.MethodIPScan},
	}
	out := Merge(records)
	seen := make(map[string]bool)
	for _, rec := range out {
		if seen[rec.IP] {
			t.Fatalf("IP %s 重复出现", rec.IP)
		}
		seen[rec.IP] = true
	}
	if len(out) != 3 {
		t.Errorf("期望 3 条, 实际 %d", len(out))
	}
}

// TestMergeCommutative 记录顺序不影响归并结果
func TestMergeCommutative(t *testing.T) {
	a := Record{IP: "10.0.0.1", Method: device.MethodONVIF, Name: "cam", Capabilities: []string{"onvif"}}
	b := Record{IP: "10.0.0.1", Method: device.MethodSSDP, Manufacturer: "Dahua", Model: "IPC-HDW", Capabilities: []string{"video"}}
	c := Record{IP: "10.0.0.1", Method: device.MethodIPScan, Location: "lobby"}

	x := Merge([]Record{a, b, c})
	y := Merge([]Record{c, b, a})
	if len(x) != 1 || len(y) != 1 {
		t.Fatal("应各归并为一条")
	}
	if x[0].Name != y[0].Name || x[0].Manufacturer != y[0].Manufacturer ||
		x[0].Model != y[0].Model || x[0].Location != y[0].Location ||
		x[0].Method != y[0].Method || !slices.Equal(x[0].Capabilities, y[0].Capabilities) {
		t.Errorf("归并应满足交换律:\n%+v\n%+v", x[0], y[0])
	}
}

// TestMergeIdempotent 重复记录归并结果不变
func TestMergeIdempotent(t *testing.T) {
	rec := Record{
		IP: "10.0.0.1", Method: device.MethodONVIF, Name: "cam",
		Capabilities: []string{"onvif", "video"}, SeenAt: time.Now(),
	}
	once := Merge([]Record{rec})
	twice := Merge([]Record{rec, rec, rec})
	if len(once) != 1 || len(twice) != 1 {
		t.Fatal("应归并为一条")
	}
	if once[0].Name != twice[0].Name || !slices.Equal(once[0].Capabilities, twice[0].Capabilities) {
		t.Errorf("归并应满足幂等律:\n%+v\n%+v", once[0], twice[0])
	}
}

// TestMergeNormalizesNFC 归并前名称做 NFC 归一，组合与分解形式视为同一文本
func TestMergeNormalizesNFC(t *testing.T) {
	decomposed := "Caméra" // e + 组合重音
	composed := "Caméra"
	out := Merge([]Record{{IP: "10.0.0.1", Method: device.MethodONVIF, Name: decomposed}})
	if len(out) != 1 || out[0].Name != composed {
		t.Errorf("期望 NFC 形式 %q, 实际 %q", composed, out[0].Name)
	}
}

// TestMergeSortedByIP 输出按 IP 数值排序，结果稳定可比
func TestMergeSortedByIP(t *testing.T) {
	out := Merge([]Record{
		{IP: "192.168.1.100", Method: device.MethodIPScan},
		{IP: "192.168.1.9", Method: device.MethodIPScan},
	})
	if len(out) != 2 || out[0].IP != "192.168.1.9" {
		t.Errorf("应按 IP 数值排序: %+v", out)
	}
}
