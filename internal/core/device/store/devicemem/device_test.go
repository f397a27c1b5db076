package devicemem

import (
	"context"
	"slices"
	"testing"

	"github.com/gowvp/argus/internal/core/device"
)

func TestStoreAddGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore().Device()

	dev := device.Device{ID: "d1", IP: "192.168.1.64", Manufacturer: "HIKVISION"}
	if err := s.Add(ctx, &dev); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, &device.Device{ID: "d2", IP: "192.168.1.64"}); err == nil {
		t.Error("同 IP 重复入库应报错")
	}

	got, err := s.GetByIP(ctx, "192.168.1.64")
	if err != nil || got.ID != "d1" {
		t.Fatalf("GetByIP 失败: %v %v", got, err)
	}
	// 返回副本，调用方修改不应污染存储
	got.Manufacturer = "changed"
	got2, _ := s.Get(ctx, "d1")
	if got2.Manufacturer != "HIKVISION" {
		t.Error("存储数据被调用方修改污染")
	}
}

func TestStoreEditProtectsIdentity(t *testing.T) {
	ctx := context.Background()
	s := NewStore().Device()
	_ = s.Add(ctx, &device.Device{ID: "d1", IP: "10.0.0.5"})

	out, err := s.Edit(ctx, "d1", func(d *device.Device) {
		d.ID = "hacked"
		d.IP = "1.1.1.1"
		d.Name = "cam"
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.ID != "d1" || out.IP != "10.0.0.5" {
		t.Errorf("身份字段不应被修改: %+v", out)
	}
	if out.Name != "cam" {
		t.Error("普通字段应被更新")
	}
}

func TestStoreFindSortedByIP(t *testing.T) {
	ctx := context.Background()
	s := NewStore().Device()
	for _, v := range [][2]string{{"a", "192.168.1.100"}, {"b", "192.168.1.2"}, {"c", "10.0.0.9"}} {
		_ = s.Add(ctx, &device.Device{ID: v[0], IP: v[1]})
	}
	items, err := s.Find(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ips := make([]string, 0, len(items))
	for _, d := range items {
		ips = append(ips, d.IP)
	}
	want := []string{"10.0.0.9", "192.168.1.2", "192.168.1.100"}
	if !slices.Equal(ips, want) {
		t.Errorf("期望按 IP 数值排序 %v, 实际 %v", want, ips)
	}
	if n := s.Count(ctx); n != 3 {
		t.Errorf("期望 3 台设备, 实际 %d", n)
	}
}

func TestStoreDel(t *testing.T) {
	ctx := context.Background()
	s := NewStore().Device()
	_ = s.Add(ctx, &device.Device{ID: "d1", IP: "10.0.0.5"})
	if _, err := s.Del(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetByIP(ctx, "10.0.0.5"); err == nil {
		t.Error("删除后 IP 索引应同步清除")
	}
	if _, err := s.Del(ctx, "d1"); err == nil {
		t.Error("重复删除应报错")
	}
}

// TestUpsertDiscovered 首见创建，再见刷新并集能力
func TestUpsertDiscovered(t *testing.T) {
	ctx := context.Background()
	core := device.NewCore(NewStore())

	first, err := core.UpsertDiscovered(ctx, &device.DiscoveredInput{
		IP:           "192.168.1.64",
		Method:       device.MethodIPScan,
		Manufacturer: "HIKVISION",
		Capabilities: []string{device.CapabilityVideo},
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == "" || !first.IsOnline {
		t.Fatalf("新设备应有 ID 且在线: %+v", first)
	}

	// 更高优先级的 onvif 结果覆盖非空字段并并集能力
	second, err := core.UpsertDiscovered(ctx, &device.DiscoveredInput{
		IP:           "192.168.1.64",
		Method:       device.MethodONVIF,
		Name:         "front-door",
		Endpoint:     "http://192.168.1.64/onvif/device_service",
		Capabilities: []string{device.CapabilityONVIF, device.CapabilityPTZ},
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Error("同 IP 应视为同一设备")
	}
	if second.Method != device.MethodONVIF {
		t.Errorf("发现方式应提升为 onvif: %s", second.Method)
	}
	if second.Manufacturer != "HIKVISION" {
		t.Error("空字段不应覆盖已有厂商")
	}
	want := []string{"onvif", "ptz", "video"}
	if !slices.Equal(second.Capabilities, want) {
		t.Errorf("能力应为并集 %v, 实际 %v", want, second.Capabilities)
	}

	// 低优先级结果只补空，不覆盖
	third, err := core.UpsertDiscovered(ctx, &device.DiscoveredInput{
		IP:           "192.168.1.64",
		Method:       device.MethodIPScan,
		Name:         "scanner-name",
		Model:        "DS-2CD2043G0-I",
		Manufacturer: "Dahua",
	})
	if err != nil {
		t.Fatal(err)
	}
	if third.Name != "front-door" || third.Manufacturer != "HIKVISION" {
		t.Errorf("低优先级不应覆盖非空字段: %+v", third)
	}
	if third.Model != "DS-2CD2043G0-I" {
		t.Error("低优先级应补充空字段")
	}
	if third.Method != device.MethodONVIF {
		t.Error("低优先级不应降低发现方式")
	}

	if n := core.CountDevices(ctx); n != 1 {
		t.Errorf("同 IP 多次发现应只有一台设备, 实际 %d", n)
	}
}

func TestSetCredentials(t *testing.T) {
	ctx := context.Background()
	core := device.NewCore(NewStore())
	d, err := core.UpsertDiscovered(ctx, &device.DiscoveredInput{IP: "10.0.0.5", Method: device.MethodIPScan})
	if err != nil {
		t.Fatal(err)
	}
	out, err := core.SetCredentials(ctx, d.ID, &device.SetCredentialsInput{Username: "admin", Password: "123456"})
	if err != nil {
		t.Fatal(err)
	}
	if out.RTSPUsername != "admin" || out.RTSPPassword != "123456" {
		t.Errorf("凭据未生效: %+v", out)
	}
	if _, err := core.SetCredentials(ctx, "missing", &device.SetCredentialsInput{}); err == nil {
		t.Error("不存在的设备应报错")
	}
}
