package wsdiscovery

import (
	"strings"
	"testing"
)

const sampleProbeMatch = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope" xmlns:wsa="http://schemas.xmlsoap.org/ws/2004/08/addressing" xmlns:wsadis="http://schemas.xmlsoap.org/ws/2005/04/discovery" xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
<env:Header>
<wsa:RelatesTo>uuid:8a6c0b62-ec17-4bd5-8c33-a6df6d18e9fa</wsa:RelatesTo>
<wsa:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/ProbeMatches</wsa:Action>
</env:Header>
<env:Body>
<wsadis:ProbeMatches>
<wsadis:ProbeMatch>
<wsa:EndpointReference><wsa:Address>urn:uuid:2419d68a-2dd2-21b2-a205-ec0bae14f079</wsa:Address></wsa:EndpointReference>
<wsadis:Types>dn:NetworkVideoTransmitter tds:Device</wsadis:Types>
<wsadis:Scopes>onvif://www.onvif.org/type/video_encoder onvif://www.onvif.org/name/HIKVISION%20DS-2CD2043G0-I onvif://www.onvif.org/hardware/DS-2CD2043G0-I onvif://www.onvif.org/location/city%2Fhangzhou</wsadis:Scopes>
<wsadis:XAddrs>http://192.168.1.64/onvif/device_service</wsadis:XAddrs>
<wsadis:MetadataVersion>10</wsadis:MetadataVersion>
</wsadis:ProbeMatch>
</wsadis:ProbeMatches>
</env:Body>
</env:Envelope>`

// TestBuildProbe 三种 Types 变体应生成不同报文，且 MessageID 唯一
func TestBuildProbe(t *testing.T) {
	p1 := BuildProbe("tds:Device")
	if !strings.Contains(p1, "<d:Types>tds:Device</d:Types>") {
		t.Error("缺少 tds:Device Types 字段")
	}
	p2 := BuildProbe("Device")
	if !strings.Contains(p2, "<d:Types>Device</d:Types>") {
		t.Error("缺少 Device Types 字段")
	}
	p3 := BuildProbe("")
	if !strings.Contains(p3, "<d:Types/>") {
		t.Error("空 Types 应生成自闭合标签")
	}
	for _, p := range []string{p1, p2, p3} {
		if !strings.Contains(p, "discovery/Probe</w:Action>") {
			t.Error("缺少 Probe Action")
		}
	}
	if BuildProbe("Device") == p2 {
		t.Error("MessageID 应随机生成")
	}
}

func TestParseProbeMatch(t *testing.T) {
	m, ok := ParseProbeMatch([]byte(sampleProbeMatch))
	if !ok {
		t.Fatal("合法应答被丢弃")
	}
	if len(m.XAddrs) != 1 || m.XAddrs[0] != "http://192.168.1.64/onvif/device_service" {
		t.Errorf("XAddrs 解析错误: %v", m.XAddrs)
	}
	if len(m.Scopes) != 4 {
		t.Errorf("Scopes 数量错误: %v", m.Scopes)
	}
	if !HasVideoType(m.Types) {
		t.Error("NetworkVideoTransmitter 应识别为视频能力")
	}

	info := DecodeScopes(m.Scopes)
	if info.Name != "HIKVISION DS-2CD2043G0-I" {
		t.Errorf("name 解码错误: %q", info.Name)
	}
	if info.Hardware != "DS-2CD2043G0-I" {
		t.Errorf("hardware 解码错误: %q", info.Hardware)
	}
	if info.Location != "city/hangzhou" {
		t.Errorf("location 解码错误: %q", info.Location)
	}

	_, ip, port, ok := PickXAddr(m.XAddrs)
	if !ok || ip != "192.168.1.64" || port != 80 {
		t.Errorf("XAddr 选择错误: %s:%d", ip, port)
	}
}

// TestParseProbeMatchDiscard 无关流量与缺少特征词的报文应被静默丢弃
func TestParseProbeMatchDiscard(t *testing.T) {
	cases := []string{
		"random udp garbage",
		"HTTP/1.1 200 OK\r\nST: upnp:rootdevice\r\n\r\n",
		`<Envelope><Body><ProbeMatches><ProbeMatch><XAddrs>http://10.0.0.2/service</XAddrs></ProbeMatch></ProbeMatches></Body></Envelope>`,
		`<not even xml <ProbeMatches onvif`,
	}
	for i, c := range cases {
		if _, ok := ParseProbeMatch([]byte(c)); ok {
			t.Errorf("用例 %d 不应解析成功", i)
		}
	}
}

// TestParseProbeMatchPartial 字段缺失不应导致整条应答失败
func TestParseProbeMatchPartial(t *testing.T) {
	noScopes := `<e:Envelope xmlns:e="http://www.w3.org/2003/05/soap-envelope" xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery">
<e:Body><d:ProbeMatches><d:ProbeMatch>
<d:XAddrs>http://192.168.1.70:8000/onvif/device_service</d:XAddrs>
</d:ProbeMatch></d:ProbeMatches></e:Body></e:Envelope>`
	m, ok := ParseProbeMatch([]byte(noScopes))
	if !ok {
		t.Fatal("缺少 Scopes 的应答应解析成功")
	}
	if len(m.XAddrs) != 1 || len(m.Scopes) != 0 {
		t.Errorf("解析结果错误: %+v", m)
	}
	_, ip, port, ok := PickXAddr(m.XAddrs)
	if !ok || ip != "192.168.1.70" || port != 8000 {
		t.Errorf("带端口 XAddr 解析错误: %s:%d", ip, port)
	}
}

func TestPickXAddr(t *testing.T) {
	// 主机名端点不可直接回连，应跳过
	_, ip, _, ok := PickXAddr([]string{"http://camera.local/onvif/device_service", "http://10.1.2.3/onvif/device_service"})
	if !ok || ip != "10.1.2.3" {
		t.Errorf("应选中 IP 字面量端点: %s", ip)
	}
	if _, _, _, ok := PickXAddr([]string{"http://camera.local/onvif/device_service"}); ok {
		t.Error("只有主机名端点时不应返回成功")
	}
	if _, _, _, ok := PickXAddr(nil); ok {
		t.Error("空 XAddrs 不应返回成功")
	}
}
