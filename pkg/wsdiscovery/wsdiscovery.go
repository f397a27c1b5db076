package wsdiscovery

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/gofrs/uuid"
	"golang.org/x/net/ipv4"
)

// WS-Discovery 组播地址
const (
	MulticastIP   = "239.255.255.250"
	MulticastPort = 3702
)

// DefaultProbeTypes 探测报文的 Types 变体
// 部分固件只应答特定 Types，依次发送提高兼容性
var DefaultProbeTypes = []string{"tds:Device", "Device", ""}

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<e:Envelope xmlns:e="http://www.w3.org/2003/05/soap-envelope" xmlns:w="http://schemas.xmlsoap.org/ws/2004/08/addressing" xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery" xmlns:dn="http://www.onvif.org/ver10/network/wsdl" xmlns:tds="http://www.onvif.org/ver10/device/wsdl">
<e:Header>
<w:MessageID>uuid:%s</w:MessageID>
<w:To e:mustUnderstand="true">urn:schemas-xmlsoap-org:ws:2005:04:discovery</w:To>
<w:Action e:mustUnderstand="true">http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</w:Action>
</e:Header>
<e:Body>
<d:Probe>%s</d:Probe>
</e:Body>
</e:Envelope>`

type (
	// Match 单条 ProbeMatch 应答的宽松解析结果
	// 字段缺失不视为错误，由调用方决定取舍
	Match struct {
		XAddrs []string
		Scopes []string
		Types  []string
		Addr   string // 应答来源地址
	}

	Config struct {
		ListenWindow time.Duration // 单网卡监听窗口
		ProbeSpacing time.Duration // Types 变体发送间隔
		Types        []string      // 为空时使用 DefaultProbeTypes
	}
)

// BuildProbe 构造一条 Probe 报文，types 为空时发送空 Types
func BuildProbe(types string) string {
	id := uuid.Must(uuid.NewV4()).String()
	t := "<d:Types/>"
	if types != "" {
		t = fmt.Sprintf("<d:Types>%s</d:Types>", types)
	}
	return fmt.Sprintf(probeTemplate, id, t)
}

// ProbeInterface 在指定网卡上执行一轮 WS-Discovery 探测
//
// 打开绑定到该网卡的 UDP 套接字并加入组播组，按间隔发送各 Types 变体，
// 持续监听直到窗口结束。发送失败只跳过该报文，不中断监听。
// 每收到一条合法应答回调一次 onMatch。
func ProbeInterface(ifi *net.Interface, cfg Config, onMatch func(Match)) error {
	if cfg.ListenWindow <= 0 {
		cfg.ListenWindow = 12 * time.Second
	}
	if cfg.ProbeSpacing <= 0 {
		cfg.ProbeSpacing = 2 * time.Second
	}
	types := cfg.Types
	if types == nil {
		types = DefaultProbeTypes
	}

	conn, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	p := ipv4.NewPacketConn(conn)
	group := net.UDPAddr{IP: net.ParseIP(MulticastIP)}
	if err := p.JoinGroup(ifi, &group); err != nil {
		return fmt.Errorf("join group on %s: %w", ifi.Name, err)
	}
	defer p.LeaveGroup(ifi, &group)
	_ = p.SetMulticastInterface(ifi)
	_ = p.SetMulticastTTL(2)

	deadline := time.Now().Add(cfg.ListenWindow)
	_ = p.SetReadDeadline(deadline)

	dst := net.UDPAddr{IP: group.IP, Port: MulticastPort}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, t := range types {
			if i > 0 {
				time.Sleep(cfg.ProbeSpacing)
			}
			if time.Now().After(deadline) {
				return
			}
			if _, err := p.WriteTo([]byte(BuildProbe(t)), nil, &dst); err != nil {
				continue
			}
		}
	}()

	buf := make([]byte, 8192)
	for {
		n, _, src, err := p.ReadFrom(buf)
		if err != nil {
			break // 窗口结束
		}
		m, ok := ParseProbeMatch(buf[:n])
		if !ok {
			continue
		}
		if src != nil {
			m.Addr = src.String()
		}
		onMatch(m)
	}
	<-done
	return nil
}

// ParseProbeMatch 宽松解析 ProbeMatch 应答
//
// 报文必须带有 ProbeMatches 标记且包含 ONVIF 特征词，否则当作无关流量丢弃。
// 字段逐个提取，缺失字段不影响其余字段。
func ParseProbeMatch(b []byte) (Match, bool) {
	s := string(b)
	if !strings.Contains(s, "ProbeMatches") {
		return Match{}, false
	}
	low := strings.ToLower(s)
	if !strings.Contains(low, "onvif") && !strings.Contains(low, "networkvideotransmitter") {
		return Match{}, false
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return Match{}, false
	}
	pm := doc.FindElement("//ProbeMatch")
	if pm == nil {
		return Match{}, false
	}

	var m Match
	if el := pm.FindElement(".//XAddrs"); el != nil {
		m.XAddrs = strings.Fields(strings.TrimSpace(el.Text()))
	}
	if el := pm.FindElement(".//Scopes"); el != nil {
		m.Scopes = strings.Fields(strings.TrimSpace(el.Text()))
	}
	if el := pm.FindElement(".//Types"); el != nil {
		m.Types = strings.Fields(strings.TrimSpace(el.Text()))
	}
	return m, true
}

const scopePrefix = "onvif://www.onvif.org/"

// ScopeInfo 从 Scopes 解码出的设备描述
type ScopeInfo struct {
	Name     string
	Hardware string
	Location string
}

// DecodeScopes 解码 onvif:// 作用域中的 name/hardware/location 维度
// 值为百分号转义的 UTF-8，同一维度取第一个非空值
func DecodeScopes(scopes []string) ScopeInfo {
	var info ScopeInfo
	for _, s := range scopes {
		rest, ok := strings.CutPrefix(s, scopePrefix)
		if !ok {
			continue
		}
		category, value, ok := strings.Cut(rest, "/")
		if !ok || value == "" {
			continue
		}
		decoded, err := url.PathUnescape(value)
		if err != nil {
			decoded = value
		}
		switch category {
		case "name":
			if info.Name == "" {
				info.Name = decoded
			}
		case "hardware":
			if info.Hardware == "" {
				info.Hardware = decoded
			}
		case "location":
			if info.Location == "" {
				info.Location = decoded
			}
		}
	}
	return info
}

// PickXAddr 从 XAddrs 中选出可用的端点
// 要求 http 协议且主机为 IP 字面量，带主机名的端点无法直接回连
func PickXAddr(xaddrs []string) (endpoint, ip string, port int, ok bool) {
	for _, x := range xaddrs {
		u, err := url.Parse(x)
		if err != nil || !strings.HasPrefix(u.Scheme, "http") {
			continue
		}
		host := u.Hostname()
		if net.ParseIP(host) == nil {
			continue
		}
		port = 80
		if p := u.Port(); p != "" {
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		return x, host, port, true
	}
	return "", "", 0, false
}

// HasVideoType Types 中包含 NetworkVideoTransmitter 即认为具备视频能力
func HasVideoType(types []string) bool {
	for _, t := range types {
		if _, local, found := strings.Cut(t, ":"); found {
			t = local
		}
		if strings.EqualFold(t, "NetworkVideoTransmitter") {
			return true
		}
	}
	return false
}
