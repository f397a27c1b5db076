package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

// SSDP 组播地址
const (
	MulticastIP   = "239.255.255.250"
	MulticastPort = 1900
)

// DefaultSearchTargets 搜索目标，ONVIF/NVT 设备 URN 加通用 rootdevice 兜底
var DefaultSearchTargets = []string{
	"urn:schemas-onvif-org:device:NetworkVideoTransmitter:1",
	"urn:schemas-upnp-org:device:Basic:1",
	"upnp:rootdevice",
}

type (
	// Response M-SEARCH 应答头的原始解析结果
	Response struct {
		ST           string
		USN          string
		Server       string
		Location     string
		CacheControl string
		Addr         string // 应答来源地址
	}

	Config struct {
		ListenWindow  time.Duration // 监听窗口
		SearchSpacing time.Duration // 各搜索目标的发送间隔
		MaxWait       int           // MX 头，应答随机延迟上限(秒)
		Targets       []string      // 为空时使用 DefaultSearchTargets
	}

	// DeviceDescription UPnP 设备描述文档中的关键字段
	DeviceDescription struct {
		FriendlyName string
		Manufacturer string
		ModelName    string
	}
)

// BuildMSearch 构造一条 M-SEARCH 报文
func BuildMSearch(st string, mx int) string {
	if mx <= 0 {
		mx = 3
	}
	return "M-SEARCH * HTTP/1.1\r\n" +
		fmt.Sprintf("HOST: %s:%d\r\n", MulticastIP, MulticastPort) +
		"MAN: \"ssdp:discover\"\r\n" +
		fmt.Sprintf("MX: %d\r\n", mx) +
		fmt.Sprintf("ST: %s\r\n", st) +
		"\r\n"
}

// Search 在指定网卡上执行一轮 SSDP 搜索
//
// 绑定到网卡地址的临时端口，向组播组错开发送各搜索目标，
// 在同一套接字上收取单播应答直到窗口结束。
func Search(ifi *net.Interface, cfg Config, onResponse func(Response)) error {
	if cfg.ListenWindow <= 0 {
		cfg.ListenWindow = 6 * time.Second
	}
	if cfg.SearchSpacing <= 0 {
		cfg.SearchSpacing = time.Second
	}
	targets := cfg.Targets
	if targets == nil {
		targets = DefaultSearchTargets
	}

	laddr, err := interfaceIPv4(ifi)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: laddr, Port: 0})
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()
	_ = conn.SetReadBuffer(1 << 20)

	deadline := time.Now().Add(cfg.ListenWindow)
	_ = conn.SetReadDeadline(deadline)

	dst := net.UDPAddr{IP: net.ParseIP(MulticastIP), Port: MulticastPort}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, st := range targets {
			if i > 0 {
				time.Sleep(cfg.SearchSpacing)
			}
			if time.Now().After(deadline) {
				return
			}
			if _, err := conn.WriteToUDP([]byte(BuildMSearch(st, cfg.MaxWait)), &dst); err != nil {
				continue
			}
		}
	}()

	buf := make([]byte, 8192)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		r, ok := ParseResponse(buf[:n])
		if !ok {
			continue
		}
		if src != nil {
			r.Addr = src.IP.String()
		}
		onResponse(r)
	}
	<-done
	return nil
}

// ParseResponse 解析 M-SEARCH 应答
// 必须是 HTTP/1.1 200 风格状态行，头部按 MIME 规则解析
func ParseResponse(b []byte) (Response, bool) {
	rd := bufio.NewReader(bytes.NewReader(b))
	line, err := rd.ReadString('\n')
	if err != nil {
		return Response{}, false
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(strings.ToUpper(line), "HTTP/") || !strings.Contains(line, "200") {
		return Response{}, false
	}

	hdr, err := textproto.NewReader(rd).ReadMIMEHeader()
	// 部分固件缺少结尾空行，已解析到的头仍然可用
	if err != nil && len(hdr) == 0 {
		return Response{}, false
	}
	return Response{
		ST:           hdr.Get("ST"),
		USN:          hdr.Get("USN"),
		Server:       hdr.Get("Server"),
		Location:     hdr.Get("Location"),
		CacheControl: hdr.Get("Cache-Control"),
	}, true
}

// NormalizeUSN 归一化 USN 作为去重键
// 小写、去掉 uuid: 前缀、截断第一个 :: 之后的部分
func NormalizeUSN(usn string) string {
	s := strings.TrimSpace(strings.ToLower(usn))
	if i := strings.Index(s, "::"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "uuid:")
}

// FetchDescription 拉取 LOCATION 指向的 UPnP 设备描述
// 国产固件常见 gb2312 声明，按文档声明的字符集解码
func FetchDescription(ctx context.Context, client *http.Client, location string) (DeviceDescription, error) {
	var desc DeviceDescription
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return desc, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return desc, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return desc, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if _, err := doc.ReadFrom(io.LimitReader(resp.Body, 256<<10)); err != nil {
		return desc, err
	}
	if el := doc.FindElement("//friendlyName"); el != nil {
		desc.FriendlyName = strings.TrimSpace(el.Text())
	}
	if el := doc.FindElement("//manufacturer"); el != nil {
		desc.Manufacturer = strings.TrimSpace(el.Text())
	}
	if el := doc.FindElement("//modelName"); el != nil {
		desc.ModelName = strings.TrimSpace(el.Text())
	}
	return desc, nil
}

func interfaceIPv4(ifi *net.Interface) (net.IP, error) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4, nil
			}
		}
	}
	return nil, fmt.Errorf("no ipv4 address on %s", ifi.Name)
}
