package device

import (
	"slices"
	"strings"

	"github.com/ixugo/goddd/pkg/orm"
)

// DiscoveryMethod 设备的发现方式
type DiscoveryMethod string

const (
	// MethodONVIF WS-Discovery 多播探测发现
	MethodONVIF DiscoveryMethod = "onvif"
	// MethodSSDP SSDP/UPnP 搜索发现
	MethodSSDP DiscoveryMethod = "ssdp_onvif"
	// MethodIPScan 兜底 HTTP 扫描发现
	MethodIPScan DiscoveryMethod = "ip_scan"
)

// MethodPriority 合并时的优先级，onvif > ssdp_onvif > ip_scan
func MethodPriority(m DiscoveryMethod) int {
	switch m {
	case MethodONVIF:
		return 3
	case MethodSSDP:
		return 2
	case MethodIPScan:
		return 1
	}
	return 0
}

// 设备能力集合取值
const (
	CapabilityVideo     = "video"
	CapabilityAudio     = "audio"
	CapabilityPTZ       = "ptz"
	CapabilityONVIF     = "onvif"
	CapabilityAnalytics = "analytics"
	CapabilityEvents    = "events"
	CapabilityRecording = "recording"
	CapabilityReplay    = "replay"
	CapabilityMetadata  = "metadata"
)

// ManufacturerUnknown 仅有 XAddrs 没有 Scopes 时的厂商占位值
const ManufacturerUnknown = "Unknown"

// TagMainStream 主码流标签，解析 RTSP 地址时该档位优先
const TagMainStream = "main-stream"

// Device 摄像机设备，以 IP 作为唯一身份
type Device struct {
	ID           string          `json:"id"`
	IP           string          `json:"ip"`
	Port         int             `json:"port"`          // 管理端口（ONVIF/HTTP）
	Name         string          `json:"name"`          // 展示名，通常来自 scopes name 段
	Manufacturer string          `json:"manufacturer"`  // 厂商
	Model        string          `json:"model"`         // 型号
	Firmware     string          `json:"firmware"`      // 固件版本（ONVIF 查询补充）
	Hardware     string          `json:"hardware"`      // scopes hardware 段
	Location     string          `json:"location"`      // scopes location 段
	Endpoint     string          `json:"endpoint"`      // ONVIF 服务地址（XAddr）
	Scopes       []string        `json:"scopes"`        // 原始 scopes
	Capabilities []string        `json:"capabilities"`  // 能力集合，有序去重
	Method       DiscoveryMethod `json:"method"`        // 发现方式
	IsOnline     bool            `json:"is_online"`     // 在线状态，由心跳维护
	DiscoveredAt orm.Time        `json:"discovered_at"` // 首次发现时间
	LastSeenAt   orm.Time        `json:"last_seen_at"`  // 最近一次出现时间

	RTSPUsername string `json:"rtsp_username"`
	RTSPPassword string `json:"-"`

	// ProfileAssignments 档位配置，优先级高的先用于取流
	ProfileAssignments []ProfileAssignment `json:"profile_assignments"`
}

// ProfileAssignment 媒体档位配置项
type ProfileAssignment struct {
	Token    string `json:"token"`    // ONVIF profile token
	Name     string `json:"name"`     // 档位展示名
	Priority int    `json:"priority"` // 越大越优先
	Tag      string `json:"tag"`      // 标签，main-stream 表示主码流
}

// IsOnvif 设备是否可通过 ONVIF 协议访问
func (d *Device) IsOnvif() bool {
	return d.Endpoint != "" && d.Method == MethodONVIF
}

func (d *Device) HasCapability(cap string) bool {
	return slices.Contains(d.Capabilities, cap)
}

// SortedAssignments 按优先级降序排列，main-stream 标签置顶
func (d *Device) SortedAssignments() []ProfileAssignment {
	out := slices.Clone(d.ProfileAssignments)
	slices.SortStableFunc(out, func(a, b ProfileAssignment) int {
		return b.Priority - a.Priority
	})
	slices.SortStableFunc(out, func(a, b ProfileAssignment) int {
		switch {
		case a.Tag == TagMainStream && b.Tag != TagMainStream:
			return -1
		case a.Tag != TagMainStream && b.Tag == TagMainStream:
			return 1
		}
		return 0
	})
	return out
}

// UnionCapabilities 能力集合求并，小写去重并保持字典序
func UnionCapabilities(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	for _, v := range b {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
