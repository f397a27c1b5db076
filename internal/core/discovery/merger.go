package discovery

import (
	"net/netip"
	"slices"
	"strings"

	"github.com/gowvp/argus/internal/core/device"
)

// Merge 按 IP 归并多个发现器的记录
// 发现方式优先级 onvif > ssdp_onvif > ip_scan，高优先级的非空字段胜出，
// 空字段由低优先级补充；能力集合取并；满足交换律与幂等律
func Merge(records []Record) []Record {
	groups := make(map[string][]Record, len(records))
	for _, rec := range records {
		if rec.IP == "" {
			continue
		}
		rec.normalize()
		groups[rec.IP] = append(groups[rec.IP], rec)
	}

	out := make([]Record, 0, len(groups))
	for _, group := range groups {
		merged := group[0]
		for _, rec := range group[1:] {
			merged = mergeTwo(merged, rec)
		}
		out = append(out, merged)
	}
	slices.SortFunc(out, func(a, b Record) int {
		x, errx := netip.ParseAddr(a.IP)
		y, erry := netip.ParseAddr(b.IP)
		if errx == nil && erry == nil {
			return x.Compare(y)
		}
		return strings.Compare(a.IP, b.IP)
	})
	return out
}

func mergeTwo(a, b Record) Record {
	hi, lo := a, b
	if device.MethodPriority(b.Method) > device.MethodPriority(a.Method) {
		hi, lo = b, a
	}
	out := hi
	takeIfBlank(&out.Name, lo.Name)
	takeIfBlank(&out.Manufacturer, lo.Manufacturer)
	takeIfBlank(&out.Model, lo.Model)
	takeIfBlank(&out.Hardware, lo.Hardware)
	takeIfBlank(&out.Location, lo.Location)
	takeIfBlank(&out.Endpoint, lo.Endpoint)
	if out.Port == 0 {
		out.Port = lo.Port
	}
	if len(out.Scopes) == 0 {
		out.Scopes = lo.Scopes
	}
	out.Capabilities = device.UnionCapabilities(hi.Capabilities, lo.Capabilities)
	if lo.SeenAt.After(out.SeenAt) {
		out.SeenAt = lo.SeenAt
	}
	return out
}

func takeIfBlank(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
