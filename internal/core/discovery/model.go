package discovery

import (
	"strings"
	"time"

	"github.com/gowvp/argus/internal/core/device"
	"golang.org/x/text/unicode/norm"
)

// Record 单个发现器产出的原始设备记录，归并前的中间形态
type Record struct {
	IP           string                 `json:"ip"`
	Port         int                    `json:"port"`
	Name         string                 `json:"name"`
	Manufacturer string                 `json:"manufacturer"`
	Model        string                 `json:"model"`
	Hardware     string                 `json:"hardware"`
	Location     string                 `json:"location"`
	Endpoint     string                 `json:"endpoint"`
	Scopes       []string               `json:"scopes"`
	Capabilities []string               `json:"capabilities"`
	Method       device.DiscoveryMethod `json:"method"`
	SeenAt       time.Time              `json:"seen_at"`
}

// vendors Server 头与描述文本中的厂商特征词
var vendors = []struct {
	token string
	name  string
}{
	{"hikvision", "Hikvision"},
	{"hik-connect", "Hikvision"},
	{"dahua", "Dahua"},
	{"axis", "Axis"},
	{"bosch", "Bosch"},
	{"sony", "Sony"},
	{"uniview", "Uniview"},
	{"tp-link", "TP-Link"},
	{"vigi", "TP-Link"},
	{"reolink", "Reolink"},
}

// VendorFromText 在文本中匹配厂商特征词，无匹配返回空串
func VendorFromText(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, v := range vendors {
		if strings.Contains(lower, v.token) {
			return v.name
		}
	}
	return ""
}

// normalize 入库前统一文本形态，NFC 归一并去首尾空白
func (r *Record) normalize() {
	r.Name = norm.NFC.String(strings.TrimSpace(r.Name))
	r.Manufacturer = norm.NFC.String(strings.TrimSpace(r.Manufacturer))
	r.Model = norm.NFC.String(strings.TrimSpace(r.Model))
	r.Hardware = norm.NFC.String(strings.TrimSpace(r.Hardware))
	r.Location = norm.NFC.String(strings.TrimSpace(r.Location))
}
