package discovery

import (
	"context"

	"github.com/gowvp/argus/internal/core/device"
)

// Prober 定义发现器的通用行为
// Discover 尽力而为，部分失败只影响结果数量，不返回错误
type Prober interface {
	// Method 返回该发现器产出记录的发现方式
	Method() device.DiscoveryMethod

	Discover(ctx context.Context) []Record
}
