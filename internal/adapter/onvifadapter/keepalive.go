package onvifadapter

import (
	"context"
	"log/slog"
	"time"

	devicemodel "github.com/gowvp/onvif/device"
	sdkdevice "github.com/gowvp/onvif/sdk/device"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/orm"
)

// startHealthCheck 启动 ONVIF 设备健康检查（异步心跳 + 状态机方案）
//
// 设计思路:
// 1. 协程 1: 定期发送心跳（30秒），成功则更新内存中的最后心跳时间
// 2. 协程 2: 定期检查状态（1秒），超时未心跳则标记离线
// 3. 状态变化时才回写 device.Core，减少存储写入
func (a *Adapter) startHealthCheck(ctx context.Context) {
	const (
		heartbeatInterval = 30 * time.Second // 心跳间隔：30秒
		checkInterval     = 1 * time.Second  // 状态检查间隔：1秒
		heartbeatTimeout  = 70 * time.Second // 心跳超时
	)

	// 协程 1: 定期发送心跳
	go a.startHeartbeat(ctx, heartbeatInterval)

	// 协程 2: 定期检查状态
	go a.startStatusChecker(ctx, checkInterval, heartbeatTimeout)
}

// startHeartbeat 协程 1: 定期发送心跳
func (a *Adapter) startHeartbeat(ctx context.Context, interval time.Duration) {
	conc.Timer(ctx, interval, interval, func() {
		a.devices.Range(func(deviceID string, dev *Device) bool {
			// TODO: 设计上预期接入数量较少，可以开几个协程
			// 如果接入设备数量较多，需要优化
			go a.sendHeartbeat(dev)
			return true
		})
	})
}

func (a *Adapter) sendHeartbeat(dev *Device) {
	_, err := sdkdevice.Call_GetDeviceInformation(context.TODO(), dev.Device, devicemodel.GetDeviceInformation{})
	if err == nil {
		dev.KeepaliveAt = orm.Now()
	}
}

// startStatusChecker 协程 2: 定期检查状态
func (a *Adapter) startStatusChecker(ctx context.Context, interval, heartbeatTimeout time.Duration) {
	conc.Timer(ctx, interval, interval, func() {
		now := time.Now()

		a.devices.Range(func(did string, dev *Device) bool {
			if dev.KeepaliveAt.IsZero() {
				return true
			}

			timeSinceLastKeepalive := now.Sub(dev.KeepaliveAt.Time)
			isOnline := timeSinceLastKeepalive < heartbeatTimeout

			if dev.IsOnline == isOnline {
				return true
			}

			dev.IsOnline = isOnline

			// 记录状态变化日志
			if isOnline {
				slog.InfoContext(ctx, "ONVIF 设备上线",
					"device_id", did,
					"offline_duration", timeSinceLastKeepalive)
			} else {
				slog.WarnContext(ctx, "ONVIF 设备离线",
					"device_id", did,
					"last_keepalive", dev.KeepaliveAt.Time,
					"timeout", timeSinceLastKeepalive)
			}

			a.syncOnlineState(ctx, did, isOnline)
			return true
		})
	})
}

// syncOnlineState 在线状态回写（状态变化时调用）
// 设备已被删除时顺手清掉缓存的连接
func (a *Adapter) syncOnlineState(ctx context.Context, did string, isOnline bool) {
	if err := a.deviceCore.SetOnline(ctx, did, isOnline); err != nil {
		a.devices.Delete(did)
		slog.ErrorContext(ctx, "更新设备在线状态失败", "err", err, "device_id", did)
	}
}
