package onvifadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gowvp/argus/internal/core/device"
	"github.com/gowvp/argus/internal/core/stream"
	"github.com/gowvp/onvif"
	devicemodel "github.com/gowvp/onvif/device"
	m "github.com/gowvp/onvif/media"
	sdkdevice "github.com/gowvp/onvif/sdk/device"
	sdkmedia "github.com/gowvp/onvif/sdk/media"
	xsdonvif "github.com/gowvp/onvif/xsd/onvif"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/orm"
)

var _ stream.Protocoler = (*Adapter)(nil)

// adoptInterval 收养扫描间隔，发现服务入库的 ONVIF 设备由此进入连接缓存
const adoptInterval = 15 * time.Second

// Adapter ONVIF 协议适配器
//
// 设计说明:
// - 适配器实现 stream.Protocoler 接口（Port 在 stream 包内）
// - 适配器直接依赖领域模型 (device.Device)
// - 发现服务入库的 ONVIF 设备被周期性收养，设备信息回填到 device.Core
// - 这符合清晰架构: 外层（适配器）依赖内层（领域）
type Adapter struct {
	devices    conc.Map[string, *Device] // ONVIF 设备连接缓存
	deviceCore device.Core
	client     *http.Client

	cancel context.CancelFunc
}

// Device ONVIF 设备包装（内存状态 + ONVIF 连接）
type Device struct {
	*onvif.Device
	KeepaliveAt orm.Time // 最后心跳时间
	IsOnline    bool     // 在线状态（内存缓存）
}

func NewAdapter(deviceCore device.Core) *Adapter {
	cli := *http.DefaultClient
	cli.Timeout = time.Millisecond * 3000
	ctx, cancel := context.WithCancel(context.Background())
	a := Adapter{
		deviceCore: deviceCore,
		client:     &cli,
		cancel:     cancel,
	}

	// 周期性收养新发现的设备，并启动健康检查
	go a.startAdoption(ctx)
	go a.startHealthCheck(ctx)

	return &a
}

// Close 停止收养与健康检查协程
func (a *Adapter) Close() {
	a.cancel()
}

// Forget 丢弃设备的连接缓存
func (a *Adapter) Forget(deviceID string) {
	a.devices.Delete(deviceID)
}

func (a *Adapter) startAdoption(ctx context.Context) {
	conc.Timer(ctx, adoptInterval, adoptInterval, func() {
		a.adoptDevices(ctx)
	})
}

// adoptDevices 为尚未缓存连接的 ONVIF 设备建立连接
func (a *Adapter) adoptDevices(ctx context.Context) {
	devices, err := a.deviceCore.FindDevices(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "查询设备列表失败", "err", err)
		return
	}
	for _, dev := range devices {
		if !dev.IsOnvif() {
			continue
		}
		if _, ok := a.devices.Load(dev.ID); ok {
			continue
		}
		go a.adopt(ctx, dev)
	}
}

// adopt 建立连接并用 GetDeviceInformation 回填厂商、型号、固件
func (a *Adapter) adopt(ctx context.Context, dev *device.Device) {
	onvifDev, err := a.connect(dev)
	if err != nil {
		slog.ErrorContext(ctx, "初始化 ONVIF 设备失败", "err", err, "device_id", dev.ID, "ip", dev.IP)
		return
	}
	a.devices.Store(dev.ID, onvifDev)

	resp, err := sdkdevice.Call_GetDeviceInformation(ctx, onvifDev.Device, devicemodel.GetDeviceInformation{})
	if err != nil {
		// 多数固件会对匿名查询报 401，等凭据配好由心跳带上线
		slog.DebugContext(ctx, "查询设备信息失败", "err", err, "device_id", dev.ID)
		return
	}
	onvifDev.KeepaliveAt = orm.Now()
	onvifDev.IsOnline = true

	if _, err := a.deviceCore.Store().Device().Edit(ctx, dev.ID, func(d *device.Device) {
		if resp.Manufacturer != "" {
			d.Manufacturer = resp.Manufacturer
		}
		if resp.Model != "" {
			d.Model = resp.Model
		}
		d.Firmware = resp.FirmwareVersion
	}); err != nil {
		slog.ErrorContext(ctx, "回填设备信息失败", "err", err, "device_id", dev.ID)
	}
	slog.InfoContext(ctx, "ONVIF 设备已收养", "device_id", dev.ID, "ip", dev.IP, "manufacturer", resp.Manufacturer)
}

func (a *Adapter) connect(dev *device.Device) (*Device, error) {
	onvifDev, err := onvif.NewDevice(onvif.DeviceParams{
		Xaddr:      fmt.Sprintf("%s:%d", dev.IP, dev.Port),
		Username:   dev.RTSPUsername,
		Password:   dev.RTSPPassword,
		HttpClient: a.client,
	})
	if err != nil {
		return nil, err
	}
	return &Device{Device: onvifDev, IsOnline: true}, nil
}

// ensure 取缓存连接，凭据已变更或未收养时现场重建
func (a *Adapter) ensure(dev *device.Device) (*Device, error) {
	if cached, ok := a.devices.Load(dev.ID); ok {
		p := cached.GetDeviceParams()
		if p.Username == dev.RTSPUsername && p.Password == dev.RTSPPassword {
			return cached, nil
		}
	}
	onvifDev, err := a.connect(dev)
	if err != nil {
		return nil, fmt.Errorf("ONVIF 设备连接失败: %w", err)
	}
	a.devices.Store(dev.ID, onvifDev)
	return onvifDev, nil
}

// Profiles 实现 stream.Protocoler 接口 - 查询媒体档位
func (a *Adapter) Profiles(ctx context.Context, dev *device.Device) ([]stream.MediaProfile, error) {
	onvifDev, err := a.ensure(dev)
	if err != nil {
		return nil, err
	}
	resp, err := sdkmedia.Call_GetProfiles(ctx, onvifDev.Device, m.GetProfiles{})
	if err != nil {
		return nil, fmt.Errorf("查询媒体档位失败: %w", err)
	}
	profiles := make([]stream.MediaProfile, 0, len(resp.Profiles))
	for _, profile := range resp.Profiles {
		profiles = append(profiles, stream.MediaProfile{
			Token: string(profile.Token),
			Name:  string(profile.Name),
		})
	}
	return profiles, nil
}

// StreamURI 实现 stream.Protocoler 接口 - 查询档位取流地址
func (a *Adapter) StreamURI(ctx context.Context, dev *device.Device, profileToken string) (string, error) {
	onvifDev, err := a.ensure(dev)
	if err != nil {
		return "", err
	}
	var param m.GetStreamUri
	param.StreamSetup.Transport.Protocol = "RTSP"
	param.StreamSetup.Stream = "RTP-Unicast"
	param.ProfileToken = xsdonvif.ReferenceToken(profileToken)
	resp, err := sdkmedia.Call_GetStreamUri(ctx, onvifDev.Device, param)
	if err != nil {
		return "", err
	}
	params := onvifDev.GetDeviceParams()
	return BuildPlayURL(string(resp.MediaUri.Uri), params.Username, params.Password), nil
}

// BuildPlayURL 往 RTSP 地址里注入凭据
func BuildPlayURL(rawurl, username, password string) string {
	if username != "" && password != "" {
		return strings.Replace(rawurl, "rtsp://", fmt.Sprintf("rtsp://%s:%s@", username, password), 1)
	}
	return rawurl
}
