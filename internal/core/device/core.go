package device

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
)

// 存储层错误，内存实现与未来的数据库实现共用
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExist    = errors.New("device already exist")
)

// DeviceStorer Instantiation interface
type DeviceStorer interface {
	Add(context.Context, *Device) error
	Get(context.Context, string) (*Device, error)
	GetByIP(context.Context, string) (*Device, error)
	Edit(context.Context, string, func(*Device)) (*Device, error)
	Del(context.Context, string) (*Device, error)
	Find(context.Context) ([]*Device, error)
	Count(context.Context) int64
}

// Storer data persistence
type Storer interface {
	Device() DeviceStorer
}

// Core business domain
type Core struct {
	store Storer
}

type Option func(*Core)

// NewCore create business domain
func NewCore(store Storer, opts ...Option) Core {
	c := Core{store: store}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c Core) Store() Storer {
	return c.store
}

// UpsertDiscovered 归并结果入库，首见创建，再见刷新
// 同优先级或更高优先级的发现结果覆盖非空字段，低优先级只补空
func (c Core) UpsertDiscovered(ctx context.Context, in *DiscoveredInput) (*Device, error) {
	if in.IP == "" {
		return nil, reason.ErrBadRequest.Withf("ip is required")
	}

	existing, err := c.store.Device().GetByIP(ctx, in.IP)
	if err != nil {
		if !errors.Is(err, ErrDeviceNotFound) {
			return nil, reason.ErrDB.Withf(`GetByIP ip[%s] err[%s]`, in.IP, err.Error())
		}
		var out Device
		if err := copier.Copy(&out, in); err != nil {
			slog.ErrorContext(ctx, "Copy", "err", err)
		}
		out.ID = uuid.NewString()
		now := orm.Now()
		out.DiscoveredAt = now
		out.LastSeenAt = now
		out.IsOnline = true
		out.Capabilities = UnionCapabilities(out.Capabilities, nil)
		if err := c.store.Device().Add(ctx, &out); err != nil {
			return nil, reason.ErrDB.Withf(`Add ip[%s] err[%s]`, in.IP, err.Error())
		}
		slog.InfoContext(ctx, "发现新设备", "ip", out.IP, "method", out.Method, "manufacturer", out.Manufacturer)
		return &out, nil
	}

	out, err := c.store.Device().Edit(ctx, existing.ID, func(d *Device) {
		d.LastSeenAt = orm.Now()
		d.IsOnline = true
		d.Capabilities = UnionCapabilities(d.Capabilities, in.Capabilities)
		if MethodPriority(in.Method) >= MethodPriority(d.Method) {
			d.Method = in.Method
			overwrite(&d.Name, in.Name)
			overwrite(&d.Manufacturer, in.Manufacturer)
			overwrite(&d.Model, in.Model)
			overwrite(&d.Hardware, in.Hardware)
			overwrite(&d.Location, in.Location)
			overwrite(&d.Endpoint, in.Endpoint)
			if in.Port > 0 {
				d.Port = in.Port
			}
			if len(in.Scopes) > 0 {
				d.Scopes = in.Scopes
			}
			return
		}
		fill(&d.Name, in.Name)
		fill(&d.Manufacturer, in.Manufacturer)
		fill(&d.Model, in.Model)
		fill(&d.Hardware, in.Hardware)
		fill(&d.Location, in.Location)
		fill(&d.Endpoint, in.Endpoint)
		if d.Port == 0 {
			d.Port = in.Port
		}
	})
	if err != nil {
		return nil, reason.ErrDB.Withf(`Edit ip[%s] err[%s]`, in.IP, err.Error())
	}
	return out, nil
}

// overwrite 非空则覆盖
func overwrite(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// fill 仅在目标为空时填充
func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

// FindDevices 获取全部设备，按 IP 排序
func (c Core) FindDevices(ctx context.Context) ([]*Device, error) {
	items, err := c.store.Device().Find(ctx)
	if err != nil {
		return nil, reason.ErrDB.Withf(`Find err[%s]`, err.Error())
	}
	return items, nil
}

// GetDevice Query a single object
func (c Core) GetDevice(ctx context.Context, id string) (*Device, error) {
	out, err := c.store.Device().Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, reason.ErrNotFound.Withf(`Get id[%s] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%s] err[%s]`, id, err.Error())
	}
	return out, nil
}

// GetDeviceByIP 通过 IP 查询设备
func (c Core) GetDeviceByIP(ctx context.Context, ip string) (*Device, error) {
	out, err := c.store.Device().GetByIP(ctx, ip)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, reason.ErrNotFound.Withf(`GetByIP ip[%s] err[%s]`, ip, err.Error())
		}
		return nil, reason.ErrDB.Withf(`GetByIP ip[%s] err[%s]`, ip, err.Error())
	}
	return out, nil
}

// SetCredentials 设置取流凭据
func (c Core) SetCredentials(ctx context.Context, id string, in *SetCredentialsInput) (*Device, error) {
	out, err := c.store.Device().Edit(ctx, id, func(d *Device) {
		d.RTSPUsername = in.Username
		d.RTSPPassword = in.Password
	})
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, reason.ErrNotFound.Withf(`Edit id[%s] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Edit id[%s] err[%s]`, id, err.Error())
	}
	return out, nil
}

// SetProfileAssignments 设置媒体档位配置
func (c Core) SetProfileAssignments(ctx context.Context, id string, assignments []ProfileAssignment) (*Device, error) {
	for _, a := range assignments {
		if a.Token == "" && a.Name == "" {
			return nil, reason.ErrBadRequest.Withf("assignment requires token or name")
		}
	}
	out, err := c.store.Device().Edit(ctx, id, func(d *Device) {
		d.ProfileAssignments = assignments
	})
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, reason.ErrNotFound.Withf(`Edit id[%s] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Edit id[%s] err[%s]`, id, err.Error())
	}
	return out, nil
}

// SetOnline 心跳维护在线状态
func (c Core) SetOnline(ctx context.Context, id string, online bool) error {
	if _, err := c.store.Device().Edit(ctx, id, func(d *Device) {
		d.IsOnline = online
		if online {
			d.LastSeenAt = orm.Now()
		}
	}); err != nil {
		return reason.ErrDB.Withf(`Edit id[%s] err[%s]`, id, err.Error())
	}
	return nil
}

// DelDevice Delete object
func (c Core) DelDevice(ctx context.Context, id string) (*Device, error) {
	out, err := c.store.Device().Del(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, reason.ErrNotFound.Withf(`Del id[%s] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Del id[%s] err[%s]`, id, err.Error())
	}
	return out, nil
}

// CountDevices 设备总数
func (c Core) CountDevices(ctx context.Context) int64 {
	return c.store.Device().Count(ctx)
}
