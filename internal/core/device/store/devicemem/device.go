package devicemem

import (
	"context"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/gowvp/argus/internal/core/device"
	"github.com/ixugo/goddd/pkg/conc"
)

var _ device.Storer = (*Store)(nil)

// Store 内存存储，进程内为设备数据的唯一权威来源
type Store struct {
	device *Device
}

func NewStore() *Store {
	return &Store{device: &Device{}}
}

func (s *Store) Device() device.DeviceStorer {
	return s.device
}

var _ device.DeviceStorer = (*Device)(nil)

// Device 设备表的内存实现
// conc.Map 负责并发安全的索引结构，互斥锁串行化对象本身的读写，
// 读取一律返回副本，调用方持有的对象与存储互不别名
type Device struct {
	m     sync.Mutex
	items conc.Map[string, *device.Device] // id -> device
	byIP  conc.Map[string, string]         // ip -> id
}

// Add implements device.DeviceStorer.
func (d *Device) Add(_ context.Context, dev *device.Device) error {
	d.m.Lock()
	defer d.m.Unlock()
	if _, ok := d.items.Load(dev.ID); ok {
		return device.ErrDeviceExist
	}
	if _, ok := d.byIP.Load(dev.IP); ok {
		return device.ErrDeviceExist
	}
	d.items.Store(dev.ID, clone(dev))
	d.byIP.Store(dev.IP, dev.ID)
	return nil
}

// Get implements device.DeviceStorer.
func (d *Device) Get(_ context.Context, id string) (*device.Device, error) {
	d.m.Lock()
	defer d.m.Unlock()
	dev, ok := d.items.Load(id)
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return clone(dev), nil
}

// GetByIP implements device.DeviceStorer.
func (d *Device) GetByIP(_ context.Context, ip string) (*device.Device, error) {
	d.m.Lock()
	defer d.m.Unlock()
	id, ok := d.byIP.Load(ip)
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	dev, ok := d.items.Load(id)
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return clone(dev), nil
}

// Edit implements device.DeviceStorer.
func (d *Device) Edit(_ context.Context, id string, changeFn func(*device.Device)) (*device.Device, error) {
	d.m.Lock()
	defer d.m.Unlock()
	dev, ok := d.items.Load(id)
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	next := clone(dev)
	changeFn(next)
	// 身份字段不允许通过 Edit 变更
	next.ID = dev.ID
	next.IP = dev.IP
	d.items.Store(id, next)
	return clone(next), nil
}

// Del implements device.DeviceStorer.
func (d *Device) Del(_ context.Context, id string) (*device.Device, error) {
	d.m.Lock()
	defer d.m.Unlock()
	dev, ok := d.items.Load(id)
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	d.items.Delete(id)
	d.byIP.Delete(dev.IP)
	return clone(dev), nil
}

// Find implements device.DeviceStorer.
func (d *Device) Find(_ context.Context) ([]*device.Device, error) {
	d.m.Lock()
	defer d.m.Unlock()
	items := make([]*device.Device, 0, 8)
	d.items.Range(func(_ string, dev *device.Device) bool {
		items = append(items, clone(dev))
		return true
	})
	slices.SortFunc(items, func(a, b *device.Device) int {
		x, errx := netip.ParseAddr(a.IP)
		y, erry := netip.ParseAddr(b.IP)
		if errx == nil && erry == nil {
			return x.Compare(y)
		}
		return strings.Compare(a.IP, b.IP)
	})
	return items, nil
}

// Count implements device.DeviceStorer.
func (d *Device) Count(_ context.Context) int64 {
	var n int64
	d.items.Range(func(string, *device.Device) bool {
		n++
		return true
	})
	return n
}

func clone(d *device.Device) *device.Device {
	out := *d
	out.Scopes = slices.Clone(d.Scopes)
	out.Capabilities = slices.Clone(d.Capabilities)
	out.ProfileAssignments = slices.Clone(d.ProfileAssignments)
	return &out
}
