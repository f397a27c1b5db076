package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gowvp/argus/internal/conf"
	"github.com/gowvp/argus/internal/core/device"
	"github.com/gowvp/argus/pkg/ffwork"
	"github.com/grafov/m3u8"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/shirou/gopsutil/v4/process"
)

// ErrInterrupted 会话在就绪等待期间被主动停止
var ErrInterrupted = errors.New("session interrupted during startup")

// logTailSize 诊断时保留的 stderr 行数
const logTailSize = 5

// Core 转码会话管理器
//
// 同一设备的启停操作串行化，新会话启动前旧会话先被彻底回收，
// 输出目录删除重建，保证播放列表不混入旧切片
type Core struct {
	cfg        *conf.Stream
	deviceCore device.Core
	resolver   *Resolver
	log        *slog.Logger

	sessions conc.Map[string, *Session]
	locks    conc.Map[string, *sync.Mutex]

	newWorker func(cfg ffwork.Config) (Worker, error)
}

type Option func(*Core)

// WithWorkerFactory 替换转码进程工厂，测试用
func WithWorkerFactory(fn func(cfg ffwork.Config) (Worker, error)) Option {
	return func(c *Core) {
		c.newWorker = fn
	}
}

func NewCore(bc *conf.Bootstrap, deviceCore device.Core, resolver *Resolver, opts ...Option) *Core {
	c := Core{
		cfg:        &bc.Stream,
		deviceCore: deviceCore,
		resolver:   resolver,
		log:        slog.With("module", "stream"),
	}
	c.newWorker = func(cfg ffwork.Config) (Worker, error) {
		return ffwork.NewTranscoder(cfg)
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// lockFor 返回设备维度的互斥锁，同一设备的启停由它串行化
func (c *Core) lockFor(id string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return v
}

// Start 为设备启动一个转码会话，阻塞直到就绪或失败
// 设备已有会话时先停止旧会话再启动，而不是返回旧会话
func (c *Core) Start(ctx context.Context, deviceID string) (*Descriptor, error) {
	dev, err := c.deviceCore.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	lock := c.lockFor(dev.ID)
	lock.Lock()
	defer lock.Unlock()

	if old, ok := c.sessions.Load(dev.ID); ok {
		c.teardown(old, StatusStopped)
	}

	dir := filepath.Join(c.cfg.HLSDir, dev.ID)
	if err := os.RemoveAll(dir); err != nil {
		return nil, reason.ErrServer.Withf(`RemoveAll dir[%s] err[%s]`, dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, reason.ErrServer.Withf(`MkdirAll dir[%s] err[%s]`, dir, err)
	}

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess := &Session{
		ID:          dev.ID,
		DeviceID:    dev.ID,
		IP:          dev.IP,
		Dir:         dir,
		StartAt:     orm.Now(),
		status:      StatusStarting,
		cancelStart: cancel,
		watchQuit:   make(chan struct{}),
	}
	// 先登记会话再做耗时工作，starting 阶段的停止请求才有抓手
	c.sessions.Store(dev.ID, sess)

	result, err := c.resolver.Resolve(startCtx, dev)
	if err != nil {
		status := StatusFailed
		if startCtx.Err() != nil {
			status, err = StatusStopped, ErrInterrupted
		}
		c.finalize(sess, status)
		return nil, err
	}
	sess.RTSPURL = result.URL

	worker, err := c.newWorker(ffwork.Config{
		RTSPURL:        result.URL,
		OutputDir:      dir,
		Transport:      "tcp",
		SegmentSeconds: c.cfg.SegmentSeconds,
		PlaylistSize:   c.cfg.PlaylistSize,
		Binary:         c.cfg.FFmpegBin,
		StopGrace:      c.cfg.StopGrace.Duration(),
		Name:           dev.ID,
	})
	if err != nil {
		c.finalize(sess, StatusFailed)
		return nil, reason.ErrServer.Withf(`NewTranscoder err[%s]`, err)
	}
	sess.setWorker(worker)

	if err := worker.Start(); err != nil {
		c.finalize(sess, StatusFailed)
		if errors.Is(err, exec.ErrNotFound) {
			return nil, NewError(ReasonToolMissing, err)
		}
		return nil, NewError(ReasonSubprocessCrashed, err)
	}
	c.log.Info("转码进程已启动", "stream_id", sess.ID, "ip", dev.IP, "pid", worker.Pid(), "source", result.Source)

	if err := c.waitReady(startCtx, sess); err != nil {
		_ = worker.Stop()
		status := StatusFailed
		if errors.Is(err, ErrInterrupted) {
			status = StatusStopped
		}
		c.finalize(sess, status)
		return nil, err
	}

	sess.setStatus(StatusActive)
	go c.watchExit(sess)
	c.log.Info("转码会话就绪", "stream_id", sess.ID, "ip", dev.IP)
	return c.describe(sess), nil
}

// waitReady 轮询播放列表直到可播放，快速失败于进程早退
func (c *Core) waitReady(ctx context.Context, sess *Session) error {
	worker := sess.Worker()
	manifest := filepath.Join(sess.Dir, ffwork.PlaylistName)
	deadline := time.NewTimer(c.cfg.StartupTimeout.Duration())
	defer deadline.Stop()
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrInterrupted
		case <-worker.Exited():
			return &Error{
				Reason:  ReasonSubprocessCrashed,
				Message: ReasonSubprocessCrashed.Message(),
				Err:     errors.New(worker.ExitDiagnostic()),
			}
		case <-deadline.C:
			return &Error{
				Reason:  ReasonStartupTimeout,
				Message: ReasonStartupTimeout.Message(),
				Err:     fmt.Errorf("manifest not playable within %s", c.cfg.StartupTimeout.Duration()),
			}
		case <-ticker.C:
			if manifestPlayable(manifest) {
				if !worker.SegmentOpened() {
					c.log.Debug("切片标记未出现但清单已就绪", "stream_id", sess.ID)
				}
				return nil
			}
		}
	}
}

// manifestPlayable 播放列表可解析且至少两个切片
func manifestPlayable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	pl, typ, err := m3u8.DecodeFrom(f, true)
	if err != nil || typ != m3u8.MEDIA {
		return false
	}
	mp, ok := pl.(*m3u8.MediaPlaylist)
	if !ok {
		return false
	}
	return mp.Count() >= 2
}

// Stop 停止设备的转码会话并清理输出目录，无会话时静默成功
func (c *Core) Stop(_ context.Context, streamID string) error {
	sess, ok := c.sessions.Load(streamID)
	if !ok {
		return nil
	}
	// starting 阶段先打断，就绪等待方一旦持有进程句柄就会自行回收
	sess.interrupt()

	lock := c.lockFor(streamID)
	lock.Lock()
	defer lock.Unlock()

	cur, ok := c.sessions.Load(streamID)
	if !ok || cur != sess {
		return nil
	}
	c.teardown(cur, StatusStopped)
	return nil
}

// teardown 停进程、删目录、摘会话，持有设备锁时调用
func (c *Core) teardown(sess *Session, status string) {
	sess.stopWatch()
	if w := sess.Worker(); w != nil {
		if err := w.Stop(); err != nil {
			c.log.Warn("转码进程停止异常", "stream_id", sess.ID, "err", err)
		}
	}
	c.finalize(sess, status)
	c.log.Info("转码会话已停止", "stream_id", sess.ID)
}

// finalize 会话收尾，进程已不在运行
func (c *Core) finalize(sess *Session, status string) {
	sess.setStatus(status)
	if err := os.RemoveAll(sess.Dir); err != nil {
		c.log.Warn("输出目录清理失败", "stream_id", sess.ID, "dir", sess.Dir, "err", err)
	}
	c.sessions.Delete(sess.ID)
}

// watchExit 监视进程意外退出，回收会话并记录诊断
func (c *Core) watchExit(sess *Session) {
	worker := sess.Worker()
	select {
	case <-sess.watchQuit:
		return
	case <-worker.Exited():
	}

	lock := c.lockFor(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	cur, ok := c.sessions.Load(sess.ID)
	if !ok || cur != sess {
		return
	}
	c.log.Warn("转码进程意外退出", "stream_id", sess.ID, "diagnostic", worker.ExitDiagnostic())
	c.finalize(cur, StatusFailed)
}

// IsActive 会话活跃判定，进程存活且播放列表仍在滚动更新
func (c *Core) IsActive(streamID string) bool {
	sess, ok := c.sessions.Load(streamID)
	if !ok || sess.Status() != StatusActive {
		return false
	}
	w := sess.Worker()
	if w == nil || !w.Alive() {
		return false
	}
	fi, err := os.Stat(filepath.Join(sess.Dir, ffwork.PlaylistName))
	if err != nil {
		return false
	}
	return time.Since(fi.ModTime()) < c.cfg.Freshness.Duration()
}

// Sessions 当前全部会话的描述
func (c *Core) Sessions() []*Descriptor {
	out := make([]*Descriptor, 0, 4)
	c.sessions.Range(func(_ string, sess *Session) bool {
		out = append(out, c.describe(sess))
		return true
	})
	return out
}

// GetSession 查询单个会话描述
func (c *Core) GetSession(streamID string) (*Descriptor, error) {
	sess, ok := c.sessions.Load(streamID)
	if !ok {
		return nil, reason.ErrNotFound.Withf(`stream[%s] not found`, streamID)
	}
	return c.describe(sess), nil
}

// SessionStats 会话运行统计，含转码进程的 CPU 与内存占用
func (c *Core) SessionStats(streamID string) (*Stats, error) {
	sess, ok := c.sessions.Load(streamID)
	if !ok {
		return nil, reason.ErrNotFound.Withf(`stream[%s] not found`, streamID)
	}
	out := Stats{
		StreamID: sess.ID,
		Status:   sess.Status(),
		StartAt:  sess.StartAt,
	}
	w := sess.Worker()
	if w == nil {
		return &out, nil
	}
	out.Pid = w.Pid()
	tail := w.Log()
	if len(tail) > logTailSize {
		tail = tail[len(tail)-logTailSize:]
	}
	out.LogTail = tail
	if p, err := process.NewProcess(int32(out.Pid)); err == nil {
		if cpu, err := p.CPUPercent(); err == nil {
			out.CPUPercent = cpu
		}
		if mi, err := p.MemoryInfo(); err == nil && mi != nil {
			out.MemoryRSS = mi.RSS
		}
	}
	return &out, nil
}

// CleanupAll 停止全部会话并清扫输出根目录下的残留
// 进程启动时调用一次回收上次运行的孤儿目录，退出时再调用一次
func (c *Core) CleanupAll(ctx context.Context) {
	ids := make([]string, 0, 4)
	c.sessions.Range(func(id string, _ *Session) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		_ = c.Stop(ctx, id)
	}

	entries, err := os.ReadDir(c.cfg.HLSDir)
	if err != nil {
		return
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.cfg.HLSDir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		c.log.Info("HLS 输出目录已清扫", "dir", c.cfg.HLSDir, "removed", removed)
	}
}

func (c *Core) describe(sess *Session) *Descriptor {
	return &Descriptor{
		StreamID:    sess.ID,
		DeviceID:    sess.DeviceID,
		PlaylistURL: strings.Join([]string{"/hls", sess.ID, ffwork.PlaylistName}, "/"),
		Status:      sess.Status(),
	}
}
