package stream

import (
	"context"
	"sync"

	"github.com/gowvp/argus/internal/core/device"
	"github.com/ixugo/goddd/pkg/orm"
)

// 会话状态机 absent -> starting -> active/failed，active -> stopped
const (
	StatusStarting = "starting"
	StatusActive   = "active"
	StatusFailed   = "failed"
	StatusStopped  = "stopped"
)

// PlaylistName 会话目录内的播放列表文件名
const PlaylistName = "playlist.m3u8"

// MediaProfile ONVIF 媒体档位
type MediaProfile struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// Protocoler 协议抽象接口（端口）
// 接口在 stream 包内定义，适配器实现，依赖方向由外向内
type Protocoler interface {
	// Profiles 查询设备的媒体档位列表
	Profiles(ctx context.Context, dev *device.Device) ([]MediaProfile, error)

	// StreamURI 查询指定档位的 RTSP 地址，凭据注入由调用方完成
	StreamURI(ctx context.Context, dev *device.Device, profileToken string) (string, error)
}

// Worker 转码子进程的抽象，便于用假进程测试会话生命周期
type Worker interface {
	Start() error
	Stop() error
	Alive() bool
	Pid() int
	SegmentOpened() bool
	Exited() <-chan struct{}
	ExitErr() error
	ExitDiagnostic() string
	Log() []string
}

// Session 一台设备对应至多一个转码会话，流 ID 即设备 ID
type Session struct {
	ID       string   `json:"id"`
	DeviceID string   `json:"device_id"`
	IP       string   `json:"ip"`
	RTSPURL  string   `json:"-"`
	Dir      string   `json:"-"`
	StartAt  orm.Time `json:"start_at"`

	m      sync.Mutex
	status string
	worker Worker
	// cancelStart 就绪等待期间的取消入口，starting 阶段的停止依赖它
	cancelStart context.CancelFunc
	// watchQuit 通知退出监视协程会话已被主动回收
	watchQuit    chan struct{}
	watchStopped bool
}

// interrupt 触发 starting 阶段的取消
func (s *Session) interrupt() {
	s.m.Lock()
	cancel := s.cancelStart
	s.m.Unlock()
	if cancel != nil {
		cancel()
	}
}

// stopWatch 关闭监视通道，幂等
func (s *Session) stopWatch() {
	s.m.Lock()
	defer s.m.Unlock()
	if s.watchStopped {
		return
	}
	s.watchStopped = true
	close(s.watchQuit)
}

func (s *Session) Status() string {
	s.m.Lock()
	defer s.m.Unlock()
	return s.status
}

func (s *Session) setStatus(v string) {
	s.m.Lock()
	s.status = v
	s.m.Unlock()
}

func (s *Session) setWorker(w Worker) {
	s.m.Lock()
	s.worker = w
	s.m.Unlock()
}

func (s *Session) Worker() Worker {
	s.m.Lock()
	defer s.m.Unlock()
	return s.worker
}

// Descriptor 播放描述，返回给调用方
type Descriptor struct {
	StreamID    string `json:"stream_id"`
	DeviceID    string `json:"device_id"`
	PlaylistURL string `json:"playlist_url"`
	Status      string `json:"status"`
}

// Stats 会话运行时指标
type Stats struct {
	StreamID   string   `json:"stream_id"`
	Status     string   `json:"status"`
	Pid        int      `json:"pid"`
	CPUPercent float64  `json:"cpu_percent"`
	MemoryRSS  uint64   `json:"memory_rss"`
	StartAt    orm.Time `json:"start_at"`
	LogTail    []string `json:"log_tail"`
}
