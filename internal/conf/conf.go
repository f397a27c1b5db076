package conf

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ixugo/goddd/pkg/system"
	"github.com/pelletier/go-toml/v2"
)

type (
	// Bootstrap 程序启动配置
	Bootstrap struct {
		ConfigDir    string `toml:"-"`
		BuildVersion string `toml:"-"`
		Debug        bool   `toml:"debug"`

		Server    Server    `toml:"server"`
		Log       Log       `toml:"log"`
		Discovery Discovery `toml:"discovery"`
		Stream    Stream    `toml:"stream"`
	}

	Server struct {
		HTTP HTTP `toml:"http"`
	}

	HTTP struct {
		Port int `toml:"port"`
		// PProf 线上诊断入口，默认关闭
		PProf PProf `toml:"pprof"`
	}

	PProf struct {
		Enabled   bool     `toml:"enabled"`
		AccessIps []string `toml:"access_ips"`
	}

	Log struct {
		// debug/info/warn/error
		Level string `toml:"level"`
		// text/json
		Format string `toml:"format"`
	}

	// Discovery 设备发现配置
	Discovery struct {
		// 每个网卡的监听窗口
		ListenWindow Duration `toml:"listen_window"`
		// 全局兜底超时，所有网卡共享
		GlobalTimeout Duration `toml:"global_timeout"`
		// 探测报文发送间隔
		ProbeSpacing Duration `toml:"probe_spacing"`
		// SSDP MX 等待秒数
		SSDPMaxWait int `toml:"ssdp_max_wait"`
		// 兜底扫描的主机位候选
		ScanOctets []int `toml:"scan_octets"`
		// 兜底扫描单个请求超时
		ScanTimeout Duration `toml:"scan_timeout"`
		// 周期性重新发现间隔，0 表示关闭
		Interval Duration `toml:"interval"`
	}

	// Stream 流媒体配置
	Stream struct {
		// HLS 输出根目录，相对路径基于工作目录
		HLSDir string `toml:"hls_dir"`
		// RTSP 端口，可覆盖的默认值
		RTSPPort int `toml:"rtsp_port"`
		// 候选地址验证超时
		ProbeTimeout Duration `toml:"probe_timeout"`
		// 候选地址之间的停顿
		AttemptPause Duration `toml:"attempt_pause"`
		// 转码启动就绪超时
		StartupTimeout Duration `toml:"startup_timeout"`
		// 优雅停止宽限期，超时强杀
		StopGrace Duration `toml:"stop_grace"`
		// 播放列表新鲜度窗口
		Freshness Duration `toml:"freshness"`
		// 切片时长(秒)
		SegmentSeconds int `toml:"segment_seconds"`
		// 播放列表滚动窗口大小
		PlaylistSize int `toml:"playlist_size"`

		FFmpegBin  string `toml:"ffmpeg_bin"`
		FFprobeBin string `toml:"ffprobe_bin"`
	}
)

// Duration 支持 toml 文本格式的时长，如 "12s"
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// SetupConfig 读取配置文件，文件不存在时使用默认值
func SetupConfig(path string) (*Bootstrap, error) {
	var bc Bootstrap
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("未发现配置文件，使用默认配置", "path", path)
	} else if err := toml.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	bc.ConfigDir = filepath.Dir(path)
	if bc.ConfigDir == "." {
		bc.ConfigDir = system.Getwd()
	}
	bc.setDefault()
	return &bc, nil
}

func (bc *Bootstrap) setDefault() {
	if bc.Server.HTTP.Port == 0 {
		bc.Server.HTTP.Port = 8080
	}
	if bc.Log.Level == "" {
		bc.Log.Level = "info"
	}
	if bc.Log.Format == "" {
		bc.Log.Format = "text"
	}

	d := &bc.Discovery
	if d.ListenWindow <= 0 {
		d.ListenWindow = Duration(12 * time.Second)
	}
	if d.GlobalTimeout <= 0 {
		d.GlobalTimeout = Duration(20 * time.Second)
	}
	if d.ProbeSpacing <= 0 {
		d.ProbeSpacing = Duration(2 * time.Second)
	}
	if d.SSDPMaxWait <= 0 {
		d.SSDPMaxWait = 3
	}
	if len(d.ScanOctets) == 0 {
		d.ScanOctets = []int{10, 11, 12, 100, 101, 102, 200, 201, 202}
	}
	if d.ScanTimeout <= 0 {
		d.ScanTimeout = Duration(time.Second)
	}

	s := &bc.Stream
	if s.HLSDir == "" {
		s.HLSDir = filepath.Join(system.Getwd(), "hls")
	}
	if s.RTSPPort == 0 {
		s.RTSPPort = 554
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = Duration(20 * time.Second)
	}
	// 摄像机固件差异较大，验证超时限制在 15~25s
	if s.ProbeTimeout < Duration(15*time.Second) {
		s.ProbeTimeout = Duration(15 * time.Second)
	}
	if s.ProbeTimeout > Duration(25*time.Second) {
		s.ProbeTimeout = Duration(25 * time.Second)
	}
	if s.AttemptPause <= 0 {
		s.AttemptPause = Duration(time.Second)
	}
	if s.StartupTimeout <= 0 {
		s.StartupTimeout = Duration(15 * time.Second)
	}
	if s.StopGrace <= 0 {
		s.StopGrace = Duration(5 * time.Second)
	}
	if s.Freshness <= 0 {
		s.Freshness = Duration(10 * time.Second)
	}
	if s.SegmentSeconds <= 0 {
		s.SegmentSeconds = 2
	}
	if s.PlaylistSize <= 0 {
		s.PlaylistSize = 5
	}
	if s.FFmpegBin == "" {
		s.FFmpegBin = "ffmpeg"
	}
	if s.FFprobeBin == "" {
		s.FFprobeBin = "ffprobe"
	}
}
