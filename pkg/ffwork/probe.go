package ffwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type ProbeConfig struct {
	Binary    string        // 默认 ffprobe
	Transport string        // 默认 tcp
	Timeout   time.Duration // 默认 20s
}

// ProbeFailure 单次验证失败的机理信息，语义分类由上层完成
type ProbeFailure struct {
	Output      string // stdout+stderr 合并输出（截断）
	ExitCode    int
	TimedOut    bool
	Canceled    bool
	ToolMissing bool
	Err         error
}

func (e *ProbeFailure) Error() string {
	switch {
	case e.ToolMissing:
		return fmt.Sprintf("probe tool missing: %v", e.Err)
	case e.TimedOut:
		return "probe timed out"
	case e.Canceled:
		return "probe canceled"
	}
	return fmt.Sprintf("probe failed with exit code %d: %s", e.ExitCode, e.Output)
}

func (e *ProbeFailure) Unwrap() error { return e.Err }

// ProbeRTSP 验证 RTSP 地址是否能拉到视频流
//
// 通过外部 ffprobe 以 TCP 传输打开地址并读取流信息，
// 超时或上层取消时强杀子进程。成功返回 nil。
func ProbeRTSP(ctx context.Context, cfg ProbeConfig, rtspURL string) error {
	if cfg.Binary == "" {
		cfg.Binary = "ffprobe"
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-rtsp_transport", cfg.Transport,
		"-select_streams", "v",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1",
		rtspURL,
	}
	cmd := exec.Command(cfg.Binary, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return &ProbeFailure{
			ToolMissing: errors.Is(err, exec.ErrNotFound),
			Err:         err,
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return &ProbeFailure{Canceled: true, Err: ctx.Err(), Output: truncate(out.String())}
	case <-time.After(cfg.Timeout):
		_ = cmd.Process.Kill()
		<-done
		return &ProbeFailure{TimedOut: true, Output: truncate(out.String())}
	case err := <-done:
		if err == nil {
			return nil
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &ProbeFailure{ExitCode: code, Err: err, Output: truncate(out.String())}
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	const limit = 1024
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
