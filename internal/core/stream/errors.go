package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gowvp/argus/pkg/ffwork"
)

// ErrorReason 流程失败的语义分类
type ErrorReason string

const (
	ReasonNetworkUnreachable   ErrorReason = "NetworkUnreachable"
	ReasonProtocolTimeout      ErrorReason = "ProtocolTimeout"
	ReasonMalformedResponse    ErrorReason = "MalformedResponse"
	ReasonAuthenticationFailed ErrorReason = "AuthenticationFailed"
	ReasonStreamPathNotFound   ErrorReason = "StreamPathNotFound"
	ReasonAccessForbidden      ErrorReason = "AccessForbidden"
	ReasonConnectionRefused    ErrorReason = "ConnectionRefused"
	ReasonHostUnreachable      ErrorReason = "HostUnreachable"
	ReasonMalformedURL         ErrorReason = "MalformedURL"
	ReasonToolMissing          ErrorReason = "ToolMissing"
	ReasonSubprocessCrashed    ErrorReason = "SubprocessCrashed"
	ReasonStartupTimeout       ErrorReason = "StartupTimeout"
	ReasonProtocolError        ErrorReason = "ProtocolError"
)

// reasonMessages 每个分类对应的可执行建议
var reasonMessages = map[ErrorReason]string{
	ReasonNetworkUnreachable:   "设备网络不可达，请确认设备开机且与服务器同网段",
	ReasonProtocolTimeout:      "RTSP 协商超时，设备响应过慢或端口被防火墙拦截",
	ReasonMalformedResponse:    "设备返回了无法解析的数据，可能不是标准 RTSP 服务",
	ReasonAuthenticationFailed: "认证失败，用户名或密码错误",
	ReasonStreamPathNotFound:   "流路径不存在，请检查档位配置或使用设备默认路径",
	ReasonAccessForbidden:      "设备拒绝访问，账号可能被锁定或无取流权限",
	ReasonConnectionRefused:    "连接被拒绝，设备未开启 RTSP 服务或端口不正确",
	ReasonHostUnreachable:      "主机不可达，请检查路由与交换机配置",
	ReasonMalformedURL:         "RTSP 地址格式错误",
	ReasonToolMissing:          "未找到 ffmpeg/ffprobe，请安装后重试",
	ReasonSubprocessCrashed:    "转码进程异常退出，详见错误输出",
	ReasonStartupTimeout:       "转码启动超时，设备码流可能异常",
	ReasonProtocolError:        "RTSP 协议错误",
}

// Message 分类的可执行建议文案
func (r ErrorReason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// ProbeAttempt 单个候选地址的验证结果，只随返回值存在，不落任何存储
type ProbeAttempt struct {
	URL     string        `json:"url"`
	Source  string        `json:"source"`
	Reason  ErrorReason   `json:"reason"`
	Detail  string        `json:"detail"`
	Elapsed time.Duration `json:"elapsed"`
}

// Error 带语义分类的流错误
type Error struct {
	Reason   ErrorReason
	Message  string
	Err      error
	Attempts []ProbeAttempt
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError 构造分类错误，message 取分类的默认建议
func NewError(reason ErrorReason, err error) *Error {
	return &Error{Reason: reason, Message: reason.Message(), Err: err}
}

// ReasonOf 取错误的语义分类，非分类错误一律视为协议错误
func ReasonOf(err error) ErrorReason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonProtocolError
}

// classifyRules stderr 特征词到分类的映射，按顺序匹配
var classifyRules = []struct {
	token  string
	reason ErrorReason
}{
	{"401", ReasonAuthenticationFailed},
	{"unauthorized", ReasonAuthenticationFailed},
	{"403", ReasonAccessForbidden},
	{"forbidden", ReasonAccessForbidden},
	{"404", ReasonStreamPathNotFound},
	{"protocol not found", ReasonMalformedURL},
	{"stream not found", ReasonStreamPathNotFound},
	{"not found", ReasonStreamPathNotFound},
	{"connection refused", ReasonConnectionRefused},
	{"no route to host", ReasonHostUnreachable},
	{"host is unreachable", ReasonHostUnreachable},
	{"network is unreachable", ReasonNetworkUnreachable},
	{"invalid data found", ReasonMalformedResponse},
	{"malformed", ReasonMalformedResponse},
	{"timed out", ReasonProtocolTimeout},
	{"timeout", ReasonProtocolTimeout},
}

// ClassifyProbeError ffprobe 的失败结果映射为语义分类
func ClassifyProbeError(err error) ErrorReason {
	var pf *ffwork.ProbeFailure
	if !errors.As(err, &pf) {
		return ReasonProtocolError
	}
	switch {
	case pf.ToolMissing:
		return ReasonToolMissing
	case pf.TimedOut, pf.Canceled:
		return ReasonProtocolTimeout
	}
	out := strings.ToLower(pf.Output)
	for _, rule := range classifyRules {
		if strings.Contains(out, rule.token) {
			return rule.reason
		}
	}
	return ReasonProtocolError
}

// aggregatePriority 聚合错误时的分类取舍顺序，越靠前越值得呈现给用户
var aggregatePriority = []ErrorReason{
	ReasonAuthenticationFailed,
	ReasonAccessForbidden,
	ReasonStreamPathNotFound,
	ReasonConnectionRefused,
	ReasonHostUnreachable,
	ReasonNetworkUnreachable,
	ReasonProtocolTimeout,
	ReasonMalformedResponse,
	ReasonMalformedURL,
	ReasonToolMissing,
	ReasonProtocolError,
}

// AggregateReason 多个尝试全部失败时，挑选最能指导排障的分类
func AggregateReason(attempts []ProbeAttempt) ErrorReason {
	present := make(map[ErrorReason]bool, len(attempts))
	for _, a := range attempts {
		present[a.Reason] = true
	}
	for _, r := range aggregatePriority {
		if present[r] {
			return r
		}
	}
	return ReasonProtocolError
}
