package device

// DiscoveredInput 一次发现归并后的设备记录
type DiscoveredInput struct {
	IP           string          `json:"ip"`
	Port         int             `json:"port"`
	Name         string          `json:"name"`
	Manufacturer string          `json:"manufacturer"`
	Model        string          `json:"model"`
	Hardware     string          `json:"hardware"`
	Location     string          `json:"location"`
	Endpoint     string          `json:"endpoint"`
	Scopes       []string        `json:"scopes"`
	Capabilities []string        `json:"capabilities"`
	Method       DiscoveryMethod `json:"method"`
}

// SetCredentialsInput 设置取流凭据
type SetCredentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
