package discovery

import (
	"net"
	"strings"
)

// virtualPrefixes 容器与虚拟设备的网卡名前缀，不参与设备发现
var virtualPrefixes = []string{
	"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "tailscale", "wg", "tun",
}

// interfaceEligible 网卡是否参与发现：启用、支持多播、非回环、非虚拟设备
func interfaceEligible(ifi net.Interface) bool {
	if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
		return false
	}
	if ifi.Flags&net.FlagMulticast == 0 {
		return false
	}
	name := strings.ToLower(ifi.Name)
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

// EligibleInterfaces 列出可参与发现且带 IPv4 地址的网卡，尽力而为
func EligibleInterfaces() []net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	out := make([]net.Interface, 0, len(ifaces))
	for _, ifi := range ifaces {
		if !interfaceEligible(ifi) {
			continue
		}
		if _, _, ok := InterfaceIPv4(ifi); !ok {
			continue
		}
		out = append(out, ifi)
	}
	return out
}

// InterfaceIPv4 取网卡的首个 IPv4 地址及其子网
func InterfaceIPv4(ifi net.Interface) (net.IP, *net.IPNet, bool) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, nil, false
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipnet.IP.To4(); ip != nil {
			return ip, ipnet, true
		}
	}
	return nil, nil, false
}

// PrimaryInterface 兜底扫描使用的主网卡，取第一个合格网卡
func PrimaryInterface() (net.Interface, bool) {
	ifaces := EligibleInterfaces()
	if len(ifaces) == 0 {
		return net.Interface{}, false
	}
	return ifaces[0], true
}
