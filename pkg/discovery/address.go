package discovery

import (
	"net"
	"sort"
	"strconv"
)

// SortIPsByPreference orders addresses for dialing. IPv4 comes first since
// zeroconf does not report the zone needed for link-local IPv6, followed by
// global, unique-local and link-local IPv6. The input slice is not modified.
func SortIPsByPreference(ips []net.IP) []net.IP {
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns a lower value for more preferred addresses.
func ipPriority(ip net.IP) int {
	switch {
	case ip == nil:
		return 100
	case ip.IsLoopback():
		return 80
	case ip.IsMulticast() || ip.IsUnspecified():
		return 90
	}
	if ip4 := ip.To4(); ip4 != nil {
		if ip4.IsLinkLocalUnicast() {
			return 5
		}
		return 0
	}
	switch {
	case isUniqueLocal(ip):
		return 2
	case ip.IsGlobalUnicast():
		return 1
	case ip.IsLinkLocalUnicast():
		return 3
	}
	return 10
}

// isUniqueLocal reports whether ip is in fc00::/7.
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	if ip == nil || ip.To4() != nil {
		return false
	}
	return ip[0] == 0xfc || ip[0] == 0xfd
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// DialAddresses returns host:port strings for every address of svc, in
// preference order.
func DialAddresses(svc *ResolvedService) []string {
	port := strconv.Itoa(svc.Port)
	out := make([]string, 0, len(svc.IPs))
	for _, ip := range SortIPsByPreference(svc.IPs) {
		out = append(out, net.JoinHostPort(ip.String(), port))
	}
	return out
}
