// Package guard validates hosts, URLs, and shell commands before they can
// reach the network: SSRF targets, cloud metadata endpoints, and secret
// exfiltration channels.
package guard

import (
	"net/netip"
	"strings"
)

// blockedHostnames are never reachable from agent actions.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"0.0.0.0":                  true,
	"::1":                      true,
	"metadata.google.internal": true,
	"metadata.azure.com":       true,
	"metadata":                 true,
}

// metadataIPs are cloud metadata service addresses.
var metadataIPs = map[string]bool{
	"169.254.169.254": true, // AWS, GCP, Azure, DO
	"169.254.170.2":   true, // AWS ECS task metadata
	"fd00:ec2::254":   true, // AWS IPv6
	"100.100.100.200": true, // Alibaba
}

// privateNetworks are the RFC1918/loopback/link-local ranges plus their
// IPv6 equivalents.
var privateNetworks = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),  // unique local
	netip.MustParsePrefix("fe80::/10"), // link-local
}

// IsBlockedHostname reports whether host is on the hostname blocklist.
// "*.local" mDNS names are blocked as a class.
func IsBlockedHostname(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if blockedHostnames[host] {
		return true
	}
	return strings.HasSuffix(host, ".local")
}

// IsMetadataHost reports whether host is a cloud metadata hostname or IP.
func IsMetadataHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if metadataIPs[host] {
		return true
	}
	return host == "metadata.google.internal" || host == "metadata.azure.com" || host == "metadata"
}

// IsPrivateIP reports whether the literal IP address is loopback, private,
// link-local, or unspecified. Non-IP strings return false.
func IsPrivateIP(addr string) bool {
	ip, err := netip.ParseAddr(strings.Trim(addr, "[]"))
	if err != nil {
		return false
	}
	if ip.IsUnspecified() {
		return true
	}
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	for _, prefix := range privateNetworks {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// HostCheck classifies one host for SSRF purposes.
type HostCheck struct {
	Blocked bool
	Reason  string
}

// CheckHost applies the full SSRF host classification: hostname blocklist,
// metadata endpoints, and private/link-local IP ranges.
func CheckHost(host string) HostCheck {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return HostCheck{}
	}
	if IsMetadataHost(host) {
		return HostCheck{Blocked: true, Reason: "cloud metadata endpoint " + host + " (SSRF)"}
	}
	if IsBlockedHostname(host) {
		return HostCheck{Blocked: true, Reason: "blocked hostname " + host + " (SSRF)"}
	}
	if IsPrivateIP(host) {
		return HostCheck{Blocked: true, Reason: "private address " + host + " (SSRF)"}
	}
	return HostCheck{}
}
