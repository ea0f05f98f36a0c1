// Package privacy provides privacy-focused utility functions for handling sensitive data
// such as broker URLs with credentials and device endpoint identifiers.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// URL pattern for finding broker and HTTP URLs in text
	urlPattern = regexp.MustCompile(`\b(?:https?|tcp|ssl|tls|mqtts?|wss?)://\S+`)

	// WASAPI style endpoint ids, e.g. {0.0.1.00000000}.{b3f8fa53-0004-438e-9003-51a46e139bfc}
	endpointIDPattern = regexp.MustCompile(`\{[0-9.]+\}\.\{[0-9a-fA-F-]{36}\}`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage removes or anonymizes sensitive information from telemetry messages.
// URLs are replaced with stable hashes and endpoint ids are hashed.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return endpointIDPattern.ReplaceAllStringFunc(message, AnonymizeDeviceID)
}

// AnonymizeURL converts a URL to an anonymized form while preserving debugging value.
// The scheme, host category and port feed the hash; credentials, hostnames and
// paths do not.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if parsedURL.Scheme != "" {
		parts = append(parts, parsedURL.Scheme)
	}
	if host := parsedURL.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := parsedURL.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeBrokerURL strips credentials and path from a broker URL and
// returns a display-friendly scheme://host:port form.
func SanitizeBrokerURL(broker string) string {
	u, err := url.Parse(broker)
	if err != nil || u.Host == "" {
		return broker
	}
	return u.Scheme + "://" + u.Host
}

// AnonymizeDeviceID replaces a device identifier with a short stable hash.
func AnonymizeDeviceID(id string) string {
	if id == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(id))
	return fmt.Sprintf("device-%x", hash[:6])
}

// categorizeHost anonymizes hostnames while preserving useful categorization
func categorizeHost(host string) string {
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localhost"
	case isPrivateIP(host):
		return "private-ip"
	case isIPAddress(host):
		return "public-ip"
	}

	// For domain names, preserve TLD only
	if parts := strings.Split(host, "."); len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// isPrivateIP checks if the host is a private IP address (both IPv4 and IPv6)
func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:", "fe80:",
	}

	host = strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

// isIPAddress checks if the host looks like an IP address
func isIPAddress(host string) bool {
	return ipv4Pattern.MatchString(host) || strings.Contains(host, ":")
}
