package env

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	ethAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	privateKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
	portPattern       = regexp.MustCompile(`^([1-9][0-9]{0,3}|[1-5][0-9]{4}|6[0-4][0-9]{3}|65[0-4][0-9]{2}|655[0-2][0-9]|6553[0-5])$`)
)

func IsEmpty(value string) bool {
	return strings.TrimSpace(value) == ""
}

func IsValidEthAddress(address string) bool {
	return ethAddressPattern.MatchString(address)
}

// IsValidPrivateKey accepts a hex ECDSA key with or without 0x.
func IsValidPrivateKey(privateKey string) bool {
	return privateKeyPattern.MatchString(privateKey)
}

func IsValidPort(port string) bool {
	return portPattern.MatchString(port)
}

// IsValidRPCURL accepts http(s) and ws(s) endpoints with a host.
func IsValidRPCURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return true
	default:
		return false
	}
}
