package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactIP masks the host portion of a client address.
// IPv4 keeps the /16: "203.0.113.9" → "203.0.***.***".
// Everything else (IPv6, garbage) is masked down to the first hextet.
func RedactIP(ip string) string {
	if octets := strings.Split(ip, "."); len(octets) == 4 {
		return octets[0] + "." + octets[1] + ".***.***"
	}
	if i := strings.Index(ip, ":"); i > 0 {
		return ip[:i] + ":***"
	}
	return "***"
}
