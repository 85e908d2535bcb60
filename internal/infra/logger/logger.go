package logger

import (
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDKey stores the request identifier on a context.
type RequestIDKey struct{}

var (
	global     *zap.Logger
	initOnce   sync.Once
	initFailed error
)

// New builds the process-wide logger. The first call decides the
// configuration; later calls return the same instance.
func New(env string) (*zap.Logger, error) {
	initOnce.Do(func() {
		cfg := configFor(env)
		global, initFailed = cfg.Build()
	})
	return global, initFailed
}

func configFor(env string) zap.Config {
	if env == "production" {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// MaskEmail keeps at most the first three characters of the local part and
// the full domain: john.doe@example.com becomes joh***@example.com.
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	local, domain, found := strings.Cut(email, "@")
	if !found || domain == "" {
		return "***"
	}
	keep := len(local)
	if keep > 3 {
		keep = 3
	}
	return local[:keep] + "***@" + domain
}

// MaskIP keeps the routing prefix and hides the host part: the first two
// octets of an IPv4 address, the first four groups of an IPv6 address.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}

	parsed := net.ParseIP(ip)
	switch {
	case parsed == nil:
		return "***"
	case parsed.To4() != nil:
		octets := strings.Split(parsed.To4().String(), ".")
		return octets[0] + "." + octets[1] + ".*.*"
	default:
		groups := strings.Split(ip, ":")
		if len(groups) < 4 {
			return "***"
		}
		return strings.Join(groups[:4], ":") + ":*:*:*:*"
	}
}

// MaskString hides the middle of a sensitive value, keeping two characters
// on each end. Short values are hidden entirely.
func MaskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "***"
	}
	return s[:2] + "***" + s[len(s)-2:]
}
