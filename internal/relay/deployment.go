package relay

import (
	"strconv"
	"strings"
)

// Deployment is derived from the deployment version id, e.g. "01060000p.3".
type Deployment struct {
	ServerVersion int32
	Production    bool
}

const (
	SecureSignalOn       = "on"
	versionHexDigits     = 8
	productionFlagMarker = 'p'
)

// CheckSecureChannel validates the secure-channel signal. present is false
// when nothing upstream said whether the request arrived over TLS.
func CheckSecureChannel(value string, present bool) error {
	if !present {
		return Fail(ErrTransportNotSecure, "HTTPS environment variable not found")
	}
	if strings.TrimSpace(value) != SecureSignalOn {
		return Fail(ErrTransportNotSecure, "Secure socket required.")
	}
	return nil
}

// ParseDeployment reads the server version from the first eight hex digits
// of versionID; a ninth character 'p' marks a production deployment.
func ParseDeployment(versionID string) (Deployment, error) {
	versionID = strings.TrimSpace(versionID)
	if versionID == "" {
		return Deployment{}, Fail(ErrConfigMissing, "CURRENT_VERSION_ID environment variable not found")
	}
	if len(versionID) < versionHexDigits {
		return Deployment{}, Fail(ErrConfigMissing, "CURRENT_VERSION_ID %q is not a valid version id", versionID)
	}
	parsed, err := strconv.ParseUint(versionID[:versionHexDigits], 16, 32)
	if err != nil {
		return Deployment{}, Fail(ErrConfigMissing, "CURRENT_VERSION_ID %q is not a valid version id", versionID)
	}
	return Deployment{
		ServerVersion: int32(uint32(parsed)),
		Production:    len(versionID) > versionHexDigits && versionID[versionHexDigits] == productionFlagMarker,
	}, nil
}

func (d Deployment) APNSTag() string {
	if d.Production {
		return TagProduction
	}
	return TagTest
}

// FormatClientVersion renders 0x01060000 as "1.6".
func FormatClientVersion(version int32) string {
	major := (uint32(version) >> 24) & 0xff
	minor := (uint32(version) >> 16) & 0xff
	return strconv.FormatUint(uint64(major), 10) + "." + strconv.FormatUint(uint64(minor), 10)
}
