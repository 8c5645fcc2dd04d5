package relay

import (
	"strconv"
	"time"
)

// DeviceType selects the push provider for a registration token.
type DeviceType int32

const (
	DeviceNone          DeviceType = 0
	DeviceLegacyAndroid DeviceType = 1
	DeviceApple         DeviceType = 2
	DeviceModernAndroid DeviceType = 3
)

// AppleTokenMaxLen is the longest token length treated as an APNs token
// when a submission omits its device type.
const AppleTokenMaxLen = 64

func (d DeviceType) String() string {
	switch d {
	case DeviceNone:
		return "none"
	case DeviceLegacyAndroid:
		return "c2dm"
	case DeviceApple:
		return "apns"
	case DeviceModernAndroid:
		return "gcm"
	default:
		return "type_" + strconv.Itoa(int(d))
	}
}

// InferDeviceType applies the pre-versioning heuristic: short tokens are
// Apple device tokens, long ones legacy Android registrations.
func InferDeviceType(token string) DeviceType {
	if len(token) <= AppleTokenMaxLen {
		return DeviceApple
	}
	return DeviceLegacyAndroid
}

const (
	ProviderC2DM = "c2dm"
	ProviderGCM  = "gcm"
	ProviderAPNS = "apns"

	TagProduction = "production"
	TagTest       = "test"
)

type MessageRecord struct {
	ID            int64     `json:"id"`
	RetrievalID   string    `json:"retrievalId"`
	SenderToken   string    `json:"senderToken"`
	Message       []byte    `json:"message"`
	Payload       []byte    `json:"payload,omitempty"`
	BlobKey       string    `json:"blobKey,omitempty"`
	ClientVersion int32     `json:"clientVersion"`
	Downloaded    bool      `json:"downloaded"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (m *MessageRecord) HasAttachment() bool {
	return len(m.Payload) > 0 || m.BlobKey != ""
}

type RegistrationRecord struct {
	RegistrationID string     `json:"registrationId"`
	KeyID          string     `json:"keyId"`
	NotifyType     DeviceType `json:"notifyType"`
	CanonicalID    string     `json:"canonicalId,omitempty"`
	InsertedAt     time.Time  `json:"insertedAt"`
}

// CredentialRecord holds provider secrets. Token is the shared C2DM auth
// token or the GCM API key; APNSKey/APNSCert are PEM blocks or file paths.
type CredentialRecord struct {
	Provider   string    `json:"provider"`
	LookupTag  string    `json:"lookupTag,omitempty"`
	Token      string    `json:"token,omitempty"`
	APNSKey    string    `json:"apnsKey,omitempty"`
	APNSCert   string    `json:"apnsCert,omitempty"`
	InsertedAt time.Time `json:"insertedAt"`
}

type Member struct {
	UserID  int32  `json:"userId"`
	KeyNode []byte `json:"keyNode,omitempty"`
}
