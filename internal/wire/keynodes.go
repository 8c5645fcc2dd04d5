package wire

import (
	"encoding/base64"
	"strconv"

	"github.com/agentworkforce/msgrelay/internal/relay"
)

// MinKeyNodeSyncLength covers the version and requesting user id.
const MinKeyNodeSyncLength = 4 + 4

// SyncRequest asks for a member's key node, optionally replacing the key
// node of TargetUserID first.
type SyncRequest struct {
	Format        Format
	ClientVersion int32
	UserID        int32
	Posting       bool
	TargetUserID  int32
	KeyNode       []byte
}

// ReportedUserID is the member whose key node the response carries.
func (r SyncRequest) ReportedUserID() int32 {
	if r.Posting {
		return r.TargetUserID
	}
	return r.UserID
}

func DecodeSync(body []byte, format Format, minClientVersion int32) (*SyncRequest, error) {
	if len(body) < MinKeyNodeSyncLength {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	var (
		req *SyncRequest
		err error
	)
	if format == FormatText {
		req, err = decodeTextSync(body)
	} else {
		req, err = decodeBinarySync(body)
	}
	if err != nil {
		return nil, err
	}
	if err := checkClientVersion(req.ClientVersion, minClientVersion); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeBinarySync(body []byte) (*SyncRequest, error) {
	r := &reader{buf: body}
	version, _ := r.int32()
	userID, _ := r.int32()
	req := &SyncRequest{Format: FormatBinary, ClientVersion: version, UserID: userID}
	if r.remaining() == 0 {
		return req, nil
	}
	target, ok := r.int32()
	if !ok {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	node, ok := r.segment()
	if !ok {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	req.Posting = true
	req.TargetUserID = target
	req.KeyNode = node
	return req, nil
}

func decodeTextSync(body []byte) (*SyncRequest, error) {
	doc, err := validateDocument(keyNodeSyncSchema, body)
	if err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	req := &SyncRequest{Format: FormatText}
	verText, _ := stringField(doc, "ver_client")
	userText, _ := stringField(doc, "usrid")
	if req.ClientVersion, err = parseInt32(verText); err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	if req.UserID, err = parseInt32(userText); err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	nodeText, posting := stringField(doc, "keynode_b64")
	if !posting {
		return req, nil
	}
	targetText, _ := stringField(doc, "usridpost")
	if req.TargetUserID, err = parseInt32(targetText); err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	if req.KeyNode, err = base64.StdEncoding.DecodeString(nodeText); err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	req.Posting = true
	return req, nil
}

// EncodeSync renders req in format.
func EncodeSync(req SyncRequest, format Format) []byte {
	if format == FormatText {
		doc := map[string]string{
			"ver_client": strconv.FormatInt(int64(req.ClientVersion), 10),
			"usrid":      strconv.FormatInt(int64(req.UserID), 10),
		}
		if req.Posting {
			doc["usridpost"] = strconv.FormatInt(int64(req.TargetUserID), 10)
			doc["keynode_b64"] = base64.StdEncoding.EncodeToString(req.KeyNode)
		}
		return mustMarshal(doc)
	}
	w := &writer{}
	w.int32(req.ClientVersion)
	w.int32(req.UserID)
	if req.Posting {
		w.int32(req.TargetUserID)
		w.segment(req.KeyNode)
	}
	return w.buf
}

type syncDocument struct {
	ServerVersion string `json:"ver_server"`
	NodeTotal     string `json:"node_total"`
	KeyNode       string `json:"keynode_b64,omitempty"`
}

// EncodeSyncSuccess reports keyNode, or a zero node total when the member
// has none.
func EncodeSyncSuccess(format Format, serverVersion int32, keyNode []byte, hasNode bool) []byte {
	total := 0
	if hasNode {
		total = 1
	}
	if format == FormatText {
		doc := syncDocument{
			ServerVersion: strconv.FormatInt(int64(serverVersion), 10),
			NodeTotal:     strconv.Itoa(total),
		}
		if hasNode {
			doc.KeyNode = base64.StdEncoding.EncodeToString(keyNode)
		}
		return mustMarshal(doc)
	}
	w := &writer{}
	w.int32(serverVersion)
	w.int32(int32(total))
	if hasNode {
		w.segment(keyNode)
	}
	return w.buf
}
