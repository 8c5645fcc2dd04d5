package wire

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/agentworkforce/msgrelay/internal/relay"
)

// MinSubmissionLength is the smallest body that can hold a version and the
// four length-prefixed segments.
const MinSubmissionLength = 4 + 4 + 20 + 4 + 1 + 4 + 1

const malformedMessage = "Request was formatted incorrectly."

// Request is a decoded submission, identical whichever format it arrived in.
type Request struct {
	Format        Format
	ClientVersion int32
	// RetrievalID is the standard base64 form of the raw id bytes.
	RetrievalID        string
	Token              string
	Message            []byte
	File               []byte
	DeviceType         relay.DeviceType
	DeviceTypeDeclared bool
}

// Decode parses a submission body. It fails with relay.ErrMalformed or
// relay.ErrVersionTooOld before anything is stored.
func Decode(body []byte, format Format, minClientVersion int32) (*Request, error) {
	if len(body) < MinSubmissionLength {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	if format == FormatText {
		return decodeTextSubmission(body, minClientVersion)
	}
	return decodeBinarySubmission(body, minClientVersion)
}

func checkClientVersion(version, minimum int32) error {
	if version < minimum {
		return relay.Fail(relay.ErrVersionTooOld,
			"Client version mismatch; %s required.  Download latest client release first.",
			relay.FormatClientVersion(minimum))
	}
	return nil
}

func decodeBinarySubmission(body []byte, minClientVersion int32) (*Request, error) {
	r := &reader{buf: body}
	version, _ := r.int32()
	if err := checkClientVersion(version, minClientVersion); err != nil {
		return nil, err
	}
	segments := make([][]byte, 4)
	for i := range segments {
		segment, ok := r.segment()
		if !ok {
			return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
		}
		segments[i] = segment
	}
	req := &Request{
		Format:        FormatBinary,
		ClientVersion: version,
		RetrievalID:   base64.StdEncoding.EncodeToString(segments[0]),
		Token:         string(segments[1]),
		Message:       segments[2],
		File:          segments[3],
	}
	if devtype, ok := r.int32(); ok {
		req.DeviceType = relay.DeviceType(devtype)
		req.DeviceTypeDeclared = true
	} else {
		req.DeviceType = relay.InferDeviceType(req.Token)
	}
	return req, nil
}

func decodeTextSubmission(body []byte, minClientVersion int32) (*Request, error) {
	doc, err := validateDocument(submissionSchema, body)
	if err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	verText, _ := stringField(doc, "ver_client")
	version, err := parseInt32(verText)
	if err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	if err := checkClientVersion(version, minClientVersion); err != nil {
		return nil, err
	}

	retrievalID, _ := stringField(doc, "msgid_b64")
	if _, err := base64.StdEncoding.DecodeString(retrievalID); err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	token, _ := stringField(doc, "token")
	msgText, _ := stringField(doc, "msg_b64")
	message, err := base64.StdEncoding.DecodeString(msgText)
	if err != nil {
		return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
	}
	req := &Request{
		Format:        FormatText,
		ClientVersion: version,
		RetrievalID:   retrievalID,
		Token:         token,
		Message:       message,
		File:          []byte{},
	}
	if fileText, ok := stringField(doc, "file_b64"); ok {
		if req.File, err = base64.StdEncoding.DecodeString(fileText); err != nil {
			return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
		}
	}
	if devText, ok := stringField(doc, "devtype"); ok {
		devtype, err := parseInt32(devText)
		if err != nil {
			return nil, relay.Fail(relay.ErrMalformed, malformedMessage)
		}
		req.DeviceType = relay.DeviceType(devtype)
		req.DeviceTypeDeclared = true
	} else {
		req.DeviceType = relay.InferDeviceType(token)
	}
	return req, nil
}

// EncodeSubmission renders req in format. The trailing device type is only
// written when req.DeviceTypeDeclared is set.
func EncodeSubmission(req Request, format Format) ([]byte, error) {
	rawID, err := base64.StdEncoding.DecodeString(req.RetrievalID)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieval id is not base64", relay.ErrInvalidInput)
	}
	if format == FormatText {
		doc := map[string]string{
			"ver_client": strconv.FormatInt(int64(req.ClientVersion), 10),
			"msgid_b64":  req.RetrievalID,
			"token":      req.Token,
			"msg_b64":    base64.StdEncoding.EncodeToString(req.Message),
		}
		if len(req.File) > 0 {
			doc["file_b64"] = base64.StdEncoding.EncodeToString(req.File)
		}
		if req.DeviceTypeDeclared {
			doc["devtype"] = strconv.FormatInt(int64(req.DeviceType), 10)
		}
		return json.Marshal(doc)
	}

	w := &writer{}
	w.int32(req.ClientVersion)
	w.segment(rawID)
	w.segment([]byte(req.Token))
	w.segment(req.Message)
	w.segment(req.File)
	if req.DeviceTypeDeclared {
		w.int32(int32(req.DeviceType))
	}
	return w.buf, nil
}

func parseInt32(text string) (int32, error) {
	value, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(value), nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *reader) int32() (int32, bool) {
	if r.remaining() < 4 {
		return 0, false
	}
	value := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return value, true
}

func (r *reader) segment() ([]byte, bool) {
	length, ok := r.int32()
	if !ok || length < 0 || int(length) > r.remaining() {
		return nil, false
	}
	segment := r.buf[r.pos : r.pos+int(length)]
	r.pos += int(length)
	return segment, true
}

type writer struct {
	buf []byte
}

func (w *writer) int32(value int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(value))
}

func (w *writer) segment(data []byte) {
	w.int32(int32(len(data)))
	w.buf = append(w.buf, data...)
}

func (w *writer) bytes(data []byte) {
	w.buf = append(w.buf, data...)
}
