package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	statusFailure = 0
	statusSuccess = 1
	successMarker = " Success: "
)

type failureDocument struct {
	ServerVersion string `json:"ver_server,omitempty"`
	Code          string `json:"err_code"`
	Message       string `json:"err_msg"`
}

type successDocument struct {
	ServerVersion string `json:"ver_server"`
	Status        string `json:"status"`
	Message       string `json:"msg"`
}

// EncodeFailure builds a status-0 response. The text form carries
// ver_server only when serverKnown is set.
func EncodeFailure(format Format, serverVersion int32, serverKnown bool, message string) []byte {
	if format == FormatText {
		doc := failureDocument{Code: strconv.Itoa(statusFailure), Message: message}
		if serverKnown {
			doc.ServerVersion = strconv.FormatInt(int64(serverVersion), 10)
		}
		return mustMarshal(doc)
	}
	w := &writer{}
	w.int32(statusFailure)
	w.bytes([]byte(message))
	return w.buf
}

// EncodeSubmitSuccess builds the success response. detail is the raw
// provider continuation for the binary form, text its readable rendering.
func EncodeSubmitSuccess(format Format, serverVersion int32, detail []byte, text string) []byte {
	if format == FormatText {
		return mustMarshal(successDocument{
			ServerVersion: strconv.FormatInt(int64(serverVersion), 10),
			Status:        strconv.Itoa(statusSuccess),
			Message:       strings.TrimPrefix(successMarker, " ") + text,
		})
	}
	w := &writer{}
	w.int32(serverVersion)
	w.int32(statusSuccess)
	w.bytes([]byte(successMarker))
	w.bytes(detail)
	return w.buf
}

// SubmitResponse is a decoded submission response, used by clients.
type SubmitResponse struct {
	OK            bool
	ServerVersion int32
	// Message is the failure text, or the success text without its marker.
	Message string
	Detail  []byte
}

func DecodeSubmitResponse(body []byte, format Format) (*SubmitResponse, error) {
	if format == FormatText {
		return decodeTextSubmitResponse(body)
	}
	r := &reader{buf: body}
	first, ok := r.int32()
	if !ok {
		return nil, errors.New("response too short")
	}
	if first == statusFailure {
		return &SubmitResponse{Message: string(body[r.pos:])}, nil
	}
	status, ok := r.int32()
	if !ok || status != statusSuccess {
		return nil, fmt.Errorf("unexpected response status %d", status)
	}
	rest := body[r.pos:]
	if !bytes.HasPrefix(rest, []byte(successMarker)) {
		return nil, errors.New("response missing success marker")
	}
	detail := rest[len(successMarker):]
	return &SubmitResponse{
		OK:            true,
		ServerVersion: first,
		Message:       string(detail),
		Detail:        detail,
	}, nil
}

func decodeTextSubmitResponse(body []byte) (*SubmitResponse, error) {
	var doc map[string]string
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	resp := &SubmitResponse{}
	if text, ok := doc["ver_server"]; ok {
		version, err := parseInt32(text)
		if err != nil {
			return nil, fmt.Errorf("invalid ver_server %q", text)
		}
		resp.ServerVersion = version
	}
	if _, failed := doc["err_code"]; failed {
		resp.Message = doc["err_msg"]
		return resp, nil
	}
	if doc["status"] != strconv.Itoa(statusSuccess) {
		return nil, fmt.Errorf("unexpected response status %q", doc["status"])
	}
	resp.OK = true
	resp.Message = strings.TrimPrefix(doc["msg"], strings.TrimPrefix(successMarker, " "))
	resp.Detail = []byte(resp.Message)
	return resp, nil
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// StatusBytes renders a provider status as the four big-endian bytes the
// binary success response carries.
func StatusBytes(status int32) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(status))
}
