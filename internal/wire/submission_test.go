package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/agentworkforce/msgrelay/internal/relay"
)

const testMinVersion int32 = 0x01060000

func sampleRequest() Request {
	return Request{
		ClientVersion: 0x01060000,
		RetrievalID:   base64.StdEncoding.EncodeToString([]byte("0123456789abcdef")),
		Token:         strings.Repeat("a", 60),
		Message:       []byte("ciphertext"),
		File:          []byte{},
		DeviceType:    relay.DeviceApple,
	}
}

func TestDecodeFormatIndependence(t *testing.T) {
	cases := []Request{
		sampleRequest(),
		func() Request {
			req := sampleRequest()
			req.Token = strings.Repeat("b", 140)
			req.File = []byte{0x00, 0xff, 0x10}
			req.DeviceType = relay.DeviceModernAndroid
			req.DeviceTypeDeclared = true
			return req
		}(),
		func() Request {
			req := sampleRequest()
			req.Token = strings.Repeat("c", 65)
			req.DeviceType = relay.DeviceLegacyAndroid
			return req
		}(),
	}
	for _, want := range cases {
		binBody, err := EncodeSubmission(want, FormatBinary)
		if err != nil {
			t.Fatalf("encode binary failed: %v", err)
		}
		textBody, err := EncodeSubmission(want, FormatText)
		if err != nil {
			t.Fatalf("encode text failed: %v", err)
		}
		fromBinary, err := Decode(binBody, FormatBinary, testMinVersion)
		if err != nil {
			t.Fatalf("decode binary failed: %v", err)
		}
		fromText, err := Decode(textBody, FormatText, testMinVersion)
		if err != nil {
			t.Fatalf("decode text failed: %v", err)
		}
		if fromBinary.Format != FormatBinary || fromText.Format != FormatText {
			t.Fatalf("expected format tags binary/text, got %s/%s", fromBinary.Format, fromText.Format)
		}
		fromBinary.Format, fromText.Format = 0, 0
		if !sameRequest(*fromBinary, *fromText) {
			t.Fatalf("expected identical requests, got binary=%+v text=%+v", fromBinary, fromText)
		}
		if !sameRequest(*fromBinary, want) {
			t.Fatalf("expected decoded request %+v, got %+v", want, fromBinary)
		}
	}
}

func sameRequest(a, b Request) bool {
	return a.ClientVersion == b.ClientVersion &&
		a.RetrievalID == b.RetrievalID &&
		a.Token == b.Token &&
		bytes.Equal(a.Message, b.Message) &&
		bytes.Equal(a.File, b.File) &&
		a.DeviceType == b.DeviceType &&
		a.DeviceTypeDeclared == b.DeviceTypeDeclared
}

func TestDecodeShortBodyIsMalformed(t *testing.T) {
	for _, format := range []Format{FormatBinary, FormatText} {
		for n := 0; n < MinSubmissionLength; n++ {
			_, err := Decode(make([]byte, n), format, testMinVersion)
			if !errors.Is(err, relay.ErrMalformed) {
				t.Fatalf("%s body of %d bytes: expected ErrMalformed, got %v", format, n, err)
			}
		}
	}
}

func TestDecodeOldVersion(t *testing.T) {
	req := sampleRequest()
	req.ClientVersion = 0x01050000
	for _, format := range []Format{FormatBinary, FormatText} {
		body, err := EncodeSubmission(req, format)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		_, err = Decode(body, format, testMinVersion)
		if !errors.Is(err, relay.ErrVersionTooOld) {
			t.Fatalf("%s: expected ErrVersionTooOld, got %v", format, err)
		}
		want := "Client version mismatch; 1.6 required.  Download latest client release first."
		if relay.FailureMessage(err) != want {
			t.Fatalf("%s: unexpected message %q", format, relay.FailureMessage(err))
		}
	}
}

func TestDecodeSegmentOverrun(t *testing.T) {
	body, _ := EncodeSubmission(sampleRequest(), FormatBinary)
	corrupt := append([]byte(nil), body...)
	binary.BigEndian.PutUint32(corrupt[4:], 1<<20)
	if _, err := Decode(corrupt, FormatBinary, testMinVersion); !errors.Is(err, relay.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for overrunning segment, got %v", err)
	}
	binary.BigEndian.PutUint32(corrupt[4:], 0xffffffff)
	if _, err := Decode(corrupt, FormatBinary, testMinVersion); !errors.Is(err, relay.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for negative segment length, got %v", err)
	}
}

func TestDecodeBinaryInfersAppleForShortToken(t *testing.T) {
	w := &writer{}
	w.int32(0x01060000)
	w.segment(bytes.Repeat([]byte{0x01}, 16))
	w.segment(bytes.Repeat([]byte("t"), 60))
	w.segment([]byte("0123456789"))
	w.segment(nil)

	req, err := Decode(w.buf, FormatBinary, testMinVersion)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if req.DeviceType != relay.DeviceApple || req.DeviceTypeDeclared {
		t.Fatalf("expected inferred apple device type, got %s declared=%v", req.DeviceType, req.DeviceTypeDeclared)
	}
	if req.RetrievalID != base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x01}, 16)) {
		t.Fatalf("unexpected retrieval id %q", req.RetrievalID)
	}
	if strings.HasSuffix(req.RetrievalID, "\n") {
		t.Fatalf("retrieval id must not carry a trailing newline")
	}
}

func TestDecodeTextRejectsSchemaViolations(t *testing.T) {
	bodies := []string{
		`{"ver_client":"17170432","msgid_b64":"AAAA","token":"tok","padding":"xxxxxxxxxxxx"}`,
		`{"ver_client":17170432,"msgid_b64":"AAAA","token":"tok","msg_b64":"AAAA"}`,
		`{"ver_client":"1.6","msgid_b64":"AAAA","token":"tok","msg_b64":"AAAA"}`,
		`["ver_client","msgid_b64","token","msg_b64","file_b64","devtype"]`,
		`{"ver_client":"17170432","msgid_b64":"AAAA","token":"tok","msg_b64":"!!not-base64!!"}`,
	}
	for _, body := range bodies {
		if _, err := Decode([]byte(body), FormatText, testMinVersion); !errors.Is(err, relay.ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %s, got %v", body, err)
		}
	}
}

func TestFormatFromContentType(t *testing.T) {
	cases := map[string]Format{
		"text/plain":                      FormatText,
		"text/plain; charset=utf-8":       FormatText,
		"application/json":                FormatText,
		"application/octet-stream":        FormatBinary,
		"":                                FormatBinary,
		"multipart/form-data; boundary=x": FormatBinary,
	}
	for contentType, want := range cases {
		if got := FormatFromContentType(contentType); got != want {
			t.Fatalf("content type %q: expected %s, got %s", contentType, want, got)
		}
	}
}
