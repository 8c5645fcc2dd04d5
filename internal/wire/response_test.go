package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestEncodeFailureBinary(t *testing.T) {
	got := EncodeFailure(FormatBinary, 0x01060000, true, "Secure socket required.")
	want := append([]byte{0, 0, 0, 0}, []byte("Secure socket required.")...)
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestEncodeFailureText(t *testing.T) {
	var doc map[string]string
	if err := json.Unmarshal(EncodeFailure(FormatText, 0x01060000, true, "boom"), &doc); err != nil {
		t.Fatalf("decode failure doc: %v", err)
	}
	if doc["ver_server"] != "17170432" || doc["err_code"] != "0" || doc["err_msg"] != "boom" {
		t.Fatalf("unexpected failure doc %v", doc)
	}

	doc = nil
	if err := json.Unmarshal(EncodeFailure(FormatText, 0, false, "HTTPS environment variable not found"), &doc); err != nil {
		t.Fatalf("decode failure doc: %v", err)
	}
	if _, ok := doc["ver_server"]; ok {
		t.Fatalf("expected ver_server omitted when unknown, got %v", doc)
	}
}

func TestSubmitSuccessRoundTrip(t *testing.T) {
	body := EncodeSubmitSuccess(FormatBinary, 0x01060000, StatusBytes(0), "0")
	want := []byte{0x01, 0x06, 0x00, 0x00, 0, 0, 0, 1}
	want = append(want, []byte(" Success: ")...)
	want = append(want, 0, 0, 0, 0)
	if !bytes.Equal(body, want) {
		t.Fatalf("expected %v, got %v", want, body)
	}
	resp, err := DecodeSubmitResponse(body, FormatBinary)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || resp.ServerVersion != 0x01060000 || !bytes.Equal(resp.Detail, []byte{0, 0, 0, 0}) {
		t.Fatalf("unexpected decoded response %+v", resp)
	}

	text := EncodeSubmitSuccess(FormatText, 0x01060000, []byte("id=1"), "id=1")
	var doc map[string]string
	if err := json.Unmarshal(text, &doc); err != nil {
		t.Fatalf("decode success doc: %v", err)
	}
	if doc["status"] != "1" || doc["msg"] != "Success: id=1" || doc["ver_server"] != "17170432" {
		t.Fatalf("unexpected success doc %v", doc)
	}
	resp, err = DecodeSubmitResponse(text, FormatText)
	if err != nil || !resp.OK || resp.Message != "id=1" {
		t.Fatalf("unexpected decoded text response %+v (%v)", resp, err)
	}
}

func TestDecodeSubmitResponseFailure(t *testing.T) {
	resp, err := DecodeSubmitResponse(EncodeFailure(FormatBinary, 0, false, "User has no push registration id."), FormatBinary)
	if err != nil || resp.OK || resp.Message != "User has no push registration id." {
		t.Fatalf("unexpected decoded failure %+v (%v)", resp, err)
	}
	resp, err = DecodeSubmitResponse(EncodeFailure(FormatText, 7, true, "nope"), FormatText)
	if err != nil || resp.OK || resp.Message != "nope" || resp.ServerVersion != 7 {
		t.Fatalf("unexpected decoded text failure %+v (%v)", resp, err)
	}
	if _, err := DecodeSubmitResponse([]byte{0, 1}, FormatBinary); err == nil {
		t.Fatalf("expected error for truncated response")
	}
}
