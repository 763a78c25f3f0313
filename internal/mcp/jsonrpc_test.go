package mcp

import (
	"encoding/json"
	"testing"
)

func TestNewRequest_WireShape(t *testing.T) {
	req := NewRequest(7, "tools/call", map[string]any{"name": "add"})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", decoded["jsonrpc"])
	}
	if decoded["id"] != float64(7) {
		t.Errorf("id = %v, want 7", decoded["id"])
	}
	if decoded["method"] != "tools/call" {
		t.Errorf("method = %v, want tools/call", decoded["method"])
	}
}

func TestNewNotification_OmitsID(t *testing.T) {
	n := NewNotification("notifications/initialized", nil)

	data, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["id"]; ok {
		t.Error("notification carries an id field")
	}
	if _, ok := decoded["params"]; ok {
		t.Error("nil params should be omitted")
	}
}

func TestResponse_Decode(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":3,"result":{"tools":[]}}`

	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ID != 3 {
		t.Errorf("ID = %d, want 3", resp.ID)
	}
	if resp.Error != nil {
		t.Errorf("Error = %v, want nil", resp.Error)
	}
	if string(resp.Result) != `{"tools":[]}` {
		t.Errorf("Result = %s", resp.Result)
	}
}

func TestRPCError_Error(t *testing.T) {
	err := &RPCError{Code: -32601, Message: "Method not found"}
	want := "jsonrpc error -32601: Method not found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
