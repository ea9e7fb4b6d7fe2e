package event

import (
	"encoding/json"
	"testing"
	"time"
)

// The type discriminants are a stable wire contract shared with every
// connected client; renaming one is a breaking change.
func TestWireDiscriminants(t *testing.T) {
	res := Resource{ID: "5", Name: "demo", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z"}

	cases := []struct {
		event    Event
		wantType string
	}{
		{ResourceCreated(res), "resource.created"},
		{ResourceUpdated(res), "resource.updated"},
		{ResourceDeleted("5"), "resource.deleted"},
		{Ping(time.UnixMilli(1700000000000)), "ping"},
	}

	for _, tc := range cases {
		data, err := json.Marshal(tc.event)
		if err != nil {
			t.Fatalf("marshal %s: %v", tc.wantType, err)
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.wantType, err)
		}
		if got := frame["type"]; got != tc.wantType {
			t.Errorf("type discriminant = %v, want %q", got, tc.wantType)
		}
	}
}

func TestCreatedCarriesSnapshotAndID(t *testing.T) {
	res := Resource{ID: "5", Name: "demo"}
	data, err := json.Marshal(ResourceCreated(res))
	if err != nil {
		t.Fatal(err)
	}

	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame["id"] != "5" {
		t.Errorf("top-level id = %v, want 5", frame["id"])
	}
	snapshot, ok := frame["resource"].(map[string]any)
	if !ok {
		t.Fatalf("created event missing resource snapshot: %v", frame)
	}
	if snapshot["name"] != "demo" {
		t.Errorf("snapshot name = %v, want demo", snapshot["name"])
	}
}

func TestDeletedCarriesOnlyID(t *testing.T) {
	data, err := json.Marshal(ResourceDeleted("5"))
	if err != nil {
		t.Fatal(err)
	}

	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame["id"] != "5" {
		t.Errorf("id = %v, want 5", frame["id"])
	}
	if _, exists := frame["resource"]; exists {
		t.Error("deleted event must not carry a resource snapshot")
	}
}

func TestPingCarriesEpochMillis(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	data, err := json.Marshal(Ping(now))
	if err != nil {
		t.Fatal(err)
	}

	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if got := frame["timestamp"]; got != float64(1700000000123) {
		t.Errorf("timestamp = %v, want 1700000000123", got)
	}
	if !Ping(now).IsPing() {
		t.Error("IsPing() = false for a ping frame")
	}
}
