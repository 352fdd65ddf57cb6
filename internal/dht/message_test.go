package dht

import (
	"errors"
	"testing"

	"github.com/arrowhead-labs/dhtcrawl/pkg/bencode"
)

// TestPingQuery_WireFormat checks that a ping query with tid "aa" and
// id "A"*20 encodes to the literal bencoded string
// d1:ad2:id20:AAAAAAAAAAAAAAAAAAAAe1:q4:ping1:t2:aa1:y1:qe.
func TestPingQuery_WireFormat(t *testing.T) {
	var id NodeID
	for i := range id {
		id[i] = 'A'
	}

	msg := PingQuery("aa", id)

	encoded, err := bencode.Marshal(messageToMap(msg))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	want := "d1:ad2:id20:AAAAAAAAAAAAAAAAAAAAe1:q4:ping1:t2:aa1:y1:qe"
	if string(encoded) != want {
		t.Fatalf("got %q, want %q", encoded, want)
	}
}

func TestMapToMessage_RoundTrip(t *testing.T) {
	var id NodeID
	id[0] = 0xab

	msg := PingQuery("aa", id)
	encoded, err := bencode.Marshal(messageToMap(msg))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	decoded, err := bencode.Unmarshal(encoded)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	got, err := mapToMessage(decoded, nil)
	if err != nil {
		t.Fatalf("mapToMessage error: %v", err)
	}
	if got.T != "aa" || got.Y != QueryType || got.Q != PingMethod {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	gotID, ok := got.GetNodeID()
	if !ok || gotID != id {
		t.Fatalf("GetNodeID() = %v, %v, want %v, true", gotID, ok, id)
	}
}

func TestMapToMessage_RejectsMissingFields(t *testing.T) {
	if _, err := mapToMessage("not a dict", nil); !errors.Is(err, bencode.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch for non-dict input, got %v", err)
	}
	if _, err := mapToMessage(map[string]any{"y": "q"}, nil); !errors.Is(err, bencode.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch when t is missing, got %v", err)
	}
	if _, err := mapToMessage(map[string]any{"t": "aa"}, nil); !errors.Is(err, bencode.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch when y is missing, got %v", err)
	}
}

func TestMessage_GetTarget(t *testing.T) {
	var sender, target NodeID
	sender[0] = 1
	target[0] = 2

	msg := FindNodeQuery("bb", sender, target)

	got, ok := msg.GetTarget()
	if !ok || got != target {
		t.Fatalf("GetTarget() = %v, %v, want %v, true", got, ok, target)
	}

	// A response message never carries a target field.
	resp := NewResponse("bb")
	if _, ok := resp.GetTarget(); ok {
		t.Fatalf("GetTarget() on response should be false")
	}
}

func TestMessage_GetValuesAndNodes(t *testing.T) {
	var id NodeID
	resp := GetPeersResponse("cc", id, "tok", []string{"AAAABB", "CCCCDD"})

	values, ok := resp.GetValues()
	if !ok || len(values) != 2 {
		t.Fatalf("GetValues() = %v, %v", values, ok)
	}

	nodesResp := GetPeersResponseNodes("cc", id, "tok", []byte("12345678901234567890abcd"))
	nodes, ok := nodesResp.GetNodes()
	if !ok || len(nodes) != 24 {
		t.Fatalf("GetNodes() = %v, %v", nodes, ok)
	}
}

func TestMessage_GetIntervalAndNum(t *testing.T) {
	var id NodeID
	resp := SampleInfohashesResponse("dd", id, nil, nil, 300, 42)

	interval, ok := resp.GetInterval()
	if !ok || interval != 300 {
		t.Fatalf("GetInterval() = %d, %v, want 300, true", interval, ok)
	}

	num, ok := resp.GetNum()
	if !ok || num != 42 {
		t.Fatalf("GetNum() = %d, %v, want 42, true", num, ok)
	}
}

func TestMessage_TypePredicates(t *testing.T) {
	q := NewQuery(PingMethod, "aa")
	r := NewResponse("aa")
	e := NewError("aa", ErrorGeneric, "boom")

	if !q.IsQuery() || q.IsResponse() || q.IsError() {
		t.Fatalf("query predicates wrong: %+v", q)
	}
	if !r.IsResponse() || r.IsQuery() || r.IsError() {
		t.Fatalf("response predicates wrong: %+v", r)
	}
	if !e.IsError() || e.IsQuery() || e.IsResponse() {
		t.Fatalf("error predicates wrong: %+v", e)
	}
}
