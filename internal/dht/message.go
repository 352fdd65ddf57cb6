package dht

import "net"

type MessageType string

const (
	QueryType    MessageType = "q"
	ResponseType MessageType = "r"
	ErrorType    MessageType = "e"
)

type QueryMethod string

const (
	PingMethod             QueryMethod = "ping"
	FindNodeMethod         QueryMethod = "find_node"
	GetPeersMethod         QueryMethod = "get_peers"
	SampleInfohashesMethod QueryMethod = "sample_infohashes"
)

const (
	ErrorGeneric       = 201
	ErrorServer        = 202
	ErrorProtocol      = 203
	ErrorMethodUnknown = 204
)

// Message is a parsed KRPC message: a query, a response, or an error.
// Exactly one of (Q/A), R, or E is meaningful, selected by Y.
type Message struct {
	T string      // transaction id
	Y MessageType // message type
	V string      // client version, optional

	Q QueryMethod    // query method name
	A map[string]any // query arguments

	R map[string]any // response values

	E []any // [code, message]

	Addr *net.UDPAddr
}

func NewQuery(method QueryMethod, transactionID string) *Message {
	return &Message{T: transactionID, Y: QueryType, Q: method, A: make(map[string]any)}
}

func NewResponse(transactionID string) *Message {
	return &Message{T: transactionID, Y: ResponseType, R: make(map[string]any)}
}

func NewError(transactionID string, code int, message string) *Message {
	return &Message{T: transactionID, Y: ErrorType, E: []any{code, message}}
}

func PingQuery(transactionID string, senderID NodeID) *Message {
	msg := NewQuery(PingMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	return msg
}

func PingResponse(transactionID string, senderID NodeID) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	return msg
}

func FindNodeQuery(transactionID string, senderID, target NodeID) *Message {
	msg := NewQuery(FindNodeMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["target"] = string(target[:])
	return msg
}

func FindNodeResponse(transactionID string, senderID NodeID, nodes []byte) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["nodes"] = string(nodes)
	return msg
}

func GetPeersQuery(transactionID string, senderID, infoHash NodeID) *Message {
	msg := NewQuery(GetPeersMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["info_hash"] = string(infoHash[:])
	return msg
}

func GetPeersResponse(transactionID string, senderID NodeID, token string, values []string) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["token"] = token

	// stored as []any, the shape the bencode encoder accepts and the
	// decoder produces
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	msg.R["values"] = vals
	return msg
}

func GetPeersResponseNodes(transactionID string, senderID NodeID, token string, nodes []byte) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["token"] = token
	msg.R["nodes"] = string(nodes)
	return msg
}

func SampleInfohashesQuery(transactionID string, senderID, target NodeID) *Message {
	msg := NewQuery(SampleInfohashesMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["target"] = string(target[:])
	return msg
}

func SampleInfohashesResponse(
	transactionID string,
	senderID NodeID,
	nodes []byte,
	samples []byte,
	interval int,
	num int,
) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["nodes"] = string(nodes)
	msg.R["samples"] = string(samples)
	msg.R["interval"] = interval
	msg.R["num"] = num
	return msg
}

func (m *Message) GetNodeID() (NodeID, bool) {
	var (
		id    NodeID
		idStr string
		ok    bool
	)

	if m.Y == ResponseType && m.R != nil {
		idStr, ok = m.R["id"].(string)
	} else if m.Y == QueryType && m.A != nil {
		idStr, ok = m.A["id"].(string)
	}

	if !ok || len(idStr) != len(id) {
		return id, false
	}

	copy(id[:], idStr)
	return id, true
}

func (m *Message) GetTarget() (NodeID, bool) {
	var target NodeID

	if m.Y != QueryType || m.A == nil {
		return target, false
	}

	targetStr, ok := m.A["target"].(string)
	if !ok || len(targetStr) != len(target) {
		return target, false
	}

	copy(target[:], targetStr)
	return target, true
}

func (m *Message) GetInfoHash() (NodeID, bool) {
	var hash NodeID

	if m.Y != QueryType || m.A == nil {
		return hash, false
	}

	hashStr, ok := m.A["info_hash"].(string)
	if !ok || len(hashStr) != len(hash) {
		return hash, false
	}

	copy(hash[:], hashStr)
	return hash, true
}

func (m *Message) GetToken() (string, bool) {
	if m.Y == ResponseType && m.R != nil {
		token, ok := m.R["token"].(string)
		return token, ok
	}
	if m.Y == QueryType && m.A != nil {
		token, ok := m.A["token"].(string)
		return token, ok
	}
	return "", false
}

func (m *Message) GetNodes() ([]byte, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}

	nodesStr, ok := m.R["nodes"].(string)
	if !ok {
		return nil, false
	}
	return []byte(nodesStr), true
}

func (m *Message) GetValues() ([]string, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}

	valuesRaw, ok := m.R["values"].([]any)
	if !ok {
		return nil, false
	}

	values := make([]string, 0, len(valuesRaw))
	for _, v := range valuesRaw {
		if str, ok := v.(string); ok {
			values = append(values, str)
		}
	}

	return values, len(values) > 0
}

func (m *Message) GetSamples() ([]byte, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}

	samplesStr, ok := m.R["samples"].(string)
	if !ok {
		return nil, false
	}
	return []byte(samplesStr), true
}

func (m *Message) GetInterval() (int, bool) {
	return m.getIntField("interval")
}

func (m *Message) GetNum() (int, bool) {
	return m.getIntField("num")
}

func (m *Message) getIntField(key string) (int, bool) {
	if m.Y != ResponseType || m.R == nil {
		return 0, false
	}

	switch v := m.R[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func (m *Message) IsQuery() bool    { return m.Y == QueryType }
func (m *Message) IsResponse() bool { return m.Y == ResponseType }
func (m *Message) IsError() bool    { return m.Y == ErrorType }
