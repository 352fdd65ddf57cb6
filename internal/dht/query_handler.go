package dht

import "net"

// QueryHandler dispatches inbound KRPC queries: ping, find_node,
// get_peers, and sample_infohashes. get_peers additionally records a
// discovery event for the crawler.
type QueryHandler struct {
	transport *Transport
	table     *RoutingTable
	token     *TokenManager
	discovery *Discovery
	onNew     OnDiscovery
	k         int

	totalRequests int
}

func NewQueryHandler(transport *Transport, table *RoutingTable, token *TokenManager, discovery *Discovery, k int) *QueryHandler {
	return &QueryHandler{
		transport: transport,
		table:     table,
		token:     token,
		discovery: discovery,
		k:         k,
	}
}

func (qh *QueryHandler) SetOnDiscovery(fn OnDiscovery) {
	qh.onNew = fn
}

func (qh *QueryHandler) TotalRequests() int {
	return qh.totalRequests
}

func (qh *QueryHandler) HandleQuery(msg *Message) {
	qh.totalRequests++

	senderID, ok := msg.GetNodeID()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid node ID", msg.Addr)
		return
	}

	node, err := NewNodeWithID(senderID, msg.Addr.IP, msg.Addr.Port)
	if err == nil {
		qh.table.Insert(NewContact(node))
	}

	switch msg.Q {
	case PingMethod:
		qh.handlePing(msg)
	case FindNodeMethod:
		qh.handleFindNode(msg)
	case GetPeersMethod:
		qh.handleGetPeers(msg)
	case SampleInfohashesMethod:
		qh.handleSampleInfohashes(msg)
	default:
		qh.sendError(msg.T, ErrorMethodUnknown, "unknown method", msg.Addr)
	}
}

func (qh *QueryHandler) handlePing(msg *Message) {
	qh.transport.SendResponse(PingResponse(msg.T, qh.table.ID()), msg.Addr)
}

func (qh *QueryHandler) handleFindNode(msg *Message) {
	target, ok := msg.GetTarget()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid target", msg.Addr)
		return
	}

	nodes := EncodeNodes(qh.table.FindClosestK(target, qh.k))
	qh.transport.SendResponse(FindNodeResponse(msg.T, qh.table.ID(), nodes), msg.Addr)
}

// handleGetPeers always responds with nodes, never values: this engine
// never announces itself as a peer, so it has no peer list to return.
// Recording the query is the crawler's primary discovery signal.
func (qh *QueryHandler) handleGetPeers(msg *Message) {
	infoHash, ok := msg.GetInfoHash()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid info_hash", msg.Addr)
		return
	}

	token := qh.token.Generate(msg.Addr.IP)

	if qh.discovery.Observe(infoHash, msg.Addr, discoveryTag) && qh.onNew != nil {
		qh.onNew(infoHash, msg.Addr, DiscoveryTagGetPeers)
	}

	nodes := EncodeNodes(qh.table.FindClosestK(infoHash, qh.k))
	qh.transport.SendResponse(GetPeersResponseNodes(msg.T, qh.table.ID(), token, nodes), msg.Addr)
}

// handleSampleInfohashes implements BEP 51: respond with the closest
// nodes plus a random-without-replacement sample of everything we've
// discovered.
func (qh *QueryHandler) handleSampleInfohashes(msg *Message) {
	target, ok := msg.GetTarget()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid target", msg.Addr)
		return
	}

	nodes := EncodeNodes(qh.table.FindClosestK(target, qh.k))
	sample := qh.discovery.Sample(maxSamples)
	qh.discovery.IncrementSamplesSent(len(sample))

	samplesEncoded := EncodeSamples(sample)

	resp := SampleInfohashesResponse(
		msg.T,
		qh.table.ID(),
		nodes,
		samplesEncoded,
		bep51RefreshInterval,
		qh.discovery.Count(),
	)
	qh.transport.SendResponse(resp, msg.Addr)
}

const bep51RefreshInterval = 21600 // 6h, per BEP 51's recommended refresh hint

func (qh *QueryHandler) sendError(transactionID string, code int, message string, addr *net.UDPAddr) {
	qh.transport.SendError(transactionID, code, message, addr)
}
