package dht

import (
	"crypto/rand"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/arrowhead-labs/dhtcrawl/pkg/bencode"
	"github.com/arrowhead-labs/dhtcrawl/pkg/syncmap"
)

var (
	ErrQueryTimeout    = errors.New("dht: query timeout")
	ErrInvalidMessage  = errors.New("dht: invalid message")
	ErrTransportClosed = errors.New("dht: transport closed")
)

const (
	readBufferSize      = 2048 // MTU-sized
	defaultQueryTimeout = 5 * time.Second
)

// Transport owns the UDP socket and the transaction registry that
// correlates outbound queries with their responses.
type Transport struct {
	logger  *slog.Logger
	conn    *net.UDPConn
	localID NodeID

	transactions *syncmap.Map[string, *transaction]

	queryHandler    func(*Message)
	responseHandler func(*Message)

	done chan struct{}
	wg   sync.WaitGroup
}

type transaction struct {
	query      *Message
	responseCh chan *Message
	sentTime   time.Time
	timeout    time.Duration
}

// NewTransport binds a UDP socket on listenAddr. If the bind fails
// (e.g. the port is already in use), it retries once on an
// OS-assigned ephemeral port.
func NewTransport(localID NodeID, listenAddr string, logger *slog.Logger) (*Transport, error) {
	conn, err := bindUDP(listenAddr)
	if err != nil {
		host, _, splitErr := net.SplitHostPort(listenAddr)
		if splitErr != nil {
			host = ""
		}

		fallback := net.JoinHostPort(host, "0")
		conn, err = bindUDP(fallback)
		if err != nil {
			return nil, err
		}

		logger.Warn("bind failed, fell back to ephemeral port", "requested", listenAddr, "bound", conn.LocalAddr())
	}

	return &Transport{
		logger:       logger,
		conn:         conn,
		localID:      localID,
		transactions: syncmap.New[string, *transaction](),
		done:         make(chan struct{}),
	}, nil
}

func bindUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}

func (t *Transport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *Transport) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop()
	}()
}

func (t *Transport) Stop() {
	close(t.done)
	t.conn.Close()
	t.wg.Wait()
}

func (t *Transport) SetQueryHandler(handler func(*Message))    { t.queryHandler = handler }
func (t *Transport) SetResponseHandler(handler func(*Message)) { t.responseHandler = handler }

// SendQuery transmits msg and blocks until a matching response arrives,
// the timeout elapses, or the transport is stopped.
func (t *Transport) SendQuery(msg *Message, addr *net.UDPAddr, timeout time.Duration) (*Message, error) {
	if msg.T == "" {
		msg.T = t.generateTransactionID()
	}

	tx := &transaction{
		query:      msg,
		responseCh: make(chan *Message, 1),
		sentTime:   time.Now(),
		timeout:    timeout,
	}

	t.transactions.Put(msg.T, tx)

	if err := t.send(msg, addr); err != nil {
		t.removeTransaction(msg.T)
		return nil, err
	}

	select {
	case response, ok := <-tx.responseCh:
		t.removeTransaction(msg.T)
		if !ok {
			return nil, ErrInvalidMessage
		}
		return response, nil
	case <-time.After(timeout):
		t.removeTransaction(msg.T)
		return nil, ErrQueryTimeout
	case <-t.done:
		t.removeTransaction(msg.T)
		return nil, ErrTransportClosed
	}
}

func (t *Transport) SendResponse(msg *Message, addr *net.UDPAddr) error {
	return t.send(msg, addr)
}

func (t *Transport) SendError(transactionID string, code int, message string, addr *net.UDPAddr) error {
	return t.send(NewError(transactionID, code, message), addr)
}

func (t *Transport) send(msg *Message, addr *net.UDPAddr) error {
	encoded, err := bencode.Marshal(messageToMap(msg))
	if err != nil {
		return err
	}

	_, err = t.conn.WriteToUDP(encoded, addr)
	return err
}

func (t *Transport) readLoop() {
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-t.done:
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				t.logger.Error("udp read failed", "error", err)
			}
			continue
		}

		data, err := bencode.Unmarshal(buf[:n])
		if err != nil {
			t.logger.Debug("malformed datagram", "from", addr, "error", err)
			continue
		}

		msg, err := mapToMessage(data, addr)
		if err != nil {
			t.logger.Debug("unparseable message", "from", addr, "error", err)
			continue
		}
		t.handleMessage(msg)
	}
}

// ReapExpired drops transactions that have been pending longer than
// their own deadline, notifying the blocked SendQuery caller.
func (t *Transport) ReapExpired() {
	now := time.Now()

	var expired []string
	t.transactions.Range(func(txID string, tx *transaction) bool {
		if now.Sub(tx.sentTime) > tx.timeout {
			close(tx.responseCh)
			expired = append(expired, txID)
		}
		return true
	})
	t.transactions.Delete(expired...)
}

func (t *Transport) handleMessage(msg *Message) {
	switch msg.Y {
	case QueryType:
		if t.queryHandler != nil {
			t.queryHandler(msg)
		}
	case ResponseType:
		t.handleResponse(msg)
	case ErrorType:
		t.handleErrorMsg(msg)
	}
}

func (t *Transport) handleResponse(msg *Message) {
	tx, exists := t.transactions.Get(msg.T)

	if !exists {
		t.logger.Debug("response for unknown transaction", "from", msg.Addr, "txid", msg.T)
		if t.responseHandler != nil {
			t.responseHandler(msg)
		}
		return
	}

	select {
	case tx.responseCh <- msg:
	default:
	}
}

func (t *Transport) handleErrorMsg(msg *Message) {
	tx, exists := t.transactions.Get(msg.T)
	if exists {
		close(tx.responseCh)
	}
}

func (t *Transport) removeTransaction(transactionID string) {
	t.transactions.Delete(transactionID)
}

// generateTransactionID returns 2 raw random bytes used directly as the
// transaction id string.
func (t *Transport) generateTransactionID() string {
	b := make([]byte, 2)
	for {
		if _, err := rand.Read(b); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		id := string(b)

		if _, collision := t.transactions.Get(id); !collision {
			return id
		}
	}
}

func messageToMap(msg *Message) map[string]any {
	m := map[string]any{
		"t": msg.T,
		"y": string(msg.Y),
	}

	if msg.V != "" {
		m["v"] = msg.V
	}

	switch msg.Y {
	case QueryType:
		m["q"] = string(msg.Q)
		m["a"] = msg.A
	case ResponseType:
		m["r"] = msg.R
	case ErrorType:
		m["e"] = msg.E
	}

	return m
}

// mapToMessage builds a Message out of a decoded bencode dict. It
// returns bencode.ErrTypeMismatch when the top-level value isn't a dict,
// or the required t/y fields are missing or not strings — the dict
// itself is well-formed bencode, just the wrong shape for a KRPC
// message, which is a distinct failure from a bencode grammar error.
func mapToMessage(data any, addr *net.UDPAddr) (*Message, error) {
	dict, ok := data.(map[string]any)
	if !ok {
		return nil, bencode.ErrTypeMismatch
	}

	msg := &Message{Addr: addr}

	t, ok := dict["t"].(string)
	if !ok {
		return nil, bencode.ErrTypeMismatch
	}
	msg.T = t

	y, ok := dict["y"].(string)
	if !ok {
		return nil, bencode.ErrTypeMismatch
	}
	msg.Y = MessageType(y)

	if v, ok := dict["v"].(string); ok {
		msg.V = v
	}

	switch msg.Y {
	case QueryType:
		if q, ok := dict["q"].(string); ok {
			msg.Q = QueryMethod(q)
		}
		if a, ok := dict["a"].(map[string]any); ok {
			msg.A = a
		}
	case ResponseType:
		if r, ok := dict["r"].(map[string]any); ok {
			msg.R = r
		}
	case ErrorType:
		if e, ok := dict["e"].([]any); ok {
			msg.E = e
		}
	}

	return msg, nil
}
