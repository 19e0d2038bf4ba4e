package didcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/affinidi-community/tdk-core/internal/did"
	"github.com/affinidi-community/tdk-core/internal/diddoc"
	"github.com/affinidi-community/tdk-core/internal/errs"
	"github.com/affinidi-community/tdk-core/internal/obslog"
)

// wsRequest is the outbound frame of spec §4.3's network protocol.
type wsRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	DID       string `json:"did"`
}

// wsResponse is one of the two inbound frame shapes: a resolved document
// or a resolution error, disambiguated by Type.
type wsResponse struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	DID       string          `json:"did"`
	Hash      string          `json:"hash"`
	Document  json.RawMessage `json:"document,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// waiter is one in-flight caller blocked on a DID's resolution.
type waiter struct {
	requestID string
	reply     chan networkResult
}

type networkResult struct {
	doc *diddoc.Document
	err error
}

// NetworkOptions configures a Network's connection lifecycle.
type NetworkOptions struct {
	Endpoint           string
	Methods            []did.Method
	RequestListLimit   int
	WatchdogInterval   time.Duration
	WatchdogMissLimit  int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
	BackoffStep        time.Duration
}

// DefaultNetworkOptions matches spec §4.3's stated constants.
func DefaultNetworkOptions(endpoint string) NetworkOptions {
	return NetworkOptions{
		Endpoint:          endpoint,
		RequestListLimit:  1000,
		WatchdogInterval:  20 * time.Second,
		WatchdogMissLimit: 3,
		BackoffInitial:    1 * time.Second,
		BackoffMax:        60 * time.Second,
		BackoffStep:       5 * time.Second,
	}
}

// Network runs a single background WebSocket connection to a DID
// resolution service and deduplicates concurrent requests for the same
// DID, per spec §4.3.
//
// Grounded on the teacher's events/bus.go subscriber-fanout pattern for
// the multicast-on-response behavior, and on the teacher's
// middleware/ratelimit token-bucket package for the watchdog/back-off
// lifecycle shape; gorilla/websocket supplies the framing this teacher
// package never itself used but which the spec's wire protocol requires.
type Network struct {
	opts NetworkOptions

	mu       sync.Mutex
	pending  map[Hash128][]waiter
	conn     *websocket.Conn
	methods  map[did.Method]struct{}

	sendMu sync.Mutex

	closed chan struct{}
	once   sync.Once

	// sem bounds the number of distinct in-flight DIDs at
	// opts.RequestListLimit; new requests block (rather than being sent)
	// once full, per spec §4.3.
	sem chan struct{}
}

// NewNetwork starts the background connection loop and returns
// immediately; the connection itself is established asynchronously with
// back-off retry.
func NewNetwork(opts NetworkOptions) *Network {
	methods := make(map[did.Method]struct{}, len(opts.Methods))
	for _, m := range opts.Methods {
		methods[m] = struct{}{}
	}

	limit := opts.RequestListLimit
	if limit <= 0 {
		limit = 1000
	}

	n := &Network{
		opts:    opts,
		pending: make(map[Hash128][]waiter),
		methods: methods,
		closed:  make(chan struct{}),
		sem:     make(chan struct{}, limit),
	}

	go n.run()

	return n
}

// HandlesMethod reports whether this network resolver is configured for
// the given DID method.
func (n *Network) HandlesMethod(m did.Method) bool {
	if len(n.methods) == 0 {
		return true
	}

	_, ok := n.methods[m]

	return ok
}

// Close terminates the background connection loop.
func (n *Network) Close() {
	n.once.Do(func() { close(n.closed) })
}

// Resolve sends a deduplicated request and blocks until a matching
// response arrives or ctx is cancelled.
func (n *Network) Resolve(ctx context.Context, d *did.DID) (*diddoc.Document, error) {
	key := HashDID(d.Raw)
	reply := make(chan networkResult, 1)
	requestID := uuid.NewString()

	shouldSend := n.registerWaiter(key, waiter{requestID: requestID, reply: reply})

	if shouldSend {
		select {
		case n.sem <- struct{}{}:
		case <-ctx.Done():
			n.failAndClear(key, ctx.Err())

			return nil, ctx.Err()
		}

		if err := n.send(wsRequest{Type: "resolve", RequestID: requestID, DID: d.Raw}); err != nil {
			n.releaseSlot()
			n.failAndClear(key, err)

			return nil, errs.New(errs.KindTransport, "didcache.network", "send failed", err)
		}
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return nil, res.err
		}

		return res.doc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// registerWaiter adds w to key's waiter list, returning true iff w is the
// first waiter (and thus responsible for sending the wire request).
func (n *Network) registerWaiter(key Hash128, w waiter) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	existing := n.pending[key]
	n.pending[key] = append(existing, w)

	return len(existing) == 0
}

func (n *Network) failAndClear(key Hash128, err error) {
	n.mu.Lock()
	waiters := n.pending[key]
	delete(n.pending, key)
	n.mu.Unlock()

	for _, w := range waiters {
		w.reply <- networkResult{err: err}
	}
}

func (n *Network) releaseSlot() {
	select {
	case <-n.sem:
	default:
	}
}

func (n *Network) send(req wsRequest) error {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()

	if n.conn == nil {
		return fmt.Errorf("didcache.network: not connected")
	}

	return n.conn.WriteJSON(req)
}

// run owns the connection lifecycle: connect with back-off, read loop,
// watchdog pings, reconnect on failure.
func (n *Network) run() {
	log := obslog.Logger("didcache.network")
	backoff := n.opts.BackoffInitial

	for {
		select {
		case <-n.closed:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(n.opts.Endpoint, nil)
		if err != nil {
			log.Warn("dial failed, backing off", "error", err, "backoff", backoff)

			select {
			case <-time.After(backoff):
			case <-n.closed:
				return
			}

			backoff = minDuration(backoff+n.opts.BackoffStep, n.opts.BackoffMax)

			continue
		}

		backoff = n.opts.BackoffInitial

		n.mu.Lock()
		n.conn = conn
		n.mu.Unlock()

		n.serve(conn)

		n.mu.Lock()
		n.conn = nil
		n.mu.Unlock()

		conn.Close()
	}
}

// serve runs the read loop plus watchdog for one connection lifetime.
func (n *Network) serve(conn *websocket.Conn) {
	misses := 0
	ticker := time.NewTicker(n.opts.WatchdogInterval)
	defer ticker.Stop()

	pongCh := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}

		return nil
	})

	readErrs := make(chan error, 1)
	msgs := make(chan wsResponse, 16)

	go func() {
		for {
			var resp wsResponse
			if err := conn.ReadJSON(&resp); err != nil {
				readErrs <- err

				return
			}

			msgs <- resp
		}
	}()

	for {
		select {
		case <-n.closed:
			return
		case err := <-readErrs:
			obslog.Logger("didcache.network").Warn("read failed, reconnecting", "error", err)

			return
		case resp := <-msgs:
			n.deliver(resp)
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			select {
			case <-pongCh:
				misses = 0
			case <-time.After(n.opts.WatchdogInterval / 2):
				misses++
				if misses >= n.opts.WatchdogMissLimit {
					obslog.Logger("didcache.network").Warn("watchdog missed too many pongs, reconnecting", "misses", misses)

					return
				}
			}
		}
	}
}

func (n *Network) deliver(resp wsResponse) {
	key := HashDID(resp.DID)

	n.mu.Lock()
	waiters := n.pending[key]
	delete(n.pending, key)
	n.mu.Unlock()

	if len(waiters) > 0 {
		n.releaseSlot()
	}

	var result networkResult

	if resp.Type == "error" || resp.Error != "" {
		result = networkResult{err: errs.New(errs.KindDIDNotResolved, "didcache.network", resp.Error, nil)}
	} else {
		var doc diddoc.Document
		if err := json.Unmarshal(resp.Document, &doc); err != nil {
			result = networkResult{err: fmt.Errorf("didcache.network: decode document: %w", err)}
		} else {
			result = networkResult{doc: &doc}
		}
	}

	for _, w := range waiters {
		w.reply <- result
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}

	return b
}
