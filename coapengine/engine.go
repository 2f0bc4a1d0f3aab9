// Package coapengine wraps a go-coap/v2 connection with the request
// bookkeeping the commissioner core needs on top of it: a token-indexed
// pending-request table so CancelAll/CancelRequests can release every
// outstanding request with a Cancelled error, and the Confirmable /
// Non-confirmable send semantics spec.md §4.3 requires (a Non-confirmable
// management request completes on send; a Confirmable one completes on
// ACK+response).
//
// The underlying go-coap client.ClientConn (configured via
// dtlstransport.Params) already performs the RFC 7252 exponential-backoff
// retransmission of Confirmable messages, exactly as the teacher's
// dtls.WithTransmission(...) wiring in mobile/client.go configures it; this
// package does not reimplement that backoff, it adds the correlation table
// and cancellation semantics the teacher's request/response style (built
// for a single blocking call per HTTP request) doesn't need.
package coapengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/plgd-dev/go-coap/v2/message"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp/client"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"

	"github.com/openthread/commissioner-core/commerr"
	"github.com/openthread/commissioner-core/tlv"
)

// Content formats used by MeshCoP/CCM beyond the registry go-coap ships.
const (
	ContentFormatCoseSign1 message.MediaType = 18 // application/cose; cose-type="cose-sign1"
	ContentFormatCWT       message.MediaType = 19 // application/cwt
)

// Request describes an outbound CoAP message in terms the commissioner
// layers use: a URI path, a payload (TLV-encoded bytes, COSE bytes, or
// CBOR bytes depending on ContentFormat), and whether delivery requires a
// Confirmable exchange.
type Request struct {
	Method        codes.Code
	Path          string
	Payload       []byte
	ContentFormat message.MediaType
	Confirmable   bool
}

// Response is the decoded reply to a Request.
type Response struct {
	Code    codes.Code
	Payload []byte
}

// Engine issues CoAP requests over a single connection and tracks
// in-flight requests so they can be cancelled as a batch.
type Engine struct {
	conn *client.ClientConn

	mu      sync.Mutex
	pending map[uint64]context.CancelFunc
	nextSeq uint64
	tokenCt uint64
}

// New wraps conn (typically obtained from dtlstransport.Pool.Dial).
func New(conn *client.ClientConn) *Engine {
	return &Engine{conn: conn, pending: make(map[uint64]context.CancelFunc)}
}

// nextToken returns the next token for this engine: the hex form of a
// per-engine counter, so a token is never reused within one engine. Two
// engines may hand out the same token bytes; the pending map is keyed by
// a separate sequence number, not by the token.
func (e *Engine) nextToken() message.Token {
	n := atomic.AddUint64(&e.tokenCt, 1)
	return message.Token(fmt.Sprintf("%08x", n))
}

// Do issues req and blocks for its result. Non-confirmable requests
// complete as soon as the datagram is handed to the transport;
// Confirmable requests complete on the matching ACK/response, with
// retransmission handled underneath by the connection's configured
// transmission parameters.
func (e *Engine) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	seq := e.register(cancel)
	defer e.unregister(seq)

	msg := pool.AcquireMessage(ctx)
	defer pool.ReleaseMessage(msg)

	if req.Confirmable {
		msg.SetType(message.Confirmable)
	} else {
		msg.SetType(message.NonConfirmable)
	}
	msg.SetCode(req.Method)
	msg.SetToken(e.nextToken())
	msg.SetPath(req.Path)
	if req.Payload != nil {
		msg.SetContentFormat(req.ContentFormat)
		msg.SetBody(newByteReader(req.Payload))
	}

	if !req.Confirmable {
		if err := e.conn.WriteMessage(msg); err != nil {
			return nil, commerr.Wrap(commerr.IOError, err, "coapengine: send non-confirmable %s", req.Path)
		}
		return nil, nil
	}

	resp, err := e.conn.Do(msg)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, commerr.New(commerr.Cancelled, "coapengine: request cancelled")
		}
		return nil, commerr.Wrap(commerr.Timeout, err, "coapengine: confirmable request %s", req.Path)
	}
	body, err := readAll(resp)
	if err != nil {
		return nil, commerr.Wrap(commerr.BadFormat, err, "coapengine: read response body")
	}
	return &Response{Code: resp.Code(), Payload: body}, nil
}

// DecodeTLV is a convenience wrapper decoding a Response payload as a TLV
// Set, the format every MeshCoP request/response not using CBOR/COSE uses.
func DecodeTLV(r *Response) (tlv.Set, error) {
	if r == nil {
		return nil, nil
	}
	return tlv.Decode(r.Payload)
}

// CancelAll releases every pending request on this engine with a
// Cancelled error; no further callback fires for those requests.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.pending))
	for _, c := range e.pending {
		cancels = append(cancels, c)
	}
	e.pending = make(map[uint64]context.CancelFunc)
	e.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (e *Engine) register(cancel context.CancelFunc) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextSeq++
	seq := e.nextSeq
	e.pending[seq] = cancel
	return seq
}

func (e *Engine) unregister(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, seq)
}

// Close releases the underlying connection.
func (e *Engine) Close() error {
	e.CancelAll()
	return e.conn.Close()
}
