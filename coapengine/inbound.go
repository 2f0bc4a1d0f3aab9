package coapengine

import (
	"bytes"

	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/plgd-dev/go-coap/v2/udp/client"
	"github.com/plgd-dev/go-coap/v2/udp/message/pool"
)

// InboundRequest is a server-initiated CoAP request arriving on an
// already-dialed connection: a Border Agent pushing RELAY_RX, a keep-alive
// acknowledgement, or an unsolicited PAN ID conflict/energy report/dataset
// changed notification.
type InboundRequest struct {
	Path    string
	Payload []byte
}

// InboundHandler dispatches a server-initiated request and returns the
// response to send back (or a nil payload for an Empty ACK-only reply).
type InboundHandler func(req InboundRequest) (respPayload []byte, code codes.Code)

// NewInboundHandlerFunc adapts an InboundHandler to the
// func(*client.ResponseWriter, *pool.Message) shape
// github.com/plgd-dev/go-coap/v2/dtls's WithHandlerFunc dial option
// expects, the same signature the teacher's listenAndServeDTLS wires on
// the server side (cmd/proxy/proxy.go) - used here on the client side, to
// handle the Border Agent's server-initiated pushes on the connection this
// module dialed out on.
func NewInboundHandlerFunc(h InboundHandler) func(w *client.ResponseWriter, r *pool.Message) {
	return func(w *client.ResponseWriter, r *pool.Message) {
		path, err := r.Options().Path()
		if err != nil {
			return
		}
		body, err := readAll(r)
		if err != nil {
			return
		}
		respPayload, code := h(InboundRequest{Path: path, Payload: body})
		if respPayload == nil {
			_ = w.SetResponse(code, 0, nil)
			return
		}
		_ = w.SetResponse(code, 0, bytes.NewReader(respPayload))
	}
}
