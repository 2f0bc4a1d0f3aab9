package coapengine

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/plgd-dev/go-coap/v2/udp/message/pool"
)

func newByteReader(b []byte) io.ReadSeeker {
	return bytes.NewReader(b)
}

func readAll(msg *pool.Message) ([]byte, error) {
	body := msg.Body()
	if body == nil {
		return nil, nil
	}
	return ioutil.ReadAll(body)
}
