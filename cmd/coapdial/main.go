// Copyright 2021 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command coapdial issues a single CoAP-over-DTLS request against a
// Border Agent, for manual protocol probing outside of a full
// commissioner session.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"
	"time"

	"github.com/openthread/commissioner-core/coapengine"
	"github.com/openthread/commissioner-core/dtlstransport"
	"github.com/plgd-dev/go-coap/v2/message/codes"
	"github.com/sirupsen/logrus"
)

var (
	flagMethod      string
	flagPath        string
	flagDataHex     string
	flagPSK         string
	flagPSKHint     string
	flagInsecure    bool
	flagConfirmable bool
	flagTimeout     time.Duration
)

func init() {
	flag.StringVar(&flagMethod, "X", "GET", "CoAP method (GET, POST)")
	flag.StringVar(&flagPath, "path", "/", "CoAP URI path, e.g. c/cp for LEADER_PETITION.req")
	flag.StringVar(&flagDataHex, "d", "", "Hex-encoded request payload. '@file' reads from a file, '-' reads from stdin.")
	flag.StringVar(&flagPSK, "psk", "", "Hex-encoded pre-shared key")
	flag.StringVar(&flagPSKHint, "psk-hint", "", "PSK identity hint")
	flag.BoolVar(&flagInsecure, "k", false, "Skip DTLS peer certificate verification")
	flag.BoolVar(&flagConfirmable, "confirmable", true, "Send as a Confirmable message")
	flag.DurationVar(&flagTimeout, "timeout", 10*time.Second, "Request timeout")
}

func readPayload() []byte {
	var r io.Reader
	switch {
	case flagDataHex == "":
		return nil
	case flagDataHex == "-":
		r = os.Stdin
	case strings.HasPrefix(flagDataHex, "@"):
		f, err := os.Open(flagDataHex[1:])
		if err != nil {
			log.Fatalf("reading payload file: %s", err)
		}
		defer f.Close()
		r = f
	default:
		r = bytes.NewBufferString(flagDataHex)
	}
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		log.Fatalf("reading payload: %s", err)
	}
	b, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		log.Fatalf("payload must be hex: %s", err)
	}
	return b
}

func main() {
	flag.Parse()
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of coapdial:\n")
		flag.PrintDefaults()
		fmt.Println("Example: ./coapdial -psk 414243 -path c/cp -d 0011 192.0.2.1:19791")
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	addr := flag.Arg(0)

	params := dtlstransport.DefaultParams()
	params.InsecureSkipVerify = flagInsecure
	if flagPSK != "" {
		psk, err := hex.DecodeString(flagPSK)
		if err != nil {
			log.Fatalf("invalid -psk: %s", err)
		}
		params.PSK = psk
	}
	params.PSKHint = []byte(flagPSKHint)

	pool := dtlstransport.NewPool(logrus.NewEntry(logrus.StandardLogger()))
	conn, err := pool.Dial("coapdial", addr, params)
	if err != nil {
		log.Fatalf("dial %s: %s", addr, err)
	}
	defer pool.CloseAll()

	engine := coapengine.New(conn)
	defer engine.Close()

	method := codes.GET
	if strings.EqualFold(flagMethod, "POST") {
		method = codes.POST
	}

	ctx, cancel := context.WithTimeout(context.Background(), flagTimeout)
	defer cancel()

	resp, err := engine.Do(ctx, coapengine.Request{
		Method:      method,
		Path:        flagPath,
		Payload:     readPayload(),
		Confirmable: flagConfirmable,
	})
	if err != nil {
		log.Fatalf("request failed: %s", err)
	}
	fmt.Printf("%s\n%s\n", resp.Code, hex.EncodeToString(resp.Payload))
}
