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

// Command commissioner runs a standalone Thread Commissioner: it dials a
// Border Agent over DTLS, petitions for the active commissioner role, and
// serves an operator diagnostics HTTP surface until killed.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	commissioner "github.com/openthread/commissioner-core"
	"github.com/openthread/commissioner-core/joiner"
	"github.com/openthread/commissioner-core/lowbandwidth"
	"github.com/openthread/commissioner-core/meshcop"
	"github.com/sirupsen/logrus"
)

var (
	addr              = flag.String("addr", "", "Border Agent address to dial, host:port")
	id                = flag.String("id", "commissioner", "Commissioner ID sent in COMM_PET.req")
	domainName        = flag.String("domain", "DefaultDomain", "Thread domain name")
	enableCcm         = flag.Bool("ccm", false, "Use CCM (COM_TOK) authentication instead of a pre-shared key")
	psk               = flag.String("psk", "", "Hex-encoded pre-shared key (non-CCM mode)")
	pskHint           = flag.String("psk-hint", "", "PSK identity hint")
	pskd              = flag.String("pskd", "", "PSKd handed to every admitted Joiner (single shared value)")
	steeringHex       = flag.String("steering-data", "", "Hex-encoded Steering Data; empty admits no joiners")
	keepAlive         = flag.Duration("keepalive", 40*time.Second, "COMM_KA interval, must be within [30s,45s]")
	maxConnectionNum  = flag.Int("max-joiners", 1, "Maximum concurrent Joiner Sessions")
	insecure          = flag.Bool("insecure", false, "Skip DTLS peer certificate verification (CCM mode)")
	httpListen        = flag.String("http", "", "Optional operator HTTP listen address, e.g. :8080")
	petitionOnConnect = flag.Bool("petition", true, "Petition for the active commissioner role immediately after connecting")
)

// staticCredentials hands the same PSKd to every admitted Joiner. A real
// deployment would look PSKd up per Joiner ID against an enrollment
// database instead.
type staticCredentials struct{ pskd []byte }

func (s staticCredentials) PSKdForJoiner([]byte) ([]byte, bool) {
	if len(s.pskd) == 0 {
		return nil, false
	}
	return s.pskd, true
}

func main() {
	flag.Parse()
	log := logrus.StandardLogger()

	if *addr == "" {
		log.Fatal("-addr is required")
	}

	cfg := commissioner.Config{
		Id:                *id,
		DomainName:        *domainName,
		EnableCcm:         *enableCcm,
		KeepAliveInterval: *keepAlive,
		MaxConnectionNum:  *maxConnectionNum,
		InsecureSkipVerify: *insecure,
		PSKHint:            []byte(*pskHint),
		Credentials:        staticCredentials{pskd: []byte(*pskd)},
		SteeringData:       steeringDataFromFlag(*steeringHex),
		Logger:             log,
	}

	if *psk != "" {
		b, err := hex.DecodeString(*psk)
		if err != nil {
			log.WithError(err).Fatal("invalid -psk: must be hex")
		}
		cfg.PSK = b
	}

	c, err := commissioner.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to construct commissioner")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Connect(ctx, *addr); err != nil {
		log.WithError(err).Fatalf("failed to connect to %s", *addr)
	}
	log.Infof("connected to Border Agent at %s", *addr)

	if *petitionOnConnect {
		if err := c.Petition(); err != nil {
			log.WithError(err).Fatal("petition failed")
		}
		log.Infof("petitioned successfully, session id %d", c.GetSessionId())
	}

	if *httpListen != "" {
		srv := lowbandwidth.NewServer(c, log, nil)
		go func() {
			log.Infof("operator HTTP surface listening on %s", *httpListen)
			if err := http.ListenAndServe(*httpListen, srv.Handler()); err != nil {
				log.WithError(err).Error("operator HTTP surface stopped")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if err := c.Resign(); err != nil {
		log.WithError(err).Warn("resign failed during shutdown")
	}
	if err := c.Close(); err != nil {
		log.WithError(err).Warn("close failed during shutdown")
	}
}

// steeringDataFromFlag builds the func(.) meshcop.SteeringData the
// Commissioner config wants out of a fixed hex literal; a deployment that
// needs to change its Steering Data at runtime would close over a
// *session.Session-backed value instead of a constant.
func steeringDataFromFlag(h string) func() meshcop.SteeringData {
	if h == "" {
		empty := meshcop.SteeringData{}
		return func() meshcop.SteeringData { return empty }
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		logrus.WithError(err).Fatal("invalid -steering-data: must be hex")
	}
	sd := meshcop.SteeringData(b)
	return func() meshcop.SteeringData { return sd }
}

var _ joiner.CredentialProvider = staticCredentials{}
