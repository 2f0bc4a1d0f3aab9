package lowbandwidth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	commissioner "github.com/openthread/commissioner-core"
	"github.com/openthread/commissioner-core/cborbridge"
	"github.com/openthread/commissioner-core/tlv"
)

// Logger is the same minimal interface coap_http.go exposes: entirely
// optional, errors are silent when it's nil.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Server is an HTTP front end over one commissioner.Commissioner, for
// operator tooling that would rather speak REST than drive the facade's
// Go API directly.
type Server struct {
	C     *commissioner.Commissioner
	Log   Logger
	Codec *cborbridge.Codec // content-negotiated against Accept/Content-Type
}

// NewServer wraps c. A nil logger disables logging; codec defaults to
// cborbridge.New1(false) if nil.
func NewServer(c *commissioner.Commissioner, log Logger, codec *cborbridge.Codec) *Server {
	if codec == nil {
		codec = cborbridge.New1(false)
	}
	return &Server{C: c, Log: log, Codec: codec}
}

func (s *Server) logf(format string, v ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, v...)
	}
}

// Handler returns the routed http.Handler for this Server's REST surface:
//
//	GET  /dataset/active      current Active Dataset
//	PUT  /dataset/active      MGMT_ACTIVE_SET.req with the given dataset
//	GET  /dataset/pending     current Pending Dataset
//	PUT  /dataset/pending     MGMT_PENDING_SET.req with the given dataset
//	GET  /session             session state, id, CCM mode, domain name
//	POST /session/petition    LEADER_PETITION, blocks until answered
//	POST /session/resign      Resign
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/dataset/active", s.cbor(s.handleActiveDataset))
	mux.HandleFunc("/dataset/pending", s.cbor(s.handlePendingDataset))
	mux.HandleFunc("/session", s.cbor(s.handleSession))
	mux.HandleFunc("/session/petition", s.cbor(s.handlePetition))
	mux.HandleFunc("/session/resign", s.cbor(s.handleResign))
	return mux
}

// cbor wraps next with the same request/response CBOR⇄JSON transcoding
// CBORToJSONHandler performs in the teacher: a CBOR request body is
// rewritten to JSON before next runs, and next's JSON response is
// rewritten to CBOR on the way out when the client asked for it.
func (s *Server) cbor(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") == "application/cbor" && r.Body != nil {
			body, err := s.Codec.CBORToJSON(r.Body)
			if err != nil {
				s.logf("lowbandwidth: CBORToJSON: %s", err)
				http.Error(w, "bad cbor body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.Header.Set("Content-Type", "application/json")
		}
		wantsCBOR := r.Header.Get("Accept") == "application/cbor"
		next(&cborResponseWriter{ResponseWriter: w, codec: s.Codec, wantsCBOR: wantsCBOR, log: s.Log}, r)
	}
}

func (s *Server) handleActiveDataset(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		set, err := s.C.GetActiveDataset()
		writeDataset(w, set, err)
	case http.MethodPut:
		set, err := readDataset(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeResult(w, s.C.SetActiveDataset(set))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePendingDataset(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		set, err := s.C.GetPendingDataset()
		writeDataset(w, set, err)
	case http.MethodPut:
		set, err := readDataset(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeResult(w, s.C.SetPendingDataset(set))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// readDataset decodes a PUT body (already transcoded to JSON by the cbor
// middleware if the client sent CBOR) into a dataset TLV set.
func readDataset(r *http.Request) (tlv.Set, error) {
	var m map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		return nil, err
	}
	return jsonToSet(m)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":         s.C.GetState().String(),
		"session_id":    s.C.GetSessionId(),
		"is_ccm_mode":   s.C.IsCcmMode(),
		"domain_name":   s.C.GetDomainName(),
	})
}

func (s *Server) handlePetition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeResult(w, s.C.Petition())
}

func (s *Server) handleResign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeResult(w, s.C.Resign())
}

func writeDataset(w http.ResponseWriter, set tlv.Set, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, setToJSON(set))
}

func writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// cborResponseWriter is jsonToCBORWriter, generalized to the Server's
// cborbridge.Codec and gated on an explicit Accept header instead of
// inferring CBOR-ness from a Content-Type the handler happens to set.
type cborResponseWriter struct {
	http.ResponseWriter
	codec      *cborbridge.Codec
	wantsCBOR  bool
	log        Logger
	wroteCBOR  bool
}

func (c *cborResponseWriter) WriteHeader(statusCode int) {
	if c.wantsCBOR && c.Header().Get("Content-Type") == "application/json" {
		c.wroteCBOR = true
		c.Header().Set("Content-Type", "application/cbor")
	}
	c.ResponseWriter.WriteHeader(statusCode)
}

func (c *cborResponseWriter) Write(data []byte) (int, error) {
	if !c.wroteCBOR {
		return c.ResponseWriter.Write(data)
	}
	out, err := c.codec.JSONToCBOR(bytes.NewReader(data))
	if err != nil {
		if c.log != nil {
			c.log.Printf("lowbandwidth: JSONToCBOR: %s", err)
		}
		return len(data), err
	}
	return c.ResponseWriter.Write(out)
}
