// Package testrpc runs an in-process JSON-RPC endpoint for unit
// tests. It serves the read surface the ingestion pipeline uses,
// eth_blockNumber, eth_getBlockByNumber and eth_getLogs, from
// scripted fixtures, and can fail calls on demand either with a
// JSON-RPC error or with a raw HTTP status.
package testrpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Server is one fake endpoint. All mutators are safe for concurrent
// use with the serving goroutines.
type Server struct {
	srv *httptest.Server

	mu         sync.Mutex
	head       uint64
	timestamps map[uint64]uint64
	logs       []ethtypes.Log
	calls      map[string]int

	// errFn, when set, short-circuits a call with a JSON-RPC error.
	errFn func(method string) error
	// statusFn, when set and returning a non-zero status, answers the
	// whole HTTP request with that status instead of JSON-RPC.
	statusFn func(method string) int
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// New starts a fake endpoint with an empty chain.
func New() *Server {
	s := &Server{
		timestamps: make(map[uint64]uint64),
		calls:      make(map[string]int),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the endpoint address.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the endpoint down.
func (s *Server) Close() { s.srv.Close() }

// SetHead moves the chain head.
func (s *Server) SetHead(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head = n
}

// SetTimestamp fixes the timestamp of one block. Blocks without a
// scripted timestamp answer blockNumber*12.
func (s *Server) SetTimestamp(block, ts uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timestamps[block] = ts
}

// DropTimestamps makes eth_getBlockByNumber fail for every block,
// simulating an endpoint that serves logs but no headers.
func (s *Server) DropTimestamps() {
	s.ScriptError(func(method string) error {
		if method == "eth_getBlockByNumber" {
			return errScripted
		}
		return nil
	})
}

// AddLog appends a log fixture.
func (s *Server) AddLog(l ethtypes.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
}

// SetLogs replaces all log fixtures.
func (s *Server) SetLogs(logs []ethtypes.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append([]ethtypes.Log(nil), logs...)
}

// Calls reports how many times method has been served, including
// scripted failures.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// ScriptError installs fn; a non-nil return fails that call with a
// JSON-RPC error carrying the message.
func (s *Server) ScriptError(fn func(method string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errFn = fn
}

// ScriptHTTPStatus installs fn; a non-zero return answers the request
// with that bare HTTP status. Used to provoke 429 handling.
func (s *Server) ScriptHTTPStatus(fn func(method string) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFn = fn
}

type scriptedError struct{}

func (scriptedError) Error() string { return "scripted failure" }

var errScripted = scriptedError{}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var (
		single rpcRequest
		batch  []rpcRequest
	)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	raw := json.RawMessage{}
	if err := dec.Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	isBatch := len(raw) > 0 && raw[0] == '['
	if isBatch {
		if err := json.Unmarshal(raw, &batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		if err := json.Unmarshal(raw, &single); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		batch = []rpcRequest{single}
	}

	// A scripted HTTP status applies to the whole request.
	s.mu.Lock()
	statusFn := s.statusFn
	s.mu.Unlock()
	if statusFn != nil {
		for _, req := range batch {
			if st := statusFn(req.Method); st != 0 {
				s.countCall(req.Method)
				http.Error(w, http.StatusText(st), st)
				return
			}
		}
	}

	out := make([]rpcResponse, 0, len(batch))
	for _, req := range batch {
		out = append(out, s.serve(req))
	}
	w.Header().Set("Content-Type", "application/json")
	if isBatch {
		json.NewEncoder(w).Encode(out)
	} else {
		json.NewEncoder(w).Encode(out[0])
	}
}

func (s *Server) countCall(method string) {
	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()
}

func (s *Server) serve(req rpcRequest) rpcResponse {
	s.countCall(req.Method)

	s.mu.Lock()
	errFn := s.errFn
	s.mu.Unlock()
	if errFn != nil {
		if err := errFn(req.Method); err != nil {
			return rpcResponse{Jsonrpc: "2.0", ID: req.ID, Error: &rpcError{Code: -32000, Message: err.Error()}}
		}
	}

	switch req.Method {
	case "eth_blockNumber":
		s.mu.Lock()
		head := s.head
		s.mu.Unlock()
		return rpcResponse{Jsonrpc: "2.0", ID: req.ID, Result: hexutil.Uint64(head)}

	case "eth_getBlockByNumber":
		var numArg string
		if len(req.Params) > 0 {
			json.Unmarshal(req.Params[0], &numArg)
		}
		num, ok := s.parseBlockNumber(numArg)
		if !ok {
			return rpcResponse{Jsonrpc: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid block number"}}
		}
		s.mu.Lock()
		ts, scripted := s.timestamps[num]
		head := s.head
		s.mu.Unlock()
		if num > head {
			return rpcResponse{Jsonrpc: "2.0", ID: req.ID, Result: json.RawMessage("null")}
		}
		if !scripted {
			ts = num * 12
		}
		header := &ethtypes.Header{
			Number:     new(big.Int).SetUint64(num),
			Time:       ts,
			Difficulty: new(big.Int),
		}
		return rpcResponse{Jsonrpc: "2.0", ID: req.ID, Result: header}

	case "eth_getLogs":
		var filter struct {
			FromBlock string          `json:"fromBlock"`
			ToBlock   string          `json:"toBlock"`
			Address   json.RawMessage `json:"address"`
			Topics    [][]string      `json:"topics"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params[0], &filter); err != nil {
				return rpcResponse{Jsonrpc: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: err.Error()}}
			}
		}
		from, _ := s.parseBlockNumber(filter.FromBlock)
		to, ok := s.parseBlockNumber(filter.ToBlock)
		if !ok {
			s.mu.Lock()
			to = s.head
			s.mu.Unlock()
		}
		addrs := parseAddressFilter(filter.Address)
		matched := s.matchLogs(from, to, addrs, filter.Topics)
		return rpcResponse{Jsonrpc: "2.0", ID: req.ID, Result: matched}

	default:
		return rpcResponse{Jsonrpc: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "the method " + req.Method + " does not exist"}}
	}
}

func (s *Server) parseBlockNumber(arg string) (uint64, bool) {
	switch arg {
	case "", "latest", "pending", "safe", "finalized":
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.head, arg != ""
	case "earliest":
		return 0, true
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseAddressFilter(raw json.RawMessage) []common.Address {
	if len(raw) == 0 {
		return nil
	}
	var many []common.Address
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one common.Address
	if err := json.Unmarshal(raw, &one); err == nil {
		return []common.Address{one}
	}
	return nil
}

func (s *Server) matchLogs(from, to uint64, addrs []common.Address, topics [][]string) []ethtypes.Log {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []ethtypes.Log{}
	for _, l := range s.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(addrs) > 0 && !containsAddress(addrs, l.Address) {
			continue
		}
		if !matchTopics(topics, l.Topics) {
			continue
		}
		matched = append(matched, l)
	}
	return matched
}

func containsAddress(addrs []common.Address, a common.Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}

// matchTopics applies the positional topic filter semantics of
// eth_getLogs: each position is an OR list, an empty list is a
// wildcard.
func matchTopics(filter [][]string, topics []common.Hash) bool {
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		ok := false
		for _, alt := range alternatives {
			if common.HexToHash(alt) == topics[i] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
