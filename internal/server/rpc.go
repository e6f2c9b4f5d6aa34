package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/copyleftdev/hypertune/internal/store"
	"github.com/copyleftdev/hypertune/internal/study"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
	rpcNotFound       = -32001
	rpcConflict       = -32002
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcError is an error that carries its JSON-RPC code.
type rpcError struct {
	code int
	err  error
}

func (e *rpcError) Error() string { return e.err.Error() }
func (e *rpcError) Unwrap() error { return e.err }

func invalidParams(format string, args ...interface{}) error {
	return &rpcError{code: rpcInvalidParams, err: fmt.Errorf(format, args...)}
}

// handleJSONRPC handles JSON-RPC 2.0 requests.
//
// Methods:
//   - study.start   params: a study object; result: the new run
//   - study.status  params: {"id": "..."}; result: the run with progress
//   - study.observations params: {"id": "..."}; result: the observations
//   - study.cancel  params: {"id": "..."}; result: {"status": "cancellation requested"}
//   - study.list    result: all runs
//
// Params may also be a single-element array holding the object.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStudyBytes)).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	params, err := unwrapParams(request.Params)
	if err != nil {
		s.respondWithError(w, rpcInvalidParams, err.Error(), request.ID)
		return
	}

	var result interface{}
	ctx := r.Context()

	switch request.Method {
	case "study.start":
		result, err = s.rpcStart(r, params)
	case "study.status":
		var id string
		if id, err = runID(params); err == nil {
			result, err = s.Status(ctx, id)
		}
	case "study.observations":
		var id string
		if id, err = runID(params); err == nil {
			result, err = s.store.Observations(ctx, id)
		}
	case "study.cancel":
		var id string
		if id, err = runID(params); err == nil {
			if err = s.Cancel(ctx, id); err == nil {
				result = map[string]string{"status": "cancellation requested"}
			}
		}
	case "study.list":
		result, err = s.store.ListRuns(ctx)
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), request.ID)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

func (s *Server) rpcStart(r *http.Request, params json.RawMessage) (interface{}, error) {
	if len(params) == 0 {
		return nil, invalidParams("missing study")
	}
	spec, err := study.Parse(params)
	if err != nil {
		return nil, &rpcError{code: rpcInvalidParams, err: err}
	}
	run, err := s.StartStudy(r.Context(), spec)
	if err != nil {
		return nil, err
	}
	return RunView{Run: run}, nil
}

// unwrapParams accepts an object or a one-element array holding an object.
func unwrapParams(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return raw, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	default:
		return nil, errors.New("expected a single params object")
	}
}

func runID(params json.RawMessage) (string, error) {
	var p struct {
		ID string `json:"id"`
	}
	if len(params) == 0 {
		return "", invalidParams("id is required")
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", invalidParams("invalid parameter format, expected object")
	}
	if p.ID == "" {
		return "", invalidParams("id is required")
	}
	return p.ID, nil
}

func rpcCode(err error) int {
	var re *rpcError
	switch {
	case errors.As(err, &re):
		return re.code
	case errors.Is(err, store.ErrNotFound):
		return rpcNotFound
	case errors.Is(err, errInvalidStudy):
		return rpcInvalidParams
	case errors.Is(err, errNotActive):
		return rpcConflict
	default:
		return rpcServerError
	}
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("JSON-RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	s.writeJSON(w, http.StatusOK, response)
}
