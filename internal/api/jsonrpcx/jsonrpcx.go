package jsonrpcx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JsonRpcNotification is a JSON-RPC 2.0 notification pushed over SSE
type JsonRpcNotification struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// ApplicationError carries a domain error code in Data
	ApplicationError = -32000
	Unauthorized     = -32001
	RateLimited      = -32002
)

type contextKey string

const errorContextKey contextKey = "jsonrpc_error"

// ErrInvalidVersion is returned for requests that are not JSON-RPC 2.0
var ErrInvalidVersion = errors.New("jsonrpc version must be 2.0")

// maxRequestBytes bounds a control call body; start options are a few hundred bytes
const maxRequestBytes = 64 << 10

// ParseRequest decodes a JSON-RPC 2.0 request from the HTTP body
func ParseRequest(r *http.Request) (*JSONRPCRequest, error) {
	defer r.Body.Close()

	var req JSONRPCRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		return nil, err
	}
	if req.JSONRPC != "2.0" {
		return nil, ErrInvalidVersion
	}
	return &req, nil
}

// Success sends a successful JSON-RPC 2.0 response
func Success(w http.ResponseWriter, id any, result any) {
	Response(w, JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	})
}

// WithError attaches an error to the request for the ErrorAdapter middleware
func WithError(r *http.Request, id any, code int, message string) {
	WithErrorData(r, id, code, message, nil)
}

// WithErrorData is WithError with an error data payload
func WithErrorData(r *http.Request, id any, code int, message string, data any) {
	holder, ok := r.Context().Value(errorContextKey).(*errorHolder)
	if !ok {
		return
	}
	holder.response = &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// errorHolder lets handlers report an error to middleware further up the chain
type errorHolder struct {
	response *JSONRPCResponse
}

// PrepareErrorSlot returns a request whose handlers can report errors through WithError
func PrepareErrorSlot(r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), errorContextKey, &errorHolder{})
	return r.WithContext(ctx)
}

// GetError returns the error response recorded by a handler, if any
func GetError(r *http.Request) (*JSONRPCResponse, bool) {
	holder, ok := r.Context().Value(errorContextKey).(*errorHolder)
	if !ok || holder.response == nil {
		return nil, false
	}
	return holder.response, true
}

// Fail writes an error response directly with the given HTTP status, for
// middleware that answers before any handler runs
func Fail(w http.ResponseWriter, status int, id any, code int, message string) {
	write(w, status, JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message},
		ID:      id,
	})
}

// Response sends a JSON-RPC 2.0 response with HTTP 200
func Response(w http.ResponseWriter, response JSONRPCResponse) {
	write(w, http.StatusOK, response)
}

func write(w http.ResponseWriter, status int, response JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
