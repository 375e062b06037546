package ws

import (
	"errors"
	"net/http"

	"github.com/pitchy/client/account"
	"github.com/pitchy/client/api"
	"github.com/pitchy/client/chat"
	"github.com/pitchy/client/draft"
	"github.com/sourcegraph/jsonrpc2"
)

// Application error codes, outside the range reserved by JSON-RPC.
const (
	CodeRequestFailed int64 = -32000
	CodeUnauthorized  int64 = -32001
	CodeNotFound      int64 = -32004
)

// errorData is attached to request failures so clients can branch on the
// HTTP status without parsing the message.
type errorData struct {
	Status int `json:"status,omitempty"`
}

// toRPCError maps a domain or request error to a JSON-RPC error. The message
// is always the user-facing text of err.
func toRPCError(err error) *jsonrpc2.Error {
	rpcErr := &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}

	var reqErr *api.RequestError
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrEntryNotFound):
		rpcErr.Code = CodeNotFound
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrNotFailed),
		errors.Is(err, draft.ErrInvalidDraft),
		errors.Is(err, account.ErrEmptyToken):
		rpcErr.Code = jsonrpc2.CodeInvalidParams
	case errors.As(err, &reqErr):
		rpcErr.Code = CodeRequestFailed
		if reqErr.Status == http.StatusUnauthorized {
			rpcErr.Code = CodeUnauthorized
		}
		rpcErr.SetError(errorData{Status: reqErr.Status})
	}
	return rpcErr
}
