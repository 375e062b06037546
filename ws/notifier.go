package ws

import (
	"context"

	"github.com/pitchy/client/watch"
	"github.com/sourcegraph/jsonrpc2"
)

// JSONRPCNotifier delivers watcher notifications over a bridge connection.
type JSONRPCNotifier struct {
	conn *jsonrpc2.Conn
}

var _ watch.Notifier = (*JSONRPCNotifier)(nil)

func NewJSONRPCNotifier(conn *jsonrpc2.Conn) *JSONRPCNotifier {
	return &JSONRPCNotifier{conn: conn}
}

func (n *JSONRPCNotifier) Notify(ctx context.Context, note watch.Notification) error {
	return n.conn.Notify(ctx, note.Method, note.Params)
}
