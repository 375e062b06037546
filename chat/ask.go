package chat

import (
	"context"
	"net/http"

	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
)

// Ask sends a whole conversation to the stateless chat endpoint and returns
// the reply. Nothing is stored on the server.
func Ask(ctx context.Context, client *api.Client, turns []Turn, cred auth.Credential) (string, error) {
	resp, err := api.Do[askResponse](ctx, client, http.MethodPost, "/chat", askRequest{Messages: turns}, cred)
	if err != nil {
		return "", err
	}
	return resp.Reply, nil
}
