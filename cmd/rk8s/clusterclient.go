package main

import (
	"context"
	"time"

	"github.com/rk8s-dev/rk8s/pkg/cluster"
)

// callMaster opens a single connection to the master, sends
// UserRequest("Hello") as its first message, issues one request, and tears
// the connection down — the right shape for a one-shot CLI invocation
// rather than the long-lived connection a daemon keeps open.
func callMaster(ctx context.Context, tag cluster.MessageType, payload any) (cluster.Frame, error) {
	conn, err := cluster.DialRetry(ctx, masterAddr, 2*time.Second)
	if err != nil {
		return cluster.Frame{}, err
	}
	client := cluster.NewClient(conn)
	defer client.Close()
	if _, err := resultError(client.Call(ctx, cluster.UserRequest, cluster.UserRequestMsg{Text: "Hello"})); err != nil {
		return cluster.Frame{}, err
	}
	return client.Call(ctx, tag, payload)
}

// resultError turns a master ErrorMsg response into a Go error; Ack/any
// other tag means the call succeeded.
func resultError(resp cluster.Frame, err error) (cluster.Frame, error) {
	if err != nil {
		return resp, err
	}
	if resp.Type == cluster.ErrorMsg {
		var em cluster.ErrorMessage
		if decErr := cluster.Decode(resp, &em); decErr != nil {
			return resp, decErr
		}
		return resp, clusterError{kind: em.Kind, message: em.Message}
	}
	return resp, nil
}

type clusterError struct{ kind, message string }

func (e clusterError) Error() string { return e.kind + ": " + e.message }
