package launcher

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// Environment variables recognized by the mount engine process.
const (
	EnvParentServerName = "PARENT_SERVER_NAME"
	EnvChildServerName  = "CHILD_SERVER_NAME"
	EnvMountPID         = "MOUNT_PID"
)

// message is the JSON envelope sent over the unix-domain IPC channel. The
// cluster transport (pkg/cluster) uses its own framing (a binary header
// followed by a YAML body); this local parent<->mount-engine channel is a
// much smaller surface, so plain JSON over a unix socket is used here.
type message struct {
	Kind string `json:"kind"` // "ready" | "task" | "exit" | "result"
	Task *Task  `json:"task,omitempty"`
	Result *Result `json:"result,omitempty"`
}

// Channel wraps a unix-domain socket connection carrying newline-delimited
// JSON messages, one per line.
type Channel struct {
	conn net.Conn
	dec  *json.Decoder
}

// ListenChannel creates (or reuses) a unix socket bound at name and accepts
// exactly one connection on it. Every message kind (ready/task/exit/result)
// travels over that one connection.
func ListenChannel(name string) (*Channel, error) {
	_ = os.Remove(name)
	ln, err := net.Listen("unix", name)
	if err != nil {
		return nil, apis.WithKind(apis.ErrResource, "ipc listen "+name, err)
	}
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		return nil, apis.WithKind(apis.ErrResource, "ipc accept "+name, err)
	}
	return &Channel{conn: conn, dec: json.NewDecoder(conn)}, nil
}

// DialChannel connects to a socket previously bound by ListenChannel.
func DialChannel(name string) (*Channel, error) {
	conn, err := net.Dial("unix", name)
	if err != nil {
		return nil, apis.WithKind(apis.ErrTransport, "ipc dial "+name, err)
	}
	return &Channel{conn: conn, dec: json.NewDecoder(conn)}, nil
}

func (c *Channel) Close() error { return c.conn.Close() }

func (c *Channel) sendKind(kind string) error {
	return json.NewEncoder(c.conn).Encode(message{Kind: kind})
}

// SendReady is sent by the mount engine once its namespace and mounts are
// up, unblocking the launcher's ordering guarantee ("never execute a task
// before receiving ready").
func (c *Channel) SendReady() error { return c.sendKind("ready") }

// SendExit is the only cancel primitive: it tells the mount engine to
// unmount and terminate.
func (c *Channel) SendExit() error { return c.sendKind("exit") }

// SendTask forwards a run/copy request to the mount-engine side.
func (c *Channel) SendTask(t Task) error {
	return json.NewEncoder(c.conn).Encode(message{Kind: "task", Task: &t})
}

// SendResult reports a Copy task's outcome back to the parent.
func (c *Channel) SendResult(r Result) error {
	return json.NewEncoder(c.conn).Encode(message{Kind: "result", Result: &r})
}

// Recv reads the next message, blocking. A closed/broken channel is
// reported as ErrTransport so the mount engine can treat it the same as an
// explicit exit: abrupt death of the launcher surfaces as a broken channel,
// and the mount engine tears down in response.
func (c *Channel) Recv() (kind string, task *Task, result *Result, err error) {
	var m message
	if decErr := c.dec.Decode(&m); decErr != nil {
		return "", nil, nil, apis.WithKind(apis.ErrTransport, "ipc recv", fmt.Errorf("channel closed or broken: %w", decErr))
	}
	return m.Kind, m.Task, m.Result, nil
}
