// Package cluster implements the QUIC-based transport between rk8s-agent
// and the master: a connect-with-retry client, an accept loop on the
// server side, and a small tagged-byte framing format carrying YAML
// payloads (the same struct tags pkg/apis types already carry for KV
// storage, reused here instead of inventing a second encoding).
package cluster

import (
	"encoding/binary"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

// MessageType tags every frame so the receiver knows which payload struct
// to decode into without a type registry or reflection.
type MessageType byte

const (
	CreatePod    MessageType = 0x01
	DeletePod    MessageType = 0x02
	ListPod      MessageType = 0x03
	GetNodeCount MessageType = 0x04
	RegisterNode MessageType = 0x05
	UserRequest  MessageType = 0x06
	Heartbeat    MessageType = 0x07
	SetNetwork   MessageType = 0x08
	UpdateRoutes MessageType = 0x09

	Ack        MessageType = 0x81
	ErrorMsg   MessageType = 0x82
	NodeCount  MessageType = 0x83
	ListPodRes MessageType = 0x84
)

func (t MessageType) String() string {
	switch t {
	case CreatePod:
		return "CreatePod"
	case DeletePod:
		return "DeletePod"
	case ListPod:
		return "ListPod"
	case GetNodeCount:
		return "GetNodeCount"
	case RegisterNode:
		return "RegisterNode"
	case UserRequest:
		return "UserRequest"
	case Heartbeat:
		return "Heartbeat"
	case SetNetwork:
		return "SetNetwork"
	case UpdateRoutes:
		return "UpdateRoutes"
	case Ack:
		return "Ack"
	case ErrorMsg:
		return "Error"
	case NodeCount:
		return "NodeCount"
	case ListPodRes:
		return "ListPodRes"
	default:
		return fmt.Sprintf("MessageType(0x%02x)", byte(t))
	}
}

// Payload variants, one struct per MessageType that carries data.
type (
	CreatePodMsg struct {
		Pod apis.Pod `yaml:"pod"`
	}
	DeletePodMsg struct {
		Name string `yaml:"name"`
	}
	RegisterNodeMsg struct {
		Node apis.Node `yaml:"node"`
	}
	UserRequestMsg struct {
		Text string `yaml:"text"`
	}
	HeartbeatMsg struct {
		NodeName string `yaml:"node_name"`
	}
	SetNetworkMsg struct {
		Lease apis.SubnetLease `yaml:"lease"`
	}
	RouteEntry struct {
		Dst     string `yaml:"dst"`
		Gateway string `yaml:"gateway"`
	}
	UpdateRoutesMsg struct {
		Routes []RouteEntry `yaml:"routes"`
	}
	ErrorMessage struct {
		Kind    string `yaml:"kind"`
		Message string `yaml:"message"`
	}
	NodeCountMsg struct {
		Count int `yaml:"count"`
	}
	ListPodResMsg struct {
		Pods []apis.Pod `yaml:"pods"`
	}
)

// maxFrameBytes bounds a single frame's payload so a corrupt or hostile
// peer cannot make a reader allocate an unbounded buffer from a forged
// length prefix.
const maxFrameBytes = 16 << 20

// WriteFrame marshals payload (nil allowed, for tags like ListPod that
// carry no body) to YAML and writes it as:
// [tag byte][request id, 8 bytes BE][length, 4 bytes BE][payload bytes].
func WriteFrame(w io.Writer, requestID uint64, tag MessageType, payload any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = yaml.Marshal(payload)
		if err != nil {
			return apis.WithKind(apis.ErrConfiguration, "cluster encode", err)
		}
	}
	header := make([]byte, 13)
	header[0] = byte(tag)
	binary.BigEndian.PutUint64(header[1:9], requestID)
	binary.BigEndian.PutUint32(header[9:13], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return apis.WithKind(apis.ErrTransport, "cluster write header", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return apis.WithKind(apis.ErrTransport, "cluster write body", err)
		}
	}
	return nil
}

// Frame is a received message with its payload left undecoded, since only
// the caller knows which struct the tag implies.
type Frame struct {
	RequestID uint64
	Type      MessageType
	Body      []byte
}

// ReadFrame reads exactly one frame from r, blocking until the header and
// body have both arrived (the quic-go stream read side this is used over
// already frames at the stream boundary, but the length prefix is kept so
// a sender can push multiple frames down one stream if a future variant
// needs to).
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, 13)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, apis.WithKind(apis.ErrTransport, "cluster read header", err)
	}
	length := binary.BigEndian.Uint32(header[9:13])
	if length > maxFrameBytes {
		return Frame{}, apis.WithKind(apis.ErrTransport, "cluster read header",
			fmt.Errorf("frame length %d exceeds max %d", length, maxFrameBytes))
	}
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, apis.WithKind(apis.ErrTransport, "cluster read body", err)
		}
	}
	return Frame{
		RequestID: binary.BigEndian.Uint64(header[1:9]),
		Type:      MessageType(header[0]),
		Body:      body,
	}, nil
}

// Decode unmarshals f.Body into dst, which must be a pointer to the struct
// the frame's Type implies.
func Decode(f Frame, dst any) error {
	if len(f.Body) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(f.Body, dst); err != nil {
		return apis.WithKind(apis.ErrConfiguration, "cluster decode "+f.Type.String(), err)
	}
	return nil
}
