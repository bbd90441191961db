package cluster

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rk8s-dev/rk8s/pkg/apis"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := CreatePodMsg{Pod: apis.Pod{Name: "p1"}}
	require.NoError(t, WriteFrame(&buf, 42, CreatePod, msg))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(42), f.RequestID)
	require.Equal(t, CreatePod, f.Type)

	var got CreatePodMsg
	require.NoError(t, Decode(f, &got))
	require.Equal(t, "p1", got.Pod.Name)
}

func TestWriteFrameNilPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, 1, ListPod, nil))
	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, f.Body)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{byte(CreatePod), 0, 0, 0, 0, 0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestMessageTypeStringKnownAndUnknown(t *testing.T) {
	require.Equal(t, "CreatePod", CreatePod.String())
	require.Contains(t, MessageType(0x99).String(), "0x99")
}
