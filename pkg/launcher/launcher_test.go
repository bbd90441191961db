package launcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskValidate(t *testing.T) {
	cases := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"run ok", Task{Run: &RunTask{Argv: []string{"/bin/sleep", "100"}}}, false},
		{"copy ok", Task{Copy: &CopyTask{Src: []string{"/a"}, Dest: "/b"}}, false},
		{"neither set", Task{}, true},
		{"both set", Task{Run: &RunTask{Argv: []string{"x"}}, Copy: &CopyTask{Src: []string{"a"}, Dest: "b"}}, true},
		{"run empty argv", Task{Run: &RunTask{}}, true},
		{"copy missing dest", Task{Copy: &CopyTask{Src: []string{"a"}}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.task.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIPCRoundTrip(t *testing.T) {
	sock := t.TempDir() + "/ipc.sock"
	done := make(chan error, 1)
	go func() {
		ch, err := ListenChannel(sock)
		if err != nil {
			done <- err
			return
		}
		defer ch.Close()
		if err := ch.SendReady(); err != nil {
			done <- err
			return
		}
		kind, task, _, err := ch.Recv()
		if err != nil {
			done <- err
			return
		}
		if kind != "task" || task == nil || task.Run == nil {
			done <- errUnexpected(kind)
			return
		}
		done <- nil
	}()

	// Give the listener a moment to bind before dialing.
	var client *Channel
	var err error
	for i := 0; i < 50; i++ {
		client, err = DialChannel(sock)
		if err == nil {
			break
		}
	}
	require.NoError(t, err)
	defer client.Close()

	kind, _, _, err := client.Recv()
	require.NoError(t, err)
	require.Equal(t, "ready", kind)

	require.NoError(t, client.SendTask(Task{Run: &RunTask{Argv: []string{"/bin/true"}}}))
	require.NoError(t, <-done)
}

type unexpectedKindErr string

func (e unexpectedKindErr) Error() string { return "unexpected message kind: " + string(e) }

func errUnexpected(kind string) error { return unexpectedKindErr(kind) }
