package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testOwner struct {
	path  string
	calls atomic.Int32
	logs  *bytes.Buffer
	stop  func()
}

func startOwner(t *testing.T, handle func(Request) Response) *testOwner {
	t.Helper()
	owner := &testOwner{path: filepath.Join(t.TempDir(), "notecap.sock"), logs: &bytes.Buffer{}}

	listener, err := net.Listen("unix", owner.path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewJSONHandler(owner.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, listener, HandlerFunc(func(_ context.Context, req Request) Response {
			owner.calls.Add(1)
			return handle(req)
		}), logger)
	}()

	var once atomic.Bool
	owner.stop = func() {
		if once.Swap(true) {
			return
		}
		cancel()
		require.NoError(t, <-done)
	}
	t.Cleanup(owner.stop)
	return owner
}

func rawExchange(t *testing.T, path, line string) Response {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(line))
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(reply, &resp))
	return resp
}

func TestSendStatusRoundTrip(t *testing.T) {
	owner := startOwner(t, func(req Request) Response {
		require.Equal(t, CommandStatus, req.Command)
		return Response{OK: true, State: "capturing", Mode: "voice", Elapsed: 12, Limit: 60, Message: "status"}
	})

	resp, err := Send(context.Background(), owner.path, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, Response{OK: true, State: "capturing", Mode: "voice", Elapsed: 12, Limit: 60, Message: "status"}, resp)
	require.Equal(t, int32(1), owner.calls.Load())
}

func TestServeRejectsUnknownCommandBeforeHandler(t *testing.T) {
	owner := startOwner(t, func(Request) Response { return Response{OK: true} })

	resp := rawExchange(t, owner.path, `{"command":"toggle"}`+"\n")
	require.False(t, resp.OK)
	require.Equal(t, "unknown command: toggle", resp.Error)

	resp = rawExchange(t, owner.path, `{}`+"\n")
	require.False(t, resp.OK)
	require.Equal(t, "missing command", resp.Error)

	owner.stop()
	require.Equal(t, int32(0), owner.calls.Load())
	require.Contains(t, owner.logs.String(), `"msg":"rejected control request"`)
	require.Contains(t, owner.logs.String(), `"command":"toggle"`)
}

func TestServeLogsUndecodableRequest(t *testing.T) {
	owner := startOwner(t, func(Request) Response { return Response{OK: true} })

	resp := rawExchange(t, owner.path, "not-json\n")
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")

	owner.stop()
	require.Equal(t, int32(0), owner.calls.Load())
	require.Contains(t, owner.logs.String(), `"msg":"decode control request failed"`)
	require.Contains(t, owner.logs.String(), `"component":"ipc"`)
}

func TestServeDispatchesEachOwnerCommand(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []Command
	)
	owner := startOwner(t, func(req Request) Response {
		mu.Lock()
		seen = append(seen, req.Command)
		mu.Unlock()
		return Response{OK: true, Message: string(req.Command) + " requested"}
	})

	for _, cmd := range []Command{CommandStatus, CommandStop, CommandCancel} {
		resp, err := Send(context.Background(), owner.path, Request{Command: cmd}, 200*time.Millisecond)
		require.NoError(t, err)
		require.Equal(t, string(cmd)+" requested", resp.Message)
	}
	owner.stop()
	require.Equal(t, []Command{CommandStatus, CommandStop, CommandCancel}, seen)
}

func TestSendRejectsInvalidCommandWithoutDialing(t *testing.T) {
	_, err := Send(context.Background(), filepath.Join(t.TempDir(), "absent.sock"), Request{Command: "pause"}, 50*time.Millisecond)
	require.EqualError(t, err, "unknown command: pause")
	require.False(t, NoOwner(err))
}

func TestSendDecodeResponseError(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "notecap.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			return
		}
		defer conn.Close()
		_, _ = bufio.NewReader(conn).ReadBytes('\n')
		_, _ = conn.Write([]byte("not-json\n"))
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: CommandStop}, 200*time.Millisecond)
	require.ErrorContains(t, err, "decode response")
}

func TestProbe(t *testing.T) {
	owner := startOwner(t, func(Request) Response { return Response{OK: true, State: "idle"} })

	alive, err := Probe(context.Background(), owner.path, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, alive)

	owner.stop()
	alive, err = Probe(context.Background(), owner.path, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestNoOwner(t *testing.T) {
	require.False(t, NoOwner(nil))
	require.True(t, NoOwner(os.ErrNotExist))
	require.True(t, NoOwner(syscall.ECONNREFUSED))
	require.True(t, NoOwner(errors.New("dial unix /tmp/notecap.sock: no such file or directory")))
	require.False(t, NoOwner(errors.New("i/o timeout")))
}

func TestCommandValidate(t *testing.T) {
	for _, cmd := range []Command{CommandStatus, CommandStop, CommandCancel} {
		require.NoError(t, cmd.Validate())
	}
	require.EqualError(t, Command("").Validate(), "missing command")
	require.EqualError(t, Command("STOP").Validate(), "unknown command: STOP")
}
