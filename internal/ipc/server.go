package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// requestReadTimeout bounds how long a connected client may take to send its line.
const requestReadTimeout = 2 * time.Second

// Handler processes one validated control command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Serve answers control commands on listener until ctx ends or the listener
// closes. Malformed or unknown commands are answered without reaching handler.
func Serve(ctx context.Context, listener net.Listener, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "ipc")

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			logger.Error("accept control connection failed", "error", err.Error())
			wg.Wait()
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			defer conn.Close()
			resp := serveConn(ctx, conn, handler, logger)
			if err := json.NewEncoder(conn).Encode(resp); err != nil {
				logger.Warn("write control response failed", "error", err.Error())
			}
		}(conn)
	}
}

func serveConn(ctx context.Context, conn net.Conn, handler Handler, logger *slog.Logger) Response {
	_ = conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		logger.Warn("read control request failed", "error", err.Error())
		return errorResponse("read request: %v", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		logger.Warn("decode control request failed", "error", err.Error())
		return errorResponse("decode request: %v", err)
	}
	if err := req.Command.Validate(); err != nil {
		logger.Warn("rejected control request", "command", string(req.Command), "error", err.Error())
		return Response{OK: false, Error: err.Error()}
	}

	logger.Debug("control request", "command", string(req.Command))
	return handler.Handle(ctx, req)
}
