//go:build windows

package ipc

import (
	"bufio"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/windows"

	"github.com/aibridge/bridge/internal/bridgeerr"
)

const pipeBufferSize = 64 * 1024

// NamedPipeChannel is the Windows implementation of Channel, built on
// golang.org/x/sys/windows (already a teacher dependency, pulled in
// transitively via NATS; used here directly for CreateNamedPipe/
// ConnectNamedPipe — no pack example wires a named pipe directly, so
// this follows the documented Win32 named-pipe server sequence).
type NamedPipeChannel struct {
	name string // e.g. \\.\pipe\aibridge-<ai>

	mu        sync.Mutex
	handle    windows.Handle
	onData    func(string)
	onError   func(error)
	created   bool
	destroyed bool
}

// NewChannel returns a Windows named-pipe backed Channel. name should
// already be in \\.\pipe\<name> form.
func NewChannel(name string) Channel {
	return &NamedPipeChannel{name: name}
}

func (c *NamedPipeChannel) Create(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created {
		return nil
	}

	namePtr, err := windows.UTF16PtrFromString(c.name)
	if err != nil {
		return fmt.Errorf("%w: invalid pipe name %s: %v", bridgeerr.ErrIPCUnavailable, c.name, err)
	}

	handle, err := windows.CreateNamedPipe(
		namePtr,
		windows.PIPE_ACCESS_DUPLEX,
		windows.PIPE_TYPE_MESSAGE|windows.PIPE_READMODE_MESSAGE|windows.PIPE_WAIT,
		windows.PIPE_UNLIMITED_INSTANCES,
		pipeBufferSize,
		pipeBufferSize,
		0,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%w: CreateNamedPipe %s: %v", bridgeerr.ErrIPCUnavailable, c.name, err)
	}

	c.handle = handle
	c.created = true
	go c.acceptAndReadLoop()
	return nil
}

func (c *NamedPipeChannel) acceptAndReadLoop() {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == 0 {
		return
	}

	// ConnectNamedPipe blocks until the secondary CLI's reader opens
	// its end; a direct ERROR_PIPE_CONNECTED return means a client
	// connected between creation and this call, which is not an error.
	if err := windows.ConnectNamedPipe(handle, nil); err != nil && err != windows.ERROR_PIPE_CONNECTED {
		c.mu.Lock()
		cb := c.onError
		destroyed := c.destroyed
		c.mu.Unlock()
		if !destroyed && cb != nil {
			cb(fmt.Errorf("%w: ConnectNamedPipe: %v", bridgeerr.ErrIPCUnavailable, err))
		}
		return
	}

	scanner := bufio.NewScanner(readerFromHandle{handle: handle})
	for scanner.Scan() {
		c.mu.Lock()
		cb := c.onData
		destroyed := c.destroyed
		c.mu.Unlock()
		if destroyed {
			return
		}
		if cb != nil {
			cb(scanner.Text())
		}
	}
}

func (c *NamedPipeChannel) Write(ctx context.Context, text string) error {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle == 0 {
		return fmt.Errorf("%w: channel not created", bridgeerr.ErrIPCUnavailable)
	}

	data := []byte(text)
	var written uint32
	err := windows.WriteFile(handle, data, &written, nil)
	if err != nil {
		return fmt.Errorf("%w: WriteFile: %v", bridgeerr.ErrIPCUnavailable, err)
	}
	if int(written) != len(data) {
		return fmt.Errorf("%w: short write to named pipe", bridgeerr.ErrIPCUnavailable)
	}
	return nil
}

func (c *NamedPipeChannel) OnData(callback func(line string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = callback
}

func (c *NamedPipeChannel) OnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

func (c *NamedPipeChannel) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	c.destroyed = true

	if c.handle != 0 {
		windows.DisconnectNamedPipe(c.handle)
		return windows.CloseHandle(c.handle)
	}
	return nil
}

// readerFromHandle adapts a raw windows.Handle into an io.Reader so
// bufio.Scanner can read from it without going through os.NewFile.
type readerFromHandle struct {
	handle windows.Handle
}

func (r readerFromHandle) Read(p []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(r.handle, p, &n, nil)
	if err != nil {
		return int(n), err
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: zero-length read", bridgeerr.ErrIPCUnavailable)
	}
	return int(n), nil
}
