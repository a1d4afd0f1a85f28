//go:build !windows

package ipc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/aibridge/bridge/internal/bridgeerr"
)

// FIFOChannel is the Unix implementation of Channel, grounded on the
// FIFO-with-O_RDWR pattern in
// other_examples/b5dd9d5f_terraphim-ntm's pane_streamer.go: a FIFO
// opened O_RDWR (not O_RDONLY) so the open() call does not block
// waiting for a writer, letting the reader goroutine start
// immediately and simply block on reads instead.
type FIFOChannel struct {
	path string

	mu        sync.Mutex
	file      *os.File
	onData    func(string)
	onError   func(error)
	created   bool
	destroyed bool
}

// NewChannel returns a FIFO-backed Channel rooted at path (typically
// under the orchestrator's runDir, e.g. runDir/<aiName>/in.fifo).
func NewChannel(path string) Channel {
	return &FIFOChannel{path: path}
}

func (c *FIFOChannel) Create(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.created {
		return nil
	}

	_ = os.Remove(c.path) // clear a stale FIFO from a crashed prior run
	if err := unix.Mkfifo(c.path, 0o600); err != nil {
		return fmt.Errorf("%w: mkfifo %s: %v", bridgeerr.ErrIPCUnavailable, c.path, err)
	}

	f, err := os.OpenFile(c.path, os.O_RDWR, os.ModeNamedPipe)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", bridgeerr.ErrIPCUnavailable, c.path, err)
	}

	c.file = f
	c.created = true
	go c.readLoop()
	return nil
}

func (c *FIFOChannel) readLoop() {
	c.mu.Lock()
	f := c.file
	c.mu.Unlock()
	if f == nil {
		return
	}

	scanner := bufio.NewScanner(f)
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
	if err := scanner.Err(); err != nil {
		c.mu.Lock()
		cb := c.onError
		destroyed := c.destroyed
		c.mu.Unlock()
		if !destroyed && cb != nil {
			cb(fmt.Errorf("%w: %v", bridgeerr.ErrIPCUnavailable, err))
		}
	}
}

func (c *FIFOChannel) Write(ctx context.Context, text string) error {
	c.mu.Lock()
	f := c.file
	c.mu.Unlock()
	if f == nil {
		return fmt.Errorf("%w: channel not created", bridgeerr.ErrIPCUnavailable)
	}

	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("%w: write: %v", bridgeerr.ErrIPCUnavailable, err)
	}
	return nil
}

func (c *FIFOChannel) OnData(callback func(line string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onData = callback
}

func (c *FIFOChannel) OnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

func (c *FIFOChannel) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	c.destroyed = true

	var err error
	if c.file != nil {
		err = c.file.Close()
	}
	_ = os.Remove(c.path)
	return err
}
