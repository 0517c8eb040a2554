// Copyright 2024 Andres Morey
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sse implements a single-connection Server-Sent-Events frame
// writer with monotonic ids, a background keep-alive that fires during
// quiet periods, and a guaranteed single close.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ginsse "github.com/gin-contrib/sse"
	"github.com/zmwangx/debounce"
)

// Frame kinds this writer emits.
const (
	FrameEvent     = "event"
	FrameMessage   = "message"
	FrameKeepAlive = "keep_alive"
	FrameError     = "error"
	FrameClose     = "close"
)

var ErrWriterClosed = errors.New("sse: writer already closed")

// Writer serializes one SSE connection: every Write* method is safe to
// call from the single goroutine driving the search engine, and Close is
// additionally safe to call concurrently from a client-disconnect
// watcher.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	nextId uint64
	closed bool

	keepAliveFn func(...struct{}) error
	controller  debounce.ControlWithReturnValue[error]

	closeOnce sync.Once
}

// NewWriter prepares w for SSE output (headers + flush) and arms a
// keep-alive that fires after keepAliveInterval of silence. The returned
// Writer must be closed exactly once, by the caller, to stop the
// keep-alive task.
func NewWriter(ctx context.Context, w http.ResponseWriter, keepAliveInterval time.Duration) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &Writer{w: w, flusher: flusher}

	debounceFn, controller := debounce.DebounceWithCustomSignature(
		func(inputs ...struct{}) error {
			return sw.fireKeepAlive()
		},
		keepAliveInterval,
		debounce.WithLeading(false),
		debounce.WithTrailing(true),
	)
	sw.keepAliveFn = debounceFn
	sw.controller = controller

	go func() {
		<-ctx.Done()
		controller.Cancel()
	}()

	sw.arm()
	return sw, nil
}

// fireKeepAlive sends a keep-alive frame and immediately re-arms the
// debounce so the task keeps firing every keepAliveInterval of silence,
// rather than only once — keep-alives recur for as long as the
// connection stays quiet, not a one-shot timeout.
func (w *Writer) fireKeepAlive() error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil
	}
	if err := w.send(FrameKeepAlive, "", nil); err != nil {
		return err
	}
	w.arm()
	return nil
}

func (w *Writer) arm() {
	_ = w.keepAliveFn(struct{}{})
}

// WriteEvent emits an "event" frame carrying one test event or event
// batch payload.
func (w *Writer) WriteEvent(payload any) error {
	w.arm()
	return w.send(FrameEvent, "", payload)
}

// WriteMessage emits a "message" frame carrying one decoded message.
func (w *Writer) WriteMessage(payload any) error {
	w.arm()
	return w.send(FrameMessage, "", payload)
}

// WriteStreamInfo emits an informational event frame describing a
// stream's exhaustion/last-scanned state, used when the merged pipeline
// advances via a tick with no data to deliver.
type StreamInfo struct {
	Stream          string    `json:"stream"`
	StreamEmpty     bool      `json:"streamEmpty"`
	LastScannedTime time.Time `json:"lastScannedTime"`
}

func (w *Writer) WriteStreamInfo(info StreamInfo) error {
	w.arm()
	return w.send(FrameEvent, "stream-info", info)
}

// WriteLastScanned emits a frame recording how far the engine has
// scanned even though nothing matched, so a client resuming from this
// id knows it missed nothing, only that nothing matched.
func (w *Writer) WriteLastScanned(t time.Time) error {
	w.arm()
	return w.send(FrameEvent, "last-scanned", map[string]time.Time{"lastScannedTime": t})
}

// WriteError emits an "error" frame. It does not close the connection;
// the caller decides whether an error is fatal.
func (w *Writer) WriteError(err error) error {
	w.arm()
	return w.send(FrameError, "", map[string]string{"error": err.Error()})
}

// Close emits a single "close" frame (if reason is non-empty) and stops
// the keep-alive task. Safe to call more than once; only the first call
// has an effect.
func (w *Writer) Close(reason string) error {
	var sendErr error
	w.closeOnce.Do(func() {
		w.controller.Cancel()
		w.mu.Lock()
		defer w.mu.Unlock()
		if reason != "" {
			sendErr = w.sendLocked(FrameClose, "", map[string]string{"reason": reason})
		}
		w.closed = true
	})
	return sendErr
}

func (w *Writer) send(event, subEvent string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	return w.sendLocked(event, subEvent, payload)
}

// sendLocked writes one frame. Callers must hold w.mu and have already
// checked w.closed themselves — Close uses this directly so its own
// close frame is written before w.closed is set.
func (w *Writer) sendLocked(event, subEvent string, payload any) error {
	id := atomic.AddUint64(&w.nextId, 1)

	var data []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("sse: marshal payload: %w", err)
		}
		data = b
	}

	name := event
	if subEvent != "" {
		name = event + ":" + subEvent
	}

	ev := ginsse.Event{
		Id:    fmt.Sprintf("%d", id),
		Event: name,
		Data:  string(data),
	}
	if err := ginsse.Encode(w.w, ev); err != nil {
		return fmt.Errorf("sse: encode frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}
