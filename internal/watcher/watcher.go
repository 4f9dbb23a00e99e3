// Package watcher lets a process wait for the HTTP response of a flow run
// that may finish on another node.
//
// Every Watcher owns a handler id and subscribes to its own channel. A
// waiter registers a request id with Listen and blocks in Wait. Whoever
// produces the response calls Publish with the request id and the waiter's
// handler id.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/flowq/pkg/api"
)

// ChannelPrefix prefixes per-handler pub/sub channels.
const ChannelPrefix = "flowq:webhook-response:"

// ErrWaitTimeout is returned by Wait when the timeout elapses and the caller
// did not ask for a "still processing" reply.
var ErrWaitTimeout = errors.New("watcher: timed out waiting for response")

// ChannelFor returns the channel a handler listens on.
func ChannelFor(handlerID string) string {
	return ChannelPrefix + handlerID
}

type envelope struct {
	RequestID string                 `json:"requestId"`
	Response  api.EngineHTTPResponse `json:"response"`
}

type parked struct {
	resp    api.EngineHTTPResponse
	expires time.Time
}

// Options configures a Watcher.
type Options struct {
	// HandlerID defaults to a random UUID.
	HandlerID string
	// ParkTTL is how long a response for an unregistered request id is
	// kept for a late Listen (default 30s).
	ParkTTL time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Watcher routes published responses to local waiters.
type Watcher struct {
	handlerID string
	transport Transport
	parkTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	listeners map[string]chan api.EngineHTTPResponse
	parked    map[string]parked
	sub       Subscription
}

// New creates a Watcher over transport. Call Start before waiting.
func New(transport Transport, opts Options) *Watcher {
	if opts.HandlerID == "" {
		opts.HandlerID = uuid.NewString()
	}
	if opts.ParkTTL <= 0 {
		opts.ParkTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watcher{
		handlerID: opts.HandlerID,
		transport: transport,
		parkTTL:   opts.ParkTTL,
		logger:    opts.Logger,
		now:       opts.Now,
		listeners: make(map[string]chan api.EngineHTTPResponse),
		parked:    make(map[string]parked),
	}
}

// HandlerID is the id callers put in SynchronousHandlerID to reach this
// Watcher.
func (w *Watcher) HandlerID() string { return w.handlerID }

// Start subscribes to this watcher's channel.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return nil
	}
	sub, err := w.transport.Subscribe(ctx, ChannelFor(w.handlerID), w.onMessage)
	if err != nil {
		return err
	}
	w.sub = sub
	w.logger.Info("watcher_started", slog.String("handler_id", w.handlerID))
	return nil
}

// Stop unsubscribes. Pending waiters keep waiting until their timeout.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (w *Watcher) onMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		w.logger.Warn("watcher_bad_message", slog.Any("error", err))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if ch, ok := w.listeners[env.RequestID]; ok {
		delete(w.listeners, env.RequestID)
		ch <- env.Response
		return
	}

	now := w.now()
	for id, p := range w.parked {
		if now.After(p.expires) {
			delete(w.parked, id)
		}
	}
	w.parked[env.RequestID] = parked{resp: env.Response, expires: now.Add(w.parkTTL)}
}

// Publish sends resp to the waiter registered for requestID on the watcher
// identified by handlerID.
func (w *Watcher) Publish(ctx context.Context, requestID, handlerID string, resp api.EngineHTTPResponse) error {
	data, err := json.Marshal(envelope{RequestID: requestID, Response: resp})
	if err != nil {
		return err
	}
	return w.transport.Publish(ctx, ChannelFor(handlerID), data)
}

// Listener is a registered interest in one request id.
type Listener struct {
	w         *Watcher
	requestID string
	ch        chan api.EngineHTTPResponse
}

// Listen registers interest in requestID. Register before the response can
// be produced; responses that arrive early are still delivered if they were
// parked less than ParkTTL ago.
func (w *Watcher) Listen(requestID string) *Listener {
	l := &Listener{w: w, requestID: requestID, ch: make(chan api.EngineHTTPResponse, 1)}

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.parked[requestID]; ok {
		delete(w.parked, requestID)
		if !w.now().After(p.expires) {
			l.ch <- p.resp
			return l
		}
	}
	w.listeners[requestID] = l.ch
	return l
}

// Wait blocks until the response arrives, timeout elapses or ctx is done.
// On timeout it returns api.ResponseStillRunning when cancelOnTimeout is
// set, ErrWaitTimeout otherwise.
func (l *Listener) Wait(ctx context.Context, timeout time.Duration, cancelOnTimeout bool) (api.EngineHTTPResponse, error) {
	defer l.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-l.ch:
		return resp, nil
	case <-timer.C:
		if cancelOnTimeout {
			return api.ResponseStillRunning, nil
		}
		return api.EngineHTTPResponse{}, ErrWaitTimeout
	case <-ctx.Done():
		return api.EngineHTTPResponse{}, ctx.Err()
	}
}

// Close drops the registration. It is safe to call more than once.
func (l *Listener) Close() {
	l.w.mu.Lock()
	defer l.w.mu.Unlock()
	if ch, ok := l.w.listeners[l.requestID]; ok && ch == l.ch {
		delete(l.w.listeners, l.requestID)
	}
}

// OneTimeListener registers requestID and waits for its response.
func (w *Watcher) OneTimeListener(ctx context.Context, requestID string, timeout time.Duration, cancelOnTimeout bool) (api.EngineHTTPResponse, error) {
	return w.Listen(requestID).Wait(ctx, timeout, cancelOnTimeout)
}
