// Package dispatcher implements the single worker that drains the Event
// Queue and applies every event to the state model (spec §4.6). It is the
// sole mutator of internal/model — every other subsystem only reads.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/spaced/internal/broadcast"
	"github.com/nugget/spaced/internal/eventqueue"
	"github.com/nugget/spaced/internal/model"
	"github.com/nugget/spaced/internal/rebindcache"
	"github.com/nugget/spaced/internal/sources"
	"github.com/nugget/spaced/internal/wsdk"
)

// RequestHandler processes one ClientRequest event body and returns its
// result, under the same write lock as every other event (spec §4.7: "a
// mutation that changes a state-model attribute directly must do so via
// posting an internal event, not by touching the model from the request
// thread"). internal/rpc registers one handler per method.
type RequestHandler func(m *model.Model, params []byte) (any, error)

// Dispatcher drains internal/eventqueue.Queue and applies each event to
// internal/model under its write lock, then publishes a derived
// notification on the broadcast bus. Exactly one Dispatcher runs per
// daemon (spec §5's "Event Dispatcher worker").
type Dispatcher struct {
	model  *model.Model
	queue  *eventqueue.Queue
	sdk    *wsdk.SDK
	ax     sources.AXFuncs
	obs    *sources.AppObserver
	bus    *broadcast.Bus
	log    *slog.Logger
	rebind *rebindcache.Store

	requestHandlers map[string]RequestHandler

	stop chan struct{}
	done chan struct{}
}

// New constructs a Dispatcher. obs is the same AppObserver instance the
// daemon uses for the accessibility source (§4.4.1); the dispatcher calls
// obs.Start/Stop in its AppLaunched/AppTerminated handlers, keeping
// observer lifecycle tied to the model's application lifecycle.
func New(m *model.Model, q *eventqueue.Queue, sdk *wsdk.SDK, ax sources.AXFuncs, obs *sources.AppObserver, bus *broadcast.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		model:           m,
		queue:           q,
		sdk:             sdk,
		ax:              ax,
		obs:             obs,
		bus:             bus,
		log:             logger,
		requestHandlers: make(map[string]RequestHandler),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// RegisterMethod installs the handler internal/rpc uses for
// ClientRequest events whose Method matches name.
func (d *Dispatcher) RegisterMethod(name string, h RequestHandler) {
	d.requestHandlers[name] = h
}

// SetRebindCache wires a rebind cache into the dispatcher's
// DisplayConfigurationChanged handling (spec §9.1). Without one, a
// disconnected display's spaces are simply removed; with one, a
// reconnecting display whose coordinates nearest-match a previously
// cached entry has its spaces rebound onto its new UUID instead.
func (d *Dispatcher) SetRebindCache(store *rebindcache.Store) {
	d.rebind = store
}

// Run is the dispatcher's main loop (spec §5, execution context 2): drain
// until empty, apply each event under the write lock, release, wait on
// the queue's semaphore. It blocks until ctx is cancelled or Stop is
// called; either causes Run to finish draining whatever is already
// pending before returning (shutdown sequence, spec §5).
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	ctxDone := ctx.Done()
	waitStop := mergeStop(ctxDone, d.stop)

	for {
		e, ok := d.queue.DrainOne()
		if !ok {
			select {
			case <-ctxDone:
				return
			case <-d.stop:
				return
			default:
			}
			d.queue.Wait(waitStop)
			select {
			case <-ctxDone:
				return
			case <-d.stop:
				return
			default:
			}
			continue
		}
		d.apply(e)
	}
}

// mergeStop adapts two stop signals into the single channel Queue.Wait
// expects. It spawns one goroutine that closes the returned channel once
// either signal closes; Run calls it once, not once per Wait.
func mergeStop(a <-chan struct{}, b <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		select {
		case <-a:
		case <-b:
		}
		close(out)
	}()
	return out
}

// Stop signals Run to finish draining and exit, then blocks until it has.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

// apply dispatches one event to its handler under the model's write lock.
// Handlers never block: accessibility/SDK queries here are local function
// calls into capability structs that either return immediately or report
// ErrUnsupported, never OS round-trips that could stall the single
// dispatcher goroutine for long.
func (d *Dispatcher) apply(e eventqueue.Event) {
	unlock := d.model.WriteLock()
	defer unlock()

	switch e.Kind {
	case eventqueue.KindAppLaunched:
		d.handleAppLaunched(e)
	case eventqueue.KindAppTerminated:
		d.handleAppTerminated(e)
	case eventqueue.KindAppActivated:
		d.handleAppActivated(e)
	case eventqueue.KindAppHidden:
		d.handleAppHidden(e)
	case eventqueue.KindAppUnhidden:
		d.handleAppUnhidden(e)
	case eventqueue.KindWinCreated:
		d.handleWinCreated(e)
	case eventqueue.KindWinDestroyed, eventqueue.KindWSWinDestroyed:
		d.handleWinDestroyed(e)
	case eventqueue.KindWinFocused:
		d.handleWinFocused(e)
	case eventqueue.KindWinMoved, eventqueue.KindWinResized:
		d.handleWinMovedOrResized(e)
	case eventqueue.KindWinMinimized:
		d.handleWinMinimizedState(e, true)
	case eventqueue.KindWinDeminimized:
		d.handleWinMinimizedState(e, false)
	case eventqueue.KindWinTitleChanged:
		d.handleWinTitleChanged(e)
	case eventqueue.KindWSSpaceCreated:
		d.handleWSSpaceCreated(e)
	case eventqueue.KindWSSpaceDestroyed:
		d.handleWSSpaceDestroyed(e)
	case eventqueue.KindWSWinOrdered:
		d.handleWSWinOrdered(e)
	case eventqueue.KindWSMissionControlEnter:
		d.model.SetMissionControlActive(true)
	case eventqueue.KindWSMissionControlExit:
		d.model.SetMissionControlActive(false)
	case eventqueue.KindSpaceChanged:
		d.handleSpaceChanged()
	case eventqueue.KindDisplayConfigurationChanged:
		d.handleDisplayConfigurationChanged()
	case eventqueue.KindSystemWoke:
		d.handleDisplayConfigurationChanged()
	case eventqueue.KindReconcilePoll:
		d.handleReconcilePoll(e)
	case eventqueue.KindClientRequest:
		d.handleClientRequest(e)
	default:
		d.log.Debug("dispatcher: unhandled event kind", "kind", e.Kind.String())
	}
}

// publish is a small helper so every handler doesn't repeat the
// time.Now()/broadcast.Event boilerplate.
func (d *Dispatcher) publish(kind string, data map[string]any) {
	d.bus.Publish(broadcast.Event{Timestamp: time.Now(), Kind: kind, Data: data})
}
