package core

import (
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"trustledger/core/chain"
	"trustledger/core/events"
	"trustledger/core/state"
	"trustledger/core/types"
	"trustledger/observability"
	"trustledger/storage"
)

// minedHost is the host handed to wallets and escrows. Every committed
// transaction is sealed into the header history in the same storage batch
// as its state writes, so header order always equals commit order and a
// failed seal leaves no state behind.
type minedHost struct {
	mu     *sync.Mutex
	state  *state.Manager
	chain  *chain.History
	logger *slog.Logger
}

func (h minedHost) Atomic(fn func(*state.Tx) error) (common.Hash, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.AtomicWith(fn, func(hash common.Hash) ([]storage.KV, func(), error) {
		header, writes, err := h.chain.PrepareSeal(hash)
		if err != nil {
			return nil, nil, err
		}
		return writes, func() {
			if err := h.chain.Advance(header); err != nil {
				h.logger.Error("header history out of step", slog.Any("error", err))
				return
			}
			observability.Custody().SetHeadHeight(header.Number.Uint64())
		}, nil
	})
}

func (h minedHost) View(fn func(*state.Tx) error) error {
	return h.state.View(fn)
}

// eventLog keeps the payloads of the most recent committed events and
// forwards every event to an optional downstream emitter.
type eventLog struct {
	mu      sync.Mutex
	limit   int
	entries []*types.Event
	next    events.Emitter
}

func newEventLog(limit int, next events.Emitter) *eventLog {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &eventLog{limit: limit, next: next}
}

func (l *eventLog) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
	if payload, ok := evt.(events.Payload); ok {
		if event := payload.Event(); event != nil {
			l.mu.Lock()
			l.entries = append(l.entries, event)
			if len(l.entries) > l.limit {
				l.entries = append([]*types.Event(nil), l.entries[len(l.entries)-l.limit:]...)
			}
			l.mu.Unlock()
		}
	}
	l.next.Emit(evt)
}

// recent returns up to n of the latest events, oldest first.
func (l *eventLog) recent(n int) []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]types.Event, 0, n)
	for _, e := range l.entries[len(l.entries)-n:] {
		attrs := make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			attrs[k] = v
		}
		out = append(out, types.Event{Type: e.Type, Attributes: attrs})
	}
	return out
}
