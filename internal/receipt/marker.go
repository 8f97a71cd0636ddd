// ABOUTME: Read-receipt marker that batches inbound message ids per session
// ABOUTME: Debounces auto-marks and runs bulk marks without blocking message display

package receipt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chatdesk/internal/store"
)

// DefaultDelay is how long after the last inbound message a batch is marked.
const DefaultDelay = time.Second

// Writer is the persistence side of read receipts.
type Writer interface {
	MarkRead(ctx context.Context, ids []string, reader store.SenderType) ([]*store.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string, reader store.SenderType) ([]*store.Message, error)
}

// Marker collects ids of messages the reader has seen and marks them in
// batches. It only ever targets messages authored by the other role.
type Marker struct {
	mu             sync.Mutex
	writer         Writer
	conversationID string
	reader         store.SenderType
	delay          time.Duration
	pending        map[string]struct{}
	order          []string
	timer          *time.Timer
	gen            uint64
	stopped        bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewMarker creates a marker for one reader on one conversation. A delay
// <= 0 uses DefaultDelay.
func NewMarker(writer Writer, conversationID string, reader store.SenderType, delay time.Duration, logger *slog.Logger) *Marker {
	if logger == nil {
		logger = slog.Default()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Marker{
		writer:         writer,
		conversationID: conversationID,
		reader:         reader,
		delay:          delay,
		pending:        make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
		logger: logger.With("component", "receipt",
			"conversation_id", conversationID,
			"reader", reader),
	}
}

// Schedule queues msg for marking after the debounce delay. It reports
// false for messages the reader authored, already-read messages, and
// messages from another conversation.
func (m *Marker) Schedule(msg *store.Message) bool {
	if msg == nil || msg.SenderType == m.reader || msg.ReadAt != nil || msg.ConversationID != m.conversationID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	m.addLocked(msg.ID)

	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.delay, func() { m.flush(gen) })
	return true
}

// Pending returns the number of ids waiting to be marked.
func (m *Marker) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// MarkAll marks every unread message from the other role in the
// conversation. The write runs in the background.
func (m *Marker) MarkAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		changed, err := m.writer.MarkConversationRead(m.ctx, m.conversationID, m.reader)
		if err != nil {
			m.logger.Warn("bulk mark read failed", "error", err)
			return
		}
		m.logger.Debug("bulk marked read", "count", len(changed))
	}()
}

// Stop cancels the pending batch and any in-flight write and waits for
// background writes to return. Safe to call multiple times.
func (m *Marker) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Marker) addLocked(id string) {
	if _, ok := m.pending[id]; ok {
		return
	}
	m.pending[id] = struct{}{}
	m.order = append(m.order, id)
}

func (m *Marker) flush(gen uint64) {
	m.mu.Lock()
	if m.stopped || gen != m.gen || len(m.order) == 0 {
		m.mu.Unlock()
		return
	}
	ids := m.order
	m.order = nil
	m.pending = make(map[string]struct{})
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.write(ids)
	}()
}

func (m *Marker) write(ids []string) {
	changed, err := m.writer.MarkRead(m.ctx, ids, m.reader)
	if err != nil {
		// Requeue without arming a timer: the next inbound message retries.
		m.logger.Warn("mark read failed", "error", err, "count", len(ids))
		m.mu.Lock()
		if !m.stopped {
			for _, id := range ids {
				m.addLocked(id)
			}
		}
		m.mu.Unlock()
		return
	}
	m.logger.Debug("marked read", "requested", len(ids), "changed", len(changed))
}
