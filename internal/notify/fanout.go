// ABOUTME: Admin-wide notification fan-out over enquiry and message inserts
// ABOUTME: Raises one deduplicated chime and toast per new enquiry or customer message

package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chatdesk/internal/dedupe"
	"github.com/2389/chatdesk/internal/realtime"
	"github.com/2389/chatdesk/internal/store"
)

// ErrDelivery wraps alerter failures. It is logged, never returned.
var ErrDelivery = errors.New("notification delivery failed")

// resolveTimeout bounds the enquiry lookup for a message alert.
const resolveTimeout = 5 * time.Second

// Kind is the notification category.
type Kind string

const (
	KindEnquiry Kind = "enquiry"
	KindMessage Kind = "message"
)

// Item is one alert. ID is the dedup key.
type Item struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
}

// Alerter renders an alert. Both effects are best effort.
type Alerter interface {
	Chime(ctx context.Context) error
	Toast(ctx context.Context, item Item) error
}

// Resolver finds the enquiry behind a conversation for display names.
type Resolver interface {
	EnquiryForConversation(ctx context.Context, conversationID string) (*store.Enquiry, error)
}

// Subscriber is the hub side the fan-out listens on.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (*realtime.Subscription, error)
}

// Observer counts raised alerts. Implemented by the metrics package.
type Observer interface {
	NotificationRaised(kind string)
}

// Config configures one admin session's fan-out.
type Config struct {
	Hub        Subscriber
	Resolver   Resolver
	Alerter    Alerter
	AdminID    string
	DedupeSize int
	DedupeTTL  time.Duration // zero remembers keys for the Fanout lifetime
	Logger     *slog.Logger
	Observer   Observer
}

// Fanout watches every enquiry and message insert for one admin browsing
// session, independent of any open conversation. Each key alerts at most
// once per Fanout lifetime, or once per DedupeTTL when one is set.
type Fanout struct {
	resolver Resolver
	alerter  Alerter
	seen     *dedupe.Cache
	observer Observer
	logger   *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	subs      []*realtime.Subscription
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Start subscribes to the enquiry and message table topics and begins
// raising alerts. Call Close to stop.
func Start(cfg Config) (*Fanout, error) {
	if cfg.Hub == nil || cfg.Alerter == nil {
		return nil, errors.New("notify: hub and alerter are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &Fanout{
		resolver: cfg.Resolver,
		alerter:  cfg.Alerter,
		seen:     dedupe.New(cfg.DedupeTTL, cfg.DedupeSize),
		observer: cfg.Observer,
		logger:   logger.With("component", "notify", "admin_id", cfg.AdminID),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, topic := range []string{realtime.TopicEnquiries, realtime.TopicMessages} {
		sub, err := cfg.Hub.Subscribe(ctx, topic)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		f.subs = append(f.subs, sub)
	}

	for _, sub := range f.subs {
		f.wg.Add(1)
		go f.run(sub.C())
	}
	return f, nil
}

// Close stops the fan-out and waits for in-progress alerts. Safe to call
// multiple times.
func (f *Fanout) Close() {
	f.closeOnce.Do(func() {
		f.cancel()
		for _, sub := range f.subs {
			sub.Close()
		}
		f.wg.Wait()
		f.seen.Close()
	})
}

func (f *Fanout) run(events <-chan realtime.Event) {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.handle(ev)
		}
	}
}

func (f *Fanout) handle(ev realtime.Event) {
	var item Item
	switch {
	case ev.Kind == realtime.KindEnquiryInserted && ev.Enquiry != nil:
		if f.seen.CheckAndMark("enquiry:" + ev.Enquiry.ID) {
			return
		}
		item = enquiryItem(ev.Enquiry)

	case ev.Kind == realtime.KindMessageInserted && ev.Message != nil:
		msg := ev.Message
		if msg.SenderType != store.SenderUser {
			return
		}
		if f.seen.CheckAndMark(msg.ConversationID + ":" + msg.ID) {
			return
		}
		item = f.messageItem(msg)

	default:
		return
	}

	f.deliver(item)
}

func enquiryItem(enq *store.Enquiry) Item {
	return Item{
		ID:        "enquiry:" + enq.ID,
		Kind:      KindEnquiry,
		Title:     "New enquiry from " + enq.Name,
		Body:      enq.Subject,
		Link:      "/admin/enquiries/" + enq.ID,
		CreatedAt: enq.CreatedAt,
	}
}

// messageItem builds an alert for a customer message. The enquiry lookup
// is best effort; on failure the message's sender_name is used.
func (f *Fanout) messageItem(msg *store.Message) Item {
	item := Item{
		ID:        msg.ConversationID + ":" + msg.ID,
		Kind:      KindMessage,
		Title:     "New message from " + msg.SenderName,
		Body:      preview(msg.Text),
		Link:      "/admin/conversations/" + msg.ConversationID,
		CreatedAt: msg.CreatedAt,
	}
	if f.resolver == nil {
		return item
	}

	ctx, cancel := context.WithTimeout(f.ctx, resolveTimeout)
	defer cancel()
	enq, err := f.resolver.EnquiryForConversation(ctx, msg.ConversationID)
	if err != nil {
		f.logger.Debug("enquiry lookup failed, using sender name",
			"conversation_id", msg.ConversationID,
			"error", err)
		return item
	}
	item.Title = "New message from " + enq.Name
	item.Link = "/admin/enquiries/" + enq.ID + "/chat"
	return item
}

// deliver plays the chime and shows the toast. Failures are swallowed.
func (f *Fanout) deliver(item Item) {
	if f.observer != nil {
		f.observer.NotificationRaised(string(item.Kind))
	}
	if err := f.alerter.Chime(f.ctx); err != nil {
		f.logger.Debug("chime failed", "error", fmt.Errorf("%w: %w", ErrDelivery, err))
	}
	if err := f.alerter.Toast(f.ctx, item); err != nil {
		f.logger.Debug("toast failed", "item_id", item.ID, "error", fmt.Errorf("%w: %w", ErrDelivery, err))
	}
}

func preview(text string) string {
	const limit = 140
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit-1]) + "…"
}
