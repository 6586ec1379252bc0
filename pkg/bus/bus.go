// Package bus defines the Broker/Keystore abstraction that connects the four
// pipeline workers: topic pub/sub for streaming events and a TTL-aware
// key-value store for configuration, history, and transient flags.
//
// Two implementations are provided: [pkg/bus/pg] (PostgreSQL-backed, using
// LISTEN/NOTIFY plus a durable queue table for binary payloads) and
// [pkg/bus/membus] (in-process, channel-based, for single-binary development
// and tests). Callers depend only on the interfaces in this package.
package bus

import (
	"context"
	"errors"
	"time"
)

// Well-known topic names. These are defaults; deployments may override them
// via configuration, but the core never hard-codes a string literal outside
// this block.
const (
	TopicAudioIn      = "audio.in"
	TopicTranscripts  = "transcripts"
	TopicLLMTokens    = "llm.tokens"
	TopicToolEvents   = "tool.events"
	TopicTTSRequest   = "tts.request"
	TopicTTSControl   = "tts.control"
	TopicBargeIn      = "barge_in"
	TopicConnEvents   = "connection.events"
	topicAudioOutBase = "audio.out."
)

// TopicAudioOut returns the per-conversation outbound audio topic name.
func TopicAudioOut(conversationID string) string {
	return topicAudioOutBase + conversationID
}

// Well-known keystore key prefixes.
const (
	KeyConversationConfigPrefix  = "conversation_config:"
	KeyConversationHistoryPrefix = "conversation_history:"
	KeyTTSActiveStatePrefix      = "tts_active_state:"
)

func KeyConversationConfig(id string) string  { return KeyConversationConfigPrefix + id }
func KeyConversationHistory(id string) string { return KeyConversationHistoryPrefix + id }
func KeyTTSActiveState(id string) string      { return KeyTTSActiveStatePrefix + id }

// ErrClosed is returned by operations attempted on a closed Broker.
var ErrClosed = errors.New("bus: broker closed")

// Subscription is a live subscription to a topic. Messages arrive on C in
// publish order relative to this subscriber; Unsubscribe releases the
// subscription and closes C.
type Subscription struct {
	C            <-chan []byte
	Unsubscribe  func()
}

// Broker is the pub/sub half of the abstraction described in spec §4.5.
//
// The core must not assume ordering across distinct subscribers of the same
// topic; within a single subscriber, messages are delivered in publish
// order. Implementations must be safe for concurrent use.
type Broker interface {
	// Publish fire-and-forgets payload on topic and returns the number of
	// live subscribers that received it (0 if none).
	Publish(ctx context.Context, topic string, payload []byte) (int, error)

	// Subscribe opens a new subscription to topic. The returned channel is
	// closed when Unsubscribe is called or the Broker is closed.
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Close releases all broker resources. Safe to call multiple times.
	Close() error
}

// Keystore is the key-value-with-TTL half of the abstraction.
//
// A zero ttl passed to SetWithTTL means "no expiry" (equivalent to Set).
// Implementations must be safe for concurrent use.
type Keystore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ErrNotFound is returned by Keystore.Get when key has no value (or has
// expired).
var ErrNotFound = errors.New("bus: key not found")

// Bus bundles a Broker and a Keystore, the unit of dependency injection
// every worker's New function accepts.
type Bus struct {
	Broker   Broker
	Keystore Keystore
}

// Close closes both the broker and the keystore, if the keystore implements
// io.Closer-like semantics via a Close method on its concrete type. The
// Keystore interface itself carries no Close method because some
// implementations (e.g. a shared pool) outlive a single Bus value; callers
// that own the underlying connection should Close it directly.
func (b *Bus) Close() error {
	if b.Broker != nil {
		return b.Broker.Close()
	}
	return nil
}
