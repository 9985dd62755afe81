package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// DefaultBucket is the JetStream KV bucket holding the document.
	DefaultBucket = "BEDTIME_STATE"
	documentKey   = "shared"
)

// NATSBackend keeps the document under one key of a JetStream KV bucket.
type NATSBackend struct {
	kv   jetstream.KeyValue
	conn *nats.Conn
}

// NewNATSBackend uses js, creating bucket if it does not exist. The caller
// keeps ownership of the connection behind js.
func NewNATSBackend(ctx context.Context, js jetstream.JetStream, bucket string) (*NATSBackend, error) {
	if strings.TrimSpace(bucket) == "" {
		bucket = DefaultBucket
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		return nil, fmt.Errorf("store: nats bucket %s: %w", bucket, err)
	}
	return &NATSBackend{kv: kv}, nil
}

// OpenNATS connects to url and uses bucket on that server.
func OpenNATS(ctx context.Context, url, bucket string) (*NATSBackend, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("store: connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: create JetStream context: %w", err)
	}
	b, err := NewNATSBackend(ctx, js, bucket)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.conn = conn
	return b, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Bedtime shared plan",
		History:     5,
	})
}

func (b *NATSBackend) Load(ctx context.Context) (json.RawMessage, error) {
	entry, err := b.kv.Get(ctx, documentKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: nats load: %w", err)
	}
	return cloneRaw(entry.Value()), nil
}

func (b *NATSBackend) Save(ctx context.Context, doc json.RawMessage) error {
	if _, err := b.kv.Put(ctx, documentKey, doc); err != nil {
		return fmt.Errorf("store: nats save: %w", err)
	}
	return nil
}

// Close drains the connection if OpenNATS created it.
func (b *NATSBackend) Close() error {
	if b.conn == nil {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
