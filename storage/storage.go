// Package storage provides a small namespaced key-value interface used to
// persist client state, such as board snapshots, across restarts.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the key-value interface backends implement.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns a nil Item if the key doesn't exist or has expired.
	// Returns an error only for storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the given namespace.
	// Without WithKey, the entire namespace is removed.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases the backend's resources.
	Close() error
}

// Item is a stored value with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired reports whether the item has expired.
func (it *Item) IsExpired() bool {
	return it.ExpiresAt != nil && time.Now().After(*it.ExpiresAt)
}

// Option configures storage operations.
type Option func(*Options)

// Options is the resolved set of operation options.
type Options struct {
	Namespace Namespace      // nil = global
	Key       *string        // Delete target; nil deletes the namespace
	TTL       *time.Duration // Set expiry
}

// Resolve applies opts.
func Resolve(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Namespace scopes keys. A nil Namespace is the global namespace.
type Namespace interface {
	namespace()
	// Prefix is the backend-independent key prefix of the namespace.
	Prefix() string
}

// HostNamespace holds state belonging to one API host.
type HostNamespace struct {
	Host string
}

func (HostNamespace) namespace() {}

func (n HostNamespace) Prefix() string { return "host:" + n.Host + ":" }

// WithHost scopes an operation to state of the given API host.
func WithHost(host string) Option {
	return func(o *Options) {
		o.Namespace = HostNamespace{Host: host}
	}
}

// WithKey specifies a specific key for Delete.
func WithKey(key string) Option {
	return func(o *Options) {
		o.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.TTL = &ttl
	}
}

// Prefix returns the key prefix of ns.
func Prefix(ns Namespace) string {
	if ns == nil {
		return "global:"
	}
	return ns.Prefix()
}

// Key returns the full key of key within ns.
func Key(ns Namespace, key string) string {
	return Prefix(ns) + "key:" + key
}

// ErrInvalidOptions is returned when incompatible options are provided.
var ErrInvalidOptions = errors.New("storage: invalid option combination")
