// Package events announces catalog changes to other processes over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Type names a catalog change.
type Type string

const (
	SongAdded          Type = "song.added"
	SongRenamed        Type = "song.renamed"
	SongPurged         Type = "song.purged"
	SongUnlinked       Type = "song.unlinked"
	SongMoved          Type = "song.moved"
	PlaylistCreated    Type = "playlist.created"
	PlaylistRenamed    Type = "playlist.renamed"
	PlaylistDeleted    Type = "playlist.deleted"
	PlaylistSongsAdded Type = "playlist.songs_added"
)

// Event is the message published on every catalog mutation.
type Event struct {
	Type     Type      `json:"type"`
	SongID   string    `json:"song_id,omitempty"`
	Playlist string    `json:"playlist,omitempty"`
	Target   string    `json:"target,omitempty"`
	Count    int       `json:"count,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher delivers events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type redisPublishAPI interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes JSON-encoded events on one channel.
type RedisPublisher struct {
	client  redisPublishAPI
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe streams decoded events from channel until ctx is done.
// Undecodable messages are skipped.
func Subscribe(ctx context.Context, client *redis.Client, channel string) <-chan Event {
	out := make(chan Event)
	sub := client.Subscribe(ctx, channel)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
