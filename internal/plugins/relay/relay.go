// Package relay publishes channel activity to a Kafka topic as JSON records,
// one per event, keyed by server and channel so per-channel order survives
// partitioning.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/iobot/iobot/internal/config"
	"github.com/iobot/iobot/internal/irc"
	"github.com/iobot/iobot/internal/plugin"
)

// Types are the event types relayed.
var Types = []string{"PRIVMSG", "NOTICE", "JOIN", "PART", "KICK", "NICK", "QUIT", "TOPIC"}

// Publisher is the part of *kafkago.Writer the relay uses.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Record is the JSON value of each message.
type Record struct {
	Server   string    `json:"server"`
	Type     string    `json:"type"`
	Channel  string    `json:"channel,omitempty"`
	Nick     string    `json:"nick,omitempty"`
	Hostmask string    `json:"hostmask,omitempty"`
	Target   string    `json:"target,omitempty"`
	Text     string    `json:"text,omitempty"`
	Time     time.Time `json:"time"`
}

// Key groups records of one channel (or one server for channel-less events).
func (r Record) Key() string {
	if r.Channel == "" {
		return r.Server
	}
	return r.Server + "/" + r.Channel
}

type relay struct {
	pub Publisher
	now func() time.Time
}

// Factory returns a plugin.Factory that writes to the brokers and topic in
// cfg. Writes are asynchronous so hooks never wait on the brokers.
func Factory(cfg config.Relay) plugin.Factory {
	return FactoryWith(func() Publisher {
		return &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafkago.Hash{},
			Async:                  true,
			AllowAutoTopicCreation: true,
			BatchTimeout:           100 * time.Millisecond,
		}
	})
}

// FactoryWith builds instances around the publisher returned by newPub.
func FactoryWith(newPub func() Publisher) plugin.Factory {
	return func() plugin.Plugin {
		return &relay{pub: newPub(), now: time.Now}
	}
}

func (r *relay) Commands() []plugin.Command { return nil }

func (r *relay) Hooks() []plugin.Hook {
	hooks := make([]plugin.Hook, len(Types))
	for i, t := range Types {
		hooks[i] = plugin.Hook{Type: t, Handler: r.publish}
	}
	return hooks
}

func (r *relay) publish(ctx context.Context, c *irc.Connection, ev *irc.Event) error {
	rec := Record{
		Server:   c.Name,
		Type:     ev.Type,
		Nick:     ev.Nick,
		Hostmask: ev.Hostmask(),
		Text:     ev.Text,
		Time:     r.now().UTC(),
	}
	switch ev.Type {
	case "KICK":
		rec.Channel = ev.Destination
		if len(ev.Parameters) > 0 {
			rec.Target = ev.Parameters[0]
		}
	case "NICK":
		rec.Target = ev.Text
		if rec.Target == "" {
			rec.Target = ev.Destination
		}
	case "QUIT":
	default:
		if ev.InChannel() {
			rec.Channel = ev.Destination
		} else {
			rec.Target = ev.Destination
		}
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", ev.Type, err)
	}
	msg := kafkago.Message{
		Key:     []byte(rec.Key()),
		Value:   value,
		Headers: []kafkago.Header{{Key: "event-type", Value: []byte(ev.Type)}},
	}
	if err := r.pub.WriteMessages(ctx, msg); err != nil {
		// chatter is not worth an error reply; log and move on
		c.Logger().Warn("relay write failed", "type", ev.Type, "err", err)
	}
	return nil
}

func (r *relay) Close() error {
	return r.pub.Close()
}
