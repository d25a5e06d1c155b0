package swarmnode

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/bhagdave/p2pplay/internal/storage"
	"github.com/bhagdave/p2pplay/internal/wire"
)

// setupGossip joins the single configured gossip topic (spec.md §4.1's
// Open-Question decision: one topic, client-side channel filtering — see
// DESIGN.md) and subscribes to it. Grounded on the teacher's Node.setupPubSub
// in internal/p2p/node.go.
func (n *Node) setupGossip(ctx context.Context) error {
	ps, err := pubsub.NewGossipSub(ctx, n.host)
	if err != nil {
		return fmt.Errorf("swarmnode: create gossipsub: %w", err)
	}
	n.ps = ps

	topic, err := ps.Join(n.cfg.Network.GossipTopic)
	if err != nil {
		return fmt.Errorf("swarmnode: join topic %q: %w", n.cfg.Network.GossipTopic, err)
	}
	n.topic = topic

	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("swarmnode: subscribe topic %q: %w", n.cfg.Network.GossipTopic, err)
	}
	n.sub = sub
	return nil
}

// gossipStory is the gob shape published on the stories topic: one wire
// story (which names the channel it belongs to, so subscribers can filter
// locally without a second topic per channel) plus the publisher's alias.
type gossipStory struct {
	Story     wire.WireStory
	FromAlias string
}

// runGossipLoop reads every published message, persists its story, and
// emits EventStoryReceived only if the story's channel passes isSubscribed.
// Skips messages the node itself published.
func (n *Node) runGossipLoop() {
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.emitNetworkError("gossip receive", err)
			continue
		}
		if msg.ReceivedFrom == n.host.ID() {
			continue
		}

		var gs gossipStory
		if err := gob.NewDecoder(bytes.NewReader(msg.Data)).Decode(&gs); err != nil {
			n.emitNetworkError("gossip decode", err)
			continue
		}

		s := storage.Story{
			Name:      gs.Story.Name,
			Header:    gs.Story.Header,
			Body:      gs.Story.Body,
			Public:    gs.Story.Public,
			Channel:   gs.Story.Channel,
			CreatedAt: gs.Story.CreatedAt,
		}
		id, err := n.db.InsertStory(n.ctx, s)
		if err != nil {
			n.emitNetworkError("persist gossiped story", err)
			continue
		}
		s.ID = id

		n.peers.Upsert(msg.ReceivedFrom, gs.FromAlias, nil)
		if n.isSubscribed(s.Channel) {
			n.emit(Event{Type: EventStoryReceived, Peer: msg.ReceivedFrom, Alias: gs.FromAlias, Story: &s})
		}
	}
}

// isSubscribed reports whether channel should surface as a UI-facing event.
// With no explicit subscriptions, every channel (including the empty,
// unchanneled one) surfaces — the client-side filtering spec.md §4.1's
// single-topic design calls for only narrows once the user opts in.
func (n *Node) isSubscribed(channel string) bool {
	n.subsMu.Lock()
	defer n.subsMu.Unlock()
	if len(n.subscriptions) == 0 {
		return true
	}
	return n.subscriptions[channel]
}

// handlePublishStory persists the story locally, then publishes it to the
// topic under the story_publish circuit.
func (n *Node) handlePublishStory(ctx context.Context, cmd Command) error {
	if cmd.Story == nil {
		return fmt.Errorf("swarmnode: publish-story requires a story")
	}
	s := *cmd.Story
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().Unix()
	}

	id, err := n.db.InsertStory(ctx, s)
	if err != nil {
		return fmt.Errorf("swarmnode: persist local story: %w", err)
	}
	s.ID = id

	gs := gossipStory{
		Story: wire.WireStory{
			ID:        uint64(s.ID),
			Name:      s.Name,
			Header:    s.Header,
			Body:      s.Body,
			Public:    s.Public,
			Channel:   s.Channel,
			CreatedAt: s.CreatedAt,
		},
		FromAlias: n.alias,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gs); err != nil {
		return fmt.Errorf("swarmnode: encode gossip story: %w", err)
	}

	return n.circuit.Execute(ctx, CircuitStoryPublish, func(ctx context.Context) error {
		return n.topic.Publish(ctx, buf.Bytes())
	})
}
