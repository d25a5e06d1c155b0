package swarmnode

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/bhagdave/p2pplay/internal/storage"
	"github.com/bhagdave/p2pplay/internal/wire"
)

// handleStorySyncStream serves /story-sync/1.0.0: answers with every known
// story whose id is greater than the requester's SinceID, plus every known
// channel (channels are not filtered),
// per spec.md §4.3's "catch up a newly (re)connected peer" lane.
func (n *Node) handleStorySyncStream(s network.Stream) {
	defer s.Close()
	var req wire.StorySyncRequest
	if err := wire.ReadFrame(s, &req); err != nil {
		n.emitNetworkError("story-sync/1 read request", err)
		return
	}

	stories, err := n.db.ListStories(n.ctx)
	if err != nil {
		n.emitNetworkError("story-sync/1 list stories", err)
		return
	}
	channels, err := n.db.ListChannels(n.ctx)
	if err != nil {
		n.emitNetworkError("story-sync/1 list channels", err)
		return
	}

	resp := wire.StorySyncResponse{}
	for _, story := range stories {
		if uint64(story.ID) <= req.SinceID {
			continue
		}
		resp.Stories = append(resp.Stories, wire.WireStory{
			ID:        uint64(story.ID),
			Name:      story.Name,
			Header:    story.Header,
			Body:      story.Body,
			Public:    story.Public,
			Channel:   story.Channel,
			CreatedAt: story.CreatedAt,
		})
	}
	for _, c := range channels {
		resp.Channels = append(resp.Channels, wire.WireChannel{
			Name:        c.Name,
			Description: c.Description,
			Creator:     c.Creator,
			CreatedAt:   c.CreatedAt,
		})
	}

	if err := wire.WriteFrame(s, &resp); err != nil {
		n.emitNetworkError("story-sync/1 write response", err)
	}
}

// handleSyncRequest drives the client side of story-sync/1 against
// cmd.TargetPeer, persisting whatever the peer reports that we don't
// already have.
func (n *Node) handleSyncRequest(ctx context.Context, cmd Command) error {
	return n.circuit.Execute(ctx, CircuitMessageBroadcast, func(ctx context.Context) error {
		return n.syncOnce(ctx, cmd.TargetPeer)
	})
}

func (n *Node) syncOnce(ctx context.Context, p peer.ID) error {
	sinceID, err := n.highestStoryID(ctx)
	if err != nil {
		return err
	}

	s, err := n.host.NewStream(ctx, p, ProtoStorySync)
	if err != nil {
		return fmt.Errorf("swarmnode: open story-sync/1 stream: %w", err)
	}
	defer s.Close()

	if err := wire.WriteFrame(s, &wire.StorySyncRequest{SinceID: sinceID}); err != nil {
		return fmt.Errorf("swarmnode: write story-sync request: %w", err)
	}
	var resp wire.StorySyncResponse
	if err := wire.ReadFrame(s, &resp); err != nil {
		return fmt.Errorf("swarmnode: read story-sync response: %w", err)
	}

	channels := make([]storage.Channel, 0, len(resp.Channels))
	for _, c := range resp.Channels {
		channels = append(channels, storage.Channel{
			Name:        c.Name,
			Description: c.Description,
			Creator:     c.Creator,
			CreatedAt:   c.CreatedAt,
		})
	}
	if _, err := n.db.ProcessDiscoveredChannels(ctx, channels); err != nil {
		return fmt.Errorf("swarmnode: store synced channels: %w", err)
	}

	for _, story := range resp.Stories {
		s := storage.Story{
			Name:      story.Name,
			Header:    story.Header,
			Body:      story.Body,
			Public:    story.Public,
			Channel:   story.Channel,
			CreatedAt: story.CreatedAt,
		}
		id, err := n.db.InsertStory(ctx, s)
		if err != nil {
			return fmt.Errorf("swarmnode: store synced story: %w", err)
		}
		s.ID = id
		n.emit(Event{Type: EventStoryReceived, Peer: p, Story: &s})
	}
	return nil
}

func (n *Node) highestStoryID(ctx context.Context) (uint64, error) {
	stories, err := n.db.ListStories(ctx)
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, s := range stories {
		if uint64(s.ID) > max {
			max = uint64(s.ID)
		}
	}
	return max, nil
}
