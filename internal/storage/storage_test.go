package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "sub"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoriesOrderedNewestFirstTiesByIDDesc(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ids := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := db.InsertStory(ctx, Story{Name: "s", CreatedAt: 1000})
		if err != nil {
			t.Fatalf("InsertStory: %v", err)
		}
		ids = append(ids, id)
	}

	stories, err := db.ListStories(ctx)
	if err != nil {
		t.Fatalf("ListStories: %v", err)
	}
	if len(stories) != 3 {
		t.Fatalf("len(stories) = %d, want 3", len(stories))
	}
	for i := 0; i < len(stories)-1; i++ {
		if stories[i].ID < stories[i+1].ID {
			t.Fatalf("stories not in id-descending order at tie: %v", stories)
		}
	}
	if stories[0].ID != ids[2] {
		t.Fatalf("first story id = %d, want %d (most recently inserted)", stories[0].ID, ids[2])
	}
}

func TestChannelUpsertIdempotentNeverOverwrites(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	saved, err := db.UpsertChannel(ctx, Channel{Name: "general", Description: "first", Creator: "alice"})
	if err != nil || !saved {
		t.Fatalf("first UpsertChannel: saved=%v err=%v", saved, err)
	}

	saved, err = db.UpsertChannel(ctx, Channel{Name: "general", Description: "second", Creator: "bob"})
	if err != nil {
		t.Fatalf("second UpsertChannel: %v", err)
	}
	if saved {
		t.Fatal("second UpsertChannel reported saved=true for a duplicate name")
	}

	channels, err := db.ListChannels(ctx)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	if len(channels) != 1 || channels[0].Description != "first" || channels[0].Creator != "alice" {
		t.Fatalf("channel was modified by duplicate upsert: %+v", channels)
	}
}

func TestProcessDiscoveredChannelsPreservesExisting(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.UpsertChannel(ctx, Channel{Name: "general", Description: "original", Creator: "alice"}); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	n, err := db.ProcessDiscoveredChannels(ctx, []Channel{
		{Name: "general", Description: "hijacked", Creator: "mallory"},
		{Name: "random", Description: "fresh", Creator: "bob"},
	})
	if err != nil {
		t.Fatalf("ProcessDiscoveredChannels: %v", err)
	}
	if n != 1 {
		t.Fatalf("inserted = %d, want 1", n)
	}

	channels, err := db.ListChannels(ctx)
	if err != nil {
		t.Fatalf("ListChannels: %v", err)
	}
	byName := map[string]Channel{}
	for _, c := range channels {
		byName[c.Name] = c
	}
	if byName["general"].Description != "original" {
		t.Fatalf("existing channel's description was overwritten: %+v", byName["general"])
	}
	if _, ok := byName["random"]; !ok {
		t.Fatal("newly discovered channel was not inserted")
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if sub, _ := db.IsSubscribed(ctx, "general"); sub {
		t.Fatal("IsSubscribed = true before any subscription")
	}
	if err := db.UpsertSubscription(ctx, "general"); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}
	if sub, _ := db.IsSubscribed(ctx, "general"); !sub {
		t.Fatal("IsSubscribed = false after subscribing")
	}
	if err := db.RemoveSubscription(ctx, "general"); err != nil {
		t.Fatalf("RemoveSubscription: %v", err)
	}
	if sub, _ := db.IsSubscribed(ctx, "general"); sub {
		t.Fatal("IsSubscribed = true after unsubscribing")
	}
}

func TestConversationUnreadCountAndMarkRead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := db.AppendMessage(ctx, DirectMessage{
			PeerID: "bob", FromPeerID: "bob", ToPeerID: "me", Body: "hi", Timestamp: int64(i), Outgoing: false,
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	convs, err := db.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].UnreadCount != 3 {
		t.Fatalf("conversations = %+v, want 1 conversation with unread_count 3", convs)
	}

	if err := db.MarkRead(ctx, "bob"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	convs, err = db.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations after MarkRead: %v", err)
	}
	if convs[0].UnreadCount != 0 {
		t.Fatalf("unread count after MarkRead = %d, want 0", convs[0].UnreadCount)
	}

	msgs, err := db.MessagesByPeer(ctx, "bob")
	if err != nil {
		t.Fatalf("MessagesByPeer: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3", len(msgs))
	}
	for i := 0; i < len(msgs)-1; i++ {
		if msgs[i].Timestamp > msgs[i+1].Timestamp {
			t.Fatalf("messages not in chronological order: %+v", msgs)
		}
	}
}

func TestSearchRanking(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mustInsert := func(name, header, body string) {
		if _, err := db.InsertStory(ctx, Story{Name: name, Header: header, Body: body, CreatedAt: 1000}); err != nil {
			t.Fatalf("InsertStory: %v", err)
		}
	}
	mustInsert("Rust Programming Tutorial", "Learn Rust", "This covers ownership and programming patterns")
	mustInsert("Cooking", "Recipes", "A guide to cooking pasta")
	mustInsert("Programming Best Practices", "Tips", "Write clean programming code every day")

	results, err := db.SearchStories(ctx, "programming")
	if err != nil {
		t.Fatalf("SearchStories: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	var rustScore, bestPracticesScore int
	for _, r := range results {
		switch r.Story.Name {
		case "Rust Programming Tutorial":
			rustScore = r.Score
		case "Programming Best Practices":
			bestPracticesScore = r.Score
		}
	}
	if bestPracticesScore < rustScore {
		t.Fatalf("Programming Best Practices scored %d, lower than Rust Programming Tutorial's %d", bestPracticesScore, rustScore)
	}
}
