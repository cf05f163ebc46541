package benor_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/impl/benor"
)

func TestStore(t *testing.T) {
	t.Run("phases are separate", func(t *testing.T) {
		store := benor.NewStore()

		if err := store.AddMessage(benor.NewPropose(1, 2, benor.ValueOne)); err != nil {
			t.Fatal(err)
		}
		if err := store.AddMessage(benor.NewVote(1, 2, benor.ValueOne)); err != nil {
			t.Fatal(err)
		}

		for _, key := range []string{benor.Key(2, benor.MessageTypePropose), benor.Key(2, benor.MessageTypeVote)} {
			msgs, _ := store.GetMessagesByKey(key)
			if len(msgs) != 1 {
				t.Errorf("%s: got %d messages, want 1", key, len(msgs))
			}
		}

		if msgs, _ := store.GetMessagesByKey(benor.Key(3, benor.MessageTypePropose)); len(msgs) != 0 {
			t.Errorf("unexpected messages in round 3: %d", len(msgs))
		}
	})

	t.Run("duplicate sender", func(t *testing.T) {
		store := benor.NewStore()

		if err := store.AddMessage(benor.NewPropose(1, 1, benor.ValueOne)); err != nil {
			t.Fatal(err)
		}
		err := store.AddMessage(benor.NewPropose(1, 1, benor.ValueZero))
		if !errors.Is(err, benor.ErrDuplicateMessage) {
			t.Fatalf("expected ErrDuplicateMessage, got %v", err)
		}

		msgs, _ := store.GetMessagesByKey(benor.Key(1, benor.MessageTypePropose))
		if len(msgs) != 1 || msgs[0].(*benor.Message).Value != benor.ValueOne {
			t.Errorf("first message must be kept, got %v", msgs)
		}
	})

	t.Run("returns a copy", func(t *testing.T) {
		store := benor.NewStore()
		_ = store.AddMessage(benor.NewVote(0, 1, benor.ValueZero))

		msgs, _ := store.GetMessagesByKey(benor.Key(1, benor.MessageTypeVote))
		msgs[0] = nil

		again, _ := store.GetMessagesByKey(benor.Key(1, benor.MessageTypeVote))
		if again[0] == nil {
			t.Error("caller mutated the inbox")
		}
	})

	t.Run("unsupported message", func(t *testing.T) {
		if err := benor.NewStore().AddMessage("hello"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("concurrent senders", func(t *testing.T) {
		store := benor.NewStore()

		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.AddMessage(benor.NewPropose(core.NodeId(i%10), 1, benor.ValueOne))
			}()
		}
		wg.Wait()

		msgs, _ := store.GetMessagesByKey(benor.Key(1, benor.MessageTypePropose))
		if len(msgs) != 10 {
			t.Errorf("got %d messages, want 10", len(msgs))
		}
	})
}

func TestKey(t *testing.T) {
	if got := benor.Key(12, benor.MessageTypeVote); got != "12-V" {
		t.Errorf("got %q, want 12-V", got)
	}
}
