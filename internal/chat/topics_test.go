package chat

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTopicNamerMessageCollisionFree(t *testing.T) {
	n := NewTopicNamer("courierchat/chat")
	seen := make(map[string]string)
	for i := 0; i < 1000; i++ {
		roomID := uuid.New().String()
		topic := n.Message(roomID)
		if prev, ok := seen[topic]; ok {
			t.Fatalf("topic %q aliases rooms %q and %q", topic, prev, roomID)
		}
		seen[topic] = roomID
	}
}

func TestTopicNamerMessageSharedByParticipants(t *testing.T) {
	n := NewTopicNamer("courierchat/chat")
	// The message topic depends only on the room, never on which participant asks.
	assert.Equal(t, n.Message("r1"), n.Message("r1"))
	assert.NotEqual(t, n.Message("r1"), n.Message("r2"))
}

func TestTopicNamerTypingSymmetry(t *testing.T) {
	n := NewTopicNamer("courierchat/chat")
	for i := 0; i < 100; i++ {
		a := fmt.Sprintf("user-a-%d", i)
		b := fmt.Sprintf("user-b-%d", i)
		assert.Equal(t, n.TypingPublish(a), n.TypingSubscribe(a), "A's publish topic must be what B subscribes to")
		assert.Equal(t, n.TypingPublish(b), n.TypingSubscribe(b))
		assert.NotEqual(t, n.TypingPublish(a), n.TypingPublish(b))
	}
}

func TestTopicNamerTrimsTrailingSlash(t *testing.T) {
	assert.Equal(t, NewTopicNamer("p/chat").Message("r"), NewTopicNamer("p/chat/").Message("r"))
}
