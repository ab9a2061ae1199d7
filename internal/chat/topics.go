package chat

import "strings"

// TopicNamer derives the broker topics for a conversation. The prefix is a
// fleet-wide contract: every client instance must be configured with the
// same one or participants never rendezvous.
//
// Three channels per open conversation:
//   - message exchange, keyed by room id and shared by both participants;
//   - typing-status publish, keyed by the current user's id;
//   - typing-status subscribe, keyed by the other user's id.
//
// The directional linkage is the correctness property of the scheme: A's
// typing publish topic equals B's typing subscribe topic whenever B is
// conversing with A, and vice versa.
type TopicNamer struct {
	prefix string
}

func NewTopicNamer(prefix string) TopicNamer {
	return TopicNamer{prefix: strings.TrimSuffix(prefix, "/")}
}

// Message returns the topic both participants of a room publish and
// subscribe messages on.
func (t TopicNamer) Message(roomID string) string {
	return t.prefix + "/message/" + roomID
}

// TypingPublish returns the topic a user publishes their own typing status on.
func (t TopicNamer) TypingPublish(currentUserID string) string {
	return t.prefix + "/typing-status/" + currentUserID
}

// TypingSubscribe returns the topic to watch for the peer's typing status:
// by construction, the peer's publish topic.
func (t TopicNamer) TypingSubscribe(otherUserID string) string {
	return t.TypingPublish(otherUserID)
}
