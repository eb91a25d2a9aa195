package store

// Peer is a conversation partner.
type Peer struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	LastSeen int64  `json:"last_seen"`
}

// Message is one stored chat message.
type Message struct {
	ID        string `json:"id"`
	Peer      string `json:"peer"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Sent      bool   `json:"sent"`
	Encrypted bool   `json:"encrypted"`
}

// Message directions as reported by Direction.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Direction returns DirectionSent or DirectionReceived.
func (m Message) Direction() string {
	if m.Sent {
		return DirectionSent
	}
	return DirectionReceived
}

// Conversation is a peer with its messages in timestamp order.
type Conversation struct {
	Peer     Peer      `json:"peer"`
	Messages []Message `json:"messages"`
}
