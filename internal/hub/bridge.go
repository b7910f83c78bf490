package hub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"slate/collab/internal/presence"
)

const bridgeBuffer = 256

// bridge fans applied frames out to sibling instances over redis pub/sub.
// Frames are published in apply order from a single worker, so peers observe
// the same relative order the origin instance applied. Messages are tagged
// with the publishing instance, which skips its own.
type bridge struct {
	client   *redis.Client
	instance string
	out      chan bridgeMessage
	done     chan struct{}
}

type bridgeMessage struct {
	channel string
	payload []byte
}

type bridgeEnvelope struct {
	Instance string `json:"instance"`
	Frame    Frame  `json:"frame"`
}

func newBridge(client *redis.Client) *bridge {
	b := &bridge{
		client:   client,
		instance: presence.NewConnID(),
		out:      make(chan bridgeMessage, bridgeBuffer),
		done:     make(chan struct{}),
	}
	go b.worker()
	return b
}

func docChannel(doc string) string {
	return "doc:" + doc
}

func (b *bridge) publish(doc string, frame Frame) {
	payload, err := json.Marshal(bridgeEnvelope{Instance: b.instance, Frame: frame})
	if err != nil {
		log.Printf("hub: bridge encode frame for %s: %v", doc, err)
		return
	}
	select {
	case b.out <- bridgeMessage{channel: docChannel(doc), payload: payload}:
	default:
		log.Printf("hub: bridge backlog full, dropping frame for %s", doc)
	}
}

func (b *bridge) worker() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.out:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.client.Publish(ctx, msg.channel, msg.payload).Err(); err != nil {
				log.Printf("hub: bridge publish to %s: %v", msg.channel, err)
			}
			cancel()
		}
	}
}

// attach subscribes the session to its document channel and forwards remote
// frames into the session's serialized apply path.
func (b *bridge) attach(session *DocSession) {
	pubsub := b.client.Subscribe(context.Background(), docChannel(session.name))
	go func() {
		<-session.quit
		_ = pubsub.Close()
	}()
	go func() {
		for msg := range pubsub.Channel() {
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("hub: bridge decode frame for %s: %v", session.name, err)
				continue
			}
			if env.Instance == b.instance {
				continue
			}
			frame := env.Frame
			session.do(func() { session.applyRemote(frame) })
		}
	}()
}

func (b *bridge) close() {
	close(b.done)
}
