package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/luweisystem/reflectsync/internal/emotion"
)

const liveSubscriberBuffer = 16

// liveFeed pushes freshly ingested entries to connected explore viewers. A
// subscriber that cannot keep up is dropped rather than ever blocking ingest.
type liveFeed struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newLiveFeed() *liveFeed {
	return &liveFeed{
		subs: map[chan []byte]struct{}{},
	}
}

func (f *liveFeed) subscribe() chan []byte {
	ch := make(chan []byte, liveSubscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

func (f *liveFeed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	delete(f.subs, ch)
	f.mu.Unlock()
}

func (f *liveFeed) broadcast(entries []emotion.EmotionEntry) {
	if len(entries) == 0 {
		return
	}
	frames := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		frame, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		frames = append(frames, frame)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		for _, frame := range frames {
			select {
			case ch <- frame:
				continue
			default:
			}
			// Subscriber fell behind; drop it.
			delete(f.subs, ch)
			close(ch)
			break
		}
	}
}

func (s *Server) handleExploreFeedLive(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ch := s.live.subscribe()
	defer s.live.unsubscribe(ch)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case frame, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
