package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/lacylights-wifi/internal/services/pubsub"
)

const (
	keepAlivePingInterval = 10 * time.Second
	eventWriteTimeout     = 5 * time.Second
	eventBufferSize       = 32
)

// topicsFromQuery parses ?topics=LINK_UP,LINK_DOWN. No parameter means every
// topic.
func topicsFromQuery(r *http.Request) []pubsub.Topic {
	raw := r.URL.Query().Get("topics")
	if raw == "" {
		return pubsub.Topics
	}
	var out []pubsub.Topic
	for _, name := range strings.Split(raw, ",") {
		name = strings.ToUpper(strings.TrimSpace(name))
		for _, t := range pubsub.Topics {
			if string(t) == name {
				out = append(out, t)
			}
		}
	}
	return out
}

// handleEvents upgrades to a websocket and forwards driver notifications as
// JSON messages until the client goes away. ?iface= restricts link events to
// one interface.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topics := topicsFromQuery(r)
	if len(topics) == 0 {
		http.Error(w, "no known topics requested", http.StatusBadRequest)
		return
	}
	filter := r.URL.Query().Get("iface")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	out := make(chan any, eventBufferSize)
	subs := make([]*pubsub.Subscriber, 0, len(topics))
	for _, t := range topics {
		subs = append(subs, s.ps.Subscribe(t, filter, eventBufferSize))
	}
	defer func() {
		for _, sub := range subs {
			s.ps.Unsubscribe(sub)
		}
	}()

	// The reader only notices the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, sub := range subs {
		go func(sub *pubsub.Subscriber) {
			for msg := range sub.Channel {
				select {
				case out <- msg:
				case <-closed:
					return
				}
			}
		}(sub)
	}

	ticker := time.NewTicker(keepAlivePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			deadline := time.Now().Add(eventWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("server: websocket write: %v", err)
				return
			}
		}
	}
}
