package network

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"moonletter/gateway"
)

const (
	feedWriteWait = 10 * time.Second
	feedPongWait  = 60 * time.Second
	feedPingEvery = (feedPongWait * 9) / 10
	feedReadLimit = 1 << 20
)

// Subscribe opens the relay's websocket feed and delivers events in arrival
// order until the returned Unsubscribe runs. A broken feed stops silently
// after logging; the caller decides whether to resubscribe.
func (r *Relay) Subscribe(onEvent func(gateway.Event)) (gateway.Unsubscribe, error) {
	endpoint := r.endpoint(feedPath)
	switch endpoint.Scheme {
	case "http":
		endpoint.Scheme = "ws"
	case "https":
		endpoint.Scheme = "wss"
	}

	conn, resp, err := r.dialer.Dial(endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, mapStatus(resp.StatusCode, nil)
		}
		return nil, fmt.Errorf("%w: dial feed: %v", gateway.ErrTransport, err)
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	go feedReadPump(conn, stop, done, onEvent)
	go feedPingLoop(conn, done)

	return gateway.Unsubscribe(stop), nil
}

func feedReadPump(conn *websocket.Conn, stop func(), done <-chan struct{}, onEvent func(gateway.Event)) {
	defer stop()

	conn.SetReadLimit(feedReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				log.Printf("network: feed closed: %v", err)
			}
			return
		}

		var event gateway.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("network: dropping malformed feed event: %v", err)
			continue
		}
		if event.Type != gateway.EventInserted && event.Type != gateway.EventUpdated {
			log.Printf("network: dropping feed event with unknown type %q", event.Type)
			continue
		}

		select {
		case <-done:
			return
		default:
			onEvent(event)
		}
	}
}

func feedPingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(feedPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
