package app

import (
	"encoding/json"
	"errors"
	"io"
	"log"

	"golang.org/x/net/websocket"
)

// handleWSConn runs one push-channel connection: a writer goroutine drains
// the observer's frame queue while this goroutine reads subscribe requests
// until the client disconnects.
func (s *Server) handleWSConn(conn *websocket.Conn) {
	obs := newObserver()
	defer s.hub.drop(obs)

	go func() {
		encoder := json.NewEncoder(conn)
		for frame := range obs.frames {
			if err := encoder.Encode(frame); err != nil {
				s.hub.drop(obs)
				_ = conn.Close()
				return
			}
		}
		_ = conn.Close()
	}()

	ctx := conn.Request().Context()
	decoder := json.NewDecoder(conn)
	for {
		var frame inboundFrame
		if err := decoder.Decode(&frame); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Printf("traffic: websocket read: %v", err)
			}
			return
		}
		if frame.Type != frameTypeSubscribe {
			log.Printf("traffic: websocket: ignoring frame type %q", frame.Type)
			continue
		}

		storeID := frame.StoreID
		err := s.hub.subscribe(obs, storeID, func() (outboundFrame, error) {
			return s.initialData(ctx, storeID)
		})
		if err != nil {
			log.Printf("traffic: websocket subscribe store %d: %v", storeID, err)
			return
		}
	}
}
