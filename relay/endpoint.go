package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ipfs-force-community/sophon-bridge/types"
)

// wireEnvelope is the websocket framing toward an attached tab.
type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireRequest struct {
	ID     uuid.UUID       `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type wireResponse struct {
	ID     uuid.UUID       `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *types.RPCError `json:"error,omitempty"`
}

// Handler upgrades tab connections and pumps envelopes between the socket
// and a PageConn. The page origin is taken from the Origin header the
// browser stamps on the upgrade request; the payload cannot forge it.
func (r *Relay) Handler() http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin == "" {
			http.Error(w, "missing origin", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Errorf("upgrade websocket: %s", err)
			return
		}
		defer func() {
			if err := conn.Close(); err != nil {
				log.Debugf("close tab conn: %s", err)
			}
		}()

		ctx := req.Context()
		pc := NewPageConn(origin, req.URL.Query().Get("title"), req.URL.Query().Get("favicon"), r.cfg.RequestQueueSize)
		if err := r.ServePage(ctx, pc); err != nil {
			log.Errorf("serve page for %s: %s", origin, err)
			return
		}

		go r.writeLoop(ctx, conn, pc)
		r.readLoop(ctx, conn, pc)
	})
}

func (r *Relay) readLoop(ctx context.Context, conn *websocket.Conn, pc *PageConn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("tab %s read: %s", pc.Origin, err)
			return
		}

		var wr wireRequest
		if err := json.Unmarshal(message, &wr); err != nil {
			// arbitrary unrelated traffic is ignored, never answered
			log.Debugf("ignore malformed frame from %s", pc.Origin)
			continue
		}
		if wr.ID == uuid.Nil {
			wr.ID = uuid.New()
		}
		pc.FromPage <- &types.RequestEvent{
			ID:         wr.ID,
			Method:     wr.Method,
			Payload:    wr.Params,
			CreateTime: time.Now(),
		}
	}
}

func (r *Relay) writeLoop(ctx context.Context, conn *websocket.Conn, pc *PageConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-pc.ToPage:
			r.writeEnvelope(conn, "response", mustMarshalWire(&wireResponse{
				ID:     resp.ID,
				Result: resp.Payload,
				Error:  resp.Error,
			}))
		case ev := <-pc.Events:
			r.writeEnvelope(conn, ev.Method, ev.Payload)
		}
	}
}

func (r *Relay) writeEnvelope(conn *websocket.Conn, typ string, data json.RawMessage) {
	raw, err := json.Marshal(&wireEnvelope{Type: typ, Data: data})
	if err != nil {
		log.Errorf("marshal envelope: %s", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Debugf("write envelope: %s", err)
	}
}

func mustMarshalWire(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Errorf("marshal wire response: %s", err)
		return json.RawMessage("null")
	}
	return raw
}
