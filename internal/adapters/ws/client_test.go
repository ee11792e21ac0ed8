package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"
)

// dialTestConn upgrades against a throwaway echo-less server and returns the
// client side of the connection.
func dialTestConn(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Nil(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

func TestClientSendDuringStop(t *testing.T) {
	// Disconnect teardown races the worker pool's outbound sends; neither
	// side may panic, whichever wins.
	for i := 0; i < 25; i++ {
		client := NewClient(WsClientParams{
			BidderID: uuid.New(),
			Conn:     dialTestConn(t),
			Logger:   zerolog.Nop(),
		})
		client.Start()

		var wg sync.WaitGroup
		for s := 0; s < 4; s++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for n := 0; n < 50; n++ {
					client.Send(NewServerMessage(MessageTypePong))
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Stop()
		}()
		wg.Wait()
	}
}

func TestClientSendAfterStop(t *testing.T) {
	client := NewClient(WsClientParams{
		BidderID: uuid.New(),
		Conn:     dialTestConn(t),
		Logger:   zerolog.Nop(),
	})
	client.Stop()

	err := client.Send(NewServerMessage(MessageTypePong))
	check.Error(t, err)
}

func TestClientStopIdempotent(t *testing.T) {
	client := NewClient(WsClientParams{
		BidderID: uuid.New(),
		Conn:     dialTestConn(t),
		Logger:   zerolog.Nop(),
	})
	client.Stop()
	client.Stop()
}
