package ws

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/rs/zerolog"
)

func TestEventChannelUsesConfiguredSize(t *testing.T) {
	handler := NewHandler(WsHandlerParams{
		SubscriberQueueSize: 7,
		Logger:              zerolog.Nop(),
	})
	check.Equal(t, 7, cap(handler.createEventChannel("client-a")))

	// Re-creating for the same client returns the existing channel.
	check.Equal(t, 7, cap(handler.createEventChannel("client-a")))

	fallback := NewHandler(WsHandlerParams{Logger: zerolog.Nop()})
	check.Equal(t, 100, cap(fallback.createEventChannel("client-b")))
}
