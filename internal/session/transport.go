package session

import (
	"context"

	"github.com/nerrad567/plc-remote/internal/infrastructure/config"
	"github.com/nerrad567/plc-remote/internal/infrastructure/mqtt"
)

// Transport is one broker connection as the session sees it.
//
// A Transport is used for a single handshake; every reconnect attempt
// asks the TransportFactory for a fresh one.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Disconnect()
	// SetOnDisconnect registers a callback for loss of an established
	// connection. It must be called before Connect.
	SetOnDisconnect(func(err error))
}

// TransportFactory creates an unconnected Transport for a client ID.
type TransportFactory func(clientID string) Transport

// Logger is the logging surface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var _ Transport = (*mqtt.Client)(nil)

// MQTTTransportFactory returns a factory producing paho-backed clients
// for the configured broker.
func MQTTTransportFactory(cfg config.MQTTConfig, logger mqtt.Logger) TransportFactory {
	return func(clientID string) Transport {
		client := mqtt.New(cfg, clientID)
		if logger != nil {
			client.SetLogger(logger)
		}
		return client
	}
}
