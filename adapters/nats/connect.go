package nats

import (
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

const defaultClientName = "aggrepo"

type closeFunc = func()

// Connector opens a NATS connection. The returned close func releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// SharedConnection hands out one connection to every caller and closes it
// when the last lease is released. The event store and the KV snapshotter of
// one process usually share it.
func SharedConnection(connect Connector) Connector {
	var (
		mu     sync.Mutex
		nc     *natsgo.Conn
		closer closeFunc
		leases int
	)

	release := func() {
		mu.Lock()
		defer mu.Unlock()
		if leases == 0 {
			return
		}
		if leases--; leases == 0 {
			closer()
			nc, closer = nil, nil
		}
	}

	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			var err error
			if nc, closer, err = connect(); err != nil {
				return nil, nil, err
			}
		}
		leases++
		var once sync.Once
		return nc, func() { once.Do(release) }, nil
	}
}

// ConnectURL connects to natsURL. opts are applied after the defaults.
func ConnectURL(natsURL string, opts ...natsgo.Option) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			natsURL,
			append([]natsgo.Option{
				natsgo.Name(defaultClientName),
				natsgo.MaxReconnects(3),
			}, opts...)...,
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// ConnectDefault connects to $NATS_URL, or the local default server.
func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(natsgo.DefaultURL)
}
