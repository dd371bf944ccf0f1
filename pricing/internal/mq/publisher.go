package mq

import (
	"sync"

	zmq "github.com/pebbe/zmq4"
)

// Publisher broadcasts floor price updates on a ZMQ PUB socket.
type Publisher struct {
	mu     sync.Mutex
	socket *zmq.Socket
}

// NewPublisher binds a PUB socket to bindAddr, e.g. "tcp://*:5557".
func NewPublisher(bindAddr string) (*Publisher, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(bindAddr); err != nil {
		sock.Close()
		return nil, err
	}
	return &Publisher{socket: sock}, nil
}

// PublishFloorPrice serializes and emits one update.
func (p *Publisher) PublishFloorPrice(u FloorPriceUpdate) error {
	payload := EncodeFloorPriceUpdate(u)

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.socket.SendBytes(payload, 0)
	return err
}

// Close releases the underlying socket.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.socket.Close()
}
