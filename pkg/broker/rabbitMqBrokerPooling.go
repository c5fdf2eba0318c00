package broker

import (
	"errors"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/zoff-tech/go-recovery/pkg/config"
)

type pooledChannel struct {
	channel     amqpChannel
	notifyClose chan *amqp.Error
}

// newConnection dials the broker; tests replace it.
var newConnection = func(settings *config.BrokerSettings) (amqpConnection, error) {
	conn, err := amqp.Dial(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return &dialedConnection{conn}, nil
}

// dialedConnection narrows *amqp.Connection to amqpConnection.
type dialedConnection struct {
	*amqp.Connection
}

func (d *dialedConnection) Channel() (amqpChannel, error) {
	ch, err := d.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *rabbitMqBroker) connectAndInitialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Close existing connection if it exists
	if r.connection != nil && !r.connection.IsClosed() {
		r.connection.Close()
	}

	connection, err := newConnection(r.settings)
	if err != nil {
		return err
	}
	r.connection = connection

	// Drain the old pool; its channels died with the old connection.
	close(r.channelPool)
	for range r.channelPool {
	}
	r.channelPool = make(chan *pooledChannel, r.settings.PoolSize)

	for i := 0; i < r.settings.PoolSize; i++ {
		ch, err := r.newChannelLocked()
		if err != nil {
			return err
		}
		r.channelPool <- &pooledChannel{
			channel:     ch,
			notifyClose: ch.NotifyClose(make(chan *amqp.Error, 1)),
		}
	}

	r.logger.Info("rabbitmq connection and channel pool initialized", "pool_size", r.settings.PoolSize)
	return nil
}

func (r *rabbitMqBroker) recoverConnection() {
	for {
		select {
		case <-r.reconnectTicker.C:
			if r.connection == nil || r.connection.IsClosed() {
				r.logger.Warn("attempting to reconnect to rabbitmq")
				if err := r.connectAndInitialize(); err != nil {
					r.logger.Error("failed to reconnect to rabbitmq", "error", err)
				} else {
					r.logger.Info("reconnected to rabbitmq")
				}
			}
		case <-r.stopReconnect:
			r.logger.Debug("stopping rabbitmq connection recovery")
			return
		}
	}
}

func (r *rabbitMqBroker) newChannel() (amqpChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newChannelLocked()
}

func (r *rabbitMqBroker) newChannelLocked() (amqpChannel, error) {
	if r.connection == nil {
		return nil, errors.New("rabbitmq connection is not established")
	}
	return r.connection.Channel()
}

func (r *rabbitMqBroker) getChannel() (*pooledChannel, error) {
	for {
		select {
		case pooledChan := <-r.channelPool:
			select {
			case err := <-pooledChan.notifyClose:
				// Channel is closed, discard it
				r.logger.Debug("discarding closed channel", "error", err)
				continue
			default:
				return pooledChan, nil
			}
		default:
			// Create a new channel if none are available
			ch, err := r.newChannel()
			if err != nil {
				return nil, err
			}
			return &pooledChannel{
				channel:     ch,
				notifyClose: ch.NotifyClose(make(chan *amqp.Error, 1)),
			}, nil
		}
	}
}

func (r *rabbitMqBroker) releaseChannel(pooledChan *pooledChannel) {
	select {
	case err := <-pooledChan.notifyClose:
		// Channel is closed, discard it
		r.logger.Debug("discarding closed channel", "error", err)
		return
	default:
		// Channel is valid, return it to the pool
		select {
		case r.channelPool <- pooledChan:
		default:
			// Pool is full, close the channel
			pooledChan.channel.Close()
		}
	}
}
