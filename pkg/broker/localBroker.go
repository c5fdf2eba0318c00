package broker

import (
	"context"
	"sync"

	"github.com/zoff-tech/go-recovery/schema"
)

// localBroker fans notifications out to in-process subscribers. Each subscriber
// buffers one pending notification; further ones coalesce into it.
type localBroker struct {
	mu          sync.Mutex
	subscribers map[chan schema.Notification]struct{}
}

func NewLocalBroker() MessageBroker {
	return &localBroker{subscribers: make(map[chan schema.Notification]struct{})}
}

func (l *localBroker) Publish(_ context.Context, n schema.Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ch := range l.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

func (l *localBroker) Subscribe(ctx context.Context, fn func(schema.Notification)) error {
	ch := make(chan schema.Notification, 1)
	l.mu.Lock()
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.subscribers, ch)
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-ch:
			fn(n)
		}
	}
}

func (l *localBroker) Close() error {
	return nil
}

// noopBroker is used when no notification transport is configured.
type noopBroker struct{}

func (noopBroker) Publish(context.Context, schema.Notification) error { return nil }

func (noopBroker) Subscribe(ctx context.Context, _ func(schema.Notification)) error {
	<-ctx.Done()
	return nil
}

func (noopBroker) Close() error { return nil }
