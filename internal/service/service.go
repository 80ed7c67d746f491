// Package service hosts a session: it owns the worker and the event bus,
// relays commands and events through Redis when enabled, and shuts the
// session down gracefully.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ibs-source/mqtt-session/internal/client"
	"github.com/ibs-source/mqtt-session/internal/config"
	"github.com/ibs-source/mqtt-session/internal/event"
	"github.com/ibs-source/mqtt-session/internal/log"
	"github.com/ibs-source/mqtt-session/internal/mqtt"
	"github.com/ibs-source/mqtt-session/internal/redis"
	"github.com/ibs-source/mqtt-session/internal/session"
)

// Service wires the worker, the bus and the optional Redis relay
type Service struct {
	cfg    *config.Config
	bus    *event.Bus
	worker *session.Worker
	client *client.Client
	redis  *redis.Client
	log    *log.Logger
}

// New creates a service dialing through dialer. redisClient may be nil, in
// which case the session is only reachable in-process through Client.
func New(cfg *config.Config, dialer mqtt.Dialer, redisClient *redis.Client, logger *log.Logger) *Service {
	bus := event.NewBus(cfg.Session.Namespace, logger)
	worker := session.NewWorker(dialer, bus, logger)

	return &Service{
		cfg:    cfg,
		bus:    bus,
		worker: worker,
		client: client.New(worker),
		redis:  redisClient,
		log:    logger,
	}
}

// Bus returns the event bus listeners register on
func (s *Service) Bus() *event.Bus {
	return s.bus
}

// Client returns an in-process client driving the worker
func (s *Service) Client() *client.Client {
	return s.client
}

// startLoop starts a loop goroutine and reports non-canceled errors
func (s *Service) startLoop(
	ctx context.Context,
	wg *sync.WaitGroup,
	name string,
	loop func(context.Context) error,
	errCh chan<- error,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("%s loop error: %w", name, err)
		}
	}()
}

// Run starts the worker and the relay loops, issues the configured initial
// connection and blocks until ctx is cancelled or a loop fails. It always
// disconnects and stops the worker before returning.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("Starting session service on namespace %s", s.cfg.Session.Namespace)
	s.worker.Start()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if s.redis != nil {
		// The event loop outlives the others so the events of the final
		// disconnect are still relayed.
		publisher := redis.NewEventPublisher(s.redis, s.cfg.Session.Namespace, s.log)
		eventsCtx, stopEvents := context.WithCancel(context.Background())
		var eventsWg sync.WaitGroup
		s.startLoop(eventsCtx, &eventsWg, "events", publisher.Run, errCh)
		unregister := s.bus.Register(publisher)
		defer func() {
			unregister()
			stopEvents()
			eventsWg.Wait()
		}()

		consumer := redis.NewCommandConsumer(s.redis, s.cfg.Session.Namespace, s.worker, s.log)
		s.startLoop(loopCtx, &wg, "commands", consumer.Run, errCh)
		s.log.Info("Relaying commands from %s and events to %s", s.cfg.Redis.CommandStream, s.bus.Channel())
	}

	s.connectInitial()

	var runErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutting down session service")
	case err := <-errCh:
		s.log.Error("Session service error: %v", err)
		runErr = err
	}

	cancel()
	wg.Wait()

	if err := s.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// connectInitial submits the connection described by the MQTT section, if
// any.
func (s *Service) connectInitial() {
	m := &s.cfg.MQTT
	if m.Broker == "" {
		return
	}

	opts := []client.Option{
		client.WithCredentials(m.Username, m.Password),
		client.WithQoS(m.QoS),
		client.WithAutoResubscribe(m.AutoResubscribe),
	}

	var id string
	if len(m.Topics) == 0 {
		id = s.client.Connect(m.Broker, m.ClientID, opts...)
	} else {
		id = s.client.ConnectAndSubscribe(m.Broker, m.ClientID, m.Topics, opts...)
	}
	s.log.Info("Initial connection to %s requested as %s", m.Broker, id)
}

// shutdown closes the session and waits for the worker to drain, bounded
// by the shutdown timeout.
func (s *Service) shutdown() error {
	s.client.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.ShutdownTimeout)
	defer cancel()

	if err := s.worker.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop session worker: %w", err)
	}
	s.log.Info("Session service stopped")
	return nil
}
