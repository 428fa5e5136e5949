package container

import (
	"context"
	"errors"
	"testing"
	"time"

	broker "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Broker"
	config "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Config"
	logger "gitlab.com/maplesense1/gas.telemetry_server/src/production/GAS.Logger"
)

func TestShutdownRunsCleanupInReverseOrder(t *testing.T) {
	c := &Container{logger: logger.Nop()}

	var order []string
	c.AddCleanupFunc(func(context.Context) error { order = append(order, "store"); return nil })
	c.AddCleanupFunc(func(context.Context) error { order = append(order, "cache"); return errors.New("already closed") })
	c.AddCleanupFunc(func(context.Context) error { order = append(order, "publisher"); return nil })

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	want := []string{"publisher", "cache", "store"}
	if len(order) != len(want) {
		t.Fatalf("cleanup order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("cleanup order = %v, want %v", order, want)
		}
	}
}

func TestStartWithoutWorkers(t *testing.T) {
	c := &Container{logger: logger.Nop(), config: &config.Config{}, workerErrs: make(chan error, 2)}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	select {
	case err := <-c.Errors():
		t.Fatalf("unexpected worker error: %v", err)
	default:
	}
}

type failingSubscriber struct {
	err  error
	done chan struct{}
}

func (s *failingSubscriber) Run(context.Context) error {
	defer close(s.done)
	return s.err
}

func (s *failingSubscriber) State() broker.State {
	return broker.StateDisconnected
}

func TestSubscriberFailureKeepsServiceRunning(t *testing.T) {
	sub := &failingSubscriber{err: errors.New("connect to kafka: connection refused"), done: make(chan struct{})}
	c := &Container{
		logger:     logger.Nop(),
		config:     &config.Config{},
		subscriber: sub,
		workerErrs: make(chan error, 2),
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	<-sub.done
	c.wg.Wait()

	select {
	case err := <-c.Errors():
		t.Fatalf("subscriber failure stopped the service: %v", err)
	default:
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestSubscriberFailFast(t *testing.T) {
	sub := &failingSubscriber{err: errors.New("connect to kafka: connection refused"), done: make(chan struct{})}
	cfg := &config.Config{}
	cfg.Kafka.SubscriberFailFast = true
	c := &Container{
		logger:     logger.Nop(),
		config:     cfg,
		subscriber: sub,
		workerErrs: make(chan error, 2),
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case err := <-c.Errors():
		if !errors.Is(err, sub.err) {
			t.Errorf("Errors() = %v, want %v", err, sub.err)
		}
	case <-time.After(time.Second):
		t.Fatal("fail-fast subscriber error was not reported")
	}
	_ = c.Shutdown(context.Background())
}
