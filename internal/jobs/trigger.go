package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultRegistrationTimeout = 2 * time.Second

var ErrRegistrationTimeout = errors.New("background sync registration timed out")

// Trigger bounds how long a save may wait on the queue. It satisfies
// service.Trigger.
type Trigger struct {
	registrar Registrar
	timeout   time.Duration
}

func NewTrigger(registrar Registrar, timeout time.Duration) *Trigger {
	if registrar == nil {
		registrar = NoopRegistrar{}
	}
	if timeout <= 0 {
		timeout = DefaultRegistrationTimeout
	}
	return &Trigger{registrar: registrar, timeout: timeout}
}

// Arm registers tag and gives up after the timeout even if the registrar
// ignores its context.
func (t *Trigger) Arm(ctx context.Context, tag string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- t.registrar.Register(ctx, tag) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrRegistrationTimeout
		}
		return ctx.Err()
	}
}
