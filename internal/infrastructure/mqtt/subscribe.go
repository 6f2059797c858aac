package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe routes messages on topic to Messages.
//
// Subscriptions are not restored: a lost connection ends the Conn and the
// caller subscribes again on the next one.
//
// Parameters:
//   - ctx: Context for cancellation while waiting for the SUBACK
//   - topic: The topic to subscribe to (e.g., "dontek2a5b3c4d5e6f/status/psw")
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Conn) Subscribe(ctx context.Context, topic string, qos byte) error {
	if err := validate(topic, qos); err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.handle)
	if err := c.wait(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// wait blocks until token completes, the operation times out, the
// connection ends or ctx is cancelled.
func (c *Conn) wait(ctx context.Context, token pahomqtt.Token) error {
	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, defaultPublishTimeout)
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}
