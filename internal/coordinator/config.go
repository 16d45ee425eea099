package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/tinymqtt/internal/infrastructure/mqtt"
)

// Port range accepted by Validate.
const (
	minPort = 1
	maxPort = 65535
)

// Config is an immutable snapshot of the settings for one session.
// Replace it wholesale through ConfigureAndConnect to reconnect.
type Config struct {
	Broker   string
	Port     int
	Username string
	Password string

	// DefaultTopic is subscribed on every Connected. Empty disables it.
	DefaultTopic string

	// Transport settings from the application config.
	ClientID              string
	QoS                   byte
	TLS                   bool
	ConnectTimeout        time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

// Validate checks the config without touching the network.
// It collects every problem into one error wrapping ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Broker) == "" {
		errs = append(errs, errors.New("broker is required"))
	} else if strings.ContainsAny(c.Broker, " \t\r\n/") {
		errs = append(errs, fmt.Errorf("broker %q must be a host name or address", c.Broker))
	}

	if c.Port < minPort || c.Port > maxPort {
		errs = append(errs, fmt.Errorf("port must be %d-%d, got %d", minPort, maxPort, c.Port))
	}

	if c.DefaultTopic != "" {
		if err := mqtt.ValidateTopicFilter(c.DefaultTopic); err != nil {
			errs = append(errs, fmt.Errorf("default topic: %w", err))
		}
	}

	if err := mqtt.ValidateQoS(c.QoS); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// options converts the snapshot into transport options. Keep-alive is
// fixed at 60 seconds.
func (c Config) options() mqtt.Options {
	opts := mqtt.Options{
		Host:                  c.Broker,
		Port:                  c.Port,
		ClientID:              c.ClientID,
		TLS:                   c.TLS,
		KeepAlive:             mqtt.DefaultKeepAlive,
		ConnectTimeout:        c.ConnectTimeout,
		ReconnectInitialDelay: c.ReconnectInitialDelay,
		ReconnectMaxDelay:     c.ReconnectMaxDelay,
	}
	// Credentials are only sent when both user and password are set.
	if c.Username != "" && c.Password != "" {
		opts.Username = c.Username
		opts.Password = c.Password
	}
	return opts
}
