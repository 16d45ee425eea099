package mqtt

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Connection constants.
const (
	// DefaultKeepAlive is the keep-alive interval negotiated with the broker.
	DefaultKeepAlive = 60 * time.Second

	// defaultConnectTimeout is the maximum time to wait for the initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReconnectInitialDelay and defaultReconnectMaxDelay bound the
	// wait between reconnection attempts after the link drops.
	defaultReconnectInitialDelay = 1 * time.Second
	defaultReconnectMaxDelay     = 120 * time.Second

	// defaultPublishTimeout is the maximum time to wait for a publish or
	// subscribe acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDPrefix prefixes generated client identifiers.
	clientIDPrefix = "tinymqtt-"

	// clientIDRandomLen keeps generated ids within the 23 character limit
	// that MQTT 3.1.1 servers are only required to accept.
	clientIDRandomLen = 12
)

// Options describes one broker connection.
//
// Zero durations are replaced by the package defaults when dialling.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
	TLS      bool

	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.ReconnectInitialDelay <= 0 {
		o.ReconnectInitialDelay = defaultReconnectInitialDelay
	}
	if o.ReconnectMaxDelay < o.ReconnectInitialDelay {
		o.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if o.ClientID == "" {
		o.ClientID = NewClientID()
	}
	return o
}

// Address returns host:port, bracketing IPv6 literals.
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// brokerURL returns the broker URL with a scheme matching the TLS setting.
func (o Options) brokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, o.Address())
}

// tlsConfig returns the client TLS configuration, or nil when TLS is off.
func (o Options) tlsConfig() *tls.Config {
	if !o.TLS {
		return nil
	}
	return &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: o.Host,
	}
}

// hasCredentials reports whether both username and password are set.
// Credentials are sent only as a pair.
func (o Options) hasCredentials() bool {
	return o.Username != "" && o.Password != ""
}

// keepAliveSeconds converts the keep-alive interval to the wire value.
func (o Options) keepAliveSeconds() uint16 {
	secs := o.KeepAlive / time.Second
	if secs > 0xFFFF {
		return 0xFFFF
	}
	return uint16(secs) // #nosec G115 -- bounded above
}

// NewClientID generates a random client identifier.
//
// Example: tinymqtt-3f9c2a7be041
func NewClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return clientIDPrefix + id[:clientIDRandomLen]
}
