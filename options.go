package amqp

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hlrs-121991-germany/cloudify-common/log"
)

// BrokerOptions is the immutable-after-construction record describing how to
// reach and authenticate against an AMQP broker. Construct it with
// NewBrokerOptions or BrokerOptionsFromEnv; both validate the host list and
// shuffle it once.
type BrokerOptions struct {
	// Hosts is the shuffled candidate list of broker endpoints. A single
	// host is wrapped in a one-element slice.
	Hosts []string

	// Port is set to 5672 by NewBrokerOptions; BrokerOptionsFromEnv changes
	// it to 5671 when TLS is enabled and the port is still 5672. A zero Port
	// is not replaced by any default.
	Port int

	VHost    string
	User     string
	Password string

	TLSEnabled    bool
	TLSCACertPath string

	// SocketTimeout bounds the TCP dial and the AMQP handshake. Defaults
	// to 3s.
	SocketTimeout time.Duration

	// Heartbeat is the AMQP heartbeat interval negotiated with the broker.
	Heartbeat time.Duration

	// Name identifies this connection to the broker (shown in the
	// management UI). Defaults to the AGENT_NAME environment variable,
	// falling back to a generated name.
	Name string

	// ConnectTimeout bounds Start(): once elapsed with no successful
	// connect, Start returns a ConnectError.
	ConnectTimeout time.Duration

	// ConfigRefresh, when set, is consulted after a failed connect
	// attempt to re-resolve the host list and credentials before the
	// next attempt. It enables HA failover against a config source this
	// package does not itself know how to read.
	ConfigRefresh func() (BrokerOptions, error)
}

// NewBrokerOptions builds a BrokerOptions from an explicit host or host
// list. An empty list is a configuration error, not a runtime one: it is
// caught here rather than surfacing as an opaque connect failure.
func NewBrokerOptions(hosts []string) (BrokerOptions, error) {
	if len(hosts) == 0 {
		return BrokerOptions{}, &ConfigError{Reason: "no broker host configured"}
	}
	shuffled := make([]string, len(hosts))
	copy(shuffled, hosts)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return BrokerOptions{
		Hosts:          shuffled,
		Port:           5672,
		SocketTimeout:  3 * time.Second,
		ConnectTimeout: 30 * time.Second,
		Name:           defaultAgentName(),
	}, nil
}

// BrokerOptionsFromEnv reads the conventional AMQP_HOST (comma-separated),
// AMQP_PORT, AMQP_VHOST, AMQP_USER, AMQP_PASS, AMQP_SSL_ENABLED and
// AMQP_SSL_CERT_PATH environment variables. AGENT_NAME supplies the
// connection display name if set.
func BrokerOptionsFromEnv() (BrokerOptions, error) {
	raw := os.Getenv("AMQP_HOST")
	var hosts []string
	for _, h := range strings.Split(raw, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	opts, err := NewBrokerOptions(hosts)
	if err != nil {
		return BrokerOptions{}, err
	}
	if p := os.Getenv("AMQP_PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			opts.Port = port
		}
	}
	opts.VHost = os.Getenv("AMQP_VHOST")
	opts.User = os.Getenv("AMQP_USER")
	opts.Password = os.Getenv("AMQP_PASS")
	opts.TLSEnabled, _ = strconv.ParseBool(os.Getenv("AMQP_SSL_ENABLED"))
	opts.TLSCACertPath = os.Getenv("AMQP_SSL_CERT_PATH")
	if opts.TLSEnabled && opts.Port == 5672 {
		opts.Port = 5671
	}
	return opts, nil
}

func defaultAgentName() string {
	if n := os.Getenv("AGENT_NAME"); n != "" {
		return n
	}
	return getName("agent")
}

// url renders the AMQP connection URL for the given host.
func (o BrokerOptions) url(host string) string {
	scheme := "amqp"
	if o.TLSEnabled {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s", scheme, o.User, o.Password, host, o.Port, o.VHost)
}

// tlsConfig builds the client TLS configuration, loading the CA certificate
// when one was supplied. The server certificate is required; there is no
// insecure-skip-verify escape hatch.
func (o BrokerOptions) tlsConfig() (*tls.Config, error) {
	if !o.TLSEnabled {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if o.TLSCACertPath == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(o.TLSCACertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", o.TLSCACertPath)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// hostIterator produces a never-ending sequence over a host list, cycling
// indefinitely. It is safe for use by a single connection actor goroutine
// only; it carries no internal locking.
type hostIterator struct {
	hosts []string
	pos   int
}

func newHostIterator(hosts []string) *hostIterator {
	return &hostIterator{hosts: hosts}
}

// next returns the next candidate host, wrapping around the list.
func (h *hostIterator) next() string {
	host := h.hosts[h.pos%len(h.hosts)]
	h.pos++
	return host
}

// reset points the iterator back at the start of the current list, used
// after a ConfigRefresh swaps the host list out from under it.
func (h *hostIterator) reset(hosts []string) {
	h.hosts = hosts
	h.pos = 0
}

// Option configures a Connection at construction time.
type Option func(*connConfig)

// connConfig accumulates Option values before a Connection is built.
type connConfig struct {
	log           log.Logger
	name          string
	prefetchCount int
	prefetchSize  int
	topology      Topology
}

func defaultConnConfig() connConfig {
	return connConfig{
		log:           log.Discard(),
		prefetchCount: 5,
	}
}

// WithLogger sets the logger instance used by the connection actor. Handlers
// log through their own Logger field, which defaults to log.Discard().
func WithLogger(ll log.Logger) Option {
	return func(c *connConfig) { c.log = ll }
}

// WithPrefetch sets the prefetch count and size applied to the shared
// out-channel. Channels opened via Connection.Channel are not affected.
func WithPrefetch(count, size int) Option {
	return func(c *connConfig) {
		c.prefetchCount = count
		c.prefetchSize = size
	}
}

// WithName sets the connection's display name. If not set, BrokerOptions.Name
// is used, and if that is empty too a "connection-<hex>" name is generated
// when the connection is opened.
func WithName(name string) Option {
	return func(c *connConfig) { c.name = name }
}

// WithTopology pre-declares the given exchanges, queues and bindings on
// every (re)connect, ahead of any handler-specific declarations. Useful for
// topology loaded from an external YAML/JSON document.
func WithTopology(tp Topology) Option {
	return func(c *connConfig) { c.topology = tp }
}

