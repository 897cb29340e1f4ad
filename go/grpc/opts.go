package grpc

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// MaximumMessageSize is the default maximum message size in bytes.
	MaximumMessageSize = 16 * 1024 * 1024
)

var validate = validator.New()

// Opts holds connection opts for a gRPC client.
type Opts struct {
	Host     string `long:"host" env:"HOST" description:"Host for a client to connect to."`
	Port     int    `long:"port" env:"PORT" description:"Port for a client to connect to." default:"9090"`
	Endpoint string `long:"endpoint" env:"ENDPOINT" description:"Explicit target to connect to. Overrides host and port."`

	DisableTLS      bool          `long:"disable-tls" env:"DISABLE_TLS" description:"Set to true in order to disable TLS for this client."`
	DefaultDeadline time.Duration `long:"default-deadline" env:"DEFAULT_DEADLINE" description:"Default deadline applied to calls without one. Zero means unbounded." default:"0s"`

	KeepAliveTime    time.Duration `long:"keep-alive-time" env:"KEEP_ALIVE_TIME" description:"Interval at which keep-alive pings are sent on idle connections." default:"10s"`
	KeepAliveTimeout time.Duration `long:"keep-alive-timeout" env:"KEEP_ALIVE_TIMEOUT" description:"Time to wait for a keep-alive ping ack before closing the connection." default:"1s"`

	MaxRecvMessageSize int `long:"max-recv-message-size" env:"MAX_RECV_MESSAGE_SIZE" description:"Maximum message size the client can receive, in bytes." default:"16777216" validate:"gt=0"`
	MaxSendMessageSize int `long:"max-send-message-size" env:"MAX_SEND_MESSAGE_SIZE" description:"Maximum message size the client can send, in bytes." default:"16777216" validate:"gt=0"`
}

// Validate checks that a target can be resolved from these opts.
func (o *Opts) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("validating connection opts: %w", err)
	}
	if o.Endpoint != "" {
		return nil
	}
	if o.Host == "" {
		return fmt.Errorf("host must be set when no explicit endpoint is configured")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return fmt.Errorf("port must be in (0, 65535], got %d", o.Port)
	}
	return nil
}

// Target returns the target this client connects to. An explicit endpoint wins;
// otherwise the target is built from host and port.
func (o *Opts) Target() string {
	if o.Endpoint != "" {
		return o.Endpoint
	}
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}
