package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	grpc_logging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	prom "github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/feedline/core/go/certs"
	"github.com/feedline/core/go/health"
	"github.com/feedline/core/go/prometheus"
)

// Client is a gRPC client. It owns the connection and hands out Callers bound to it.
type Client struct {
	opts *Opts
	auth *AuthOpts
	log  *slog.Logger

	connection *grpc.ClientConn

	// The first interceptor is called first.
	unaryInterceptors []grpc.UnaryClientInterceptor
	// The first interceptor is called first.
	streamInterceptors []grpc.StreamClientInterceptor
	options            []grpc.DialOption

	tokenProvider TokenProvider
}

// NewClient creates and returns a new gRPC client.
func NewClient(opts *Opts, authOpts *AuthOpts, certsOpts *certs.Opts, prometheusOpts *prometheus.Opts) (*Client, error) {
	if opts.MaxRecvMessageSize == 0 {
		opts.MaxRecvMessageSize = MaximumMessageSize
	}
	if opts.MaxSendMessageSize == 0 {
		opts.MaxSendMessageSize = MaximumMessageSize
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if authOpts != nil {
		if err := authOpts.Validate(); err != nil {
			return nil, err
		}
		if authOpts.Mode == AuthModeMutualTLS && !certsOpts.HasClientCertificate() {
			return nil, fmt.Errorf("mtls authentication requires a client certificate")
		}
	}

	client := &Client{
		opts: opts,
		auth: authOpts,
		log:  slog.Default(),
	}

	// Default options.
	client.options = append(client.options,
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(opts.MaxRecvMessageSize),
			grpc.MaxCallSendMsgSize(opts.MaxSendMessageSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                opts.KeepAliveTime,
			Timeout:             opts.KeepAliveTimeout,
			PermitWithoutStream: true,
		}),
	)
	if opts.DisableTLS {
		client.log.Warn("starting gRPC client using insecure gRPC dial")
		client.options = append(client.options, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsConfig, err := certsOpts.ClientTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("loading client TLS config: %w", err)
		}
		client.options = append(client.options, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	}

	// Default interceptors.
	if prometheusOpts.Enabled() {
		metrics := grpc_prometheus.NewClientMetrics(
			grpc_prometheus.WithClientHandlingTimeHistogram(
				grpc_prometheus.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9, 20, 30, 60, 90, 120}),
			),
		)
		if err := prom.DefaultRegisterer.Register(metrics); err != nil {
			var alreadyRegistered prom.AlreadyRegisteredError
			if !errors.As(err, &alreadyRegistered) {
				return nil, fmt.Errorf("registering client metrics: %w", err)
			}
		}
		client.unaryInterceptors = append(client.unaryInterceptors, metrics.UnaryClientInterceptor())
		client.streamInterceptors = append(client.streamInterceptors, metrics.StreamClientInterceptor())
	}
	client.unaryInterceptors = append(client.unaryInterceptors, UnaryClientLogging(client.log))
	client.streamInterceptors = append(client.streamInterceptors, StreamClientLogging(client.log))
	return client, nil
}

// WithLogger sets the logger of this client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.log = logger
	return c
}

// WithTokenProvider sets the dynamic bearer token provider handed to Callers.
func (c *Client) WithTokenProvider(provider TokenProvider) *Client {
	c.tokenProvider = provider
	return c
}

// WithOptions adds dial options to this gRPC client.
func (c *Client) WithOptions(options ...grpc.DialOption) *Client {
	c.options = append(c.options, options...)
	return c
}

// WithUnaryInterceptors adds interceptors to this gRPC client.
func (c *Client) WithUnaryInterceptors(interceptors ...grpc.UnaryClientInterceptor) *Client {
	c.unaryInterceptors = append(c.unaryInterceptors, interceptors...)
	return c
}

// WithStreamInterceptors adds interceptors to this gRPC client.
func (c *Client) WithStreamInterceptors(interceptors ...grpc.StreamClientInterceptor) *Client {
	c.streamInterceptors = append(c.streamInterceptors, interceptors...)
	return c
}

// Connect creates the gRPC connection. The connection establishes lazily; failures
// surface on the first call, or through HealthCheck.
func (c *Client) Connect() (*grpc.ClientConn, health.Check, error) {
	// Chain interceptors.
	if len(c.unaryInterceptors) > 0 {
		c.options = append(c.options, grpc.WithChainUnaryInterceptor(c.unaryInterceptors...))
	}
	if len(c.streamInterceptors) > 0 {
		c.options = append(c.options, grpc.WithChainStreamInterceptor(c.streamInterceptors...))
	}

	target := c.opts.Target()
	connection, err := grpc.NewClient(target, c.options...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating grpc client [%s]: %w", target, err)
	}
	c.log.Info("created gRPC client", "target", target)
	c.connection = connection
	return c.connection, c.HealthCheck, nil
}

// Conn returns the underlying connection. Connect must have been called.
func (c *Client) Conn() *grpc.ClientConn { return c.connection }

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.connection == nil {
		return nil
	}
	return c.connection.Close()
}

// Caller returns a Caller bound to this client's configuration.
func (c *Client) Caller() *Caller {
	return NewCaller(c.opts, c.auth).
		WithLogger(c.log).
		WithTokenProvider(c.tokenProvider)
}

// HealthCheck calls the `Check` method of the grpc server.
func (c *Client) HealthCheck(ctx context.Context) error {
	healthClient := grpc_health_v1.NewHealthClient(c.connection)
	request := &grpc_health_v1.HealthCheckRequest{}
	response, err := healthClient.Check(ctx, request)
	if err != nil {
		return err
	}
	if response.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc server failed health check with status: %s", grpc_health_v1.HealthCheckResponse_ServingStatus_name[int32(response.GetStatus())])
	}
	return nil
}

// UnaryClientLogging returns a unary client interceptor logging call completion.
func UnaryClientLogging(log *slog.Logger) grpc.UnaryClientInterceptor {
	return grpc_logging.UnaryClientInterceptor(loggingInterceptor(log), loggingInterceptorOptions...)
}

// StreamClientLogging returns a stream client interceptor logging call completion.
func StreamClientLogging(log *slog.Logger) grpc.StreamClientInterceptor {
	return grpc_logging.StreamClientInterceptor(loggingInterceptor(log), loggingInterceptorOptions...)
}

var loggingInterceptorOptions = []grpc_logging.Option{
	grpc_logging.WithLogOnEvents(grpc_logging.FinishCall),
}

// loggingInterceptor adapts an slog logger to the interceptor logger.
func loggingInterceptor(log *slog.Logger) grpc_logging.Logger {
	return grpc_logging.LoggerFunc(func(ctx context.Context, level grpc_logging.Level, msg string, fields ...any) {
		log.Log(ctx, slog.Level(level), msg, fields...)
	})
}
