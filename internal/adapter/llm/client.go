package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/config"
)

// Default connection pool settings: one upstream host, many concurrent
// long-lived streams.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 120 * time.Second
	defaultConnTimeout         = 30 * time.Second
	defaultRespTimeout         = 120 * time.Second
)

// NewPooledClient creates the SDK HTTP client tuned for streaming calls.
// respTimeout bounds the wait for response headers only; the body of a
// stream may stay open for as long as the model keeps producing. The client
// is an SDK buildable client so config loading can still layer settings
// such as AWS_CA_BUNDLE on top of the pool.
func NewPooledClient(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *awshttp.BuildableClient {
	if connTimeout <= 0 {
		connTimeout = defaultConnTimeout
	}
	if respTimeout <= 0 {
		respTimeout = defaultRespTimeout
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = connTimeout
			d.KeepAlive = 30 * time.Second
		}).
		WithTransportOptions(func(tr *http.Transport) {
			tr.TLSHandshakeTimeout = 10 * time.Second
			tr.ResponseHeaderTimeout = respTimeout
			tr.MaxIdleConns = maxIdle
			tr.MaxIdleConnsPerHost = maxIdlePerHost
			tr.MaxConnsPerHost = pool.MaxConnsPerHost // 0 = unlimited
			tr.IdleConnTimeout = idleTimeout
			tr.ForceAttemptHTTP2 = true
		})
}

// idleCloser is implemented by SDK HTTP clients that pool connections.
type idleCloser interface {
	CloseIdleConnections()
}

// Clients holds the process-wide AWS configuration and the Bedrock service
// clients. Nothing is loaded until the first upstream call; every later call
// reuses the same clients and connection pool.
type Clients struct {
	cfg        config.AWSConfig
	logger     *slog.Logger
	httpClient *awshttp.BuildableClient

	once    sync.Once
	loadErr error
	creds   aws.CredentialsProvider
	runtime *bedrockruntime.Client
	agent   *bedrockagentruntime.Client

	mu      sync.Mutex
	closers []idleCloser
}

// NewClients prepares lazily built clients for the given AWS settings.
func NewClients(cfg config.AWSConfig, logger *slog.Logger) *Clients {
	return &Clients{
		cfg:        cfg,
		logger:     logger,
		httpClient: NewPooledClient(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
	}
}

func (c *Clients) load(ctx context.Context) error {
	c.once.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(c.cfg.Region),
			awsconfig.WithHTTPClient(c.httpClient),
		}
		if c.cfg.AccessKeyID != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(c.cfg.AccessKeyID, c.cfg.SecretAccessKey, c.cfg.SessionToken),
			))
		}

		// The first request's context must not cancel the shared config.
		awsCfg, err := awsconfig.LoadDefaultConfig(context.WithoutCancel(ctx), opts...)
		if err != nil {
			c.loadErr = domain.NewDomainError("Clients.load", domain.ErrConfigLoad, err.Error())
			return
		}
		c.creds = awsCfg.Credentials
		c.runtime = bedrockruntime.NewFromConfig(awsCfg)
		c.agent = bedrockagentruntime.NewFromConfig(awsCfg)
		c.trackIdle(awsCfg.HTTPClient, c.runtime.Options().HTTPClient, c.agent.Options().HTTPClient)
		c.logger.Info("aws clients ready",
			"region", awsCfg.Region,
			"credentials", describeCredentials(c.cfg),
		)
	})
	return c.loadErr
}

// CheckCredentials resolves credentials without calling Bedrock. It returns
// the credential source on success.
func (c *Clients) CheckCredentials(ctx context.Context) (string, error) {
	if err := c.load(ctx); err != nil {
		return "", err
	}
	if c.creds == nil {
		return "", domain.NewDomainError("Clients.CheckCredentials", domain.ErrAuthInvalid, "no credential provider")
	}
	v, err := c.creds.Retrieve(ctx)
	if err != nil {
		return "", domain.NewDomainError("Clients.CheckCredentials", domain.ErrAuthInvalid, err.Error())
	}
	return v.Source, nil
}

// ConverseStream forwards to the Bedrock Runtime client.
func (c *Clients) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c.runtime.ConverseStream(ctx, params, optFns...)
}

// RetrieveAndGenerateStream forwards to the Bedrock Agent Runtime client.
func (c *Clients) RetrieveAndGenerateStream(ctx context.Context, params *bedrockagentruntime.RetrieveAndGenerateStreamInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveAndGenerateStreamOutput, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c.agent.RetrieveAndGenerateStream(ctx, params, optFns...)
}

// trackIdle records the HTTP clients the SDK actually uses. Config loading
// and each service client may clone the pooled client, so every copy is kept.
func (c *Clients) trackIdle(clients ...aws.HTTPClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, hc := range clients {
		if ic, ok := hc.(idleCloser); ok {
			c.closers = append(c.closers, ic)
		}
	}
}

// Close releases idle upstream connections. In-flight streams are unaffected.
func (c *Clients) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ic := range c.closers {
		ic.CloseIdleConnections()
	}
	return nil
}

var (
	_ converseStreamAPI            = (*Clients)(nil)
	_ retrieveAndGenerateStreamAPI = (*Clients)(nil)
)

// describeCredentials is used in startup logs; it never prints secrets.
func describeCredentials(cfg config.AWSConfig) string {
	if cfg.AccessKeyID == "" {
		return "default chain"
	}
	return fmt.Sprintf("static (%s...)", mask(cfg.AccessKeyID))
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4]
}
