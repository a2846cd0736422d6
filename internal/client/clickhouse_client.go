package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/util"
)

// The audit sink writes one small batch per event from a single worker,
// so the pool stays tiny.
const (
	clickhouseMaxOpenConns = 2
	clickhouseMaxIdleConns = 1
	clickhouseDialTimeout  = 5 * time.Second
	clickhousePingTimeout  = 5 * time.Second
)

// ClickHouseClient is the audit warehouse connection.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
	mu     sync.RWMutex
}

// NewClickHouseClient connects to the audit warehouse and pings it.
func NewClickHouseClient(cfg *config.Config) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse
	opts, err := clickhouseOptions(&chConfig, cfg.IsProduction())
	if err != nil {
		return nil, err
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), clickhousePingTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	util.Info("Audit warehouse connected",
		zap.String("addr", opts.Addr[0]),
		zap.String("table", chConfig.Database+"."+chConfig.Table),
		zap.Bool("tls", opts.TLS != nil),
	)
	return &ClickHouseClient{conn: conn, config: &chConfig}, nil
}

func clickhouseOptions(chConfig *config.ClickhouseConfig, production bool) (*ch.Options, error) {
	addr, secure, err := clickhouseAddr(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:     clickhouseDialTimeout,
		MaxOpenConns:    clickhouseMaxOpenConns,
		MaxIdleConns:    clickhouseMaxIdleConns,
		ConnMaxLifetime: time.Hour,
		Compression:     &ch.Compression{Method: ch.CompressionLZ4},
	}
	if !production && !secure {
		return opts, nil
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	if chConfig.CAFile != "" {
		pem, err := os.ReadFile(chConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("clickhouse CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("clickhouse CA file %s: no certificates", chConfig.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	opts.TLS = tlsConfig
	return opts, nil
}

// clickhouseAddr turns CLICKHOUSE_URL into a native-protocol host:port.
// Bare host:port values are accepted too.
func clickhouseAddr(raw string) (addr string, secure bool, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("clickhouse://" + raw)
		if err != nil || u.Host == "" {
			return "", false, fmt.Errorf("clickhouse url %q: invalid", raw)
		}
	}
	secure = u.Scheme == "https" || u.Query().Get("secure") == "true"
	if u.Port() != "" {
		return u.Host, secure, nil
	}
	port := "9000"
	if secure {
		port = "9440"
	}
	return net.JoinHostPort(u.Hostname(), port), secure, nil
}

// BatchInsert sends rows through one prepared batch.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("clickhouse prepare batch: %w", err)
	}
	for _, row := range data {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("clickhouse append row: %w", err)
		}
	}
	return batch.Send()
}

// Table returns the fully qualified audit table.
func (c *ClickHouseClient) Table() string {
	return c.config.Database + "." + c.config.Table
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
