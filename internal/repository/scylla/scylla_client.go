package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-auth-service/internal/config"
	"admin-auth-service/internal/util"
)

// Statements holds the CQL used by the repositories. gocql prepares and
// caches each statement on first use, so queries are built per call.
type Statements struct {
	GetAdminIDByEmail string
	GetAdminByID      string
	UpdateMFAFields   string
	// EnrollMFA is a lightweight transaction; a null mfa_enrolled counts
	// as not enrolled.
	EnrollMFA string
}

var adminStatements = Statements{
	GetAdminIDByEmail: `SELECT admin_id FROM admin_email_to_id WHERE email = ?`,
	GetAdminByID: `
        SELECT admin_id, email, password_hash, role, mfa_secret, mfa_factor_id,
            mfa_enrolled, requires_password_reset, is_active, created_at
        FROM admin_users WHERE admin_id = ?`,
	UpdateMFAFields: `
        UPDATE admin_users SET mfa_secret = ?, mfa_factor_id = ?, mfa_enrolled = ?, updated_at = ?
        WHERE admin_id = ?`,
	EnrollMFA: `
        UPDATE admin_users SET mfa_secret = ?, mfa_factor_id = ?, mfa_enrolled = ?, updated_at = ?
        WHERE admin_id = ? IF mfa_enrolled != true`,
}

type ScyllaClient struct {
	Session    *gocql.Session
	config     *config.ScyllaConfig
	Statements Statements
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 100
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        time.Second,
		NumRetries: 2,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{
		Session:    session,
		config:     &scyllaConfig,
		Statements: adminStatements,
	}, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry runs a write, backing off between attempts.
func (s *ScyllaClient) ExecuteWithRetry(ctx context.Context, stmt string, maxRetries int, values ...interface{}) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		lastErr = s.Session.Query(stmt, values...).WithContext(ctx).Exec()
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
			}
		}
	}
	return lastErr
}
