// Package pgxsession implements the pool's driver interfaces on top of pgx,
// and provides a LISTEN/NOTIFY based trigger for soft eviction.
package pgxsession

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/yuku/connpool/driver"
)

// Connector opens PostgreSQL sessions.
type Connector struct {
	config *pgx.ConnConfig
}

var _ driver.Connector = (*Connector)(nil)

// NewConnector returns a connector using a copy of config.
func NewConnector(config *pgx.ConnConfig) *Connector {
	return &Connector{config: config.Copy()}
}

// ParseConnector returns a connector for a connection string understood by
// pgx.ParseConfig.
func ParseConnector(connString string) (*Connector, error) {
	config, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	return &Connector{config: config}, nil
}

// Config returns a copy of the connection configuration.
func (c *Connector) Config() *pgx.ConnConfig {
	return c.config.Copy()
}

// Connect opens a session. Non-empty credentials replace the configured
// ones.
func (c *Connector) Connect(ctx context.Context, user, password string) (driver.Session, error) {
	config := c.config.Copy()
	if user != "" {
		config.User = user
	}
	if password != "" {
		config.Password = password
	}

	s := &Session{}
	config.OnNotice = s.handleNotice
	config.OnPgError = s.handlePgError

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Host, err)
	}
	s.conn = conn
	s.autoCommit = true
	return s, nil
}
