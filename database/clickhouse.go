package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseClient wraps the native-protocol connection used by the event
// archive.
type ClickHouseClient struct {
	Conn clickhouse.Conn
}

type ClickHouseOptions struct {
	// Host may list several comma-separated replicas.
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

func (o ClickHouseOptions) addrs() []string {
	var out []string
	for _, h := range strings.Split(o.Host, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, fmt.Sprintf("%s:%d", h, o.Port))
		}
	}
	return out
}

func NewClickHouseDB(ctx context.Context, opts ClickHouseOptions) (*ClickHouseClient, error) {
	addrs := opts.addrs()
	if len(addrs) == 0 || opts.Port == 0 || opts.Database == "" {
		return nil, errors.New("clickhouse: host, native port and database name are required")
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: addrs,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "maison-pulse", Version: "1.0.0"}},
		},
		Compression:      &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialTimeout:      5 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		var ex *clickhouse.Exception
		if errors.As(err, &ex) {
			return nil, fmt.Errorf("clickhouse ping: [%d] %s", ex.Code, ex.Message)
		}
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	log.Printf("Connected to ClickHouse at %s (db=%s)", strings.Join(addrs, ","), opts.Database)
	return &ClickHouseClient{Conn: conn}, nil
}

func (c *ClickHouseClient) Close() {
	if c.Conn == nil {
		return
	}
	if err := c.Conn.Close(); err != nil {
		log.Printf("ERROR: closing ClickHouse connection: %v", err)
	}
}
