package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"sessionbot/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
)

type ClickHouseDB struct {
	conn clickhouse.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	return nil
}

// Ping checks the connection
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// RegisterUser inserts the user; the ReplacingMergeTree engine collapses duplicates
func (db *ClickHouseDB) RegisterUser(ctx context.Context, user models.User) error {
	firstSeen := user.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	err := db.conn.Exec(ctx, `INSERT INTO users (user_id, username, first_name, first_seen) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.FirstName, firstSeen)
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

// ListUserIDs returns every known user id
func (db *ClickHouseDB) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.conn.Query(ctx, `SELECT DISTINCT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountUsers returns the number of distinct users
func (db *ClickHouseDB) CountUsers(ctx context.Context) (int, error) {
	var count uint64
	if err := db.conn.QueryRow(ctx, `SELECT uniqExact(user_id) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return int(count), nil
}

// RecordOutcome stores how a flow ended
func (db *ClickHouseDB) RecordOutcome(ctx context.Context, outcome models.FlowOutcome) error {
	at := outcome.At
	if at.IsZero() {
		at = time.Now()
	}
	err := db.conn.Exec(ctx, `INSERT INTO flow_outcomes (user_id, backend, kind, outcome, at) VALUES (?, ?, ?, ?, ?)`,
		outcome.UserID, outcome.Backend, outcome.Kind, outcome.Outcome, at)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// OutcomeStats returns flow counts grouped by outcome
func (db *ClickHouseDB) OutcomeStats(ctx context.Context) ([]models.OutcomeStat, error) {
	rows, err := db.conn.Query(ctx, `SELECT outcome, count() FROM flow_outcomes GROUP BY outcome ORDER BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome stats: %w", err)
	}
	defer rows.Close()

	var stats []models.OutcomeStat
	for rows.Next() {
		var (
			outcome string
			count   uint64
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome stat: %w", err)
		}
		stats = append(stats, models.OutcomeStat{Outcome: outcome, Count: int(count)})
	}
	return stats, rows.Err()
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
