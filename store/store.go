// Package store keeps a log of successful deliveries in SQLite: which post
// went to which chat, as what media kind, and when. The history file decides
// dedup; this log exists for inspection and accounting.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Delivery is one recorded send.
type Delivery struct {
	ID          string `json:"id"`
	Cid         string `json:"cid"`
	ChatID      string `json:"chatId"`
	MediaKind   string `json:"mediaKind"`
	DeliveredAt int64  `json:"deliveredAt"`
}

// Store handles all delivery log operations with a shared connection.
type Store struct {
	db *sql.DB
}

func NewStore(database string) (*Store, error) {
	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordDelivery appends one successful send to the log.
func (s *Store) RecordDelivery(ctx context.Context, cid string, chatID string, mediaKind string) error {
	insert := sqlbuilder.NewInsertBuilder()
	query, args := insert.
		InsertInto("deliveries").
		Cols("id", "cid", "chat_id", "media_kind", "delivered_at").
		Values(uuid.New().String(), cid, chatID, mediaKind, time.Now().Unix()).
		Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	return nil
}

// RecentDeliveries returns the latest recorded sends, newest first.
func (s *Store) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "cid", "chat_id", "media_kind", "delivered_at").
		From("deliveries").
		OrderBy("delivered_at").Desc().
		Limit(limit)

	query, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.Cid, &d.ChatID, &d.MediaKind, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, rows.Err()
}

// CountDeliveries returns the total number of recorded sends.
func (s *Store) CountDeliveries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM deliveries").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query error: %w", err)
	}
	return count, nil
}

// Tidy removes delivery records older than 90 days from the database
func Tidy(database string) error {
	store, err := NewStore(database)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.tidy(context.Background())
}

func (s *Store) tidy(ctx context.Context) error {
	ninetyDaysAgo := time.Now().Add(-90 * 24 * time.Hour).Unix()

	deleteRows := sqlbuilder.NewDeleteBuilder()
	query, args := deleteRows.
		DeleteFrom("deliveries").
		Where(deleteRows.LessEqualThan("delivered_at", ninetyDaysAgo)).
		Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete error: %w", err)
	}

	if removed, err := res.RowsAffected(); err == nil && removed > 0 {
		log.WithFields(log.Fields{
			"removed": removed,
		}).Info("Tidied delivery log")
	}

	return nil
}
