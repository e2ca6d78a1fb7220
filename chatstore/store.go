package chatstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pairlink/pairlink/libdbexec"
)

type store struct {
	Exec libdbexec.Exec
}

// New creates a new conversation store instance.
func New(exec libdbexec.Exec) Store {
	return &store{Exec: exec}
}

// sqlTimeLayout is a fixed-width UTC layout for timestamp columns. Fixed
// width keeps TEXT timestamps collating chronologically under SQLite;
// Postgres casts the text to timestamptz on write.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func bindTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

// timeScanner scans a timestamp column that arrives as time.Time under
// lib/pq or as text under modernc SQLite.
type timeScanner struct {
	dst *time.Time
}

func (s timeScanner) Scan(v any) error {
	switch tv := v.(type) {
	case time.Time:
		*s.dst = tv.UTC()
		return nil
	case []byte:
		return s.parse(string(tv))
	case string:
		return s.parse(tv)
	case nil:
		*s.dst = time.Time{}
		return nil
	}
	return fmt.Errorf("chatstore: cannot scan %T into time.Time", v)
}

func (s timeScanner) parse(raw string) error {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fmt.Errorf("chatstore: invalid timestamp %q: %w", raw, err)
	}
	*s.dst = t.UTC()
	return nil
}

// nullTimeScanner scans a nullable timestamp column into a *time.Time.
type nullTimeScanner struct {
	dst **time.Time
}

func (s nullTimeScanner) Scan(v any) error {
	if v == nil {
		*s.dst = nil
		return nil
	}
	var t time.Time
	if err := (timeScanner{dst: &t}).Scan(v); err != nil {
		return err
	}
	*s.dst = &t
	return nil
}

// AppendMessage inserts a message and rolls the channel summary forward to
// mirror it. Missing ID and SentAt fields are filled in.
func (s *store) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.Body == "" {
		return ErrEmptyMessage
	}
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return ErrEmptyParticipant
	}
	if msg.SenderID == msg.ReceiverID {
		return ErrSameParticipant
	}

	channelKey, err := ChannelKey(msg.SenderID, msg.ReceiverID)
	if err != nil {
		return err
	}
	msg.ChannelKey = channelKey
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	msg.Read = false
	msg.ReadAt = nil

	_, err = s.Exec.ExecContext(ctx, `
		INSERT INTO chat_messages (id, channel_key, sender_id, receiver_id, body, sender_role, sent_at, read, read_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NULL)`,
		msg.ID,
		msg.ChannelKey,
		msg.SenderID,
		msg.ReceiverID,
		msg.Body,
		msg.SenderRole,
		bindTime(msg.SentAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	participantA, participantB, err := Participants(channelKey)
	if err != nil {
		return err
	}
	_, err = s.Exec.ExecContext(ctx, `
		INSERT INTO chat_channels (channel_key, participant_a, participant_b, last_sender_id, last_body, last_sent_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (channel_key) DO UPDATE SET
		    last_sender_id = excluded.last_sender_id,
		    last_body = excluded.last_body,
		    last_sent_at = excluded.last_sent_at,
		    updated_at = excluded.updated_at`,
		msg.ChannelKey,
		participantA,
		participantB,
		msg.SenderID,
		msg.Body,
		bindTime(msg.SentAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update channel summary: %w", err)
	}
	return nil
}

// GetMessage fetches a single message by ID.
func (s *store) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.Exec.QueryRowContext(ctx, `
		SELECT id, channel_key, sender_id, receiver_id, body, sender_role, sent_at, read, read_at
		FROM chat_messages
		WHERE id = $1`,
		id,
	)
	return scanMessage(row)
}

// ListMessages lists the channel's messages in chronological order. A
// limit of zero or less returns the whole channel; otherwise the newest
// limit messages are returned, still oldest first.
func (s *store) ListMessages(ctx context.Context, channelKey string, limit int) ([]*Message, error) {
	query := `
		SELECT id, channel_key, sender_id, receiver_id, body, sender_role, sent_at, read, read_at
		FROM chat_messages
		WHERE channel_key = $1
		ORDER BY sent_at ASC, id ASC`
	args := []any{channelKey}
	if limit > 0 {
		query = `
		SELECT id, channel_key, sender_id, receiver_id, body, sender_role, sent_at, read, read_at
		FROM (
		    SELECT id, channel_key, sender_id, receiver_id, body, sender_role, sent_at, read, read_at
		    FROM chat_messages
		    WHERE channel_key = $1
		    ORDER BY sent_at DESC, id DESC
		    LIMIT $2
		) AS window
		ORDER BY sent_at ASC, id ASC`
		args = append(args, limit)
	}

	rows, err := s.Exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChannelKey, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.SenderRole, timeScanner{&msg.SentAt}, &msg.Read, nullTimeScanner{&msg.ReadAt}); err != nil {
			return nil, fmt.Errorf("failed to scan messages: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return msgs, nil
}

// LastMessage gets the most recent message in the channel.
func (s *store) LastMessage(ctx context.Context, channelKey string) (*Message, error) {
	row := s.Exec.QueryRowContext(ctx, `
		SELECT id, channel_key, sender_id, receiver_id, body, sender_role, sent_at, read, read_at
		FROM chat_messages
		WHERE channel_key = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT 1`,
		channelKey,
	)
	return scanMessage(row)
}

// MarkRead flips every unread message addressed to readerID. Messages sent
// by readerID are never touched, so the sender cannot acknowledge their
// own messages. Running it again is a no-op.
func (s *store) MarkRead(ctx context.Context, channelKey, readerID string) (int64, error) {
	if !IsParticipant(channelKey, readerID) {
		return 0, ErrNotParticipant
	}

	result, err := s.Exec.ExecContext(ctx, `
		UPDATE chat_messages
		SET read = TRUE, read_at = $3
		WHERE channel_key = $1 AND receiver_id = $2 AND read = FALSE`,
		channelKey,
		readerID,
		bindTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	flipped, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return flipped, nil
}

// CountUnread counts unread messages addressed to receiverID in the channel.
func (s *store) CountUnread(ctx context.Context, channelKey, receiverID string) (int64, error) {
	row := s.Exec.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM chat_messages
		WHERE channel_key = $1 AND receiver_id = $2 AND read = FALSE`,
		channelKey,
		receiverID,
	)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// GetChannel fetches the channel summary.
func (s *store) GetChannel(ctx context.Context, channelKey string) (*ChannelSummary, error) {
	row := s.Exec.QueryRowContext(ctx, `
		SELECT channel_key, participant_a, participant_b, last_sender_id, last_body, last_sent_at, updated_at
		FROM chat_channels
		WHERE channel_key = $1`,
		channelKey,
	)
	var summary ChannelSummary
	if err := row.Scan(&summary.ChannelKey, &summary.ParticipantA, &summary.ParticipantB, &summary.LastSenderID, &summary.LastBody, timeScanner{&summary.LastSentAt}, timeScanner{&summary.UpdatedAt}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &summary, nil
}

// ListChannelsFor lists the summaries of every channel userID takes part
// in, most recently active first.
func (s *store) ListChannelsFor(ctx context.Context, userID string) ([]*ChannelSummary, error) {
	rows, err := s.Exec.QueryContext(ctx, `
		SELECT channel_key, participant_a, participant_b, last_sender_id, last_body, last_sent_at, updated_at
		FROM chat_channels
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY last_sent_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var summaries []*ChannelSummary
	for rows.Next() {
		var summary ChannelSummary
		if err := rows.Scan(&summary.ChannelKey, &summary.ParticipantA, &summary.ParticipantB, &summary.LastSenderID, &summary.LastBody, timeScanner{&summary.LastSentAt}, timeScanner{&summary.UpdatedAt}); err != nil {
			return nil, fmt.Errorf("failed to scan channels: %w", err)
		}
		summaries = append(summaries, &summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return summaries, nil
}

func scanMessage(row libdbexec.QueryRower) (*Message, error) {
	var msg Message
	if err := row.Scan(&msg.ID, &msg.ChannelKey, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.SenderRole, timeScanner{&msg.SentAt}, &msg.Read, nullTimeScanner{&msg.ReadAt}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return &msg, nil
}
