package storage

import (
	"context"
	"errors"
	"strconv"

	"dmchat/tools/errs"
	"dmchat/tools/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         BIGINT PRIMARY KEY,
	sender     TEXT NOT NULL,
	recipient  TEXT NOT NULL,
	text       TEXT,
	file       TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_pair_created_idx ON messages (sender, recipient, created_at);
`

// PgMessageStore keeps messages in PostgreSQL with snowflake ids.
type PgMessageStore struct {
	pool *pgxpool.Pool
	ids  *ids.Generator
}

func NewPgMessageStore(pool *pgxpool.Pool, gen *ids.Generator) *PgMessageStore {
	return &PgMessageStore{pool: pool, ids: gen}
}

// OpenPg connects and pings the pool.
func OpenPg(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errs.WrapMsg(err, "create pg pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping postgres")
	}
	return pool, nil
}

func (s *PgMessageStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, pgSchema)
	return errs.WrapMsg(err, "migrate messages table")
}

func (s *PgMessageStore) Append(ctx context.Context, msg Message) (Message, error) {
	id := s.ids.Next()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, sender, recipient, text, file)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		 RETURNING created_at`,
		id, msg.Sender, msg.Recipient, msg.Text, msg.File)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return Message{}, errs.WrapMsg(err, "insert message", "sender", msg.Sender, "recipient", msg.Recipient)
	}
	msg.ID = strconv.FormatInt(id, 10)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

const pgSelect = `SELECT id, sender, recipient, COALESCE(text, ''), COALESCE(file, ''), created_at FROM messages`

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m  Message
		id int64
	)
	if err := row.Scan(&id, &m.Sender, &m.Recipient, &m.Text, &m.File, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	m.ID = strconv.FormatInt(id, 10)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func parsePgID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, ErrNotFound.WrapMsg("bad id", "id", id)
	}
	return n, nil
}

func (s *PgMessageStore) Get(ctx context.Context, id string) (Message, error) {
	n, err := parsePgID(id)
	if err != nil {
		return Message{}, err
	}
	m, err := scanMessage(s.pool.QueryRow(ctx, pgSelect+` WHERE id = $1`, n))
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound.WrapMsg("", "id", id)
	}
	if err != nil {
		return Message{}, errs.WrapMsg(err, "select message", "id", id)
	}
	return m, nil
}

func (s *PgMessageStore) Conversation(ctx context.Context, a, b string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		pgSelect+` WHERE sender = ANY($1) AND recipient = ANY($1) ORDER BY created_at, id`,
		[]string{a, b})
	if err != nil {
		return nil, errs.WrapMsg(err, "select conversation", "a", a, "b", b)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, errs.WrapMsg(err, "scan conversation row")
		}
		out = append(out, m)
	}
	return out, errs.WrapMsg(rows.Err(), "iterate conversation")
}

func (s *PgMessageStore) Delete(ctx context.Context, id string) error {
	n, err := parsePgID(id)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, n)
	if err != nil {
		return errs.WrapMsg(err, "delete message", "id", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound.WrapMsg("", "id", id)
	}
	return nil
}
