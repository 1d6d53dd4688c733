package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type Session struct {
	Site     string
	Identity string
	Cookies  string
	IssuedAt int64
}

const upsertSession = `
INSERT INTO sessions (site, identity, cookies, issued_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (site, identity) DO UPDATE
SET cookies = excluded.cookies, issued_at = excluded.issued_at
`

type UpsertSessionParams struct {
	Site     string
	Identity string
	Cookies  string
	IssuedAt int64
}

func (q *Queries) UpsertSession(ctx context.Context, arg UpsertSessionParams) error {
	_, err := q.db.ExecContext(ctx, upsertSession, arg.Site, arg.Identity, arg.Cookies, arg.IssuedAt)
	return err
}

const getSession = `
SELECT site, identity, cookies, issued_at FROM sessions
WHERE site = ? AND identity = ?
`

type GetSessionParams struct {
	Site     string
	Identity string
}

func (q *Queries) GetSession(ctx context.Context, arg GetSessionParams) (Session, error) {
	row := q.db.QueryRowContext(ctx, getSession, arg.Site, arg.Identity)
	var out Session
	err := row.Scan(&out.Site, &out.Identity, &out.Cookies, &out.IssuedAt)
	return out, err
}

const deleteSession = `
DELETE FROM sessions WHERE site = ? AND identity = ?
`

type DeleteSessionParams struct {
	Site     string
	Identity string
}

func (q *Queries) DeleteSession(ctx context.Context, arg DeleteSessionParams) error {
	_, err := q.db.ExecContext(ctx, deleteSession, arg.Site, arg.Identity)
	return err
}
