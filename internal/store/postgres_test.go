package store

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T) (*Postgres, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgres(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func TestPostgresSelectWithEmbed(t *testing.T) {
	p, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT row_to_json(t) FROM (SELECT * FROM student_user_links WHERE user_id = $1 LIMIT 1) t")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"l1","user_id":"u1","student_id":"s1","role":"master"}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT row_to_json(t) FROM (SELECT * FROM students WHERE id = ANY($1)) t")).
		WithArgs(pq.StringArray{"s1"}).
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"s1","dojo_id":"d1"}`))

	rows, err := p.Select(context.Background(), Query{
		Collection: CollectionRoleLinks,
		Filters:    []Filter{Eq("user_id", "u1")},
		Embeds:     []Embed{{Collection: CollectionStudents, Key: "student_id", As: "student"}},
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	student, ok := rows[0]["student"].(Row)
	require.True(t, ok)
	assert.Equal(t, "d1", student["dojo_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSelectInOrder(t *testing.T) {
	p, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT row_to_json(t) FROM (SELECT * FROM student_requests WHERE user_id = $1 AND status = ANY($2) ORDER BY created_at DESC LIMIT 1) t")).
		WithArgs("u1", pq.StringArray{"pending", "rejected"}).
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}))

	rows, err := p.Select(context.Background(), Query{
		Collection: CollectionJoinRequests,
		Filters:    []Filter{Eq("user_id", "u1"), In("status", "pending", "rejected")},
		Order:      []Order{{Column: "created_at", Desc: true}},
		Limit:      1,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertEncodesNestedValues(t *testing.T) {
	p, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO students (graduation_history, id, name) VALUES ($1, $2, $3) RETURNING row_to_json(students.*)")).
		WithArgs(`[{"belt":"white"}]`, "s1", "Ana").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"s1","name":"Ana","graduation_history":[{"belt":"white"}]}`))
	mock.ExpectCommit()

	rows, err := p.Insert(context.Background(), CollectionStudents, Row{
		"id":                 "s1",
		"name":               "Ana",
		"graduation_history": []any{map[string]any{"belt": "white"}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0]["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertTranslatesDriverError(t *testing.T) {
	p, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO student_user_links").
		WillReturnError(&pq.Error{Code: "23503", Message: "violates foreign key constraint"})
	mock.ExpectRollback()

	_, err := p.Insert(context.Background(), CollectionRoleLinks, Row{"id": "l1", "student_id": "missing"})
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "23503", storeErr.Code)
	assert.Equal(t, "insert", storeErr.Op)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateAndDelete(t *testing.T) {
	p, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE student_requests SET status = $1 WHERE id = $2 RETURNING row_to_json(student_requests.*)")).
		WithArgs("approved", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"r1","status":"approved"}`))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM students WHERE id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows, err := p.Update(context.Background(), CollectionJoinRequests, Row{"status": "approved"}, Eq("id", "r1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, p.Delete(context.Background(), CollectionStudents, Eq("id", "s1")))
	assert.ErrorIs(t, p.Delete(context.Background(), CollectionStudents), ErrUnfilteredWrite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsert(t *testing.T) {
	p, mock, cleanup := newPostgresMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO dojos (id, name) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name RETURNING row_to_json(dojos.*)")).
		WithArgs("d1", "Kodokan").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow(`{"id":"d1","name":"Kodokan"}`))

	row, err := p.Upsert(context.Background(), CollectionDojos, Row{"id": "d1", "name": "Kodokan"})
	require.NoError(t, err)
	assert.Equal(t, "Kodokan", row["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}
