package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/esload/internal/index"
	"github.com/dbsmedya/esload/internal/indextest"
	"github.com/dbsmedya/esload/internal/record"
)

const countSQL = "SELECT COUNT(*) FROM (SELECT id FROM people) esload_count"

func seed(t *testing.T, srv *indextest.Server, n int) {
	t.Helper()
	client := srv.Client(t)
	for i := 0; i < n; i++ {
		doc := record.New()
		doc.Set("id", i)
		_, err := index.IndexDocument(context.Background(), client, "people", "", doc, "")
		require.NoError(t, err)
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = New(db, nil, nil)
	assert.ErrorIs(t, err, index.ErrNoClient)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name      string
		rows      int64
		docs      int
		wantMatch bool
	}{
		{"match", 3, 3, true},
		{"mismatch", 5, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			defer db.Close()
			mock.ExpectQuery(countSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(tt.rows))

			srv := indextest.NewServer(t)
			seed(t, srv, tt.docs)

			v, err := New(db, srv.Client(t), nil)
			require.NoError(t, err)

			res, err := v.Verify(context.Background(), "SELECT id FROM people;", "people")
			require.NoError(t, err)
			assert.Equal(t, tt.rows, res.SourceCount)
			assert.Equal(t, int64(tt.docs), res.IndexCount)
			assert.Equal(t, tt.wantMatch, res.Match)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestVerify_SourceError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(countSQL).WillReturnError(errors.New("syntax error"))

	srv := indextest.NewServer(t)
	v, err := New(db, srv.Client(t), nil)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "SELECT id FROM people", "people")
	assert.ErrorContains(t, err, "failed to count source rows")
}

func TestVerify_MissingIndex(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery(countSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))

	srv := indextest.NewServer(t)
	v, err := New(db, srv.Client(t), nil)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "SELECT id FROM people", "people")
	var rerr *index.RequestError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 404, rerr.StatusCode)
}
