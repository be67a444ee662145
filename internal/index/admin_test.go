package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/esload/internal/indextest"
	"github.com/dbsmedya/esload/internal/record"
)

func TestEnsureIndex_Idempotent(t *testing.T) {
	srv := indextest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	created, err := EnsureIndex(ctx, client, "people", ReferenceMapping())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureIndex(ctx, client, "people", ReferenceMapping())
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, 1, srv.CreateCount("people"))
	assert.JSONEq(t, `{
		"settings": {"number_of_shards": 1, "number_of_replicas": 0},
		"mappings": {"properties": {
			"name": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
			"age": {"type": "integer"},
			"created_at": {"type": "date"}
		}}
	}`, string(srv.Mapping("people")))
}

func TestEnsureIndex_KeepsExistingDocuments(t *testing.T) {
	srv := indextest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	doc := record.New()
	doc.Set("name", "kept")
	_, err := IndexDocument(ctx, client, "people", "1", doc, "")
	require.NoError(t, err)

	created, err := EnsureIndex(ctx, client, "people", ReferenceMapping())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, srv.Docs("people"), 1)
}

func TestEnsureIndex_NilClient(t *testing.T) {
	_, err := EnsureIndex(context.Background(), nil, "people", ReferenceMapping())
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestIndexExists(t *testing.T) {
	srv := indextest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	exists, err := IndexExists(ctx, client, "people")
	require.NoError(t, err)
	assert.False(t, exists)

	srv.CreateIndex("people")
	exists, err = IndexExists(ctx, client, "people")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = IndexExists(ctx, nil, "people")
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestIndexDocument(t *testing.T) {
	srv := indextest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	doc := record.New()
	doc.Set("name", "Ada")
	doc.Set("age", 36)

	res, err := IndexDocument(ctx, client, "people", "ada", doc, "true")
	require.NoError(t, err)
	assert.Equal(t, "ada", res.ID)
	assert.Equal(t, "created", res.Result)

	res, err = IndexDocument(ctx, client, "people", "ada", doc, "")
	require.NoError(t, err)
	assert.Equal(t, "updated", res.Result)

	res, err = IndexDocument(ctx, client, "people", "", doc, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Len(t, srv.Docs("people"), 2)
}

func TestSearch(t *testing.T) {
	srv := indextest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	for _, name := range []string{"Ada", "Grace", "Linus"} {
		doc := record.New()
		doc.Set("name", name)
		doc.Set("age", 40)
		_, err := IndexDocument(ctx, client, "people", name, doc, "")
		require.NoError(t, err)
	}

	size := 2
	res, err := Search(ctx, client, SearchRequest{
		Index:  "people",
		Body:   []byte(`{"query":{"match_all":{}}}`),
		Size:   &size,
		Source: []string{"name"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), res.Total)
	assert.Equal(t, "eq", res.Relation)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "Ada", res.Hits[0].ID)
	require.NotNil(t, res.Hits[0].Score)
	assert.Equal(t, []string{"name"}, res.Hits[0].Source.Fields())
}

func TestSearch_InvalidBody(t *testing.T) {
	srv := indextest.NewServer(t)
	_, err := Search(context.Background(), srv.Client(t), SearchRequest{Index: "people", Body: []byte(`{"query":`)})
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Zero(t, srv.BulkRequests())
}

func TestSearch_MissingIndex(t *testing.T) {
	srv := indextest.NewServer(t)
	_, err := Search(context.Background(), srv.Client(t), SearchRequest{Index: "nope"})
	require.Error(t, err)

	var rerr *RequestError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, 404, rerr.StatusCode)
	assert.Equal(t, "index_not_found_exception", rerr.Type)
}

func TestPing(t *testing.T) {
	srv := indextest.NewServer(t)
	info, err := Ping(context.Background(), srv.Client(t))
	require.NoError(t, err)
	assert.Equal(t, "indextest-cluster", info.ClusterName)
	assert.Equal(t, "8.15.0", info.Version.Number)
}

func TestRefreshAndCount(t *testing.T) {
	srv := indextest.NewServer(t)
	client := srv.Client(t)
	ctx := context.Background()

	_, err := Count(ctx, client, "people")
	require.Error(t, err)

	for _, id := range []string{"a", "b"} {
		doc := record.New()
		doc.Set("name", id)
		_, err := IndexDocument(ctx, client, "people", id, doc, "")
		require.NoError(t, err)
	}

	require.NoError(t, Refresh(ctx, client, "people"))
	n, err := Count(ctx, client, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
