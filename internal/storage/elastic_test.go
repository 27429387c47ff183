package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/activitystore/internal/fault"
	"github.com/aweris/activitystore/internal/ld"
	"github.com/aweris/activitystore/internal/query"
)

// fakeElastic emulates the handful of Elasticsearch endpoints the backend
// calls, against in-memory indices.
type fakeElastic struct {
	mu      sync.Mutex
	indices map[string]map[string]map[string]any
	mapping map[string]map[string]any // index -> properties
	fail    map[string]int // "METHOD endpoint" -> status
	calls   []string
}

func newFakeElastic() *fakeElastic {
	return &fakeElastic{
		indices: make(map[string]map[string]map[string]any),
		mapping: make(map[string]map[string]any),
		fail:    make(map[string]int),
	}
}

func (f *fakeElastic) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.EscapedPath(), "/"), "/", 3)
	for i := range parts {
		if p, err := url.PathUnescape(parts[i]); err == nil {
			parts[i] = p
		}
	}
	index := parts[0]
	endpoint := "index"
	if len(parts) > 1 {
		endpoint = parts[1]
	}
	f.calls = append(f.calls, req.Method+" "+endpoint)
	if status, ok := f.fail[req.Method+" "+endpoint]; ok {
		return f.reply(req, status, map[string]any{"error": map[string]any{"type": "injected_failure"}})
	}

	var body map[string]any
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		if len(data) > 0 {
			dec := json.NewDecoder(bytes.NewReader(data))
			if err := dec.Decode(&body); err != nil {
				return f.reply(req, http.StatusBadRequest, map[string]any{"error": err.Error()})
			}
		}
	}

	switch {
	case endpoint == "index" && req.Method == http.MethodHead:
		if _, ok := f.indices[index]; ok {
			return f.reply(req, http.StatusOK, nil)
		}
		return f.reply(req, http.StatusNotFound, nil)

	case endpoint == "index" && req.Method == http.MethodPut:
		if _, ok := f.indices[index]; ok {
			return f.reply(req, http.StatusBadRequest, map[string]any{"error": map[string]any{"type": "resource_already_exists_exception"}})
		}
		f.indices[index] = make(map[string]map[string]any)
		if mappings, ok := body["mappings"].(map[string]any); ok {
			f.mapping[index], _ = mappings["properties"].(map[string]any)
		}
		return f.reply(req, http.StatusOK, map[string]any{"acknowledged": true})

	case endpoint == "index" && req.Method == http.MethodDelete:
		for _, name := range strings.Split(index, ",") {
			delete(f.indices, name)
			delete(f.mapping, name)
		}
		return f.reply(req, http.StatusOK, map[string]any{"acknowledged": true})

	case endpoint == "_doc":
		return f.doc(req, index, parts[2], body)

	case endpoint == "_delete_by_query":
		docs := f.indices[index]
		deleted := 0
		for id, doc := range docs {
			if f.match(body["query"], doc) {
				delete(docs, id)
				deleted++
			}
		}
		return f.reply(req, http.StatusOK, map[string]any{"deleted": deleted})

	case endpoint == "_search":
		return f.search(req, index, body)
	}
	return f.reply(req, http.StatusBadRequest, map[string]any{"error": "unsupported " + req.Method + " " + req.URL.Path})
}

func (f *fakeElastic) doc(req *http.Request, index, id string, body map[string]any) (*http.Response, error) {
	docs, ok := f.indices[index]
	switch req.Method {
	case http.MethodPut, http.MethodPost:
		if !ok {
			docs = make(map[string]map[string]any)
			f.indices[index] = docs
		}
		docs[id] = body
		return f.reply(req, http.StatusCreated, map[string]any{"_id": id, "result": "created"})
	case http.MethodGet:
		doc, found := docs[id]
		if !found {
			return f.reply(req, http.StatusNotFound, map[string]any{"_id": id, "found": false})
		}
		return f.reply(req, http.StatusOK, map[string]any{"_id": id, "found": true, "_source": doc})
	case http.MethodDelete:
		if _, found := docs[id]; !found {
			return f.reply(req, http.StatusNotFound, map[string]any{"result": "not_found"})
		}
		delete(docs, id)
		return f.reply(req, http.StatusOK, map[string]any{"result": "deleted"})
	}
	return f.reply(req, http.StatusMethodNotAllowed, nil)
}

func (f *fakeElastic) search(req *http.Request, index string, body map[string]any) (*http.Response, error) {
	type hit struct {
		source map[string]any
		sort   []any
	}

	var specs []map[string]any
	for _, s := range body["sort"].([]any) {
		for field, opts := range s.(map[string]any) {
			spec := map[string]any{"field": field}
			for k, v := range opts.(map[string]any) {
				spec[k] = v
			}
			specs = append(specs, spec)
		}
	}

	for _, spec := range specs {
		field := spec["field"].(string)
		if f.fieldType(index, field) == "text" {
			return f.reply(req, http.StatusBadRequest, map[string]any{"error": map[string]any{
				"type":   "illegal_argument_exception",
				"reason": "Fielddata is disabled on [" + field + "] in [" + index + "]",
			}})
		}
		// A sub-field sorts on the value of its parent.
		if parent, _, ok := strings.Cut(field, "."); ok && f.fieldType(index, field) != "" {
			spec["source"] = parent
		}
	}

	var hits []hit
	for _, doc := range f.indices[index] {
		if !f.match(body["query"], doc) {
			continue
		}
		key := make([]any, 0, len(specs))
		for _, spec := range specs {
			field := spec["field"].(string)
			if field == "_score" {
				key = append(key, 1.0)
				continue
			}
			if parent, ok := spec["source"].(string); ok {
				field = parent
			}
			key = append(key, normalize(doc[field]))
		}
		hits = append(hits, hit{source: doc, sort: key})
	}

	less := func(a, b []any) int {
		for i, spec := range specs {
			if c := compareField(a[i], b[i], spec["order"] == "desc"); c != 0 {
				return c
			}
		}
		return 0
	}
	sort.Slice(hits, func(i, j int) bool { return less(hits[i].sort, hits[j].sort) < 0 })

	total := len(hits)
	if after, ok := body["search_after"].([]any); ok {
		start := sort.Search(len(hits), func(i int) bool { return less(hits[i].sort, after) > 0 })
		hits = hits[start:]
	}
	size := int(body["size"].(float64))
	if len(hits) > size {
		hits = hits[:size]
	}

	out := make([]any, 0, len(hits))
	for _, h := range hits {
		out = append(out, map[string]any{"_source": h.source, "sort": h.sort})
	}
	return f.reply(req, http.StatusOK, map[string]any{
		"hits": map[string]any{"total": map[string]any{"value": total}, "hits": out},
	})
}

// fieldType returns the mapped type of field, resolving "parent.sub"
// through the parent's sub-fields, or "" when unmapped.
func (f *fakeElastic) fieldType(index, field string) string {
	props := f.mapping[index]
	parent, sub, hasSub := strings.Cut(field, ".")
	def, _ := props[parent].(map[string]any)
	if hasSub {
		fields, _ := def["fields"].(map[string]any)
		def, _ = fields[sub].(map[string]any)
	}
	t, _ := def["type"].(string)
	return t
}

// match supports match_all, term, terms, multi_match and bool with must and
// filter clauses.
func (f *fakeElastic) match(q any, doc map[string]any) bool {
	clause, _ := q.(map[string]any)
	for kind, arg := range clause {
		args := arg.(map[string]any)
		switch kind {
		case "match_all":
		case "term":
			for field, want := range args {
				if !hasValue(doc[field], want) {
					return false
				}
			}
		case "terms":
			for field, wants := range args {
				ok := false
				for _, want := range wants.([]any) {
					ok = ok || hasValue(doc[field], want)
				}
				if !ok {
					return false
				}
			}
		case "multi_match":
			text, _ := doc[fieldAllText].(string)
			if !strings.Contains(strings.ToLower(text), strings.ToLower(args["query"].(string))) {
				return false
			}
		case "bool":
			for _, group := range []string{"must", "filter"} {
				list, _ := args[group].([]any)
				for _, sub := range list {
					if !f.match(sub, doc) {
						return false
					}
				}
			}
		default:
			return false
		}
	}
	return true
}

func hasValue(field, want any) bool {
	switch t := field.(type) {
	case []any:
		for _, v := range t {
			if v == want {
				return true
			}
		}
		return false
	default:
		return field == want
	}
}

func (f *fakeElastic) reply(req *http.Request, status int, payload any) (*http.Response, error) {
	var data []byte
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("X-Elastic-Product", "Elasticsearch")
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}, nil
}

func (f *fakeElastic) docs(index string) map[string]map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indices[index]
}

func newTestElastic(t *testing.T) (*Elastic, *fakeElastic) {
	t.Helper()
	fake := newFakeElastic()
	e, err := NewElastic(ElasticConfig{
		Addresses:   []string{"http://elastic.test:9200"},
		IndexPrefix: "test",
		Transport:   fake,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Setup(context.Background()))
	return e, fake
}

func TestNewElasticValidation(t *testing.T) {
	_, err := NewElastic(ElasticConfig{Addresses: []string{"http://localhost:9200"}}, nil)
	require.Error(t, err)

	_, err = NewElastic(ElasticConfig{IndexPrefix: "x"}, nil)
	require.Error(t, err)
}

func TestElasticSetup(t *testing.T) {
	e, fake := newTestElastic(t)
	assert.NotNil(t, fake.docs("test-objects"))
	assert.NotNil(t, fake.docs("test-collections"))

	// Existing indices are left alone.
	require.NoError(t, e.Setup(context.Background()))
	creates := 0
	for _, call := range fake.calls {
		if call == "PUT index" {
			creates++
		}
	}
	assert.Equal(t, 2, creates)
}

func TestElasticAddGet(t *testing.T) {
	ctx := context.Background()
	e, fake := newTestElastic(t)

	obj := ld.Object{
		"id":      "https://example.com/notes/1",
		"type":    "Note",
		"content": "Hello",
		"tag":     []any{map[string]any{"type": "Hashtag", "name": "#go"}},
	}
	require.NoError(t, e.Add(ctx, obj, ""))

	stored := fake.docs("test-objects")["https://example.com/notes/1"]
	require.NotNil(t, stored)
	assert.Equal(t, []any{"#go"}, stored[fieldTags])
	assert.Equal(t, "Hello #go", stored[fieldAllText])

	got, err := e.Get(ctx, "https://example.com/notes/1", "")
	require.NoError(t, err)
	assert.Equal(t, obj, got)

	_, err = e.Get(ctx, "https://example.com/notes/2", "")
	require.ErrorIs(t, err, fault.ErrNotFound)

	require.ErrorIs(t, e.Add(ctx, ld.Object{"id": "x"}, ""), fault.ErrInvalidObject)
}

func TestElasticCollections(t *testing.T) {
	ctx := context.Background()
	e, fake := newTestElastic(t)

	obj := ld.Object{"id": "n1", "type": "Note", "name": "first", "content": "body"}
	require.NoError(t, e.Add(ctx, obj, ""))
	require.NoError(t, e.Add(ctx, obj.Projection(), "A"))
	require.NoError(t, e.Add(ctx, obj.Projection(), "B"))

	entry := fake.docs("test-collections")[collectionDocID("A", "n1")]
	require.NotNil(t, entry)
	assert.Equal(t, "A", entry[fieldCollection])

	got, err := e.Get(ctx, "n1", "A")
	require.NoError(t, err)
	assert.Equal(t, ld.Object{"id": "n1", "type": "Note", "name": "first"}, got)

	_, err = e.Get(ctx, "n1", "C")
	require.ErrorIs(t, err, fault.ErrNotFound)

	require.NoError(t, e.Remove(ctx, "n1", "A"))
	_, err = e.Get(ctx, "n1", "A")
	require.ErrorIs(t, err, fault.ErrNotFound)
	_, err = e.Get(ctx, "n1", "B")
	require.NoError(t, err)

	res, err := e.Query(ctx, mustQuery(t, query.WithCollection("B")))
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, res.IDs())
	assert.Equal(t, ld.Object{"id": "n1", "type": "Note", "name": "first"}, res.Items[0])
}

func TestElasticRemoveCascades(t *testing.T) {
	ctx := context.Background()
	e, fake := newTestElastic(t)

	obj := ld.Object{"id": "n1", "type": "Note"}
	require.NoError(t, e.Add(ctx, obj, ""))
	require.NoError(t, e.Add(ctx, obj.Projection(), "A"))
	require.NoError(t, e.Add(ctx, obj.Projection(), "B"))
	require.NoError(t, e.Add(ctx, ld.Object{"id": "n2", "type": "Note"}, "B"))

	require.NoError(t, e.Remove(ctx, "n1", ""))
	assert.Contains(t, fake.calls, "POST _delete_by_query")
	assert.Len(t, fake.docs("test-collections"), 1)

	for _, c := range []string{"", "A", "B"} {
		_, err := e.Get(ctx, "n1", c)
		require.ErrorIs(t, err, fault.ErrNotFound, "collection %q", c)
	}

	// Removing again is not an error.
	require.NoError(t, e.Remove(ctx, "n1", ""))
}

func TestElasticRemoveObjectKeepsMemberships(t *testing.T) {
	ctx := context.Background()
	e, fake := newTestElastic(t)

	obj := ld.Object{"id": "n1", "type": "Note"}
	require.NoError(t, e.Add(ctx, obj, ""))
	require.NoError(t, e.Add(ctx, obj.Projection(), "A"))

	require.NoError(t, e.RemoveObject(ctx, "n1"))
	assert.NotContains(t, fake.calls, "POST _delete_by_query")

	_, err := e.Get(ctx, "n1", "")
	require.ErrorIs(t, err, fault.ErrNotFound)
	_, err = e.Get(ctx, "n1", "A")
	require.NoError(t, err)

	require.NoError(t, e.RemoveObject(ctx, "n1"))
}

func TestElasticSortOnTextFields(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestElastic(t)
	require.NoError(t, e.Add(ctx, ld.Object{"id": "n1", "type": "Note", "name": "charlie", "summary": "z"}, ""))
	require.NoError(t, e.Add(ctx, ld.Object{"id": "n2", "type": "Note", "name": "alpha", "summary": "y"}, ""))
	require.NoError(t, e.Add(ctx, ld.Object{"id": "n3", "type": "Note", "name": "bravo", "summary": "x"}, ""))
	require.NoError(t, e.Add(ctx, ld.Object{"id": "n4", "type": "Note"}, ""))

	tests := []struct {
		sort string
		want []string
	}{
		{sort: "name", want: []string{"n2", "n3", "n1", "n4"}},
		{sort: "name:desc", want: []string{"n1", "n3", "n2", "n4"}},
		{sort: "summary", want: []string{"n3", "n2", "n1", "n4"}},
		{sort: "content", want: []string{"n1", "n2", "n3", "n4"}},
	}
	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			var seen []string
			after := ""
			for {
				res, err := e.Query(ctx, mustQuery(t, query.WithSort(tt.sort), query.WithSize(3), query.WithAfter(after)))
				require.NoError(t, err)
				seen = append(seen, res.IDs()...)
				if res.After == "" {
					break
				}
				after = res.After
			}
			assert.Equal(t, tt.want, seen)
		})
	}

	// Text fields without a keyword sub-field are rejected by the cluster.
	_, err := e.Query(ctx, mustQuery(t, query.WithSort(fieldAllText)))
	require.ErrorIs(t, err, fault.ErrBackend)
	assert.Contains(t, err.Error(), "illegal_argument_exception")
}

func TestElasticQueryPagination(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestElastic(t)
	for i := range 5 {
		require.NoError(t, e.Add(ctx, ld.Object{"id": fmt.Sprintf("n%d", i), "type": "Note"}, ""))
	}
	require.NoError(t, e.Add(ctx, ld.Object{"id": "p1", "type": "Person"}, ""))

	var seen []string
	after := ""
	for {
		res, err := e.Query(ctx, mustQuery(t, query.WithType("Note"), query.WithSize(2), query.WithAfter(after)))
		require.NoError(t, err)
		assert.Equal(t, 5, res.TotalItems)
		seen = append(seen, res.IDs()...)
		if res.After == "" {
			break
		}
		after = res.After
	}
	assert.Equal(t, []string{"n0", "n1", "n2", "n3", "n4"}, seen)
}

func TestElasticQueryTextAndKeywords(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestElastic(t)
	require.NoError(t, e.Add(ctx, ld.Object{"id": "n1", "type": "Note", "content": "Hello World", "tag": "news"}, ""))
	require.NoError(t, e.Add(ctx, ld.Object{"id": "n2", "type": "Note", "content": "goodbye"}, ""))

	res, err := e.Query(ctx, mustQuery(t, query.WithText("hello")))
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, res.IDs())
	assert.NotContains(t, res.Items[0], fieldAllText)

	res, err = e.Query(ctx, mustQuery(t, query.WithKeywords("news")))
	require.NoError(t, err)
	assert.Equal(t, []string{"n1"}, res.IDs())
}

func TestElasticTeardown(t *testing.T) {
	ctx := context.Background()
	e, fake := newTestElastic(t)
	require.NoError(t, e.Add(ctx, ld.Object{"id": "n1", "type": "Note"}, ""))

	require.NoError(t, e.Teardown(ctx))
	assert.Nil(t, fake.docs("test-objects"))
	assert.Nil(t, fake.docs("test-collections"))

	// A torn down store can be set up again.
	require.NoError(t, e.Setup(ctx))
	_, err := e.Get(ctx, "n1", "")
	require.ErrorIs(t, err, fault.ErrNotFound)
}

func TestElasticBackendErrors(t *testing.T) {
	ctx := context.Background()
	e, fake := newTestElastic(t)
	fake.fail["PUT _doc"] = http.StatusInternalServerError
	fake.fail["POST _search"] = http.StatusInternalServerError

	err := e.Add(ctx, ld.Object{"id": "n1", "type": "Note"}, "")
	require.ErrorIs(t, err, fault.ErrBackend)
	assert.Contains(t, err.Error(), "injected_failure")

	_, err = e.Query(ctx, mustQuery(t))
	require.ErrorIs(t, err, fault.ErrBackend)
}

func TestSearchBody(t *testing.T) {
	byID := map[string]any{"id": map[string]any{"order": "asc"}}

	t.Run("match all by id", func(t *testing.T) {
		body := searchBody(mustQuery(t))
		assert.Equal(t, map[string]any{"match_all": map[string]any{}}, body["query"])
		assert.Equal(t, []any{byID}, body["sort"])
		assert.Equal(t, query.DefaultSize+1, body["size"])
		assert.Equal(t, true, body["track_total_hits"])
		assert.NotContains(t, body, "search_after")
	})

	t.Run("text sorts by score", func(t *testing.T) {
		body := searchBody(mustQuery(t, query.WithText("hello")))
		assert.Equal(t, []any{map[string]any{"_score": map[string]any{"order": "desc"}}, byID}, body["sort"])
		must := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)
		require.Len(t, must, 1)
		assert.Equal(t, "hello", must[0].(map[string]any)["multi_match"].(map[string]any)["query"])
	})

	t.Run("explicit sort and filters", func(t *testing.T) {
		cursor := query.EncodeCursor([]any{"2024-01-01", "n3"})
		body := searchBody(mustQuery(t,
			query.WithSort("published:desc"),
			query.WithType("Note", "Article"),
			query.WithCollection("outbox"),
			query.WithKeywords("go"),
			query.WithSize(3),
			query.WithAfter(cursor),
		))
		assert.Equal(t, []any{
			map[string]any{"published": map[string]any{"order": "desc", "missing": "_last", "unmapped_type": "keyword"}},
			byID,
		}, body["sort"])
		assert.Equal(t, 4, body["size"])
		assert.Equal(t, []any{"2024-01-01", "n3"}, body["search_after"])

		filter := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
		assert.Equal(t, []any{
			map[string]any{"terms": map[string]any{"type": []string{"Note", "Article"}}},
			map[string]any{"term": map[string]any{fieldCollection: "outbox"}},
			map[string]any{"terms": map[string]any{fieldTags: []string{"go"}}},
		}, filter)
	})
}

func TestSearchBodySortsTextOnKeyword(t *testing.T) {
	body := searchBody(mustQuery(t, query.WithSort("name")))
	spec := body["sort"].([]any)[0].(map[string]any)
	assert.Contains(t, spec, "name.keyword")
	assert.NotContains(t, spec, "name")

	for field, want := range map[string]string{
		"content":   "content.keyword",
		"summary":   "summary.keyword",
		"published": "published",
		"mediaType": "mediaType",
	} {
		assert.Equal(t, want, sortField(field), field)
	}
}

func TestCollectionDocID(t *testing.T) {
	a := collectionDocID("outbox", "n1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, collectionDocID("outbox", "n1"))
	assert.NotEqual(t, a, collectionDocID("inbox", "n1"))
	assert.NotEqual(t, a, collectionDocID("outbox", "n2"))
}
