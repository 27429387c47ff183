package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/aweris/activitystore/internal/fault"
	"github.com/aweris/activitystore/internal/ld"
	"github.com/aweris/activitystore/internal/query"
)

var _ Storage = (*Elastic)(nil)

// Fields added to indexed documents and stripped on read.
const (
	fieldCollection = "_collection"
	fieldAllText    = "_all_text"
	fieldTags       = "_tags"
)

var internalFields = []string{fieldCollection, fieldAllText, fieldTags}

// textFields are searched by free-text queries, with boosts.
var textFields = []string{fieldAllText + "^3", "name^2", "content", "summary"}

// sortableText maps a text field with a keyword sub-field, since text fields
// cannot be sorted on.
var sortableText = map[string]any{
	"type": "text",
	"fields": map[string]any{
		"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
	},
}

// keywordSubfields lists the text fields sorted through their keyword
// sub-field.
var keywordSubfields = map[string]bool{"name": true, "content": true, "summary": true}

// sortField returns the indexed field to sort on for a document field.
func sortField(field string) string {
	if keywordSubfields[field] {
		return field + ".keyword"
	}
	return field
}

// indexDefinition is shared by both indices. Unmapped fields are kept in
// _source but not indexed, so arbitrary LD documents never cause mapping
// conflicts. Sorting on an unmapped field treats every value as missing and
// falls back to id order.
var indexDefinition = map[string]any{
	"settings": map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 0,
		"refresh_interval":   "1s",
	},
	"mappings": map[string]any{
		"dynamic": false,
		"properties": map[string]any{
			"id":            map[string]any{"type": "keyword"},
			"type":          map[string]any{"type": "keyword"},
			"name":          sortableText,
			"content":       sortableText,
			"summary":       sortableText,
			"published":     map[string]any{"type": "date", "format": "date_optional_time||strict_date_optional_time"},
			"updated":       map[string]any{"type": "date", "format": "date_optional_time||strict_date_optional_time"},
			fieldCollection: map[string]any{"type": "keyword"},
			fieldTags:       map[string]any{"type": "keyword"},
			fieldAllText:    map[string]any{"type": "text"},
		},
	},
}

// ElasticConfig configures the Elasticsearch backend.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	CloudID   string

	// IndexPrefix names the two indices: <prefix>-objects, <prefix>-collections.
	IndexPrefix string

	// RefreshOnWrite makes writes visible to search before returning.
	RefreshOnWrite bool

	// Transport overrides the HTTP transport (tests, custom TLS).
	Transport http.RoundTripper
}

// Elastic implements Storage on Elasticsearch.
type Elastic struct {
	client      *elasticsearch.Client
	objects     string
	collections string
	refresh     bool
	log         *zap.Logger
}

// NewElastic creates an Elasticsearch-backed storage. No request is made until
// the first operation.
func NewElastic(cfg ElasticConfig, log *zap.Logger) (*Elastic, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.IndexPrefix == "" {
		return nil, errors.New("elastic: index prefix is required")
	}
	if len(cfg.Addresses) == 0 && cfg.CloudID == "" {
		return nil, errors.New("elastic: need addresses or a cloud id")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		CloudID:   cfg.CloudID,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: create client: %w", err)
	}

	return &Elastic{
		client:      client,
		objects:     cfg.IndexPrefix + "-objects",
		collections: cfg.IndexPrefix + "-collections",
		refresh:     cfg.RefreshOnWrite,
		log:         log.Named("storage.elastic"),
	}, nil
}

// collectionDocID derives the document id of a collection entry, so one object
// can have an independent projection in each collection.
func collectionDocID(collection, id string) string {
	h := sha256.Sum256([]byte(collection + "-" + id))
	return hex.EncodeToString(h[:])
}

func (e *Elastic) Setup(ctx context.Context) error {
	body, err := json.Marshal(indexDefinition)
	if err != nil {
		return fmt.Errorf("elastic: encode index definition: %w", err)
	}

	for _, index := range []string{e.objects, e.collections} {
		res, err := e.client.Indices.Exists([]string{index}, e.client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return fault.Backend("check index "+index, err)
		}
		closeBody(res)
		switch res.StatusCode {
		case http.StatusOK:
			continue
		case http.StatusNotFound:
		default:
			return fault.Backend("check index "+index, fmt.Errorf("unexpected status %s", res.Status()))
		}

		res, err = e.client.Indices.Create(index,
			e.client.Indices.Create.WithBody(bytes.NewReader(body)),
			e.client.Indices.Create.WithContext(ctx),
		)
		if err != nil {
			return fault.Backend("create index "+index, err)
		}
		if res.IsError() {
			rerr := responseError(res)
			closeBody(res)
			// Another store created it between the check and the create.
			if res.StatusCode == http.StatusBadRequest && strings.Contains(rerr.Error(), "resource_already_exists_exception") {
				continue
			}
			return fault.Backend("create index "+index, rerr)
		}
		closeBody(res)
		e.log.Info("created index", zap.String("index", index))
	}
	return nil
}

func (e *Elastic) Teardown(ctx context.Context) error {
	res, err := e.client.Indices.Delete([]string{e.objects, e.collections},
		e.client.Indices.Delete.WithIgnoreUnavailable(true),
		e.client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return fault.Backend("delete indices", err)
	}
	defer closeBody(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fault.Backend("delete indices", responseError(res))
	}
	e.log.Info("deleted indices", zap.Strings("indices", []string{e.objects, e.collections}))
	return nil
}

// prepare copies obj and adds the internal search fields.
func prepare(obj ld.Object, collection string) ld.Object {
	doc := obj.Clone()
	if collection != "" {
		doc[fieldCollection] = collection
	}
	if text := obj.Text(); text != "" {
		doc[fieldAllText] = text
	}
	if tags := obj.Tags(); len(tags) > 0 {
		doc[fieldTags] = tags
	}
	return doc
}

func strip(doc ld.Object) ld.Object {
	for _, f := range internalFields {
		delete(doc, f)
	}
	return doc
}

func (e *Elastic) target(id, collection string) (index, docID string) {
	if collection == "" {
		return e.objects, id
	}
	return e.collections, collectionDocID(collection, id)
}

func (e *Elastic) Add(ctx context.Context, obj ld.Object, collection string) error {
	id, err := ld.Validate(obj)
	if err != nil {
		return err
	}
	body, err := json.Marshal(prepare(obj, collection))
	if err != nil {
		return fault.Backend("encode "+id, err)
	}

	index, docID := e.target(id, collection)
	opts := []func(*esapi.IndexRequest){
		e.client.Index.WithDocumentID(docID),
		e.client.Index.WithContext(ctx),
	}
	if e.refresh {
		opts = append(opts, e.client.Index.WithRefresh("wait_for"))
	}

	res, err := e.client.Index(index, bytes.NewReader(body), opts...)
	if err != nil {
		e.log.Error("index failed", zap.String("object_id", id), zap.String("collection", collection), zap.Error(err))
		return fault.Backend("add "+id, err)
	}
	defer closeBody(res)
	if res.IsError() {
		rerr := responseError(res)
		e.log.Error("index failed", zap.String("object_id", id), zap.String("collection", collection), zap.Error(rerr))
		return fault.Backend("add "+id, rerr)
	}
	e.log.Debug("indexed object", zap.String("object_id", id), zap.String("collection", collection))
	return nil
}

func (e *Elastic) Remove(ctx context.Context, id, collection string) error {
	if err := e.deleteDoc(ctx, id, collection); err != nil {
		return err
	}
	if collection != "" {
		return nil
	}
	return e.purgeMemberships(ctx, id)
}

func (e *Elastic) RemoveObject(ctx context.Context, id string) error {
	return e.deleteDoc(ctx, id, "")
}

// deleteDoc deletes one document, tolerating a missing one.
func (e *Elastic) deleteDoc(ctx context.Context, id, collection string) error {
	index, docID := e.target(id, collection)
	opts := []func(*esapi.DeleteRequest){e.client.Delete.WithContext(ctx)}
	if e.refresh {
		opts = append(opts, e.client.Delete.WithRefresh("wait_for"))
	}

	res, err := e.client.Delete(index, docID, opts...)
	if err != nil {
		return fault.Backend("remove "+id, err)
	}
	defer closeBody(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fault.Backend("remove "+id, responseError(res))
	}
	return nil
}

// purgeMemberships removes every collection entry of id.
func (e *Elastic) purgeMemberships(ctx context.Context, id string) error {
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"id": id}},
	})
	if err != nil {
		return fault.Backend("purge "+id, err)
	}

	res, err := e.client.DeleteByQuery([]string{e.collections}, bytes.NewReader(body),
		e.client.DeleteByQuery.WithConflicts("proceed"),
		e.client.DeleteByQuery.WithRefresh(e.refresh),
		e.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fault.Backend("purge "+id, err)
	}
	defer closeBody(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fault.Backend("purge "+id, responseError(res))
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err == nil && out.Deleted > 0 {
		e.log.Debug("purged collection memberships", zap.String("object_id", id), zap.Int("collections", out.Deleted))
	}
	return nil
}

func (e *Elastic) Get(ctx context.Context, id, collection string) (ld.Object, error) {
	index, docID := e.target(id, collection)
	res, err := e.client.Get(index, docID, e.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fault.Backend("get "+id, err)
	}
	defer closeBody(res)

	if res.StatusCode == http.StatusNotFound {
		if collection != "" {
			return nil, fmt.Errorf("%w: %s in collection %s", fault.ErrNotFound, id, collection)
		}
		return nil, fmt.Errorf("%w: %s", fault.ErrNotFound, id)
	}
	if res.IsError() {
		return nil, fault.Backend("get "+id, responseError(res))
	}

	var doc struct {
		Found  bool      `json:"found"`
		Source ld.Object `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fault.Backend("decode "+id, err)
	}
	if !doc.Found || doc.Source == nil {
		return nil, fmt.Errorf("%w: %s", fault.ErrNotFound, id)
	}
	return strip(doc.Source), nil
}

// searchBody translates q into an Elasticsearch request body. One extra hit is
// requested to learn whether another page exists.
func searchBody(q query.Query) map[string]any {
	var must, filter []any

	if text := q.Text(); text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": textFields,
				"type":   "best_fields",
			},
		})
	}
	if types := q.Types(); len(types) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{"type": types}})
	}
	if c := q.Collection(); c != "" {
		filter = append(filter, map[string]any{"term": map[string]any{fieldCollection: c}})
	}
	if kws := q.Keywords(); len(kws) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{fieldTags: kws}})
	}

	var qry map[string]any
	if len(must) == 0 && len(filter) == 0 {
		qry = map[string]any{"match_all": map[string]any{}}
	} else {
		b := map[string]any{}
		if len(must) > 0 {
			b["must"] = must
		}
		if len(filter) > 0 {
			b["filter"] = filter
		}
		qry = map[string]any{"bool": b}
	}

	byID := map[string]any{"id": map[string]any{"order": "asc"}}
	var sortSpec []any
	switch {
	case q.SortField() != "":
		order := "asc"
		if q.Descending() {
			order = "desc"
		}
		sortSpec = []any{
			map[string]any{sortField(q.SortField()): map[string]any{
				"order":         order,
				"missing":       "_last",
				"unmapped_type": "keyword",
			}},
			byID,
		}
	case q.Text() != "":
		sortSpec = []any{map[string]any{"_score": map[string]any{"order": "desc"}}, byID}
	default:
		sortSpec = []any{byID}
	}

	body := map[string]any{
		"query":            qry,
		"sort":             sortSpec,
		"size":             q.Size() + 1,
		"track_total_hits": true,
	}
	if cursor := q.Cursor(); cursor != nil {
		body["search_after"] = cursor
	}
	return body
}

func (e *Elastic) Query(ctx context.Context, q query.Query) (*query.Result, error) {
	index := e.objects
	if q.Collection() != "" {
		index = e.collections
	}

	body, err := json.Marshal(searchBody(q))
	if err != nil {
		return nil, fault.Backend("encode query", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fault.Backend("search", err)
	}
	defer closeBody(res)
	if res.IsError() {
		return nil, fault.Backend("search", responseError(res))
	}

	var out struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source ld.Object `json:"_source"`
				Sort   []any     `json:"sort"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fault.Backend("decode search response", err)
	}

	hits := out.Hits.Hits
	more := len(hits) > q.Size()
	if more {
		hits = hits[:q.Size()]
	}
	items := make([]ld.Object, 0, len(hits))
	var cursor []any
	for _, hit := range hits {
		items = append(items, strip(hit.Source))
		cursor = hit.Sort
	}

	e.log.Debug("executed search",
		zap.String("index", index),
		zap.Int("total_hits", out.Hits.Total.Value),
		zap.Int("returned_hits", len(items)),
	)
	return query.NewResult(q, out.Hits.Total.Value, items, more, cursor), nil
}

// Close is a no-op: the client only holds pooled HTTP connections.
func (e *Elastic) Close() error { return nil }

func closeBody(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}

func responseError(res *esapi.Response) error {
	var body []byte
	if res.Body != nil {
		body, _ = io.ReadAll(res.Body)
	}
	return fmt.Errorf("%s: %s", res.Status(), bytes.TrimSpace(body))
}
