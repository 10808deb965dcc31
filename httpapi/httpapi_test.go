package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/mutabot/dynoris"
	"github.com/mutabot/dynoris/lease"
	"github.com/mutabot/dynoris/stamp"
)

// fakeEngine answers through function hooks; unset hooks succeed trivially.
type fakeEngine struct {
	cacheItem  func(ctx context.Context, cacheKey, table string, storeKey []lease.KeyComponent) error
	cacheHash  func(ctx context.Context, cacheKey, table, indexName, memberKey string, storeKey []lease.KeyComponent) (int64, error)
	commitItem func(ctx context.Context, cacheKey, updateKey string) (dynoris.CommitResult, error)

	deleted []string
}

var _ dynoris.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) CacheItem(ctx context.Context, cacheKey, table string, storeKey []lease.KeyComponent) error {
	if f.cacheItem != nil {
		return f.cacheItem(ctx, cacheKey, table, storeKey)
	}
	return nil
}

func (f *fakeEngine) CacheHash(ctx context.Context, cacheKey, table, indexName, memberKey string, storeKey []lease.KeyComponent) (int64, error) {
	if f.cacheHash != nil {
		return f.cacheHash(ctx, cacheKey, table, indexName, memberKey, storeKey)
	}
	return 0, nil
}

func (f *fakeEngine) CacheAsHash(ctx context.Context, cacheKey, table, memberKey string, storeKey []lease.KeyComponent) (int64, error) {
	return 0, nil
}

func (f *fakeEngine) CommitItem(ctx context.Context, cacheKey, updateKey string) (dynoris.CommitResult, error) {
	if f.commitItem != nil {
		return f.commitItem(ctx, cacheKey, updateKey)
	}
	return dynoris.CommitResult{}, nil
}

func (f *fakeEngine) DeleteItem(_ context.Context, cacheKey string) {
	f.deleted = append(f.deleted, cacheKey)
}

type fakeStampDynamo struct {
	queries []*dynamodb.QueryInput
}

func (f *fakeStampDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeStampDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, nil
}

func newTestServer(t *testing.T, eng dynoris.Engine) *Server {
	t.Helper()
	stamps, err := stamp.New(&fakeStampDynamo{})
	if err != nil {
		t.Fatalf("stamp.New: %v", err)
	}
	return NewServer(eng, stamps, nil)
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCacheItemRoute(t *testing.T) {
	var gotKey, gotTable string
	var gotStore []lease.KeyComponent
	eng := &fakeEngine{
		cacheItem: func(_ context.Context, cacheKey, table string, storeKey []lease.KeyComponent) error {
			gotKey, gotTable, gotStore = cacheKey, table, storeKey
			return nil
		},
	}
	h := newTestServer(t, eng).Handler()

	rec := post(t, h, "/api/Dynoris/CacheItem",
		`{"cacheKey":"k1","table":"T","storeKey":[{"name":"gid","value":"A"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if gotKey != "k1" || gotTable != "T" {
		t.Fatalf("request not forwarded: %q %q", gotKey, gotTable)
	}
	if len(gotStore) != 1 || gotStore[0].Name != "gid" || gotStore[0].Value != "A" {
		t.Fatalf("store key not forwarded: %v", gotStore)
	}
}

func TestCacheHashRouteRespondsCount(t *testing.T) {
	eng := &fakeEngine{
		cacheHash: func(_ context.Context, _, _, indexName, memberKey string, _ []lease.KeyComponent) (int64, error) {
			if indexName != "gid-index" || memberKey != "sid" {
				t.Errorf("hash params not forwarded: %q %q", indexName, memberKey)
			}
			return 107, nil
		},
	}
	h := newTestServer(t, eng).Handler()

	rec := post(t, h, "/api/Dynoris/CacheHash",
		`{"cacheKey":"h1","table":"T","indexName":"gid-index","hashKey":"sid","storeKey":[{"name":"gid","value":"A"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var n int64
	if err := json.NewDecoder(rec.Body).Decode(&n); err != nil || n != 107 {
		t.Fatalf("count response = %q (err %v)", rec.Body.String(), err)
	}
}

func TestCommitRouteStringKind(t *testing.T) {
	eng := &fakeEngine{
		commitItem: func(_ context.Context, cacheKey, updateKey string) (dynoris.CommitResult, error) {
			if cacheKey != "k1" || updateKey != "alias" {
				t.Errorf("commit params not forwarded: %q %q", cacheKey, updateKey)
			}
			return dynoris.CommitResult{Kind: lease.KindString, PrevJSON: `{"gid":"A"}`}, nil
		},
	}
	h := newTestServer(t, eng).Handler()

	rec := post(t, h, "/api/Dynoris/CommitItem", `{"cacheKey":"k1","updateKey":"alias"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var prev string
	if err := json.NewDecoder(rec.Body).Decode(&prev); err != nil || prev != `{"gid":"A"}` {
		t.Fatalf("prev response = %q (err %v)", rec.Body.String(), err)
	}
}

func TestCommitHashAliasRespondsMembers(t *testing.T) {
	eng := &fakeEngine{
		commitItem: func(context.Context, string, string) (dynoris.CommitResult, error) {
			return dynoris.CommitResult{Kind: lease.KindHash, Members: 3}, nil
		},
	}
	h := newTestServer(t, eng).Handler()

	rec := post(t, h, "/api/Dynoris/CommitHash", `{"cacheKey":"h1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var n int64
	if err := json.NewDecoder(rec.Body).Decode(&n); err != nil || n != 3 {
		t.Fatalf("members response = %q (err %v)", rec.Body.String(), err)
	}
}

func TestDeleteItemBareStringBody(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestServer(t, eng).Handler()

	rec := post(t, h, "/api/Dynoris/DeleteItem", `"k1"`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(eng.deleted) != 1 || eng.deleted[0] != "k1" {
		t.Fatalf("delete not forwarded: %v", eng.deleted)
	}
}

func TestInvalidStateMapsToConflict(t *testing.T) {
	eng := &fakeEngine{
		commitItem: func(context.Context, string, string) (dynoris.CommitResult, error) {
			return dynoris.CommitResult{}, lease.ErrInvalidState
		},
	}
	h := newTestServer(t, eng).Handler()

	rec := post(t, h, "/api/Dynoris/CommitItem", `{"cacheKey":"k1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestEngineErrorMapsToBadGateway(t *testing.T) {
	eng := &fakeEngine{
		cacheItem: func(context.Context, string, string, []lease.KeyComponent) error {
			return context.DeadlineExceeded
		},
	}
	h := newTestServer(t, eng).Handler()

	rec := post(t, h, "/api/Dynoris/CacheItem", `{"cacheKey":"k1","table":"T"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	h := newTestServer(t, &fakeEngine{}).Handler()

	rec := post(t, h, "/api/Dynoris/CacheItem", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStampNextEmptyResultIsArray(t *testing.T) {
	h := newTestServer(t, &fakeEngine{}).Handler()

	rec := post(t, h, "/api/ExpiringStamp/Next",
		`{"table":"Polls","index":"idx","storeKeys":[{"name":"gid","value":"A"}],"stampKey":{"name":"stamp","value":"5"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("empty result should encode as []: %q", got)
	}
}
