package dynoris

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/mutabot/dynoris/lease"
	"github.com/mutabot/dynoris/logger"
	"github.com/mutabot/dynoris/store"
)

// DynamoAPI is the backing-store capability set the engine consumes. The
// concrete *dynamodb.Client satisfies it; tests substitute fakes.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// CommitResult reports what a commit did. A skipped commit is deliberately
// indistinguishable from a successful no-op at the HTTP layer; callers that
// care can still inspect Skipped.
type CommitResult struct {
	Kind lease.Kind
	// PrevJSON carries the pre-update attribute set for string commits.
	PrevJSON string
	// Members is the number of members written back for hash-shaped commits.
	Members int64
	// Skipped means the lease was gone or still held; no write was issued.
	Skipped bool
}

// Engine moves data between the backing store and the fast store under the
// three record kinds, delegating checkout bookkeeping to a lease.Store.
//
// Engine does no validation of the cacheKey's relationship to the backing
// store query; the caller owns that mapping.
type Engine interface {
	// CacheItem reads one row through into a string entry at cacheKey.
	// Returns immediately when the key is already leased.
	CacheItem(ctx context.Context, cacheKey, table string, storeKey []lease.KeyComponent) error

	// CacheHash pages a secondary-index query through into a hash entry,
	// one member per row keyed by the row's memberKey attribute. Returns the
	// number of members written; 0 on a lease hit.
	CacheHash(ctx context.Context, cacheKey, table, indexName, memberKey string, storeKey []lease.KeyComponent) (int64, error)

	// CacheAsHash reads one row and spreads its memberKey sub-document into
	// a hash entry, one member per field (or per element for lists).
	// Returns the member count; 0 covers both a lease hit and a source row
	// without the sub-document.
	CacheAsHash(ctx context.Context, cacheKey, table, memberKey string, storeKey []lease.KeyComponent) (int64, error)

	// CommitItem writes the entry back to the backing store, dispatching on
	// the lease record's kind. updateKey ("" for none) overrides the member
	// attribute name at commit time. A missing lease is a silent skip, which
	// makes CommitItem safe to retry.
	CommitItem(ctx context.Context, cacheKey, updateKey string) (CommitResult, error)

	// DeleteItem removes the backing-store row(s) the cached entry came
	// from. Best-effort cleanup: failures are logged, never propagated.
	DeleteItem(ctx context.Context, cacheKey string)
}

// Options wire an Engine. Dynamo, Fast and Leases are required.
type Options struct {
	Dynamo DynamoAPI
	Fast   store.Store
	Leases lease.Store

	Logger logger.Logger // nil => logger.Nop
	// HashScanCount is the page-size hint for commit-time hash scans. 0 => 64.
	HashScanCount int64
}

func New(opts Options) (Engine, error) {
	return newEngine(opts)
}
