package dynoris

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cockroachdb/errors"

	"github.com/mutabot/dynoris/dynattr"
	"github.com/mutabot/dynoris/internal/expr"
	"github.com/mutabot/dynoris/lease"
	"github.com/mutabot/dynoris/logger"
	"github.com/mutabot/dynoris/store"
)

const deleteBatchSize = 25 // BatchWriteItem ceiling

type engine struct {
	dynamo    DynamoAPI
	fast      store.Store
	leases    lease.Store
	log       logger.Logger
	scanCount int64
}

var _ Engine = (*engine)(nil)

func newEngine(opts Options) (*engine, error) {
	if opts.Dynamo == nil {
		return nil, fmt.Errorf("dynoris: dynamo client is required")
	}
	if opts.Fast == nil {
		return nil, fmt.Errorf("dynoris: fast store is required")
	}
	if opts.Leases == nil {
		return nil, fmt.Errorf("dynoris: lease store is required")
	}
	e := &engine{
		dynamo:    opts.Dynamo,
		fast:      opts.Fast,
		leases:    opts.Leases,
		log:       opts.Logger,
		scanCount: coalesce(opts.HashScanCount, 64),
	}
	if e.log == nil {
		e.log = logger.Nop{}
	}
	return e, nil
}

func (e *engine) CacheItem(ctx context.Context, cacheKey, table string, storeKey []lease.KeyComponent) error {
	rec := lease.Record{Kind: lease.KindString, Table: table, StoreKey: storeKey}
	existed, err := e.leases.AcquireOnRead(ctx, cacheKey, rec)
	if err != nil {
		return errors.Wrap(err, "acquire read lease")
	}
	if existed {
		return nil // already cached
	}

	// Two first readers can race through the gate and both pay for the
	// backing-store read; the later write wins. Bounded waste, not a
	// correctness problem - the protocol does not try to close this window.
	out, err := e.dynamo.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       expr.Key(storeKey),
	})
	if err != nil {
		return errors.Wrap(err, "backing store get")
	}

	val, err := dynattr.ToJSON(dynattr.FromItem(out.Item))
	if err != nil {
		return err
	}
	if err := e.fast.Set(ctx, cacheKey, val, e.leases.EntryTTL()); err != nil {
		return errors.Wrap(err, "write cache entry")
	}
	return nil
}

func (e *engine) CacheHash(ctx context.Context, cacheKey, table, indexName, memberKey string, storeKey []lease.KeyComponent) (int64, error) {
	rec := lease.Record{Kind: lease.KindHash, Table: table, StoreKey: storeKey, MemberKey: memberKey}
	existed, err := e.leases.AcquireOnRead(ctx, cacheKey, rec)
	if err != nil {
		return 0, errors.Wrap(err, "acquire read lease")
	}
	if existed {
		return 0, nil
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    aws.String(expr.Condition(storeKey, "=")),
		ExpressionAttributeNames:  expr.Names(storeKey),
		ExpressionAttributeValues: expr.Values(storeKey),
	}
	if indexName != "" {
		in.IndexName = aws.String(indexName)
	}

	// Page until the continuation key runs dry. A concurrent reader can see
	// a partially populated hash mid-loop; accepted, same as the original.
	var count int64
	for {
		out, err := e.dynamo.Query(ctx, in)
		if err != nil {
			return count, errors.Wrap(err, "backing store query")
		}
		if len(out.Items) > 0 {
			fields := make(map[string]string, len(out.Items))
			for _, item := range out.Items {
				doc := dynattr.FromItem(item)
				js, err := dynattr.ToJSON(doc)
				if err != nil {
					return count, err
				}
				fields[scalarString(doc[memberKey])] = js
			}
			if err := e.fast.HSet(ctx, cacheKey, fields); err != nil {
				return count, errors.Wrap(err, "write cache members")
			}
			count += int64(len(fields))
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	if err := e.armEntry(ctx, cacheKey); err != nil {
		return count, err
	}
	return count, nil
}

func (e *engine) CacheAsHash(ctx context.Context, cacheKey, table, memberKey string, storeKey []lease.KeyComponent) (int64, error) {
	rec := lease.Record{Kind: lease.KindHashDocument, Table: table, StoreKey: storeKey, MemberKey: memberKey}
	existed, err := e.leases.AcquireOnRead(ctx, cacheKey, rec)
	if err != nil {
		return 0, errors.Wrap(err, "acquire read lease")
	}
	if existed {
		return 0, nil
	}

	out, err := e.dynamo.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       expr.Key(storeKey),
	})
	if err != nil {
		return 0, errors.Wrap(err, "backing store get")
	}

	// Spread the named sub-document into hash members. A zero count covers
	// both "attribute absent" and "attribute empty"; callers cannot tell
	// them from a lease hit, same as the original service.
	fields := map[string]string{}
	switch sub := dynattr.FromItem(out.Item)[memberKey].(type) {
	case dynattr.Document:
		for f, v := range sub {
			js, err := json.Marshal(v)
			if err != nil {
				return 0, err
			}
			fields[f] = string(js)
		}
	case []any:
		for i, v := range sub {
			js, err := json.Marshal(v)
			if err != nil {
				return 0, err
			}
			fields[strconv.Itoa(i)] = string(js)
		}
	}
	if len(fields) > 0 {
		if err := e.fast.HSet(ctx, cacheKey, fields); err != nil {
			return 0, errors.Wrap(err, "write cache members")
		}
	}
	if err := e.armEntry(ctx, cacheKey); err != nil {
		return int64(len(fields)), err
	}
	return int64(len(fields)), nil
}

func (e *engine) CommitItem(ctx context.Context, cacheKey, updateKey string) (CommitResult, error) {
	rec, err := e.leases.AcquireOnWrite(ctx, cacheKey)
	if err != nil {
		return CommitResult{}, errors.Wrap(err, "acquire write lease")
	}
	if rec == nil {
		// Lease gone: already committed or expired. Silent no-op keeps
		// retries idempotent.
		e.log.Debug("commit skipped, no lease", logger.Fields{"cacheKey": cacheKey})
		return CommitResult{Skipped: true}, nil
	}
	if rec.RefCount > 0 {
		// Other readers still hold the key; the last one out writes.
		e.log.Debug("commit deferred, readers outstanding", logger.Fields{
			"cacheKey": cacheKey,
			"count":    rec.RefCount,
		})
		return CommitResult{Kind: rec.Kind, Skipped: true}, nil
	}

	switch rec.Kind {
	case lease.KindHash:
		return e.commitHash(ctx, cacheKey, rec, updateKey)
	case lease.KindHashDocument:
		return e.commitHashDocument(ctx, cacheKey, rec, updateKey)
	default:
		return e.commitString(ctx, cacheKey, rec)
	}
}

func (e *engine) commitString(ctx context.Context, cacheKey string, rec *lease.Record) (CommitResult, error) {
	val, ok, err := e.fast.Get(ctx, cacheKey)
	if err != nil {
		return CommitResult{}, errors.Wrap(err, "read cache entry")
	}
	if !ok {
		// Entry evaporated between the lease probe and the read.
		return CommitResult{Kind: rec.Kind, Skipped: true}, nil
	}
	doc, err := dynattr.FromJSON(val)
	if err != nil {
		return CommitResult{}, err
	}

	// Key attributes cannot appear in an update payload.
	update, names, values := dynattr.UpdateExpression(doc, expr.AttributeNames(rec.StoreKey))
	if update == "" {
		return CommitResult{Kind: rec.Kind}, nil
	}
	out, err := e.dynamo.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(rec.Table),
		Key:                       expr.Key(rec.StoreKey),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllOld,
	})
	if err != nil {
		return CommitResult{}, errors.Wrap(err, "backing store update")
	}

	res := CommitResult{Kind: rec.Kind}
	if len(out.Attributes) > 0 {
		if res.PrevJSON, err = dynattr.ToJSON(dynattr.FromItem(out.Attributes)); err != nil {
			return CommitResult{}, err
		}
	}
	return res, nil
}

func (e *engine) commitHash(ctx context.Context, cacheKey string, rec *lease.Record, updateKey string) (CommitResult, error) {
	memberAttr := rec.MemberKey
	if updateKey != "" {
		memberAttr = updateKey
	}

	res := CommitResult{Kind: rec.Kind}
	strip := append(expr.AttributeNames(rec.StoreKey), memberAttr)

	var cursor uint64
	for {
		fields, next, err := e.fast.HScan(ctx, cacheKey, cursor, e.scanCount)
		if err != nil {
			return res, errors.Wrap(err, "scan cache members")
		}
		for member, js := range fields {
			doc, err := dynattr.FromJSON(js)
			if err != nil {
				return res, err
			}

			// One update per member, keyed by the fixed components plus the
			// member value under the member attribute.
			key := expr.Key(rec.StoreKey)
			key[memberAttr] = memberValue(doc, memberAttr, member)

			update, names, values := dynattr.UpdateExpression(doc, strip)
			if update == "" {
				continue
			}
			if _, err := e.dynamo.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName:                 aws.String(rec.Table),
				Key:                       key,
				UpdateExpression:          aws.String(update),
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			}); err != nil {
				return res, errors.Wrap(err, "backing store update")
			}
			res.Members++
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return res, nil
}

func (e *engine) commitHashDocument(ctx context.Context, cacheKey string, rec *lease.Record, updateKey string) (CommitResult, error) {
	memberAttr := rec.MemberKey
	if updateKey != "" {
		memberAttr = updateKey
	}

	fields, err := e.fast.HGetAll(ctx, cacheKey)
	if err != nil {
		return CommitResult{}, errors.Wrap(err, "read cache members")
	}
	res := CommitResult{Kind: rec.Kind, Members: int64(len(fields))}
	if len(fields) == 0 {
		return res, nil
	}

	// Reassemble the members into one nested document and write it back in
	// a single update under the member attribute.
	sub := make(dynattr.Document, len(fields))
	for f, js := range fields {
		v, err := dynattr.ValueFromJSON(js)
		if err != nil {
			return CommitResult{}, err
		}
		sub[f] = v
	}

	if _, err := e.dynamo.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(rec.Table),
		Key:                      expr.Key(rec.StoreKey),
		UpdateExpression:         aws.String("SET #m = :m"),
		ExpressionAttributeNames: map[string]string{"#m": memberAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": dynattr.ToValue(sub),
		},
	}); err != nil {
		return CommitResult{}, errors.Wrap(err, "backing store update")
	}
	return res, nil
}

func (e *engine) DeleteItem(ctx context.Context, cacheKey string) {
	rec, err := e.leases.Resolve(ctx, cacheKey)
	if err != nil {
		e.log.Warn("delete: lease resolve failed", logger.Fields{"cacheKey": cacheKey, "err": err})
		return
	}
	if rec == nil {
		return
	}

	switch rec.Kind {
	case lease.KindHash:
		e.deleteHashRows(ctx, cacheKey, rec)
	default:
		if _, err := e.dynamo.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(rec.Table),
			Key:       expr.Key(rec.StoreKey),
		}); err != nil {
			e.log.Warn("delete: backing store delete failed", logger.Fields{
				"cacheKey": cacheKey,
				"table":    rec.Table,
				"err":      err,
			})
		}
	}

	if err := e.fast.Del(ctx, cacheKey); err != nil {
		e.log.Warn("delete: cache entry removal failed", logger.Fields{"cacheKey": cacheKey, "err": err})
	}
}

// deleteHashRows removes one backing-store row per cached member, batched
// through BatchWriteItem. Best-effort like the rest of DeleteItem.
func (e *engine) deleteHashRows(ctx context.Context, cacheKey string, rec *lease.Record) {
	fields, err := e.fast.HGetAll(ctx, cacheKey)
	if err != nil {
		e.log.Warn("delete: member scan failed", logger.Fields{"cacheKey": cacheKey, "err": err})
		return
	}

	reqs := make([]types.WriteRequest, 0, len(fields))
	for member, js := range fields {
		doc, err := dynattr.FromJSON(js)
		if err != nil {
			continue
		}
		key := expr.Key(rec.StoreKey)
		key[rec.MemberKey] = memberValue(doc, rec.MemberKey, member)
		reqs = append(reqs, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}

	for start := 0; start < len(reqs); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		if _, err := e.dynamo.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{rec.Table: reqs[start:end]},
		}); err != nil {
			e.log.Warn("delete: batch delete failed", logger.Fields{
				"cacheKey": cacheKey,
				"table":    rec.Table,
				"err":      err,
			})
		}
	}
}

// armEntry applies the design's entry lifetime to a hash entry after the
// read-through finished writing it. String entries get theirs via Set.
func (e *engine) armEntry(ctx context.Context, cacheKey string) error {
	ttl := e.leases.EntryTTL()
	if ttl <= 0 {
		return nil
	}
	if _, err := e.fast.Expire(ctx, cacheKey, ttl); err != nil {
		return errors.Wrap(err, "arm entry ttl")
	}
	return nil
}

// memberValue picks the typed key value for a hash member: the member's own
// attribute when the document still carries it, else the hash field name.
func memberValue(doc dynattr.Document, memberAttr, member string) types.AttributeValue {
	if v, ok := doc[memberAttr]; ok {
		return dynattr.ToValue(v)
	}
	return dynattr.ParseScalar(member)
}

// scalarString renders a document value as a hash member name.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
