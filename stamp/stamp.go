// Package stamp implements the expiring-stamp helper: a paginated
// conditional query over a timestamp-like attribute plus a conditioned
// single-item update. It shares the attribute codec with the cache engine
// but takes part in no lease coordination; callers own idempotence.
package stamp

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/cockroachdb/errors"

	"github.com/mutabot/dynoris/dynattr"
	"github.com/mutabot/dynoris/internal/expr"
	"github.com/mutabot/dynoris/lease"
)

// DynamoAPI is the slice of the backing-store client this helper consumes.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Direction is the comparison applied to the stamp attribute.
type Direction string

const (
	Before Direction = "<"
	After  Direction = ">"
)

type Provider struct {
	dynamo DynamoAPI
	// TablePrefix is prepended to every table name, mirroring the
	// environment-scoped naming of the backing store. May be empty.
	TablePrefix string
}

func New(dynamo DynamoAPI) (*Provider, error) {
	if dynamo == nil {
		return nil, fmt.Errorf("stamp: dynamo client is required")
	}
	return &Provider{dynamo: dynamo}, nil
}

func (p *Provider) tableName(table string) string {
	return p.TablePrefix + table
}

// Next queries the named index for rows matching every storeKey equality
// AND the stamp inequality, following continuation tokens until exhausted.
// Rows come back as serialized documents.
func (p *Provider) Next(ctx context.Context, table, indexName string, storeKey []lease.KeyComponent, stampKey lease.KeyComponent, dir Direction) ([]string, error) {
	all := append(append([]lease.KeyComponent{}, storeKey...), stampKey)

	condition := expr.Condition(storeKey, "=") + " AND " +
		expr.Condition([]lease.KeyComponent{stampKey}, string(dir))

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(p.tableName(table)),
		IndexName:                 aws.String(indexName),
		KeyConditionExpression:    aws.String(condition),
		ExpressionAttributeNames:  expr.Names(all),
		ExpressionAttributeValues: expr.Values(all),
	}

	var result []string
	for {
		out, err := p.dynamo.Query(ctx, in)
		if err != nil {
			return nil, errors.Wrap(err, "stamp query")
		}
		for _, item := range out.Items {
			js, err := dynattr.ToJSON(dynattr.FromItem(item))
			if err != nil {
				return nil, err
			}
			result = append(result, js)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// CommitItem strips the key components from itemJSON and issues one
// placeholdered update against the row they identify.
func (p *Provider) CommitItem(ctx context.Context, table string, storeKeys []lease.KeyComponent, itemJSON string) error {
	doc, err := dynattr.FromJSON(itemJSON)
	if err != nil {
		return err
	}

	update, names, values := dynattr.UpdateExpression(doc, expr.AttributeNames(storeKeys))
	if update == "" {
		return nil
	}
	if _, err := p.dynamo.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(p.tableName(table)),
		Key:                       expr.Key(storeKeys),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}); err != nil {
		return errors.Wrap(err, "stamp update")
	}
	return nil
}
