// Package expr builds DynamoDB key maps and placeholdered condition
// expressions from ordered key components. Placeholders keep attribute names
// out of the expression text, where reserved words would otherwise collide.
package expr

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mutabot/dynoris/dynattr"
	"github.com/mutabot/dynoris/lease"
)

// Key renders components as an item key attribute map.
func Key(components []lease.KeyComponent) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(components))
	for _, kc := range components {
		out[kc.Name] = dynattr.ParseScalar(kc.Value)
	}
	return out
}

// Names renders the "#name" -> name placeholder map.
func Names(components []lease.KeyComponent) map[string]string {
	out := make(map[string]string, len(components))
	for _, kc := range components {
		out["#"+kc.Name] = kc.Name
	}
	return out
}

// Values renders the ":name" -> typed value placeholder map.
func Values(components []lease.KeyComponent) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(components))
	for _, kc := range components {
		out[":"+kc.Name] = dynattr.ParseScalar(kc.Value)
	}
	return out
}

// Condition joins one "#name <sign> :name" clause per component with AND.
func Condition(components []lease.KeyComponent, sign string) string {
	parts := make([]string, len(components))
	for i, kc := range components {
		parts[i] = "#" + kc.Name + " " + sign + " :" + kc.Name
	}
	return strings.Join(parts, " AND ")
}

// AttributeNames lists the raw attribute names of components.
func AttributeNames(components []lease.KeyComponent) []string {
	out := make([]string, len(components))
	for i, kc := range components {
		out[i] = kc.Name
	}
	return out
}
