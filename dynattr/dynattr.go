// Package dynattr converts between DynamoDB's typed attribute representation
// and a generic JSON-like document. All functions are pure; malformed input
// degrades to a string value rather than failing.
package dynattr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Document is a JSON-like view of a DynamoDB item: string, json.Number,
// bool, nil, nested Document, or []any.
type Document = map[string]any

// FromItem translates a DynamoDB attribute map into a Document.
func FromItem(item map[string]types.AttributeValue) Document {
	doc := make(Document, len(item))
	for name, av := range item {
		doc[name] = FromValue(av)
	}
	return doc
}

// FromValue translates a single attribute value.
func FromValue(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return json.Number(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberM:
		return FromItem(v.Value)
	case *types.AttributeValueMemberL:
		out := make([]any, len(v.Value))
		for i, el := range v.Value {
			out[i] = FromValue(el)
		}
		return out
	case *types.AttributeValueMemberSS:
		out := make([]any, len(v.Value))
		for i, s := range v.Value {
			out[i] = s
		}
		return out
	case *types.AttributeValueMemberNS:
		out := make([]any, len(v.Value))
		for i, n := range v.Value {
			out[i] = json.Number(n)
		}
		return out
	case *types.AttributeValueMemberB:
		return base64.StdEncoding.EncodeToString(v.Value)
	default:
		// unknown shapes degrade to their string form
		return fmt.Sprintf("%v", av)
	}
}

// ToItem translates a Document into a DynamoDB attribute map.
func ToItem(doc Document) map[string]types.AttributeValue {
	item := make(map[string]types.AttributeValue, len(doc))
	for name, v := range doc {
		item[name] = ToValue(v)
	}
	return item
}

// ToValue translates a single document value.
func ToValue(v any) types.AttributeValue {
	switch t := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}
	case string:
		return &types.AttributeValueMemberS{Value: t}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: t}
	case json.Number:
		return &types.AttributeValueMemberN{Value: t.String()}
	case float64:
		return &types.AttributeValueMemberN{Value: formatFloat(t)}
	case int:
		return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", t)}
	case int64:
		return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", t)}
	case Document:
		return &types.AttributeValueMemberM{Value: ToItem(t)}
	case []any:
		out := make([]types.AttributeValue, len(t))
		for i, el := range t {
			out[i] = ToValue(el)
		}
		return &types.AttributeValueMemberL{Value: out}
	default:
		return &types.AttributeValueMemberS{Value: fmt.Sprintf("%v", t)}
	}
}

func formatFloat(f float64) string {
	n, err := json.Marshal(f)
	if err != nil {
		return "0"
	}
	return string(n)
}

// FromJSON parses a serialized document. Numbers are kept as json.Number so
// they round-trip to DynamoDB N attributes without precision loss.
func FromJSON(s string) (Document, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("dynattr: parse document: %w", err)
	}
	return doc, nil
}

// ValueFromJSON parses a single serialized value (not necessarily an
// object), keeping numbers as json.Number.
func ValueFromJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("dynattr: parse value: %w", err)
	}
	return v, nil
}

// ToJSON serializes a document.
func ToJSON(doc Document) (string, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("dynattr: serialize document: %w", err)
	}
	return string(b), nil
}

// ParseScalar types a raw string the way the wire protocol expects: boolean
// first, then number, else string. First successful parse wins.
func ParseScalar(s string) types.AttributeValue {
	switch s {
	case "true":
		return &types.AttributeValueMemberBOOL{Value: true}
	case "false":
		return &types.AttributeValueMemberBOOL{Value: false}
	}
	if isNumber(s) {
		return &types.AttributeValueMemberN{Value: s}
	}
	return &types.AttributeValueMemberS{Value: s}
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	var n json.Number
	return json.Unmarshal([]byte(s), &n) == nil && len(s) > 0 && (s[0] == '-' || (s[0] >= '0' && s[0] <= '9'))
}

// UpdateExpression builds a SET expression over every document attribute not
// named in exclude, using #/: placeholders to dodge reserved-word collisions.
// Attribute order is deterministic. An empty expression means there is
// nothing to update.
func UpdateExpression(doc Document, exclude []string) (expr string, names map[string]string, values map[string]types.AttributeValue) {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}

	attrs := make([]string, 0, len(doc))
	for name := range doc {
		if _, ok := skip[name]; ok {
			continue
		}
		attrs = append(attrs, name)
	}
	if len(attrs) == 0 {
		return "", nil, nil
	}
	sort.Strings(attrs)

	names = make(map[string]string, len(attrs))
	values = make(map[string]types.AttributeValue, len(attrs))
	parts := make([]string, 0, len(attrs))
	for i, name := range attrs {
		np := fmt.Sprintf("#u%d", i)
		vp := fmt.Sprintf(":u%d", i)
		names[np] = name
		values[vp] = ToValue(doc[name])
		parts = append(parts, np+" = "+vp)
	}
	return "SET " + strings.Join(parts, ", "), names, values
}
