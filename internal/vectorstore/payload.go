package vectorstore

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointIDNamespace derives stable point UUIDs from caller IDs that are not
// UUIDs themselves, so re-upserting a document overwrites its point.
var pointIDNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

func pointIDFor(docID string) *qdrant.PointId {
	if _, err := uuid.Parse(docID); err == nil {
		return qdrant.NewIDUUID(docID)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(pointIDNamespace, []byte(docID)).String())
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// payloadFromDocument lays a document out the way langchain does.
func payloadFromDocument(id string, doc Document) map[string]*qdrant.Value {
	meta := make(map[string]*qdrant.Value, len(doc.Metadata))
	for k, v := range doc.Metadata {
		meta[k] = valueFromInterface(v)
	}
	return map[string]*qdrant.Value{
		PayloadContentKey:  {Kind: &qdrant.Value_StringValue{StringValue: doc.Content}},
		PayloadIDKey:       {Kind: &qdrant.Value_StringValue{StringValue: id}},
		PayloadMetadataKey: {Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: meta}}},
	}
}

// resultFromPoint converts a scored point. Content is read from
// page_content, falling back to content. Metadata is the union of the nested
// metadata struct and any other top-level keys, nested keys winning.
func resultFromPoint(p *qdrant.ScoredPoint) SearchResult {
	result := SearchResult{
		ID:       pointIDString(p.GetId()),
		Score:    p.GetScore(),
		Metadata: make(map[string]interface{}),
	}

	var nested map[string]*qdrant.Value
	for k, v := range p.GetPayload() {
		switch k {
		case PayloadContentKey:
			result.Content = v.GetStringValue()
		case PayloadLegacyKey:
			if result.Content == "" {
				result.Content = v.GetStringValue()
			}
		case PayloadIDKey:
			if s := v.GetStringValue(); s != "" {
				result.ID = s
			}
		case PayloadMetadataKey:
			if sv := v.GetStructValue(); sv != nil {
				nested = sv.GetFields()
			} else {
				result.Metadata[k] = valueToInterface(v)
			}
		default:
			result.Metadata[k] = valueToInterface(v)
		}
	}
	for k, v := range nested {
		result.Metadata[k] = valueToInterface(v)
	}
	return result
}

func valueToInterface(v *qdrant.Value) interface{} {
	if v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		out := make(map[string]interface{}, len(kind.StructValue.GetFields()))
		for k, f := range kind.StructValue.GetFields() {
			out[k] = valueToInterface(f)
		}
		return out
	case *qdrant.Value_ListValue:
		out := make([]interface{}, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			out = append(out, valueToInterface(item))
		}
		return out
	default:
		return nil
	}
}

func valueFromInterface(v interface{}) *qdrant.Value {
	switch val := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int32:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case []string:
		items := make([]*qdrant.Value, len(val))
		for i, s := range val {
			items[i] = valueFromInterface(s)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: items}}}
	case []interface{}:
		items := make([]*qdrant.Value, len(val))
		for i, item := range val {
			items[i] = valueFromInterface(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: items}}}
	case map[string]interface{}:
		fields := make(map[string]*qdrant.Value, len(val))
		for k, item := range val {
			fields[k] = valueFromInterface(item)
		}
		return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

// stringMetadata flattens metadata for chromem, which stores strings only.
func stringMetadata(metadata map[string]interface{}) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// typedMetadata reverses stringMetadata for values that look like integers,
// so page numbers come back as int64 from either backend.
func typedMetadata(metadata map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}
