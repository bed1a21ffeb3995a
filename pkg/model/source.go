package model

import (
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"
)

// ContentType is the wire format of a request payload.
type ContentType int

const (
	ContentJSON ContentType = iota
	ContentYAML
	ContentBSON
)

func (c ContentType) String() string {
	switch c {
	case ContentYAML:
		return "YAML"
	case ContentBSON:
		return "BSON"
	default:
		return "JSON"
	}
}

// MediaType returns the MIME type of the format.
func (c ContentType) MediaType() string {
	switch c {
	case ContentYAML:
		return "application/yaml"
	case ContentBSON:
		return "application/bson"
	default:
		return "application/json"
	}
}

// ParseContentType maps a Content-Type header to a ContentType. An empty
// header means JSON.
func ParseContentType(header string) (ContentType, error) {
	if header == "" {
		return ContentJSON, nil
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ContentJSON, Validationf("invalid content type [%s]", header)
	}
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json") || mt == "application/x-ndjson":
		return ContentJSON, nil
	case mt == "application/yaml" || mt == "application/x-yaml" || mt == "text/yaml":
		return ContentYAML, nil
	case mt == "application/bson":
		return ContentBSON, nil
	}
	return ContentJSON, Validationf("unsupported content type [%s]", mt)
}

// Source is a document payload as supplied by a client.
type Source struct {
	ContentType ContentType
	Data        []byte
}

// JSONSource encodes doc as a JSON payload.
func JSONSource(doc Document) Source {
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("model: document is not JSON encodable: %v", err))
	}
	return Source{ContentType: ContentJSON, Data: data}
}

// YAMLSource wraps raw YAML bytes.
func YAMLSource(data []byte) Source { return Source{ContentType: ContentYAML, Data: data} }

// BSONSource encodes doc as a BSON payload.
func BSONSource(doc Document) (Source, error) {
	data, err := bson.Marshal(map[string]any(doc))
	if err != nil {
		return Source{}, err
	}
	return Source{ContentType: ContentBSON, Data: data}, nil
}

// Decode parses the payload into a Document normalized to JSON value
// types (float64 numbers, []any arrays, nested Documents as map[string]any).
func (s Source) Decode() (Document, error) {
	if len(s.Data) == 0 {
		return nil, Validationf("source is missing")
	}
	var raw any
	switch s.ContentType {
	case ContentJSON:
		var doc map[string]any
		if err := json.Unmarshal(s.Data, &doc); err != nil {
			return nil, Validationf("failed to parse %s source: %v", s.ContentType, err)
		}
		if doc == nil {
			return nil, Validationf("source must be an object")
		}
		return Document(doc), nil
	case ContentYAML:
		var doc map[string]any
		if err := yaml.Unmarshal(s.Data, &doc); err != nil {
			return nil, Validationf("failed to parse %s source: %v", s.ContentType, err)
		}
		raw = doc
	case ContentBSON:
		var doc bson.M
		if err := bson.Unmarshal(s.Data, &doc); err != nil {
			return nil, Validationf("failed to parse %s source: %v", s.ContentType, err)
		}
		raw = normalizeBSON(doc)
	default:
		return nil, Validationf("unsupported content type [%d]", s.ContentType)
	}
	// Round-trip through JSON so every format yields the same value types.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, Validationf("failed to normalize %s source: %v", s.ContentType, err)
	}
	return DecodeCanonical(data)
}

// Canonical returns the stored representation of doc: JSON with sorted keys.
func Canonical(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	return json.Marshal(doc)
}

// DecodeCanonical parses stored source bytes.
func DecodeCanonical(data []byte) (Document, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return Document(doc), nil
}

// normalizeBSON turns ordered documents into maps so they encode as JSON objects.
func normalizeBSON(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeBSON(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalizeBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeBSON(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	default:
		return v
	}
}
