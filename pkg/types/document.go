package types

import (
	"github.com/goccy/go-json"
)

// Document is the opaque structured payload stored for a memory record.
// Values are restricted to what JSON can represent: strings, numbers,
// booleans, nested documents and arrays. The subsystem never inspects or
// validates the contents.
type Document map[string]any

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		return val.Clone()
	case map[string]any:
		return Document(val).Clone()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Merge returns a new document with updates shallow-merged on top of d.
// Keys present in updates win; nested documents are replaced wholesale,
// not merged recursively.
func (d Document) Merge(updates Document) Document {
	out := d.Clone()
	for k, v := range updates {
		out[k] = cloneValue(v)
	}
	return out
}

// Marshal encodes the document as JSON.
func (d Document) Marshal() ([]byte, error) {
	if d == nil {
		return json.Marshal(Document{})
	}
	return json.Marshal(d)
}

// UnmarshalDocument decodes a JSON payload into a Document.
func UnmarshalDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if d == nil {
		d = Document{}
	}
	return d, nil
}
