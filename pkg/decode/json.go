// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Json decodes JSON documents. The top level value must be an object.
// Repeated top-level members are all returned, in order. Integral numbers
// become int64 and numbers too large for int64 are kept as json.Number,
// so numeric secrets never lose digits to float64.
type Json struct{}

// Decode implements the Decoder interface.
func (Json) Decode(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return Document{}, nil
	}
	if err != nil {
		return nil, invalidJson(err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, invalidJson(errNotMapping)
	}

	doc := make(Document, 0)
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, invalidJson(err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, invalidJson(fmt.Errorf("unexpected token: %v", tok))
		}

		var value any
		err = dec.Decode(&value)
		if err != nil {
			return nil, invalidJson(err)
		}
		doc = append(doc, Entry{Key: key, Value: NormalizeJsonNumbers(value)})
	}

	// closing brace
	_, err = dec.Token()
	if err != nil {
		return nil, invalidJson(err)
	}
	_, err = dec.Token()
	if !errors.Is(err, io.EOF) {
		return nil, invalidJson(errors.New("unexpected data after top level object"))
	}
	return doc, nil
}

// NormalizeJsonNumbers replaces every json.Number within v, a value decoded
// with json.Decoder.UseNumber, by an int64 or float64. Integers which do not
// fit in an int64 are left as json.Number so their digits are kept.
func NormalizeJsonNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if !strings.ContainsAny(x.String(), ".eE") {
			return x
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = NormalizeJsonNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = NormalizeJsonNumbers(e)
		}
		return x
	}
	return v
}

func invalidJson(err error) error {
	return InvalidDocumentError{Format: "json", Cause: err}
}
