// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package decode

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Yaml decodes YAML documents. Only the first document of a stream is read.
//
// Unlike a plain unmarshal into a map, a top-level key which is defined
// more than once does not fail decoding: every occurrence is returned.
type Yaml struct{}

// Decode implements the Decoder interface.
func (Yaml) Decode(r io.Reader) (Document, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var root yaml.Node
	err = yaml.Unmarshal(b, &root)
	if err != nil {
		return nil, InvalidDocumentError{Format: "yaml", Cause: err}
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return Document{}, nil
	}

	node := root.Content[0]
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return Document{}, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, InvalidDocumentError{
			Format: "yaml",
			Cause:  fmt.Errorf("line %d: %w", node.Line, errNotMapping),
		}
	}

	doc := make(Document, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, InvalidDocumentError{
				Format: "yaml",
				Cause:  fmt.Errorf("line %d: top level keys must be scalars", k.Line),
			}
		}

		var value any
		err = v.Decode(&value)
		if err != nil {
			return nil, InvalidDocumentError{Format: "yaml", Cause: err}
		}
		doc = append(doc, Entry{Key: k.Value, Value: value})
	}
	return doc, nil
}
