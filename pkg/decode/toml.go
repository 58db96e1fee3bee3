// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package decode

import (
	"io"

	"github.com/BurntSushi/toml"
)

// Toml decodes TOML documents. Each top-level table is an entry, in the
// order the tables are defined. TOML forbids redefining a key so a file
// which does so fails to decode.
type Toml struct{}

// Decode implements the Decoder interface.
func (Toml) Decode(r io.Reader) (Document, error) {
	m := make(map[string]any)
	md, err := toml.NewDecoder(r).Decode(&m)
	if err != nil {
		return nil, InvalidDocumentError{Format: "toml", Cause: err}
	}

	doc := make(Document, 0, len(m))
	seen := make(map[string]struct{}, len(m))
	for _, k := range md.Keys() {
		if len(k) == 0 {
			continue
		}
		name := k[0]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		doc = append(doc, Entry{Key: name, Value: m[name]})
	}
	return doc, nil
}
