// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package decode

import (
	"io"

	"gopkg.in/ini.v1"
)

// Ini decodes INI documents. Each section, other than the unnamed default
// section, is an entry whose value maps the section keys to their string
// values. When a section is repeated only its first occurrence is kept.
// Only whole line comments are recognised so values such as
// "dbi:Pg:host=h;database=d" are read as written.
type Ini struct{}

// Decode implements the Decoder interface.
func (Ini) Decode(r io.Reader) (Document, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		AllowNonUniqueSections: true,
		IgnoreInlineComment:    true,
	}, b)
	if err != nil {
		return nil, InvalidDocumentError{Format: "ini", Cause: err}
	}

	secs := f.Sections()
	doc := make(Document, 0, len(secs))
	seen := make(map[string]struct{}, len(secs))
	for _, sec := range secs {
		name := sec.Name()
		if name == ini.DefaultSection {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		hash := sec.KeysHash()
		value := make(map[string]any, len(hash))
		for k, v := range hash {
			value[k] = v
		}
		doc = append(doc, Entry{Key: name, Value: value})
	}
	return doc, nil
}
