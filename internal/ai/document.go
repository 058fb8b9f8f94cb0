package ai

import (
	"encoding/base64"
	"strings"

	"github.com/tidwall/gjson"
)

// Document is the uniform tree every backend reply is read through. SDK
// structs are adapted into the same JSON shape before they get here.
type Document struct {
	root gjson.Result
}

func ParseDocument(raw []byte) (Document, bool) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return Document{}, false
	}
	return Document{root: gjson.ParseBytes(raw)}, true
}

func (d Document) Get(path string) gjson.Result {
	return d.root.Get(path)
}

func (d Document) IsObject() bool {
	return d.root.IsObject()
}

func (d Document) Keys() []string {
	if !d.root.IsObject() {
		return nil
	}
	var keys []string
	d.root.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys
}

// body returns the decoded "body" payload when it holds an object, a JSON
// string or base64-encoded JSON.
func (d Document) body() (Document, bool) {
	b := d.root.Get("body")
	switch {
	case b.IsObject():
		return Document{root: b}, true
	case b.Type == gjson.String:
		s := strings.TrimSpace(b.Str)
		if s == "" {
			return Document{}, false
		}
		if doc, ok := ParseDocument([]byte(s)); ok && doc.IsObject() {
			return doc, true
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Document{}, false
		}
		if doc, ok := ParseDocument(decoded); ok && doc.IsObject() {
			return doc, true
		}
	}
	return Document{}, false
}

func eachItem(r gjson.Result, fn func(item gjson.Result)) {
	if !r.IsArray() {
		return
	}
	for _, item := range r.Array() {
		fn(item)
	}
}

func nonEmptyString(r gjson.Result) (string, bool) {
	if r.Type != gjson.String || r.Str == "" {
		return "", false
	}
	return r.Str, true
}
