// Package apierror pulls a human-readable message out of the error bodies
// returned by the remote sessions API and by the local relay.
//
// The remote service has been seen to answer with several shapes:
//
//	{"error": "text"}
//	{"error": {"message": "text"}}
//	{"details": "text"}
//	{"details": {"error": "text"}}
//	{"details": {"error": {"message": "text"}}}
//	{"message": "text"}
//
// All of them are accepted. Strategies are tried in order and the first
// string match wins.
package apierror

import (
	"github.com/tidwall/gjson"
)

// Strategy extracts a message from a parsed JSON document.
type Strategy func(doc gjson.Result) (string, bool)

// stringAt matches when path resolves to a JSON string.
func stringAt(path string) Strategy {
	return func(doc gjson.Result) (string, bool) {
		r := doc.Get(path)
		if r.Type != gjson.String {
			return "", false
		}
		return r.String(), true
	}
}

// DefaultStrategies is the lookup order used by Extract.
var DefaultStrategies = []Strategy{
	stringAt("error"),
	stringAt("error.message"),
	stringAt("details"),
	stringAt("details.error"),
	stringAt("details.error.message"),
	stringAt("message"),
}

// Extract returns the first message found in body. Malformed or
// non-object JSON yields nothing.
func Extract(body []byte) (string, bool) {
	return ExtractWith(body, DefaultStrategies)
}

// ExtractWith runs a custom strategy list.
func ExtractWith(body []byte, strategies []Strategy) (string, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return "", false
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return "", false
	}
	for _, s := range strategies {
		if msg, ok := s(doc); ok {
			return msg, true
		}
	}
	return "", false
}

// ExtractOr returns the extracted message or fallback.
func ExtractOr(body []byte, fallback string) string {
	if msg, ok := Extract(body); ok {
		return msg
	}
	return fallback
}
