// Package schema validates JSON request bodies against the embedded JSON
// schemas.
package schema

import (
	"embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names.
const (
	MatchRequest  = "match_request"
	ExportRequest = "export_request"
)

//go:embed schemas/*.json
var files embed.FS

var (
	once     sync.Once
	compiled map[string]*gojsonschema.Schema
	loadErr  error
)

func load() {
	compiled = map[string]*gojsonschema.Schema{}
	for _, name := range []string{MatchRequest, ExportRequest} {
		raw, err := files.ReadFile("schemas/" + name + ".json")
		if err != nil {
			loadErr = fmt.Errorf("schema: read %s: %w", name, err)
			return
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			loadErr = fmt.Errorf("schema: compile %s: %w", name, err)
			return
		}
		compiled[name] = s
	}
}

// Validate checks doc against the named schema. It returns the violations,
// or nil when doc is valid. The error is non-nil only when doc is not JSON
// or the schema is unknown.
func Validate(name string, doc []byte) ([]string, error) {
	once.Do(load)
	if loadErr != nil {
		return nil, loadErr
	}
	s, ok := compiled[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown schema %q", name)
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema: validate %s: %w", name, err)
	}
	if result.Valid() {
		return nil, nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
