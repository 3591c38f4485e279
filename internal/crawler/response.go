package crawler

import (
	"errors"
	"fmt"

	"fedspend/internal/models"
)

// Response validation errors.
var (
	ErrResponseNotObject = errors.New("response is not a JSON object")
	ErrMissingResults    = errors.New("response has no 'results' key")
	ErrResultsNotList    = errors.New("'results' is not a list")
	ErrNoIdentityFields  = errors.New("first result has none of the basic fields")
)

// basicFields are the upstream names of which at least one must be present.
var basicFields = []string{"Award ID", "Recipient Name", "Award Amount"}

// ValidateResponse checks that a decoded page has the expected shape. An empty
// results list is valid; a non-empty one must start with an object carrying at
// least one basic field.
func ValidateResponse(doc any) error {
	obj, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrResponseNotObject, doc)
	}

	rawResults, ok := obj["results"]
	if !ok {
		return ErrMissingResults
	}

	results, ok := rawResults.([]any)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrResultsNotList, rawResults)
	}

	if len(results) == 0 {
		return nil
	}

	first, ok := asObject(results[0])
	if !ok {
		return fmt.Errorf("%w: first result is %T", ErrNoIdentityFields, results[0])
	}

	for _, f := range basicFields {
		if _, present := first[f]; present {
			return nil
		}
	}

	return ErrNoIdentityFields
}

// IsValidResponse is the boolean form of ValidateResponse.
func IsValidResponse(doc any) bool {
	return ValidateResponse(doc) == nil
}

// Results returns the result items of a validated page.
func Results(doc any) []any {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}

	results, _ := obj["results"].([]any)

	return results
}

// PageMetadata returns the page_metadata object of a page, if any.
func PageMetadata(doc any) models.RawRecord {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}

	meta, _ := asObject(obj["page_metadata"])

	return meta
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case models.RawRecord:
		return o, true
	}

	return nil, false
}
