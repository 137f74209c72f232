// Package lockdoc decodes the external lock manager's status snapshot into
// a mapping from lock name to current holder. The document is a complete
// snapshot, not a diff: a lock absent from the result is currently free.
package lockdoc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/devicelab/bridge/internal/model"
)

// Fixed key path descended through the document.
const (
	containerKey    = "lockableResourcesManager"
	resourcesKey    = "resources"
	resourceListKey = "resource"
)

// ParseError reports a document that could not be decoded at all.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "lock document is empty"
	}
	return fmt.Sprintf("lock document is unparseable: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports a decodable document missing a key on the fixed
// path, naming the key so the caller can diagnose which level failed.
type SchemaError struct {
	Key string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("lock document missing expected key %q", e.Key)
}

// Parse decodes a status snapshot and returns the currently-held locks.
// Resources with neither a human reservation nor a build reservation are
// free and omitted from the result.
func Parse(data []byte) (map[string]model.LockEntry, error) {
	if len(data) == 0 {
		return nil, &ParseError{}
	}

	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Err: err}
	}

	container, ok := root[containerKey].(map[string]any)
	if !ok {
		return nil, &SchemaError{Key: containerKey}
	}
	resources, ok := container[resourcesKey].(map[string]any)
	if !ok {
		return nil, &SchemaError{Key: resourcesKey}
	}
	raw, ok := resources[resourceListKey]
	if !ok {
		return nil, &SchemaError{Key: resourceListKey}
	}

	holders := make(map[string]model.LockEntry)
	for _, item := range normalizeList(raw) {
		resource, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := resource["name"].(string)
		if name == "" {
			continue
		}
		if entry, held := holderOf(resource); held {
			holders[name] = entry
		}
	}
	return holders, nil
}

// normalizeList tolerates the schema variance where a sole child is not
// wrapped in a collection, returning it as a one-element list.
func normalizeList(raw any) []any {
	if list, ok := raw.([]any); ok {
		return list
	}
	return []any{raw}
}

// holderOf extracts the lock holder from one resource record. The second
// return is false when the resource is free.
func holderOf(resource map[string]any) (model.LockEntry, bool) {
	if reservedBy, _ := resource["reservedBy"].(string); reservedBy != "" {
		entry := model.LockEntry{Owner: reservedBy, Type: model.HolderUser}
		if stamp, _ := resource["reservedTimestamp"].(string); stamp != "" {
			if date, err := time.Parse(time.RFC3339, stamp); err == nil {
				entry.Date = &date
			}
		}
		return entry, true
	}
	if buildID, _ := resource["buildExternalizableId"].(string); buildID != "" {
		return model.LockEntry{Owner: buildID, Type: model.HolderBuild}, true
	}
	return model.LockEntry{}, false
}
