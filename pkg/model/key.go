package model

import (
	"regexp"

	"github.com/google/uuid"
)

var (
	idRegex         = regexp.MustCompile(`^[a-zA-Z0-9_\-\.:]{1,512}$`)
	collectionRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-\.]{0,254}$`)
)

// Key addresses one document. Routing selects the partition and defaults
// to ID; a document written with a routing value must be read with the same one.
type Key struct {
	Collection string `json:"_index"`
	ID         string `json:"_id"`
	Routing    string `json:"routing,omitempty"`
}

// RoutingValue returns the value hashed for partition selection.
func (k Key) RoutingValue() string {
	if k.Routing != "" {
		return k.Routing
	}
	return k.ID
}

func (k Key) String() string {
	if k.Routing != "" {
		return k.Collection + "/" + k.ID + "?routing=" + k.Routing
	}
	return k.Collection + "/" + k.ID
}

// WithGeneratedID fills an empty ID with a random UUID and reports whether it did.
func (k Key) WithGeneratedID() (Key, bool) {
	if k.ID != "" {
		return k, false
	}
	k.ID = uuid.New().String()
	return k, true
}

// Validate checks collection and id syntax. An empty id is allowed only
// when allowEmptyID is set (index with auto-generated ids).
func (k Key) Validate(allowEmptyID bool) error {
	if !CheckCollectionName(k.Collection) {
		return Validationf("invalid collection name [%s]: must be 1-255 characters of a-z, 0-9, _, -, . and start with a letter or digit", k.Collection)
	}
	if k.ID == "" {
		if allowEmptyID {
			return nil
		}
		return Validationf("id is missing")
	}
	if !CheckDocumentID(k.ID) {
		return Validationf("invalid id [%s]: must be 1-512 characters of a-z, A-Z, 0-9, _, -, ., :", k.ID)
	}
	return nil
}

func CheckDocumentID(id string) bool {
	return idRegex.MatchString(id)
}

func CheckCollectionName(name string) bool {
	return collectionRegex.MatchString(name)
}
