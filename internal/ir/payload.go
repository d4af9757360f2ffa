package ir

import "fmt"

// Payload is the shape of canonical data delivered by ingestion or by a
// loader: one record's id, its attributes, and any relationship fields the
// source chose to include.
//
// A relationship field absent from Relationships is left untouched on merge.
// A field present with an empty list asserts that the record has no members.
type Payload struct {
	ID            string              `json:"id" yaml:"id"`
	Attributes    Object              `json:"attributes,omitempty" yaml:"-"`
	Relationships map[string][]string `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// HasRelationship reports whether the payload carries membership for field.
func (p Payload) HasRelationship(field string) bool {
	_, ok := p.Relationships[field]
	return ok
}

// Validate checks that the payload has an id and no blank member ids.
func (p Payload) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("payload id is required")
	}
	for field, ids := range p.Relationships {
		for i, id := range ids {
			if id == "" {
				return fmt.Errorf("relationships[%q][%d]: member id is required", field, i)
			}
		}
	}
	return nil
}
