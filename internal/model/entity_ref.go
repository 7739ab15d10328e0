package model

import "strings"

// EntityRef points a file at the business object it belongs to (property,
// poi, experience, ...). Consumers resolve it by Type, no foreign key is
// kept per entity kind.
type EntityRef struct {
	Type string `gorm:"size:32;index:idx_related,priority:1" json:"type,omitempty"`
	ID   string `gorm:"size:64;index:idx_related,priority:2" json:"id,omitempty"`
}

func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// NewEntityRef normalizes the entity type. Both parts must be set, a half
// filled reference is treated as none.
func NewEntityRef(entityType, id string) EntityRef {
	entityType = strings.ToLower(strings.TrimSpace(entityType))
	id = strings.TrimSpace(id)

	if entityType == "" || id == "" {
		return EntityRef{}
	}

	return EntityRef{Type: entityType, ID: id}
}
