package codec

import (
	"fmt"
	"strings"
)

// RelationType is the typed link stored in a relation property.
type RelationType int

const (
	// RelTypeParent points from a child to its parent.
	RelTypeParent RelationType = 0
	// RelTypeChild points from a parent to one of its children.
	RelTypeChild RelationType = 1
	// RelTypeSibling links two tasks sharing a parent.
	RelTypeSibling RelationType = 2
)

// String returns a human-readable representation of the relation type.
func (rt RelationType) String() string {
	switch rt {
	case RelTypeParent:
		return "parent"
	case RelTypeChild:
		return "child"
	case RelTypeSibling:
		return "sibling"
	default:
		return "unknown"
	}
}

// ParseRelationType converts the stored integer into a RelationType.
func ParseRelationType(v int64) (RelationType, error) {
	switch rt := RelationType(v); rt {
	case RelTypeParent, RelTypeChild, RelTypeSibling:
		return rt, nil
	default:
		return 0, fmt.Errorf("%w: relation type %d", ErrMalformed, v)
	}
}

// Relation links a task to another task by remote UID.
type Relation struct {
	Type RelationType
	// RelatedUID is the remote UID of the other task.
	RelatedUID string
	// RelatedID is the provider id of the other task, when it could be resolved.
	RelatedID *int64
}

// ParentRelation builds the relation written for a child task. It returns
// false when parentUID is blank: no relation means "no parent".
func ParentRelation(parentUID string, parentID *int64) (Relation, bool) {
	if strings.TrimSpace(parentUID) == "" {
		return Relation{}, false
	}
	return Relation{
		Type:       RelTypeParent,
		RelatedUID: parentUID,
		RelatedID:  parentID,
	}, true
}
