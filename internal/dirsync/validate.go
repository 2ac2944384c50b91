package dirsync

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateUsers enforces required fields on every incoming user record
// before it is allowed to reach storage. The first violation is returned
// as a ValidationError carrying the connection, pipeline step and
// offending record for operator diagnosis.
func ValidateUsers(connectionID uint, step string, users []RawUser) error {
	for _, u := range users {
		if err := validate.Struct(u); err != nil {
			return &ValidationError{
				ConnectionID: connectionID,
				Step:         step,
				Record:       fmt.Sprintf("user %q (%s)", u.DisplayName, u.ExternalID),
				Err:          err,
			}
		}
	}

	return nil
}

// ValidateGroups enforces required fields on every incoming group record.
func ValidateGroups(connectionID uint, step string, groups []RawGroup) error {
	for _, g := range groups {
		if err := validate.Struct(g); err != nil {
			return &ValidationError{
				ConnectionID: connectionID,
				Step:         step,
				Record:       fmt.Sprintf("group %q (%s)", g.Name, g.ExternalID),
				Err:          err,
			}
		}
	}

	return nil
}
