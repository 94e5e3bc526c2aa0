package dto

import "github.com/maruel/secdb/internal/tabledb"

// Validatable is implemented by every request type.
type Validatable interface {
	Validate() error
}

func validateDB(name string) error {
	if name == "" {
		return MissingField("db")
	}
	if !tabledb.ValidName(name) {
		return InvalidFormat("db", "must only contain letters, digits and underscores")
	}
	return nil
}

func validateTable(name string) error {
	if name == "" {
		return MissingField("table")
	}
	return nil
}
