package dto

import "strconv"

// HealthRequest is the request of GET /api/health.
type HealthRequest struct{}

// Validate implements Validatable.
func (r *HealthRequest) Validate() error { return nil }

// TokenRequest is the request of POST /api/v1/token. The caller authenticates
// with X-API-Key.
type TokenRequest struct{}

// Validate implements Validatable.
func (r *TokenRequest) Validate() error { return nil }

// ListDatabasesRequest is the request of GET /api/v1/databases.
type ListDatabasesRequest struct{}

// Validate implements Validatable.
func (r *ListDatabasesRequest) Validate() error { return nil }

// CreateDatabaseRequest is the request of POST /api/v1/databases.
type CreateDatabaseRequest struct {
	Name string `json:"name"`
}

// Validate implements Validatable.
func (r *CreateDatabaseRequest) Validate() error {
	if r.Name == "" {
		return MissingField("name")
	}
	return validateDB(r.Name)
}

// DeleteDatabaseRequest is the request of DELETE /api/v1/databases/{db}.
type DeleteDatabaseRequest struct {
	DB string `path:"db" json:"-"`
}

// Validate implements Validatable.
func (r *DeleteDatabaseRequest) Validate() error {
	return validateDB(r.DB)
}

// ListTablesRequest is the request of GET /api/v1/databases/{db}/tables.
type ListTablesRequest struct {
	DB string `path:"db" json:"-"`
}

// Validate implements Validatable.
func (r *ListTablesRequest) Validate() error {
	return validateDB(r.DB)
}

// CreateTableRequest is the request of POST /api/v1/databases/{db}/tables.
type CreateTableRequest struct {
	DB      string   `path:"db" json:"-"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// Validate implements Validatable.
func (r *CreateTableRequest) Validate() error {
	if err := validateDB(r.DB); err != nil {
		return err
	}
	if r.Name == "" {
		return MissingField("name")
	}
	if len(r.Columns) == 0 {
		return MissingField("columns")
	}
	for i, c := range r.Columns {
		if c == "" {
			return InvalidFormat("columns", "column "+strconv.Itoa(i)+" is empty")
		}
	}
	return nil
}

// TableRequest addresses one table. It is the request of the table level
// DELETE, reset and columns routes.
type TableRequest struct {
	DB    string `path:"db" json:"-"`
	Table string `path:"table" json:"-"`
}

// Validate implements Validatable.
func (r *TableRequest) Validate() error {
	if err := validateDB(r.DB); err != nil {
		return err
	}
	return validateTable(r.Table)
}

// ListRowsRequest is the request of GET .../tables/{table}/rows. When Column
// is set, only the rows whose cell equals Value are returned.
type ListRowsRequest struct {
	DB     string `path:"db" json:"-"`
	Table  string `path:"table" json:"-"`
	Column string `query:"column" json:"-"`
	Value  string `query:"value" json:"-"`
}

// Validate implements Validatable.
func (r *ListRowsRequest) Validate() error {
	if err := validateDB(r.DB); err != nil {
		return err
	}
	if err := validateTable(r.Table); err != nil {
		return err
	}
	if r.Column == "" && r.Value != "" {
		return MissingField("column")
	}
	return nil
}

// ExistsRequest is the request of GET .../tables/{table}/exists.
type ExistsRequest struct {
	DB     string `path:"db" json:"-"`
	Table  string `path:"table" json:"-"`
	Column string `query:"column" json:"-"`
	Value  string `query:"value" json:"-"`
}

// Validate implements Validatable.
func (r *ExistsRequest) Validate() error {
	if err := validateDB(r.DB); err != nil {
		return err
	}
	if err := validateTable(r.Table); err != nil {
		return err
	}
	if r.Column == "" {
		return MissingField("column")
	}
	return nil
}

// InsertRowRequest is the request of POST .../tables/{table}/rows. Values
// are in column order.
type InsertRowRequest struct {
	DB     string   `path:"db" json:"-"`
	Table  string   `path:"table" json:"-"`
	Values []string `json:"values"`
}

// Validate implements Validatable.
func (r *InsertRowRequest) Validate() error {
	if err := validateDB(r.DB); err != nil {
		return err
	}
	if err := validateTable(r.Table); err != nil {
		return err
	}
	if r.Values == nil {
		return MissingField("values")
	}
	return nil
}

// DeleteRowRequest is the request of DELETE .../tables/{table}/rows/{id}. It
// removes the first row whose first cell equals ID.
type DeleteRowRequest struct {
	DB    string `path:"db" json:"-"`
	Table string `path:"table" json:"-"`
	ID    string `path:"id" json:"-"`
}

// Validate implements Validatable.
func (r *DeleteRowRequest) Validate() error {
	if err := validateDB(r.DB); err != nil {
		return err
	}
	return validateTable(r.Table)
}

// DeleteRowAtRequest is the request of DELETE .../tables/{table}/rows/at/{index}.
type DeleteRowAtRequest struct {
	DB    string `path:"db" json:"-"`
	Table string `path:"table" json:"-"`
	Index int    `path:"index" json:"-"`
}

// Validate implements Validatable.
func (r *DeleteRowAtRequest) Validate() error {
	if err := validateDB(r.DB); err != nil {
		return err
	}
	if err := validateTable(r.Table); err != nil {
		return err
	}
	if r.Index < 0 {
		return InvalidFormat("index", "must be non-negative")
	}
	return nil
}
