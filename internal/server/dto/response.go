package dto

// HealthResponse reports the server status.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// TokenResponse carries a bearer token for the API.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"` // RFC3339
}

// OkResponse acknowledges a mutation without payload.
type OkResponse struct {
	Ok bool `json:"ok"`
}

// DatabaseInfo describes one database file.
type DatabaseInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"` // RFC3339
}

// ListDatabasesResponse lists the databases, sorted by name.
type ListDatabasesResponse struct {
	Databases []DatabaseInfo `json:"databases"`
}

// DatabaseResponse names a database.
type DatabaseResponse struct {
	Name string `json:"name"`
}

// ListTablesResponse lists the tables in creation order.
type ListTablesResponse struct {
	Tables []string `json:"tables"`
}

// TableResponse describes a table schema.
type TableResponse struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// RowsResponse holds rows padded to the column count.
type RowsResponse struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ExistsResponse reports whether a value is present.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// DeleteRowResponse reports whether a row was removed.
type DeleteRowResponse struct {
	Deleted bool `json:"deleted"`
}
