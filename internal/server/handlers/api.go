package handlers

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/maruel/secdb/internal/server/dto"
	"github.com/maruel/secdb/internal/tabledb"
)

// APIHandler serves /api/v1.
type APIHandler struct {
	svc *Services
}

// NewAPIHandler returns an APIHandler.
func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// Token issues a bearer token for the API.
func (h *APIHandler) Token(ctx context.Context, req *dto.TokenRequest) (*dto.TokenResponse, error) {
	cfg := h.svc.Config.Get()
	tok, exp, err := IssueToken(cfg.Auth.APIKey, cfg.Auth.TokenTTL, h.svc.now())
	if err != nil {
		return nil, dto.InternalWithError("failed to issue token", err)
	}
	return &dto.TokenResponse{Token: tok, ExpiresAt: exp.UTC().Format(time.RFC3339)}, nil
}

// ListDatabases lists the database files.
func (h *APIHandler) ListDatabases(ctx context.Context, req *dto.ListDatabasesRequest) (*dto.ListDatabasesResponse, error) {
	infos, err := h.svc.Registry.ListDatabases()
	if err != nil {
		return nil, dto.InternalWithError("failed to list databases", err)
	}
	out := &dto.ListDatabasesResponse{Databases: make([]dto.DatabaseInfo, len(infos))}
	for i, info := range infos {
		out.Databases[i] = dto.DatabaseInfo{Name: info.Name, Size: info.Size, Modified: info.Modified.UTC().Format(time.RFC3339)}
	}
	return out, nil
}

// CreateDatabase creates an empty database.
func (h *APIHandler) CreateDatabase(ctx context.Context, req *dto.CreateDatabaseRequest) (*dto.DatabaseResponse, error) {
	if _, err := h.svc.Registry.CreateDatabase(req.Name); err != nil {
		return nil, toAPIError(err, req.Name, "")
	}
	slog.InfoContext(ctx, "Created database", "db", req.Name)
	return &dto.DatabaseResponse{Name: req.Name}, nil
}

// DeleteDatabase removes a database and its file.
func (h *APIHandler) DeleteDatabase(ctx context.Context, req *dto.DeleteDatabaseRequest) (*dto.OkResponse, error) {
	if err := h.svc.Registry.DeleteDatabase(req.DB); err != nil {
		return nil, toAPIError(err, req.DB, "")
	}
	slog.InfoContext(ctx, "Deleted database", "db", req.DB)
	return &dto.OkResponse{Ok: true}, nil
}

// ListTables lists the tables of a database in creation order.
func (h *APIHandler) ListTables(ctx context.Context, req *dto.ListTablesRequest) (*dto.ListTablesResponse, error) {
	s, err := h.svc.open(req.DB)
	if err != nil {
		return nil, err
	}
	return &dto.ListTablesResponse{Tables: s.ListTables()}, nil
}

// CreateTable creates a table. It returns the schema in effect, which is the
// existing one when the table was already there.
func (h *APIHandler) CreateTable(ctx context.Context, req *dto.CreateTableRequest) (*dto.TableResponse, error) {
	s, err := h.svc.open(req.DB)
	if err != nil {
		return nil, err
	}
	if err := s.CreateTable(req.Name, req.Columns); err != nil {
		return nil, toAPIError(err, req.DB, req.Name)
	}
	return &dto.TableResponse{Name: req.Name, Columns: s.GetColumns(req.Name)}, nil
}

// DeleteTable removes a table. Removing an absent table succeeds.
func (h *APIHandler) DeleteTable(ctx context.Context, req *dto.TableRequest) (*dto.OkResponse, error) {
	s, err := h.svc.open(req.DB)
	if err != nil {
		return nil, err
	}
	if err := s.DeleteTable(req.Table); err != nil {
		return nil, toAPIError(err, req.DB, req.Table)
	}
	return &dto.OkResponse{Ok: true}, nil
}

// ResetTable removes every row of a table. Resetting an absent table
// succeeds.
func (h *APIHandler) ResetTable(ctx context.Context, req *dto.TableRequest) (*dto.OkResponse, error) {
	s, err := h.svc.open(req.DB)
	if err != nil {
		return nil, err
	}
	if err := s.ResetTable(req.Table); err != nil {
		return nil, toAPIError(err, req.DB, req.Table)
	}
	return &dto.OkResponse{Ok: true}, nil
}

// openTable returns the store of db, failing when table does not exist.
func (h *APIHandler) openTable(db, table string) (*tabledb.Store, error) {
	s, err := h.svc.open(db)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(s.ListTables(), table) {
		return nil, dto.TableNotFound(table)
	}
	return s, nil
}

// GetColumns returns the columns of a table.
func (h *APIHandler) GetColumns(ctx context.Context, req *dto.TableRequest) (*dto.TableResponse, error) {
	s, err := h.openTable(req.DB, req.Table)
	if err != nil {
		return nil, err
	}
	return &dto.TableResponse{Name: req.Table, Columns: s.GetColumns(req.Table)}, nil
}

// ListRows returns the rows of a table padded to the column count,
// optionally filtered on one column.
func (h *APIHandler) ListRows(ctx context.Context, req *dto.ListRowsRequest) (*dto.RowsResponse, error) {
	s, err := h.openTable(req.DB, req.Table)
	if err != nil {
		return nil, err
	}
	var rows []tabledb.Row
	if req.Column != "" {
		if rows, err = s.FindRows(req.Table, req.Column, req.Value); err != nil {
			return nil, toAPIError(err, req.DB, req.Table)
		}
	} else {
		rows = s.GetRowsPadded(req.Table)
	}
	out := &dto.RowsResponse{Columns: s.GetColumns(req.Table), Rows: make([][]string, len(rows))}
	for i, r := range rows {
		out.Rows[i] = r
	}
	return out, nil
}

// Exists reports whether a row holds value in column.
func (h *APIHandler) Exists(ctx context.Context, req *dto.ExistsRequest) (*dto.ExistsResponse, error) {
	s, err := h.svc.open(req.DB)
	if err != nil {
		return nil, err
	}
	ok, err := s.Exists(req.Table, req.Column, req.Value)
	if err != nil {
		return nil, toAPIError(err, req.DB, req.Table)
	}
	return &dto.ExistsResponse{Exists: ok}, nil
}

// InsertRow appends a row. It must have one value per column.
func (h *APIHandler) InsertRow(ctx context.Context, req *dto.InsertRowRequest) (*dto.OkResponse, error) {
	s, err := h.svc.open(req.DB)
	if err != nil {
		return nil, err
	}
	if err := insertRow(s, req.Table, req.Values); err != nil {
		return nil, toAPIError(err, req.DB, req.Table)
	}
	return &dto.OkResponse{Ok: true}, nil
}

// DeleteRow removes the first row whose first cell equals the id. An absent
// table or id is not an error.
func (h *APIHandler) DeleteRow(ctx context.Context, req *dto.DeleteRowRequest) (*dto.DeleteRowResponse, error) {
	s, err := h.svc.open(req.DB)
	if err != nil {
		return nil, err
	}
	ok, err := s.DeleteRowByID(req.Table, req.ID)
	if err != nil {
		return nil, toAPIError(err, req.DB, req.Table)
	}
	return &dto.DeleteRowResponse{Deleted: ok}, nil
}

// DeleteRowAt removes the row at a position. An absent table or an out of
// range index is not an error.
func (h *APIHandler) DeleteRowAt(ctx context.Context, req *dto.DeleteRowAtRequest) (*dto.DeleteRowResponse, error) {
	s, err := h.svc.open(req.DB)
	if err != nil {
		return nil, err
	}
	ok, err := s.DeleteRowByIndex(req.Table, req.Index)
	if err != nil {
		return nil, toAPIError(err, req.DB, req.Table)
	}
	return &dto.DeleteRowResponse{Deleted: ok}, nil
}

// insertRow checks the row length against the schema before inserting. The
// store itself accepts any length.
func insertRow(s *tabledb.Store, table string, values []string) error {
	if cols := s.GetColumns(table); len(cols) != 0 && len(cols) != len(values) {
		return dto.ColumnMismatch(len(cols), len(values))
	}
	return s.Insert(table, values)
}
