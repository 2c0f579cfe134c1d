package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/goccy/go-json"
)

// Tool names. The get_* aliases are the names older clients used.
const (
	toolListTables    = "list_tables"
	toolDescribeTable = "describe_table"
	toolExecuteQuery  = "execute_query"

	toolAliasGetTables       = "get_tables"
	toolAliasGetTableColumns = "get_table_columns"
)

func (s *MCPServer) handleInitialize(params json.RawMessage) (*InitializeResult, *Error) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &Error{
				Code:    InvalidParams,
				Message: "Invalid initialize parameters",
				Data:    err.Error(),
			}
		}
	}
	s.logger.Debug("client initialized",
		"client", initParams.ClientInfo.Name,
		"version", initParams.ClientInfo.Version)

	version := ProtocolVersion
	if slices.Contains(supportedProtocolVersions, initParams.ProtocolVersion) {
		version = initParams.ProtocolVersion
	}

	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}, nil
}

func (s *MCPServer) handleListTools() (*ListToolsResult, *Error) {
	return &ListToolsResult{
		Tools: []Tool{
			{
				Name:        toolListTables,
				Description: "List the user tables of the Firebird database (views and system tables excluded)",
				InputSchema: InputSchema{
					Type:       "object",
					Properties: map[string]Property{},
					Required:   []string{},
				},
			},
			{
				Name:        toolDescribeTable,
				Description: "Describe the columns of a table: type, length, precision, scale, constraints, nullability and default",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"table_name": {
							Type:        "string",
							Description: "Table name as stored in the catalog (unquoted identifiers are upper case)",
						},
					},
					Required: []string{"table_name"},
				},
			},
			{
				Name:        toolExecuteQuery,
				Description: "Execute a SQL statement. Queries return rows; other statements are committed and return rows_affected. " +
					"A statement without a result set is run twice inside one transaction (the first run is rolled back), " +
					"so effects outside the transaction, such as generator increments or autonomous transactions, happen twice",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"sql": {
							Type:        "string",
							Description: "The SQL statement to execute",
						},
					},
					Required: []string{"sql"},
				},
			},
		},
	}, nil
}

func (s *MCPServer) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, *Error) {
	var callParams CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid parameters",
			Data:    err.Error(),
		}
	}
	s.logger.Debug("tool call", "tool", callParams.Name)

	switch callParams.Name {
	case toolListTables, toolAliasGetTables:
		return s.listTables(ctx)
	case toolDescribeTable, toolAliasGetTableColumns:
		return s.describeTable(ctx, callParams.Arguments)
	case toolExecuteQuery:
		return s.executeQuery(ctx, callParams.Arguments)
	default:
		return nil, &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Unknown tool: %s", callParams.Name),
		}
	}
}

func (s *MCPServer) listTables(ctx context.Context) (*CallToolResult, *Error) {
	tables, err := s.introspector.ListTables(ctx)
	if err != nil {
		return nil, toRPCError("Failed to list tables", err)
	}
	return jsonToolResult(tables, false)
}

func (s *MCPServer) describeTable(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	tableName, ok := stringArg(args, "table_name", "tableName")
	if !ok || tableName == "" {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Missing or invalid 'table_name' parameter",
		}
	}

	columns, err := s.introspector.DescribeTable(ctx, tableName)
	if err != nil {
		return nil, toRPCError("Failed to describe table", err)
	}
	return jsonToolResult(columns, false)
}

func (s *MCPServer) executeQuery(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	sqlQuery, ok := stringArg(args, "sql")
	if !ok || sqlQuery == "" {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Missing or invalid 'sql' parameter",
		}
	}

	result := s.executor.Execute(ctx, sqlQuery)
	if result.IsError() {
		s.logger.Debug("query failed", "error", result.Err)
	}
	return jsonToolResult(result, result.IsError())
}

func (s *MCPServer) handleListResources() (*ListResourcesResult, *Error) {
	entries := s.catalog.Entries()
	resources := make([]Resource, 0, len(entries))
	for _, entry := range entries {
		resources = append(resources, Resource{
			URI:         entry.URI(),
			Name:        entry.Name,
			Description: fmt.Sprintf("Columns of table '%s'", entry.Name),
			MimeType:    "application/json",
		})
	}
	return &ListResourcesResult{Resources: resources}, nil
}

func (s *MCPServer) handleListResourceTemplates() (*ListResourceTemplatesResult, *Error) {
	return &ListResourceTemplatesResult{
		ResourceTemplates: []ResourceTemplate{
			{
				URITemplate: TableURITemplate,
				Name:        "Table columns",
				Description: "Columns of any table, including tables created after the server started",
				MimeType:    "application/json",
			},
		},
	}, nil
}

func (s *MCPServer) handleReadResource(ctx context.Context, params json.RawMessage) (*ReadResourceResult, *Error) {
	var readParams ReadResourceParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid parameters",
			Data:    err.Error(),
		}
	}

	entry, ok := s.catalog.Resolve(readParams.URI)
	if !ok {
		return nil, &Error{
			Code:    InvalidParams,
			Message: fmt.Sprintf("Resource not found: %s", readParams.URI),
		}
	}

	columns, err := entry.Read(ctx, s.introspector)
	if err != nil {
		return nil, toRPCError("Failed to read schema", err)
	}

	schemaJSON, err := json.MarshalIndent(columns, "", "  ")
	if err != nil {
		return nil, &Error{
			Code:    InternalError,
			Message: fmt.Sprintf("Failed to marshal schema: %v", err),
		}
	}

	return &ReadResourceResult{
		Contents: []ResourceContent{
			{
				URI:      entry.URI(),
				MimeType: "application/json",
				Text:     string(schemaJSON),
			},
		},
	}, nil
}

// toRPCError maps a catalog failure onto a protocol-level error. The
// driver's message is kept so the agent can see what went wrong.
func toRPCError(msg string, err error) *Error {
	if errors.Is(err, ErrNotInitialized) {
		return &Error{Code: InternalError, Message: err.Error()}
	}
	return &Error{
		Code:    InternalError,
		Message: fmt.Sprintf("%s: %v", msg, err),
	}
}

func jsonToolResult(v any, isError bool) (*CallToolResult, *Error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &Error{
			Code:    InternalError,
			Message: fmt.Sprintf("Failed to marshal result: %v", err),
		}
	}
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: string(data)}},
		IsError: isError,
	}, nil
}

// stringArg returns the first of keys present in args as a string.
func stringArg(args map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, present := args[key]; present {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}
