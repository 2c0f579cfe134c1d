package main

import (
	"context"
	"strings"
)

// TableURIScheme prefixes table resource URIs: table://CUSTOMER.
const TableURIScheme = "table://"

// TableURITemplate addresses any table by name, including tables created
// after the catalog was built.
const TableURITemplate = TableURIScheme + "{table_name}"

// TableResource is one catalog entry. It captures only the table name; the
// column list is fetched each time the resource is read.
type TableResource struct {
	Name string
}

// URI returns the resource identifier for the table.
func (r TableResource) URI() string {
	return TableURIScheme + r.Name
}

// Read describes the table as of now.
func (r TableResource) Read(ctx context.Context, si *SchemaIntrospector) ([]ColumnDescriptor, error) {
	return si.DescribeTable(ctx, r.Name)
}

// ResourceCatalog is the set of table resources discovered at startup. It is
// never refreshed: tables created later have no entry, and entries for
// dropped tables remain (and describe as empty).
type ResourceCatalog struct {
	entries []TableResource
	byURI   map[string]TableResource
}

// newResourceCatalog builds a catalog with one entry per distinct name.
func newResourceCatalog(names []string) *ResourceCatalog {
	c := &ResourceCatalog{
		entries: make([]TableResource, 0, len(names)),
		byURI:   make(map[string]TableResource, len(names)),
	}
	for _, name := range names {
		entry := TableResource{Name: name}
		if _, dup := c.byURI[entry.URI()]; dup {
			continue
		}
		c.entries = append(c.entries, entry)
		c.byURI[entry.URI()] = entry
	}
	return c
}

// BuildResourceCatalog enumerates the tables once and registers a resource
// for each of them.
func BuildResourceCatalog(ctx context.Context, si *SchemaIntrospector) (*ResourceCatalog, error) {
	names, err := si.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	return newResourceCatalog(names), nil
}

// Len returns the number of registered resources.
func (c *ResourceCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns a copy of the registered resources in registration order.
func (c *ResourceCatalog) Entries() []TableResource {
	if c == nil {
		return nil
	}
	return append([]TableResource(nil), c.entries...)
}

// Lookup finds the resource registered under uri.
func (c *ResourceCatalog) Lookup(uri string) (TableResource, bool) {
	if c == nil || !strings.HasPrefix(uri, TableURIScheme) {
		return TableResource{}, false
	}
	r, ok := c.byURI[uri]
	return r, ok
}

// Resolve finds the resource for uri: a registered entry if there is one,
// otherwise the table named by the URI template.
func (c *ResourceCatalog) Resolve(uri string) (TableResource, bool) {
	if r, ok := c.Lookup(uri); ok {
		return r, true
	}
	return ParseTableURI(uri)
}

// ParseTableURI extracts the table name from a table:// URI.
func ParseTableURI(uri string) (TableResource, bool) {
	name, ok := strings.CutPrefix(uri, TableURIScheme)
	if !ok || name == "" || strings.ContainsAny(name, "/?#") {
		return TableResource{}, false
	}
	return TableResource{Name: name}, true
}
