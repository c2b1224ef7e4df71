package tds

import "github.com/ulvii/go-tds/internal/tdserr"

// SQLIdentifier is a multi-part (1..4) object name: server, database,
// schema, object — assigned right-to-left per spec.md §4.2
// "read_sql_identifier()".
type SQLIdentifier struct {
	Server   string
	Database string
	Schema   string
	Object   string
}

// SQLIdentifier reads a u8 part count followed by that many
// length-prefixed unicode-16 strings, assigning them right-to-left:
// object, schema, database, server.
func (b *Buffer) SQLIdentifier() (SQLIdentifier, error) {
	count := int(b.Byte())
	if count < 1 || count > 4 {
		return SQLIdentifier{}, tdserr.Newf(tdserr.KindInvalidMultiPartIdentifier, "multi-part identifier must have 1..4 parts, got %d", count)
	}
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = b.UsVarChar()
	}
	var id SQLIdentifier
	// The last part read is always the object name; parts preceding it
	// fill in schema, database, server as available, right-to-left.
	slots := []*string{&id.Object, &id.Schema, &id.Database, &id.Server}
	for i := 0; i < count; i++ {
		*slots[i] = parts[count-1-i]
	}
	return id, nil
}
