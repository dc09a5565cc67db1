package mysql

import (
	"strings"
	"testing"
)

func TestSchema(t *testing.T) {
	schema, err := Schema("email_outbox")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS email_outbox") {
		t.Fatalf("expected table name in schema")
	}
	if !strings.Contains(schema, "body_html MEDIUMTEXT") {
		t.Fatalf("expected MEDIUMTEXT body in schema")
	}
	if !strings.Contains(schema, "idx_status_next_attempt") {
		t.Fatalf("expected claim index in schema")
	}
	if !strings.Contains(schema, "idx_related_intent") {
		t.Fatalf("expected dedupe index in schema")
	}
}

func TestSchemaRejectsInvalidName(t *testing.T) {
	if _, err := Schema("outbox;drop"); err == nil {
		t.Fatalf("expected invalid name error")
	}
}
