package mysql

import "fmt"

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id CHAR(36) NOT NULL,
	recipient VARCHAR(320) NOT NULL,
	subject VARCHAR(998) NOT NULL,
	body_html MEDIUMTEXT NOT NULL,
	email_type VARCHAR(64) NOT NULL,
	related_entity_id VARCHAR(128) NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	attempt_count INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	claimed_at TIMESTAMP(6) NULL,
	claimed_by VARCHAR(128) NULL,
	message_id VARCHAR(255) NULL,
	last_error VARCHAR(1024) NULL,
	sent_at TIMESTAMP(6) NULL,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	PRIMARY KEY (id),
	INDEX idx_status_next_attempt (status, next_attempt_at),
	INDEX idx_related_intent (related_entity_id, email_type, status)
);`

// Schema returns the DDL for an email outbox table.
func Schema(table string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name), nil
}
