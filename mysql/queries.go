package mysql

import "fmt"

type queries struct {
	insert             string
	selectDue          string
	selectDueNoReclaim string
	claimFresh         string
	claimStale         string
	reclaimExhaust     string
	markSent           string
	markFailed         string
	markDuplicate      string
	hasSent            string
	countByStatus      string
	oldestPending      string
}

func newQueries(table string) queries {
	cols := "id, recipient, subject, body_html, email_type, related_entity_id, status, " +
		"attempt_count, next_attempt_at, claimed_at, claimed_by, message_id, last_error, created_at, updated_at"

	insert := fmt.Sprintf(
		"INSERT INTO %s (id, recipient, subject, body_html, email_type, related_entity_id, status, next_attempt_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		table,
	)
	selectDue := fmt.Sprintf(
		"SELECT %s FROM %s "+
			"WHERE (status IN (?, ?) AND next_attempt_at <= ?) OR (status = ? AND claimed_at <= ?) "+
			"ORDER BY next_attempt_at ASC LIMIT ?",
		cols,
		table,
	)
	selectDueNoReclaim := fmt.Sprintf(
		"SELECT %s FROM %s "+
			"WHERE status IN (?, ?) AND next_attempt_at <= ? "+
			"ORDER BY next_attempt_at ASC LIMIT ?",
		cols,
		table,
	)
	claimFresh := fmt.Sprintf(
		"UPDATE %s SET status = ?, claimed_at = ?, claimed_by = ? "+
			"WHERE id = ? AND status = ? AND claimed_at IS NULL",
		table,
	)
	claimStale := fmt.Sprintf(
		"UPDATE %s SET claimed_at = ?, claimed_by = ?, attempt_count = attempt_count + 1, last_error = ? "+
			"WHERE id = ? AND status = ? AND claimed_by = ? AND claimed_at = ?",
		table,
	)
	reclaimExhaust := fmt.Sprintf(
		"UPDATE %s SET status = ?, attempt_count = attempt_count + 1, last_error = ?, "+
			"claimed_at = NULL, claimed_by = NULL "+
			"WHERE id = ? AND status = ? AND claimed_by = ? AND claimed_at = ?",
		table,
	)
	markSent := fmt.Sprintf(
		"UPDATE %s SET status = ?, attempt_count = attempt_count + 1, message_id = ?, sent_at = ?, "+
			"claimed_at = NULL, claimed_by = NULL, last_error = NULL "+
			"WHERE id = ? AND status = ? AND claimed_by = ?",
		table,
	)
	markFailed := fmt.Sprintf(
		"UPDATE %s AS cur "+
			"JOIN %s AS prev ON prev.id = cur.id "+
			"SET cur.attempt_count = prev.attempt_count + 1, cur.last_error = ?, "+
			"cur.status = CASE WHEN (prev.attempt_count + 1) >= ? THEN ? ELSE ? END, "+
			"cur.next_attempt_at = CASE WHEN (prev.attempt_count + 1) >= ? THEN cur.next_attempt_at ELSE ? END, "+
			"cur.claimed_at = NULL, cur.claimed_by = NULL "+
			"WHERE cur.id = ? AND cur.status = ? AND cur.claimed_by = ?",
		table,
		table,
	)
	markDuplicate := fmt.Sprintf(
		"UPDATE %s SET status = ?, attempt_count = attempt_count + 1, last_error = ?, sent_at = ?, "+
			"claimed_at = NULL, claimed_by = NULL "+
			"WHERE id = ? AND status = ? AND claimed_by = ?",
		table,
	)
	hasSent := fmt.Sprintf(
		"SELECT EXISTS(SELECT 1 FROM %s WHERE related_entity_id = ? AND email_type = ? AND status = ?)",
		table,
	)
	countByStatus := fmt.Sprintf("SELECT status, COUNT(*) FROM %s GROUP BY status", table)
	oldestPending := fmt.Sprintf("SELECT MIN(created_at) FROM %s WHERE status = ?", table)

	return queries{
		insert:             insert,
		selectDue:          selectDue,
		selectDueNoReclaim: selectDueNoReclaim,
		claimFresh:         claimFresh,
		claimStale:         claimStale,
		reclaimExhaust:     reclaimExhaust,
		markSent:           markSent,
		markFailed:         markFailed,
		markDuplicate:      markDuplicate,
		hasSent:            hasSent,
		countByStatus:      countByStatus,
		oldestPending:      oldestPending,
	}
}
