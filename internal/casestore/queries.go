package casestore

const (
	selectCaseQuery = `
		SELECT record, external_status, last_outbound_message
		FROM support_cases
		WHERE case_id = $1`

	selectMessagesQuery = `
		SELECT direction, body, sent_at
		FROM case_messages
		WHERE case_id = $1
		ORDER BY sent_at ASC, id ASC`

	// record || patch merges the applied fields into the stored JSONB record.
	updateRecordQuery = `
		UPDATE support_cases
		SET record = record || $2::jsonb, updated_at = NOW()
		WHERE case_id = $1`

	insertNoteQuery = `
		INSERT INTO case_notes (case_id, field, note, created_at)
		VALUES ($1, $2, $3, NOW())`
)
