package sqlstore

var schema = []string{
	`CREATE TABLE IF NOT EXISTS email_connections (
		id {id} PRIMARY KEY,
		user_id {key} NOT NULL,
		organization_id {key} NOT NULL,
		provider {key} NOT NULL,
		email_address {text} NOT NULL,
		access_token {text} NOT NULL,
		refresh_token {text} NOT NULL,
		token_expires_at {ts} NULL,
		is_active {bool} NOT NULL,
		backfill_months INTEGER NOT NULL DEFAULT 0,
		last_scan_at {ts} NULL,
		last_scanned_email_date {ts} NULL,
		last_backfill_at {ts} NULL
	)`,
	`CREATE TABLE IF NOT EXISTS detected_tools (
		id {id} PRIMARY KEY,
		organization_id {key} NOT NULL,
		vendor_name {text} NOT NULL,
		normalized_vendor {key} NOT NULL,
		last_charge_amount {real} NULL,
		last_charge_date {ts} NULL,
		currency {text} NOT NULL,
		billing_frequency {text} NOT NULL,
		estimated_renewal_date {ts} NULL,
		first_seen_date {ts} NOT NULL,
		status {key} NOT NULL,
		renewal_count INTEGER NOT NULL DEFAULT 0,
		confidence_score INTEGER NOT NULL DEFAULT 0,
		detection_reason {text} NOT NULL,
		inferred_owner_id {text} NOT NULL,
		owner_confirmation_status {text} NOT NULL,
		last_interaction_date {ts} NULL,
		tool_category {text} NOT NULL,
		marketing_relevance_score INTEGER NOT NULL DEFAULT 0,
		source_connection_id {text} NOT NULL,
		source_email_id {text} NOT NULL,
		source_email_subject {text} NOT NULL,
		source_email_sender {text} NOT NULL,
		created_at {ts} NOT NULL,
		updated_at {ts} NOT NULL,
		UNIQUE (organization_id, normalized_vendor)
	)`,
	`CREATE TABLE IF NOT EXISTS interruptions (
		id {id} PRIMARY KEY,
		organization_id {key} NOT NULL,
		tool_id {key} NOT NULL,
		type {text} NOT NULL,
		priority {text} NOT NULL,
		message {text} NOT NULL,
		possible_actions {text} NOT NULL,
		triggered_at {ts} NOT NULL,
		resolved_at {ts} NULL
	)`,
	`CREATE INDEX {ifne}idx_interruptions_tool ON interruptions (tool_id)`,
	`CREATE TABLE IF NOT EXISTS scan_logs (
		id {id} PRIMARY KEY,
		connection_id {key} NOT NULL,
		scan_type {text} NOT NULL,
		status {text} NOT NULL,
		emails_scanned INTEGER NOT NULL DEFAULT 0,
		tools_detected INTEGER NOT NULL DEFAULT 0,
		tools_updated INTEGER NOT NULL DEFAULT 0,
		quota_limited {bool} NOT NULL,
		error_message {text} NOT NULL,
		started_at {ts} NOT NULL,
		completed_at {ts} NULL
	)`,
	`CREATE TABLE IF NOT EXISTS extraction_logs (
		id {id} PRIMARY KEY,
		user_id {key} NOT NULL,
		email_id {text} NOT NULL,
		email_subject {text} NOT NULL,
		classification_confidence INTEGER NULL,
		extraction_attempted {bool} NOT NULL,
		extraction_success {bool} NOT NULL,
		validation_passed {bool} NOT NULL,
		failure_reason {text} NOT NULL,
		created_at {ts} NOT NULL
	)`,
	`CREATE INDEX {ifne}idx_extraction_logs_created ON extraction_logs (created_at)`,
	`CREATE TABLE IF NOT EXISTS quota_usage (
		user_id {key} NOT NULL,
		day {key} NOT NULL,
		emails INTEGER NOT NULL DEFAULT 0,
		classifications INTEGER NOT NULL DEFAULT 0,
		extractions INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, day)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id {id} PRIMARY KEY,
		organization_id {key} NOT NULL,
		tool_id {key} NOT NULL,
		user_id {key} NOT NULL,
		recipient {text} NOT NULL,
		type {key} NOT NULL,
		subject {text} NOT NULL,
		body {text} NOT NULL,
		scheduled_for {ts} NOT NULL,
		status {key} NOT NULL,
		sent_at {ts} NULL,
		error_message {text} NOT NULL,
		created_at {ts} NOT NULL
	)`,
	`CREATE INDEX {ifne}idx_notifications_due ON notifications (status, scheduled_for)`,
}
