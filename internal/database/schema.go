package database

// schema is applied statement by statement on startup. It must stay valid for
// both SQLite and PostgreSQL. Amounts are integer minor units.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL,
	pending_balance BIGINT NOT NULL DEFAULT 0 CHECK (pending_balance >= 0),
	available_balance BIGINT NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_role ON accounts(role);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(id),
	client_id TEXT NOT NULL REFERENCES accounts(id),
	freelancer_id TEXT NOT NULL REFERENCES accounts(id),
	currency TEXT NOT NULL,
	total_amount BIGINT NOT NULL CHECK (total_amount > 0),
	total_paid BIGINT NOT NULL DEFAULT 0 CHECK (total_paid >= 0 AND total_paid <= total_amount),
	released_amount BIGINT NOT NULL DEFAULT 0 CHECK (released_amount >= 0 AND released_amount <= total_amount),
	milestone_count INTEGER NOT NULL DEFAULT 0 CHECK (milestone_count >= 0),
	completed_milestones INTEGER NOT NULL DEFAULT 0 CHECK (completed_milestones >= 0),
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_contracts_freelancer ON contracts(freelancer_id);
CREATE INDEX IF NOT EXISTS idx_contracts_client ON contracts(client_id);

CREATE TABLE IF NOT EXISTS milestones (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL REFERENCES contracts(id),
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	amount BIGINT NOT NULL CHECK (amount > 0),
	sort_order INTEGER NOT NULL,
	status TEXT NOT NULL,
	deliverables TEXT NOT NULL DEFAULT '[]',
	submission_note TEXT NOT NULL DEFAULT '',
	feedback TEXT NOT NULL DEFAULT '',
	due_date TIMESTAMP,
	submitted_at TIMESTAMP,
	approved_at TIMESTAMP,
	rejected_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_milestones_contract_order ON milestones(contract_id, sort_order);

CREATE TABLE IF NOT EXISTS withdrawals (
	id TEXT PRIMARY KEY,
	freelancer_id TEXT NOT NULL REFERENCES accounts(id),
	amount BIGINT NOT NULL CHECK (amount > 0),
	processing_fee BIGINT NOT NULL CHECK (processing_fee >= 0),
	final_amount BIGINT NOT NULL CHECK (final_amount > 0),
	currency TEXT NOT NULL,
	method TEXT NOT NULL,
	destination TEXT NOT NULL,
	status TEXT NOT NULL,
	idempotency_key TEXT,
	provider_transfer_id TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	processed_at TIMESTAMP,
	completed_at TIMESTAMP,
	failed_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_withdrawals_idempotency
	ON withdrawals(freelancer_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_withdrawals_freelancer_status ON withdrawals(freelancer_id, status);
CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status, created_at);

CREATE TABLE IF NOT EXISTS transaction_log (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	from_party TEXT NOT NULL,
	to_party TEXT NOT NULL,
	amount BIGINT NOT NULL,
	fee BIGINT NOT NULL DEFAULT 0,
	net_amount BIGINT NOT NULL,
	related_entity_id TEXT NOT NULL,
	related_entity_type TEXT NOT NULL,
	status TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transaction_log_entity ON transaction_log(related_entity_id, related_entity_type);
CREATE INDEX IF NOT EXISTS idx_transaction_log_from ON transaction_log(from_party, created_at);
CREATE INDEX IF NOT EXISTS idx_transaction_log_to ON transaction_log(to_party, created_at);

CREATE TABLE IF NOT EXISTS outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	next_attempt_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL,
	delivered_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox_events(status, next_attempt_at)
`
