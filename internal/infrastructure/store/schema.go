package store

var schema = `
CREATE TABLE IF NOT EXISTS stock_ledger (
	event_id VARCHAR(255) NOT NULL,
	session_id VARCHAR(255) NOT NULL,
	tier_id VARCHAR(255) NOT NULL,
	initial_quantity INT NOT NULL,
	available_quantity INT NOT NULL CHECK (available_quantity >= 0),
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, session_id, tier_id)
);

CREATE TABLE IF NOT EXISTS stock_movements (
	id UUID PRIMARY KEY,
	event_id VARCHAR(255) NOT NULL,
	session_id VARCHAR(255) NOT NULL,
	tier_id VARCHAR(255) NOT NULL,
	delta INT NOT NULL,
	movement_type VARCHAR(16) NOT NULL,
	causation_id VARCHAR(255) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (causation_id, movement_type)
);
CREATE INDEX IF NOT EXISTS stock_movements_key_idx ON stock_movements (event_id, session_id, tier_id);

CREATE TABLE IF NOT EXISTS ticket_reservations (
	id UUID PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	order_id VARCHAR(255) NOT NULL,
	event_id VARCHAR(255) NOT NULL,
	session_id VARCHAR(255) NOT NULL,
	tier_id VARCHAR(255) NOT NULL,
	quantity INT NOT NULL,
	status VARCHAR(16) NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMPTZ NOT NULL,
	confirmed_at TIMESTAMPTZ,
	released_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL DEFAULT 1,
	UNIQUE (order_id, tier_id)
);
CREATE INDEX IF NOT EXISTS ticket_reservations_pending_idx ON ticket_reservations (expires_at) WHERE status = 'PENDING';

CREATE TABLE IF NOT EXISTS reservation_order_tombstones (
	order_id VARCHAR(255) PRIMARY KEY,
	cancelled_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	lines JSONB NOT NULL,
	total BIGINT NOT NULL,
	status VARCHAR(32) NOT NULL,
	payment_id VARCHAR(255) NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS payments (
	id UUID PRIMARY KEY,
	order_id VARCHAR(255) NOT NULL UNIQUE,
	user_id VARCHAR(255) NOT NULL,
	amount BIGINT NOT NULL,
	status VARCHAR(32) NOT NULL,
	provider VARCHAR(64) NOT NULL DEFAULT '',
	provider_ref VARCHAR(255) NOT NULL DEFAULT '',
	refund_ref VARCHAR(255) NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS payment_events (
	id UUID PRIMARY KEY,
	payment_id UUID NOT NULL REFERENCES payments (id),
	event_type VARCHAR(32) NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (payment_id, event_type)
);

CREATE TABLE IF NOT EXISTS tickets (
	id UUID PRIMARY KEY,
	reservation_id VARCHAR(255) NOT NULL UNIQUE,
	order_id VARCHAR(255) NOT NULL,
	user_id VARCHAR(255) NOT NULL,
	event_id VARCHAR(255) NOT NULL,
	session_id VARCHAR(255) NOT NULL,
	tier_id VARCHAR(255) NOT NULL,
	quantity INT NOT NULL,
	status VARCHAR(16) NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	issued_at TIMESTAMPTZ NOT NULL,
	validated_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS tickets_order_idx ON tickets (order_id);

CREATE TABLE IF NOT EXISTS ticket_order_tombstones (
	order_id VARCHAR(255) PRIMARY KEY,
	cancelled_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS refund_requests (
	id UUID PRIMARY KEY,
	order_id VARCHAR(255) NOT NULL,
	payment_id VARCHAR(255) NOT NULL DEFAULT '',
	user_id VARCHAR(255) NOT NULL,
	reason TEXT NOT NULL,
	status VARCHAR(16) NOT NULL,
	decision JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS refund_requests_order_idx ON refund_requests (order_id);

CREATE TABLE IF NOT EXISTS saga_states (
	order_id VARCHAR(255) PRIMARY KEY,
	step VARCHAR(32) NOT NULL,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox (
	seq BIGSERIAL PRIMARY KEY,
	id UUID NOT NULL UNIQUE,
	source VARCHAR(64) NOT NULL,
	topic VARCHAR(255) NOT NULL,
	msg_key VARCHAR(255) NOT NULL,
	schema_version INT NOT NULL,
	correlation_id VARCHAR(255) NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	payload JSONB NOT NULL,
	metadata JSONB NOT NULL,
	published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (source, seq) WHERE published_at IS NULL;
`
