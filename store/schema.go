package store

// Schema creates every table the service uses. Timestamps are unix
// milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles
(
    id                TEXT PRIMARY KEY,
    plan              TEXT    NOT NULL DEFAULT 'free',
    total_queries     INTEGER NOT NULL DEFAULT 0,
    total_tokens_used INTEGER NOT NULL DEFAULT 0,
    total_cost_usd    REAL    NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations
(
    id         TEXT PRIMARY KEY,
    user_id    TEXT    NOT NULL,
    title      TEXT    NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS conversations_user ON conversations (user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages
(
    id              TEXT PRIMARY KEY,
    conversation_id TEXT    NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
    user_id         TEXT    NOT NULL,
    role            TEXT    NOT NULL,
    content         TEXT    NOT NULL,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS provider_responses
(
    id            INTEGER PRIMARY KEY,
    message_id    TEXT    NOT NULL REFERENCES messages (id) ON DELETE CASCADE,
    phase         TEXT    NOT NULL,
    provider      TEXT    NOT NULL,
    model         TEXT    NOT NULL,
    content       TEXT    NOT NULL,
    tokens_input  INTEGER NOT NULL,
    tokens_output INTEGER NOT NULL,
    cost_usd      REAL    NOT NULL,
    latency_ms    INTEGER NOT NULL,
    status        TEXT    NOT NULL,
    error_message TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS critiques
(
    id                INTEGER PRIMARY KEY,
    message_id        TEXT    NOT NULL REFERENCES messages (id) ON DELETE CASCADE,
    reviewer_provider TEXT    NOT NULL,
    reviewed_provider TEXT    NOT NULL,
    vote              TEXT    NOT NULL,
    critique_text     TEXT    NOT NULL,
    factual_errors    TEXT    NOT NULL,
    reasoning_issues  TEXT    NOT NULL,
    degraded          INTEGER NOT NULL,
    tokens_used       INTEGER NOT NULL,
    cost_usd          REAL    NOT NULL
);

CREATE TABLE IF NOT EXISTS consensus_results
(
    message_id            TEXT PRIMARY KEY REFERENCES messages (id) ON DELETE CASCADE,
    final_answer          TEXT    NOT NULL,
    confidence_score      INTEGER NOT NULL,
    confidence_label      TEXT    NOT NULL,
    mean_rqs              INTEGER NOT NULL,
    agreement_matrix      TEXT    NOT NULL,
    refinement_applied    INTEGER NOT NULL,
    refinement_rounds     INTEGER NOT NULL,
    total_tokens          INTEGER NOT NULL,
    total_cost_usd        REAL    NOT NULL,
    processing_time_ms    INTEGER NOT NULL,
    winner                TEXT    NOT NULL,
    is_ambiguous          INTEGER NOT NULL,
    adjudicator_reasoning TEXT    NOT NULL,
    dissent_note          TEXT    NOT NULL,
    judge_fallback        INTEGER NOT NULL
);

-- usage outlives deleted conversations: it backs the daily rate limit.
CREATE TABLE IF NOT EXISTS usage
(
    id            INTEGER PRIMARY KEY,
    user_id       TEXT    NOT NULL,
    message_id    TEXT    NOT NULL,
    provider      TEXT    NOT NULL,
    tokens_input  INTEGER NOT NULL,
    tokens_output INTEGER NOT NULL,
    cost_usd      REAL    NOT NULL,
    date          TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_user_date ON usage (user_id, date);
`
