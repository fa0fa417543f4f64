// Package store persists conversations and pipeline runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consensus-core/core"
	llmclient "consensus-core/llm-client"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for a conversation that does not exist or belongs
// to another user.
var ErrNotFound = errors.New("not found")

const (
	PlanFree = "free"
	PlanPro  = "pro"

	RoleUser      = "user"
	RoleAssistant = "assistant"

	titleRunes        = 60
	conversationLimit = 50
)

// Profile holds a user's plan and lifetime totals.
type Profile struct {
	ID              string  `json:"id"`
	Plan            string  `json:"plan"`
	TotalQueries    int     `json:"total_queries"`
	TotalTokensUsed int     `json:"total_tokens_used"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one chat turn. User messages that started a run carry the
// run's records.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`

	Consensus *core.ConsensusResult `json:"consensus,omitempty"`
	Responses []llmclient.Response  `json:"responses,omitempty"`
	Critiques []core.Critique       `json:"critiques,omitempty"`
}

// Store wraps a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies Schema.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database file, %s: %w", path, err)
	}
	// A single connection keeps the foreign_keys pragma in effect and
	// serializes writers.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, Schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: conn, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Title derives a conversation title from its first prompt.
func Title(prompt string) string {
	r := []rune(prompt)
	if len(r) <= titleRunes {
		return prompt
	}
	return string(r[:titleRunes]) + "..."
}

// Profile returns the user's profile, creating a free one on first use.
func (s *Store) Profile(ctx context.Context, userID string) (Profile, error) {
	const ensure = `INSERT OR IGNORE INTO profiles (id, created_at) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, ensure, userID, millis(s.now())); err != nil {
		return Profile{}, fmt.Errorf("ensure profile: %w", err)
	}

	const get = `
SELECT id, plan, total_queries, total_tokens_used, total_cost_usd
FROM profiles
WHERE id = ?
`
	var p Profile
	err := s.db.QueryRowContext(ctx, get, userID).Scan(
		&p.ID,
		&p.Plan,
		&p.TotalQueries,
		&p.TotalTokensUsed,
		&p.TotalCostUSD,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// SetPlan changes a user's plan.
func (s *Store) SetPlan(ctx context.Context, userID, plan string) error {
	if _, err := s.Profile(ctx, userID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE profiles SET plan = ? WHERE id = ?`, plan, userID); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}

// RunsToday counts the distinct runs recorded for the user on the current
// UTC day.
func (s *Store) RunsToday(ctx context.Context, userID string) (int, error) {
	const q = `SELECT count(DISTINCT message_id) FROM usage WHERE user_id = ? AND date = ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, userID, s.today()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func (s *Store) today() string {
	return s.now().UTC().Format(time.DateOnly)
}

// EnsureConversation returns conversationID after checking it belongs to
// the user, or creates a new conversation titled after prompt when
// conversationID is empty.
func (s *Store) EnsureConversation(ctx context.Context, userID, conversationID, prompt string) (string, error) {
	if conversationID != "" {
		var owner string
		err := s.db.QueryRowContext(ctx, `SELECT user_id FROM conversations WHERE id = ?`, conversationID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
			return "", ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("get conversation: %w", err)
		}
		return conversationID, nil
	}

	const insert = `
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
`
	id := uuid.NewString()
	now := millis(s.now())
	if _, err := s.db.ExecContext(ctx, insert, id, userID, Title(prompt), now, now); err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}
	return id, nil
}

// AddMessage stores one message. An empty id is replaced by a new uuid,
// which is returned.
func (s *Store) AddMessage(ctx context.Context, id, conversationID, userID, role, content string) (string, error) {
	return addMessage(ctx, s.db, s.now(), id, conversationID, userID, role, content)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func addMessage(ctx context.Context, db execer, now time.Time, id, conversationID, userID, role, content string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	const insert = `
INSERT INTO messages (id, conversation_id, user_id, role, content, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`
	if _, err := db.ExecContext(ctx, insert, id, conversationID, userID, role, content, millis(now)); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

// SaveRun records a completed run in one transaction: responses, critiques,
// the consensus, the assistant reply, usage rows and profile totals. The
// user message result.MessageID must already exist.
func (s *Store) SaveRun(ctx context.Context, userID, conversationID string, result *core.PipelineResult) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	msgID := result.MessageID

	if err = insertResponses(ctx, tx, msgID, "initial", result.InitialResponses); err != nil {
		return err
	}
	if err = insertResponses(ctx, tx, msgID, "refined", result.RefinedResponses); err != nil {
		return err
	}
	if err = insertCritiques(ctx, tx, msgID, result.Critiques); err != nil {
		return err
	}
	if err = insertConsensus(ctx, tx, msgID, result.Consensus); err != nil {
		return err
	}
	if _, err = addMessage(ctx, tx, now, "", conversationID, userID, RoleAssistant, result.Consensus.FinalAnswer); err != nil {
		return err
	}

	const usage = `
INSERT INTO usage (user_id, message_id, provider, tokens_input, tokens_output, cost_usd, date)
VALUES (?, ?, ?, ?, ?, ?, ?)
`
	date := now.UTC().Format(time.DateOnly)
	for _, r := range result.InitialResponses {
		if _, err = tx.ExecContext(ctx, usage, userID, msgID, string(r.Provider), r.TokensInput, r.TokensOutput, r.CostUSD, date); err != nil {
			return fmt.Errorf("insert usage: %w", err)
		}
	}

	const totals = `
INSERT INTO profiles (id, total_queries, total_tokens_used, total_cost_usd, created_at)
VALUES (?, 1, ?, ?, ?)
ON CONFLICT (id) DO
    UPDATE
    SET total_queries = total_queries + 1,
        total_tokens_used = total_tokens_used + excluded.total_tokens_used,
        total_cost_usd = total_cost_usd + excluded.total_cost_usd
`
	if _, err = tx.ExecContext(ctx, totals, userID, result.Consensus.TotalTokens, result.Consensus.TotalCostUSD, millis(now)); err != nil {
		return fmt.Errorf("update profile totals: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, millis(now), conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertResponses(ctx context.Context, tx *sql.Tx, msgID, phase string, responses []llmclient.Response) error {
	const insert = `
INSERT INTO provider_responses (message_id, phase, provider, model, content, tokens_input, tokens_output,
                                cost_usd, latency_ms, status, error_message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	for _, r := range responses {
		_, err := tx.ExecContext(ctx, insert,
			msgID,
			phase,
			string(r.Provider),
			r.Model,
			r.Content,
			r.TokensInput,
			r.TokensOutput,
			r.CostUSD,
			r.LatencyMs,
			string(r.Status),
			r.Error,
		)
		if err != nil {
			return fmt.Errorf("insert %s response: %w", phase, err)
		}
	}
	return nil
}

func insertCritiques(ctx context.Context, tx *sql.Tx, msgID string, critiques []core.Critique) error {
	const insert = `
INSERT INTO critiques (message_id, reviewer_provider, reviewed_provider, vote, critique_text, factual_errors,
                       reasoning_issues, degraded, tokens_used, cost_usd)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	for _, c := range critiques {
		factual, err := json.Marshal(c.FactualErrors)
		if err != nil {
			return fmt.Errorf("encode factual errors: %w", err)
		}
		issues, err := json.Marshal(c.LogicalFlaws)
		if err != nil {
			return fmt.Errorf("encode reasoning issues: %w", err)
		}
		_, err = tx.ExecContext(ctx, insert,
			msgID,
			string(c.Reviewer),
			string(c.Reviewed),
			string(c.Vote),
			c.Text,
			string(factual),
			string(issues),
			c.Degraded,
			c.TokensUsed,
			c.CostUSD,
		)
		if err != nil {
			return fmt.Errorf("insert critique: %w", err)
		}
	}
	return nil
}

func insertConsensus(ctx context.Context, tx *sql.Tx, msgID string, c core.ConsensusResult) error {
	matrix, err := json.Marshal(c.AgreementMatrix)
	if err != nil {
		return fmt.Errorf("encode agreement matrix: %w", err)
	}
	const insert = `
INSERT INTO consensus_results (message_id, final_answer, confidence_score, confidence_label, mean_rqs,
                               agreement_matrix, refinement_applied, refinement_rounds, total_tokens,
                               total_cost_usd, processing_time_ms, winner, is_ambiguous,
                               adjudicator_reasoning, dissent_note, judge_fallback)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	_, err = tx.ExecContext(ctx, insert,
		msgID,
		c.FinalAnswer,
		c.ConfidenceScore,
		string(c.ConfidenceLabel),
		c.MeanRQS,
		string(matrix),
		c.RefinementApplied,
		c.RefinementRounds,
		c.TotalTokens,
		c.TotalCostUSD,
		c.ProcessingTimeMs,
		string(c.Winner),
		c.IsAmbiguous,
		c.AdjudicatorReasoning,
		c.DissentNote,
		c.JudgeFallback,
	)
	if err != nil {
		return fmt.Errorf("insert consensus: %w", err)
	}
	return nil
}

// ListConversations returns the user's most recently updated conversations.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	const list = `
SELECT id, title, created_at, updated_at
FROM conversations
WHERE user_id = ?
ORDER BY updated_at DESC, rowid DESC
LIMIT ?
`
	rows, err := s.db.QueryContext(ctx, list, userID, conversationLimit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := []Conversation{}
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
		items = append(items, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// ConversationMessages returns a conversation's messages in order, with run
// records attached. A conversation owned by someone else yields ErrNotFound.
func (s *Store) ConversationMessages(ctx context.Context, userID, conversationID string) ([]Message, error) {
	if conversationID == "" {
		return nil, ErrNotFound
	}
	if _, err := s.EnsureConversation(ctx, userID, conversationID, ""); err != nil {
		return nil, err
	}

	const list = `
SELECT id, conversation_id, role, content, created_at
FROM messages
WHERE conversation_id = ? AND user_id = ?
ORDER BY created_at, rowid
`
	rows, err := s.db.QueryContext(ctx, list, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := []Message{}
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = fromMillis(created)
		items = append(items, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		if items[i].Role != RoleUser {
			continue
		}
		if err := s.attachRun(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *Store) attachRun(ctx context.Context, m *Message) error {
	const consensus = `
SELECT final_answer, confidence_score, confidence_label, mean_rqs, agreement_matrix, refinement_applied,
       refinement_rounds, total_tokens, total_cost_usd, processing_time_ms, winner, is_ambiguous,
       adjudicator_reasoning, dissent_note, judge_fallback
FROM consensus_results
WHERE message_id = ?
`
	var c core.ConsensusResult
	var label, matrix, winner string
	err := s.db.QueryRowContext(ctx, consensus, m.ID).Scan(
		&c.FinalAnswer,
		&c.ConfidenceScore,
		&label,
		&c.MeanRQS,
		&matrix,
		&c.RefinementApplied,
		&c.RefinementRounds,
		&c.TotalTokens,
		&c.TotalCostUSD,
		&c.ProcessingTimeMs,
		&winner,
		&c.IsAmbiguous,
		&c.AdjudicatorReasoning,
		&c.DissentNote,
		&c.JudgeFallback,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get consensus: %w", err)
	}
	c.ConfidenceLabel = core.ConfidenceLabel(label)
	c.Winner = llmclient.Provider(winner)
	if err := json.Unmarshal([]byte(matrix), &c.AgreementMatrix); err != nil {
		return fmt.Errorf("decode agreement matrix: %w", err)
	}
	m.Consensus = &c

	if m.Responses, err = s.responses(ctx, m.ID); err != nil {
		return err
	}
	if m.Critiques, err = s.critiques(ctx, m.ID); err != nil {
		return err
	}
	return nil
}

func (s *Store) responses(ctx context.Context, msgID string) ([]llmclient.Response, error) {
	const list = `
SELECT provider, model, content, tokens_input, tokens_output, cost_usd, latency_ms, status, error_message
FROM provider_responses
WHERE message_id = ? AND phase = 'initial'
ORDER BY id
`
	rows, err := s.db.QueryContext(ctx, list, msgID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var items []llmclient.Response
	for rows.Next() {
		var r llmclient.Response
		var provider, status string
		if err := rows.Scan(
			&provider,
			&r.Model,
			&r.Content,
			&r.TokensInput,
			&r.TokensOutput,
			&r.CostUSD,
			&r.LatencyMs,
			&status,
			&r.Error,
		); err != nil {
			return nil, err
		}
		r.Provider, r.Status = llmclient.Provider(provider), llmclient.Status(status)
		items = append(items, r)
	}
	return items, rows.Err()
}

func (s *Store) critiques(ctx context.Context, msgID string) ([]core.Critique, error) {
	const list = `
SELECT reviewer_provider, reviewed_provider, vote, critique_text, factual_errors, reasoning_issues,
       degraded, tokens_used, cost_usd
FROM critiques
WHERE message_id = ?
ORDER BY id
`
	rows, err := s.db.QueryContext(ctx, list, msgID)
	if err != nil {
		return nil, fmt.Errorf("list critiques: %w", err)
	}
	defer rows.Close()

	var items []core.Critique
	for rows.Next() {
		var c core.Critique
		var reviewer, reviewed, vote, factual, issues string
		if err := rows.Scan(
			&reviewer,
			&reviewed,
			&vote,
			&c.Text,
			&factual,
			&issues,
			&c.Degraded,
			&c.TokensUsed,
			&c.CostUSD,
		); err != nil {
			return nil, err
		}
		c.Reviewer, c.Reviewed, c.Vote = llmclient.Provider(reviewer), llmclient.Provider(reviewed), core.Vote(vote)
		if err := json.Unmarshal([]byte(factual), &c.FactualErrors); err != nil {
			return nil, fmt.Errorf("decode factual errors: %w", err)
		}
		if err := json.Unmarshal([]byte(issues), &c.LogicalFlaws); err != nil {
			return nil, fmt.Errorf("decode reasoning issues: %w", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// DeleteConversation removes a conversation owned by the user, together
// with its messages and run records.
func (s *Store) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates every stored run.
type Stats struct {
	Runs         int     `json:"runs"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	const q = `
SELECT count(*), coalesce(sum(total_tokens), 0), coalesce(sum(total_cost_usd), 0)
FROM consensus_results
`
	var st Stats
	if err := s.db.QueryRowContext(ctx, q).Scan(&st.Runs, &st.TotalTokens, &st.TotalCostUSD); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
