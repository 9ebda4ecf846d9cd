package context

import (
	stdctx "context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nickmurray47/goose/pkg/models"
)

// ManagerConfig controls automatic compaction.
type ManagerConfig struct {
	// Threshold is the usage/window ratio that triggers compaction.
	// 0.0 disables compaction.
	// Default: 0.8
	Threshold float64

	// ProtectedTurns is the tail of recent turns never compacted away.
	// Default: 2
	ProtectedTurns int
}

func sanitizeManagerConfig(cfg ManagerConfig) ManagerConfig {
	if cfg.Threshold < 0 {
		cfg.Threshold = 0
	}
	if cfg.ProtectedTurns < 1 {
		cfg.ProtectedTurns = 2
	}
	return cfg
}

// Manager watches cumulative token usage and compacts the oldest
// contiguous prefix of committed turns when the threshold is crossed.
// Compaction runs between turns, never mid-turn.
type Manager struct {
	config    ManagerConfig
	counter   Counter
	summarize SummarizeFunc
	logger    *slog.Logger
}

// NewManager builds a manager. summarize may be nil, which disables
// compaction (usage tracking still works).
func NewManager(cfg ManagerConfig, counter Counter, summarize SummarizeFunc, logger *slog.Logger) *Manager {
	if counter == nil {
		counter = heuristicCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:    sanitizeManagerConfig(cfg),
		counter:   counter,
		summarize: summarize,
		logger:    logger.With("component", "context"),
	}
}

// NeedsCompaction reports whether usage has crossed the threshold for
// the given model window.
func (m *Manager) NeedsCompaction(sess *models.Session, window int) bool {
	if m.config.Threshold <= 0 || m.summarize == nil || window <= 0 {
		return false
	}
	if len(sess.Turns) <= m.config.ProtectedTurns {
		return false
	}
	return float64(sess.Usage.Total())/float64(window) >= m.config.Threshold
}

// MaybeCompact compacts the session in place when needed and returns the
// recorded event. Summarization failure leaves the session untouched;
// the caller logs it and carries on with the full history.
func (m *Manager) MaybeCompact(ctx stdctx.Context, sess *models.Session, window int) (*models.CompactionEvent, error) {
	if !m.NeedsCompaction(sess, window) {
		return nil, nil
	}

	cut := len(sess.Turns) - m.config.ProtectedTurns
	prefix := sess.Turns[:cut]

	summary, _, err := m.summarize(ctx, prefix)
	if err != nil {
		m.logger.Warn("compaction summarization failed, keeping full history", "error", err)
		return nil, err
	}

	tokensBefore := sess.Usage.Total()
	now := time.Now().UTC()

	summaryTurn := models.Turn{
		Synthetic: true,
		Messages: []models.Message{{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   summary,
			Tokens:    m.counter.Count(summary),
			Metadata:  map[string]any{"compaction": true},
			CreatedAt: now,
		}},
		CommittedAt: now,
	}

	remaining := make([]models.Turn, 0, 1+m.config.ProtectedTurns)
	remaining = append(remaining, summaryTurn)
	remaining = append(remaining, sess.Turns[cut:]...)
	for i := range remaining {
		remaining[i].Index = i
	}

	event := models.CompactionEvent{
		At:           now,
		FirstTurn:    prefix[0].Index,
		LastTurn:     prefix[len(prefix)-1].Index,
		TokensBefore: tokensBefore,
	}

	sess.Turns = remaining
	tokensAfter := EstimateTurns(m.counter, remaining)
	sess.Usage = models.TokenUsage{InputTokens: tokensAfter}
	event.TokensAfter = tokensAfter
	sess.Compactions = append(sess.Compactions, event)
	sess.UpdatedAt = now

	m.logger.Info("history compacted",
		"turns_replaced", cut,
		"tokens_before", tokensBefore,
		"tokens_after", tokensAfter)
	return &event, nil
}

// RecordTurnUsage folds a committed turn's usage into the session total.
func (m *Manager) RecordTurnUsage(sess *models.Session, usage models.TokenUsage) {
	sess.Usage.Add(usage)
}
