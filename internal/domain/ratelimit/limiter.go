package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
)

// maxMapEntries bounds each keyed bucket map. When a map reaches the cap
// it is cleared outright; losing in-flight counts is preferred over
// unbounded growth.
const maxMapEntries = 10_000

// BucketConfig is a capacity/refill pair for one bucket class.
type BucketConfig struct {
	Capacity     float64
	RefillPerSec float64
}

// Config carries every bucket configuration, overridable from the
// RATE_LIMIT_* environment variables at init.
type Config struct {
	MessagesPerUser BucketConfig
	MessagesPerIP   BucketConfig
	MessagesGlobal  BucketConfig

	ToolCallsPerRun int
	ToolCallsPerMin BucketConfig

	LLMPerMinute BucketConfig
	LLMPerHour   BucketConfig
}

// DefaultConfig returns the built-in bucket sizes.
func DefaultConfig() Config {
	return Config{
		MessagesPerUser: BucketConfig{Capacity: 60, RefillPerSec: 1},
		MessagesPerIP:   BucketConfig{Capacity: 100, RefillPerSec: 2},
		MessagesGlobal:  BucketConfig{Capacity: 1000, RefillPerSec: 100},
		ToolCallsPerRun: 100,
		ToolCallsPerMin: BucketConfig{Capacity: 30, RefillPerSec: 1},
		LLMPerMinute:    BucketConfig{Capacity: 20, RefillPerSec: 0.5},
		LLMPerHour:      BucketConfig{Capacity: 500, RefillPerSec: 2},
	}
}

// Result is the outcome of a limiter check. Every refusal carries a
// reason suitable for an incident record.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allowed() Result { return Result{Allowed: true} }

func refused(format string, args ...interface{}) Result {
	return Result{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Limiter combines the three limiter tiers. All tiers are AND-combined:
// any refusal propagates.
type Limiter struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	perUser    map[string]*TokenBucket
	perIP      map[string]*TokenBucket
	perRun     map[string]int
	msgGlobal  *TokenBucket
	toolGlobal *TokenBucket
	llmMinute  *TokenBucket
	llmHour    *TokenBucket
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:        cfg,
		logger:     logger,
		perUser:    make(map[string]*TokenBucket),
		perIP:      make(map[string]*TokenBucket),
		perRun:     make(map[string]int),
		msgGlobal:  NewTokenBucket(cfg.MessagesGlobal.Capacity, cfg.MessagesGlobal.RefillPerSec),
		toolGlobal: NewTokenBucket(cfg.ToolCallsPerMin.Capacity, cfg.ToolCallsPerMin.RefillPerSec),
		llmMinute:  NewTokenBucket(cfg.LLMPerMinute.Capacity, cfg.LLMPerMinute.RefillPerSec),
		llmHour:    NewTokenBucket(cfg.LLMPerHour.Capacity, cfg.LLMPerHour.RefillPerSec),
	}
}

// AllowMessage checks the per-user, per-IP, and global message buckets.
func (l *Limiter) AllowMessage(userID, ip string) Result {
	if userID != "" {
		bucket := l.keyedBucket(&l.perUser, userID, l.cfg.MessagesPerUser)
		if !bucket.Consume(1) {
			l.logger.Warn("message rate limit hit", "tier", "user", "user_id", userID)
			return refused("message rate limit exceeded for user %s", userID)
		}
	}
	if ip != "" {
		bucket := l.keyedBucket(&l.perIP, ip, l.cfg.MessagesPerIP)
		if !bucket.Consume(1) {
			l.logger.Warn("message rate limit hit", "tier", "ip", "ip", ip)
			return refused("message rate limit exceeded for ip %s", ip)
		}
	}
	if !l.msgGlobal.Consume(1) {
		l.logger.Warn("message rate limit hit", "tier", "global")
		return refused("global message rate limit exceeded")
	}
	return allowed()
}

// AllowToolCall checks the per-run counter cap and the global per-minute
// bucket.
func (l *Limiter) AllowToolCall(runID string) Result {
	if runID != "" {
		l.mu.Lock()
		if len(l.perRun) >= maxMapEntries {
			l.perRun = make(map[string]int)
			l.logger.Warn("per-run tool counter map cleared at capacity")
		}
		count := l.perRun[runID]
		if count >= l.cfg.ToolCallsPerRun {
			l.mu.Unlock()
			l.logger.Warn("tool call rate limit hit", "tier", "run", "run_id", runID, "count", count)
			return refused("tool call cap (%d) reached for run %s", l.cfg.ToolCallsPerRun, runID)
		}
		l.perRun[runID] = count + 1
		l.mu.Unlock()
	}
	if !l.toolGlobal.Consume(1) {
		l.logger.Warn("tool call rate limit hit", "tier", "global")
		return refused("global tool call rate limit exceeded")
	}
	return allowed()
}

// AllowLLMCall checks the per-minute and per-hour LLM buckets.
func (l *Limiter) AllowLLMCall() Result {
	if !l.llmMinute.Consume(1) {
		l.logger.Warn("llm rate limit hit", "tier", "minute")
		return refused("llm per-minute rate limit exceeded")
	}
	if !l.llmHour.Consume(1) {
		l.logger.Warn("llm rate limit hit", "tier", "hour")
		return refused("llm per-hour rate limit exceeded")
	}
	return allowed()
}

// ResetRun forgets the tool-call counter for a finished run.
func (l *Limiter) ResetRun(runID string) {
	l.mu.Lock()
	delete(l.perRun, runID)
	l.mu.Unlock()
}

// RunToolCalls returns the tool-call count recorded for a run.
func (l *Limiter) RunToolCalls(runID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perRun[runID]
}

// keyedBucket returns (creating if needed) the bucket for key, clearing
// the map first when it has reached the entry cap.
func (l *Limiter) keyedBucket(m *map[string]*TokenBucket, key string, cfg BucketConfig) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(*m) >= maxMapEntries {
		*m = make(map[string]*TokenBucket)
		l.logger.Warn("rate limiter bucket map cleared at capacity")
	}
	bucket, ok := (*m)[key]
	if !ok {
		bucket = NewTokenBucket(cfg.Capacity, cfg.RefillPerSec)
		(*m)[key] = bucket
	}
	return bucket
}
