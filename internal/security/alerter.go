package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var alertCounterScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Security event names observed by the HTTP surface.
const (
	EventLogin          = "auth.login"
	EventRegister       = "auth.register"
	EventPasswordChange = "auth.password.change"
	EventAuthorize      = "auth.authorize"
)

// Outcomes recorded alongside an event.
const (
	OutcomeSuccess     = "success"
	OutcomeFail        = "fail"
	OutcomeRateLimited = "rate_limited"
)

// Rule is the alert threshold for one event/outcome pair.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// DefaultRules returns the thresholds used when none are configured.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		ruleKey(EventLogin, OutcomeFail):          {Threshold: 10, Window: 5 * time.Minute},
		ruleKey(EventRegister, OutcomeFail):       {Threshold: 10, Window: 5 * time.Minute},
		ruleKey(EventPasswordChange, OutcomeFail): {Threshold: 5, Window: 5 * time.Minute},
		ruleKey(EventAuthorize, OutcomeFail):      {Threshold: 25, Window: 5 * time.Minute},
		ruleKey("*", OutcomeRateLimited):          {Threshold: 20, Window: time.Minute},
	}
}

// AlertResult is the outcome of one observation.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter counts security events per source address and reports when a
// threshold is reached inside its window.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	rules  map[string]Rule
	now    func() time.Time
}

// NewAuditAlerter returns nil when addr is empty; a nil alerter observes nothing.
func NewAuditAlerter(addr, password, prefix string) *AuditAlerter {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "finboard:security:alerts"
	}
	return &AuditAlerter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		rules:  DefaultRules(),
		now:    time.Now,
	}
}

// Observe records one event and reports whether its alert threshold is reached.
// Events without a rule are ignored.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	result := AlertResult{}
	if a == nil || a.client == nil {
		return result, nil
	}
	rule, ok := a.rule(event, outcome)
	if !ok {
		return result, nil
	}
	windowMs := rule.Window.Milliseconds()
	if windowMs <= 0 {
		return result, nil
	}
	slot := a.now().UTC().UnixMilli() / windowMs
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := alertCounterScript.Run(ctx, a.client, []string{key}, windowMs).Int64()
	if err != nil {
		return result, fmt.Errorf("observe %s: %w", event, err)
	}
	result.Count = count
	result.Threshold = rule.Threshold
	result.Window = rule.Window
	result.Triggered = count >= rule.Threshold
	return result, nil
}

// Close releases the Redis client.
func (a *AuditAlerter) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Close()
}

func (a *AuditAlerter) rule(event, outcome string) (Rule, bool) {
	event = strings.TrimSpace(event)
	outcome = strings.TrimSpace(outcome)
	if r, ok := a.rules[ruleKey(event, outcome)]; ok {
		return r, true
	}
	r, ok := a.rules[ruleKey("*", outcome)]
	return r, ok
}

func ruleKey(event, outcome string) string {
	return event + "|" + outcome
}

func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.NewReplacer(":", "_", "|", "_", " ", "_").Replace(in)
}
