package reflection

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/reflex/internal/protect"
	"github.com/ShayCichocki/reflex/pkg/models"
)

// Defaults for the built-in rules.
const (
	DefaultDuplicateWindow    = 60 * time.Second
	DefaultDuplicateThreshold = 3
	DefaultMaxWriteBytes      = 1 << 20
)

// DuplicateWarningPrefix starts every duplicate-write warning.
const DuplicateWarningPrefix = "potential infinite loop"

// RuleConfig tunes the built-in rules.
type RuleConfig struct {
	// Detector flags protected paths for review. Nil uses protect defaults.
	Detector *protect.Detector
	// DuplicateWindow is the look-back window for repeated writes.
	DuplicateWindow time.Duration
	// DuplicateThreshold is how many prior writes trigger the warning.
	DuplicateThreshold int
	// MaxWriteBytes flags write content larger than this.
	MaxWriteBytes int
}

func (c RuleConfig) withDefaults() RuleConfig {
	if c.Detector == nil {
		c.Detector = protect.New()
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = DefaultDuplicateWindow
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if c.MaxWriteBytes <= 0 {
		c.MaxWriteBytes = DefaultMaxWriteBytes
	}
	return c
}

// requiredInputs lists, per type, groups of alternative keys of which at
// least one must be present.
var requiredInputs = map[models.ActivityType][][]string{
	models.ActivityFileRead:           {pathKeys},
	models.ActivityFileWrite:          {pathKeys},
	models.ActivityFileDelete:         {pathKeys},
	models.ActivityDBQuery:            {{"query", "sql"}},
	models.ActivityDBWrite:            {{"table", "table_name", "query", "sql"}},
	models.ActivityAPICall:            {endpointKeys},
	models.ActivityShellCommand:       {{"command", "cmd"}},
	models.ActivityLLMCall:            {{"prompt"}},
	models.ActivityBrowserAction:      {{"url", "action"}},
	models.ActivityDocumentGeneration: {{"format"}},
	models.ActivityImageGeneration:    {{"prompt"}},
}

var fileTypes = []models.ActivityType{models.ActivityFileRead, models.ActivityFileWrite, models.ActivityFileDelete}

// DefaultRegistry builds the registry of built-in rules.
func DefaultRegistry(cfg RuleConfig) *Registry {
	cfg = cfg.withDefaults()
	r := NewRegistry()

	r.RegisterAll(RuleFunc(describedRule))
	for t, groups := range requiredInputs {
		r.Register(t, requiredInputsRule(groups))
	}

	for _, t := range fileTypes {
		r.Register(t, RuleFunc(pathSafetyRule))
	}
	r.Register(models.ActivityFileWrite, protectedPathRule(cfg.Detector))
	r.Register(models.ActivityFileDelete, protectedPathRule(cfg.Detector))
	r.Register(models.ActivityFileWrite, largeWriteRule(cfg.MaxWriteBytes))
	r.Register(models.ActivityFileWrite, NewDuplicateWriteRule(cfg.DuplicateWindow, cfg.DuplicateThreshold))

	r.Register(models.ActivityShellCommand, RuleFunc(dangerousShellRule), RuleFunc(privilegedShellRule))

	for _, t := range []models.ActivityType{models.ActivityDBQuery, models.ActivityDBWrite} {
		r.Register(t, RuleFunc(destructiveSQLRule), RuleFunc(unboundedSQLRule))
	}
	return r
}

func describedRule(a models.Activity) Outcome {
	if strings.TrimSpace(a.Description) == "" {
		return Warn("activity has no description")
	}
	return Pass
}

func requiredInputsRule(groups [][]string) Rule {
	return RuleFunc(func(a models.Activity) Outcome {
		var missing []string
		for _, keys := range groups {
			if !hasAny(a.Inputs, keys) {
				missing = append(missing, strings.Join(keys, "|"))
			}
		}
		if len(missing) > 0 {
			return Reject(fmt.Sprintf("missing required input %s for %s", strings.Join(missing, ", "), a.Type))
		}
		return Pass
	})
}

func hasAny(inputs map[string]any, keys []string) bool {
	for _, k := range keys {
		if v, ok := inputs[k]; ok && v != nil {
			if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
				continue
			}
			return true
		}
	}
	return false
}

func pathSafetyRule(a models.Activity) Outcome {
	p := firstString(a.Inputs, pathKeys...)
	if p == "" {
		return Pass
	}
	slashed := filepath.ToSlash(p)
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return Reject("path traversal in " + p)
		}
		if seg == ".git" && a.Type != models.ActivityFileRead {
			return Reject("refusing to modify version control internals: " + p)
		}
	}
	return Pass
}

func protectedPathRule(d *protect.Detector) Rule {
	return RuleFunc(func(a models.Activity) Outcome {
		p := firstString(a.Inputs, pathKeys...)
		if p == "" {
			return Pass
		}
		if ok, reason := d.Check(p); ok {
			return Review(fmt.Sprintf("protected path %s: %s", p, reason))
		}
		return Pass
	})
}

func largeWriteRule(limit int) Rule {
	return RuleFunc(func(a models.Activity) Outcome {
		if s, ok := a.Inputs["content"].(string); ok && len(s) > limit {
			return Warn(fmt.Sprintf("large write: %d bytes exceeds %d", len(s), limit))
		}
		return Pass
	})
}

var (
	dangerousShell = []*regexp.Regexp{
		regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(/|~|\*|/\*)(\s|$)`),
		regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
		regexp.MustCompile(`\bdd\s+.*\bof=/dev/`),
		regexp.MustCompile(`>\s*/dev/(sd|nvme|hd)`),
		regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`),
		regexp.MustCompile(`\bchmod\s+-R\s+777\s+/(\s|$)`),
		regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z)?sh\b`),
	}
	privilegedShell = regexp.MustCompile(`(^|[;&|]\s*|\s)(sudo|doas|su)(\s|$)`)
)

func shellCommand(a models.Activity) string {
	return firstString(a.Inputs, "command", "cmd")
}

func dangerousShellRule(a models.Activity) Outcome {
	cmd := shellCommand(a)
	for _, re := range dangerousShell {
		if re.MatchString(cmd) {
			return Reject("dangerous shell command: " + cmd)
		}
	}
	return Pass
}

func privilegedShellRule(a models.Activity) Outcome {
	if cmd := shellCommand(a); privilegedShell.MatchString(cmd) {
		return Warn("privileged shell command: " + cmd)
	}
	return Pass
}

var (
	destructiveSQL = regexp.MustCompile(`(?i)\b(drop\s+(table|database|schema)|truncate)\b`)
	deleteOrUpdate = regexp.MustCompile(`(?i)^\s*(delete\s+from|update)\b`)
	whereClause    = regexp.MustCompile(`(?i)\bwhere\b`)
)

func sqlText(a models.Activity) string {
	return firstString(a.Inputs, "query", "sql")
}

func destructiveSQLRule(a models.Activity) Outcome {
	if q := sqlText(a); destructiveSQL.MatchString(q) {
		return Review("destructive SQL: " + q)
	}
	return Pass
}

func unboundedSQLRule(a models.Activity) Outcome {
	q := sqlText(a)
	if deleteOrUpdate.MatchString(q) && !whereClause.MatchString(q) {
		return Warn("unbounded statement without WHERE: " + q)
	}
	return Pass
}

// DuplicateWriteRule flags an agent writing the same path repeatedly within
// a look-back window. It keeps its own history of evaluated writes.
type DuplicateWriteRule struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	seen      map[string][]time.Time
}

// NewDuplicateWriteRule creates the rule. The warning fires when at least
// threshold earlier writes fall inside window.
func NewDuplicateWriteRule(window time.Duration, threshold int) *DuplicateWriteRule {
	return &DuplicateWriteRule{
		window:    window,
		threshold: threshold,
		seen:      make(map[string][]time.Time),
	}
}

// Evaluate implements Rule.
func (r *DuplicateWriteRule) Evaluate(a models.Activity) Outcome {
	if a.Type != models.ActivityFileWrite {
		return Pass
	}
	p := firstString(a.Inputs, pathKeys...)
	if p == "" {
		return Pass
	}
	path := filepath.ToSlash(filepath.Clean(p))
	key := a.Agent + "\x00" + path

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := a.Timestamp.Add(-r.window)
	prior := r.seen[key][:0]
	for _, ts := range r.seen[key] {
		if ts.After(cutoff) {
			prior = append(prior, ts)
		}
	}
	count := len(prior)
	r.seen[key] = append(prior, a.Timestamp)

	if count >= r.threshold {
		return Warn(fmt.Sprintf("%s: %s wrote %s %d times within %s", DuplicateWarningPrefix, a.Agent, path, count+1, r.window))
	}
	return Pass
}
