package cost

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ShayCichocki/reflex/pkg/models"
)

// Quote is the estimated price of one candidate.
type Quote struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Cost     float64 `json:"cost"`
}

// Recommendation is the result of an estimate.
type Recommendation struct {
	Provider             string            `json:"provider"`
	Model                string            `json:"model"`
	Complexity           models.Complexity `json:"complexity"`
	InputTokens          int64             `json:"input_tokens"`
	OutputTokens         int64             `json:"output_tokens"`
	EstimatedCost        float64           `json:"estimated_cost"`
	CacheKey             string            `json:"cache_key"`
	Cached               bool              `json:"cached"`
	PreferredUnavailable bool              `json:"preferred_unavailable,omitempty"`
	// Alternatives holds every candidate quote, cheapest first.
	Alternatives []Quote `json:"alternatives"`

	// Payload is the cached response when Cached is set.
	Payload []byte `json:"-"`
}

// AdmitRequest describes a call seeking admission.
type AdmitRequest struct {
	Prompt     string
	Complexity models.Complexity
	Provider   string
	Params     map[string]any
}

// Admission is the outcome of an admission check.
type Admission struct {
	Recommendation Recommendation `json:"recommendation"`
	Budget         BudgetStatus   `json:"budget"`
}

// CallInput describes a completed call to be recorded.
type CallInput struct {
	Provider     string
	Model        string
	Operation    string
	InputTokens  int64
	OutputTokens int64
	Complexity   models.Complexity
	Cached       bool
}

// Governor estimates, admits, and records calls.
type Governor struct {
	pricing    map[string]ModelPricing
	candidates map[models.Complexity][]Candidate
	ledger     *Ledger
	cache      *Cache
	sink       LedgerSink

	dailyLimit       float64
	weeklyLimit      float64
	warningThreshold float64
	enforce          bool

	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Governor.
type Option func(*Governor)

// WithDailyLimit sets the daily budget. <= 0 is unlimited.
func WithDailyLimit(limit float64) Option {
	return func(g *Governor) { g.dailyLimit = limit }
}

// WithWeeklyLimit sets the weekly budget. <= 0 is unlimited.
func WithWeeklyLimit(limit float64) Option {
	return func(g *Governor) { g.weeklyLimit = limit }
}

// WithWarningThreshold sets the warning fraction, clamped to [0, 1].
func WithWarningThreshold(threshold float64) Option {
	return func(g *Governor) {
		if threshold < 0 {
			threshold = 0
		}
		if threshold > 1 {
			threshold = 1
		}
		g.warningThreshold = threshold
	}
}

// WithEnforcement makes Admit deny calls once a limit is reached.
func WithEnforcement(enforce bool) Option {
	return func(g *Governor) { g.enforce = enforce }
}

// WithCache sets the response cache.
func WithCache(c *Cache) Option {
	return func(g *Governor) { g.cache = c }
}

// WithLedger seeds the governor with an existing ledger.
func WithLedger(l *Ledger) Option {
	return func(g *Governor) { g.ledger = l }
}

// WithLedgerSink mirrors every record to sink.
func WithLedgerSink(sink LedgerSink) Option {
	return func(g *Governor) { g.sink = sink }
}

// WithPricing replaces the pricing table.
func WithPricing(pricing map[string]ModelPricing) Option {
	return func(g *Governor) { g.pricing = pricing }
}

// WithCandidates replaces the per-complexity candidate lists.
func WithCandidates(candidates map[models.Complexity][]Candidate) Option {
	return func(g *Governor) { g.candidates = candidates }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Governor) { g.logger = logger.With().Str("component", "cost").Logger() }
}

// NewGovernor creates a governor. Without WithCache it uses a memory-only
// cache on the same clock.
func NewGovernor(opts ...Option) *Governor {
	g := &Governor{
		pricing:          DefaultPricing,
		candidates:       DefaultCandidates,
		dailyLimit:       DefaultDailyLimit,
		weeklyLimit:      DefaultWeeklyLimit,
		warningThreshold: DefaultWarningThreshold,
		now:              time.Now,
		logger:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.ledger == nil {
		g.ledger = NewLedger()
	}
	if g.cache == nil {
		g.cache = NewCache(DefaultMemoryEntries, WithCacheClock(g.now), WithCacheLogger(g.logger))
	}
	return g
}

// Ledger returns the in-memory ledger.
func (g *Governor) Ledger() *Ledger {
	return g.ledger
}

// Cache returns the response cache.
func (g *Governor) Cache() *Cache {
	return g.cache
}

// PriceOf returns the pricing for provider/model, or FallbackPricing.
func (g *Governor) PriceOf(provider, model string) ModelPricing {
	if p, ok := g.pricing[Candidate{provider, model}.key()]; ok {
		return p
	}
	return FallbackPricing
}

type estimateConfig struct {
	preferred string
	params    map[string]any
}

// EstimateOption configures an estimate.
type EstimateOption func(*estimateConfig)

// WithPreferredProvider picks the best-ranked candidate of provider.
func WithPreferredProvider(provider string) EstimateOption {
	return func(c *estimateConfig) { c.preferred = provider }
}

// WithParams adds request parameters to the cache key.
func WithParams(params map[string]any) EstimateOption {
	return func(c *estimateConfig) { c.params = params }
}

// Estimate prices prompt across the candidates for complexity and returns the
// cheapest, or the preferred provider's best-ranked candidate. A cache hit
// for the chosen pair marks the recommendation cached at zero cost.
func (g *Governor) Estimate(prompt string, complexity models.Complexity, opts ...EstimateOption) (Recommendation, error) {
	var cfg estimateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	candidates := g.candidates[complexity]
	if !complexity.Valid() || len(candidates) == 0 {
		return Recommendation{}, fmt.Errorf("estimate: unknown complexity %q", complexity)
	}

	rec := Recommendation{
		Complexity:   complexity,
		InputTokens:  EstimateInputTokens(prompt),
		OutputTokens: EstimateOutputTokens(complexity),
	}

	quotes := make([]Quote, len(candidates))
	for i, c := range candidates {
		quotes[i] = Quote{
			Provider: c.Provider,
			Model:    c.Model,
			Cost:     g.PriceOf(c.Provider, c.Model).Cost(rec.InputTokens, rec.OutputTokens),
		}
	}

	chosen := -1
	if cfg.preferred != "" {
		// Candidates are ranked, so the first match is the best for that provider.
		for i, q := range quotes {
			if q.Provider == cfg.preferred {
				chosen = i
				break
			}
		}
		if chosen < 0 {
			rec.PreferredUnavailable = true
		}
	}

	sorted := make([]Quote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Cost < sorted[j].Cost })
	rec.Alternatives = sorted

	pick := sorted[0]
	if chosen >= 0 {
		pick = quotes[chosen]
	}
	rec.Provider = pick.Provider
	rec.Model = pick.Model
	rec.EstimatedCost = pick.Cost
	rec.CacheKey = Key(prompt, pick.Provider, pick.Model, cfg.params)

	if payload, ok := g.cache.Get(rec.CacheKey); ok {
		rec.Cached = true
		rec.Payload = payload
		rec.EstimatedCost = 0
	}
	return rec, nil
}

// Admit estimates the request and reports the current budget. It only
// denies when enforcement is on, a limit is reached, and the call is not
// served from cache.
func (g *Governor) Admit(ctx context.Context, req AdmitRequest) (Admission, error) {
	if err := ctx.Err(); err != nil {
		return Admission{}, err
	}

	var opts []EstimateOption
	if req.Provider != "" {
		opts = append(opts, WithPreferredProvider(req.Provider))
	}
	if req.Params != nil {
		opts = append(opts, WithParams(req.Params))
	}
	rec, err := g.Estimate(req.Prompt, req.Complexity, opts...)
	if err != nil {
		return Admission{}, err
	}

	adm := Admission{Recommendation: rec, Budget: g.Status()}
	if rec.Cached {
		return adm, nil
	}
	return adm, g.checkBudget(adm.Budget)
}

// CheckBudget admits a paid call against the current spend. It fails only
// when enforcement is on and a limit is reached.
func (g *Governor) CheckBudget() error {
	return g.checkBudget(g.Status())
}

func (g *Governor) checkBudget(b BudgetStatus) error {
	if !b.Exceeded() {
		return nil
	}
	if g.enforce {
		return fmt.Errorf("%w: daily $%.4f/%.2f, weekly $%.4f/%.2f", ErrBudgetExceeded,
			b.DailySpend, b.DailyLimit, b.WeeklySpend, b.WeeklyLimit)
	}
	g.logger.Warn().
		Float64("daily_spend", b.DailySpend).
		Float64("weekly_spend", b.WeeklySpend).
		Msg("budget exceeded, admitting anyway")
	return nil
}

// Record appends a call record and returns the updated budget status.
// Cached calls cost nothing.
func (g *Governor) Record(in CallInput) BudgetStatus {
	var cost float64
	if !in.Cached {
		cost = g.PriceOf(in.Provider, in.Model).Cost(in.InputTokens, in.OutputTokens)
	}

	r := models.CallRecord{
		Timestamp:    g.now(),
		Provider:     in.Provider,
		Model:        in.Model,
		Operation:    in.Operation,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		Cost:         cost,
		Cached:       in.Cached,
		Complexity:   in.Complexity,
	}
	g.ledger.Append(r)

	if g.sink != nil {
		if err := g.sink.AppendCallRecord(r); err != nil {
			g.logger.Warn().Err(err).Msg("persist call record")
		}
	}

	status := g.Status()
	if status.Exceeded() {
		g.logger.Warn().
			Float64("daily_spend", status.DailySpend).
			Float64("weekly_spend", status.WeeklySpend).
			Str("level", status.Level.String()).
			Msg("budget exceeded")
	}
	return status
}

// StoreResponse caches a successful response for later hits.
func (g *Governor) StoreResponse(prompt, provider, model string, params map[string]any, payload []byte) error {
	return g.cache.Set(Key(prompt, provider, model, params), payload)
}

// Status returns the current budget status.
func (g *Governor) Status() BudgetStatus {
	return newBudgetStatus(g.DailySpend(), g.WeeklySpend(), g.dailyLimit, g.weeklyLimit, g.warningThreshold)
}

// DailySpend sums the ledger over the current local day.
func (g *Governor) DailySpend() float64 {
	from, to := DayWindow(g.now())
	return g.ledger.Sum(from, to)
}

// WeeklySpend sums the ledger over the current week, starting Monday.
func (g *Governor) WeeklySpend() float64 {
	from, to := WeekWindow(g.now())
	return g.ledger.Sum(from, to)
}

// Report summarizes the in-memory ledger.
func (g *Governor) Report() Report {
	return BuildReport(g.ledger.Records(), g.now(), g.dailyLimit, g.weeklyLimit)
}
