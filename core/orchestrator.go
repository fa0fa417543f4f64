package core

import (
	"context"
	"fmt"
	"time"

	llmclient "consensus-core/llm-client"
	"github.com/modfin/henry/slicez"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// usage accumulates tokens and cost for a set of gateway calls.
type usage struct {
	tokens int
	cost   float64
}

func (u *usage) add(r llmclient.Response) {
	u.tokens += r.Tokens()
	u.cost += r.CostUSD
}

func (u *usage) merge(o usage) {
	u.tokens += o.tokens
	u.cost += o.cost
}

// Orchestrator runs the gather, critique, refine and adjudicate phases. It
// holds no per-run state and is safe for concurrent Run calls.
type Orchestrator struct {
	cfg      Config
	gateways map[llmclient.Provider]llmclient.Gateway
	logger   *zap.Logger
}

// NewOrchestrator validates cfg and checks that every provider it names,
// including the judge and fallback, has a gateway.
func NewOrchestrator(cfg Config, gateways map[llmclient.Provider]llmclient.Gateway, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	required := append([]llmclient.Provider{cfg.JudgeProvider}, cfg.Providers...)
	if cfg.FallbackProvider != "" {
		required = append(required, cfg.FallbackProvider)
	}
	for _, p := range required {
		if gateways[p] == nil {
			return nil, fmt.Errorf("%w: no gateway for provider %s", ErrInvalidConfig, p)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gws := make(map[llmclient.Provider]llmclient.Gateway, len(gateways))
	for p, gw := range gateways {
		gws[p] = gw
	}
	cfg.Providers = append([]llmclient.Provider(nil), cfg.Providers...)

	return &Orchestrator{cfg: cfg, gateways: gws, logger: logger.Named("orchestrator")}, nil
}

// Config returns the orchestrator's configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run answers userPrompt. correlationID is echoed as the result's MessageID.
// The only error is *InsufficientResponsesError.
func (o *Orchestrator) Run(ctx context.Context, userPrompt, correlationID string) (*PipelineResult, error) {
	start := time.Now()
	log := o.logger.With(zap.String("message_id", correlationID))
	prompt := SanitizePrompt(userPrompt, o.cfg.MaxPromptLength)

	var total usage

	log.Info("gathering initial responses", zap.Int("providers", len(o.cfg.Providers)))
	initial, u := o.gather(ctx, log, prompt)
	total.merge(u)

	responders := slicez.Filter(initial, func(r llmclient.Response) bool { return r.HasContent() })
	if len(responders) < o.cfg.MinResponses {
		err := &InsufficientResponsesError{
			Responded:  len(responders),
			Configured: len(o.cfg.Providers),
			Required:   o.cfg.MinResponses,
		}
		log.Error("pipeline aborted", zap.Error(err))
		return nil, err
	}

	audits := auditAll(responders)
	log.Info("scored reasoning quality", rqsFields(audits)...)

	log.Info("cross-review", zap.Int("reviewers", len(responders)))
	critiques, u := o.critique(ctx, log, prompt, responders, audits)
	total.merge(u)

	result := &PipelineResult{
		MessageID:        correlationID,
		UserPrompt:       prompt,
		InitialResponses: initial,
		Critiques:        critiques,
	}

	// The reported label comes from the pre-refinement score.
	score := ScoreConsensus(slicez.Map(responders, provider), critiques, audits)
	preliminary := score.Score

	current, currentAudits := responders, audits
	refined := preliminary < o.cfg.RefinementThreshold
	if refined {
		log.Info("refinement", zap.Int("mean_rqs", preliminary), zap.Int("threshold", o.cfg.RefinementThreshold))
		current, u = o.refine(ctx, log, prompt, responders, critiques, audits)
		total.merge(u)
		currentAudits = auditAll(current)
		result.RefinedResponses = current
		log.Info("post-refinement reasoning quality", rqsFields(currentAudits)...)
	} else {
		log.Info("refinement skipped", zap.Int("mean_rqs", preliminary))
	}

	log.Info("adjudicating")
	verdict, u := o.adjudicate(ctx, log, prompt, current, currentAudits)
	total.merge(u)

	label := score.Label
	if verdict.IsAmbiguous {
		label = LabelLow
	}

	result.Audits = currentAudits
	result.Consensus = ConsensusResult{
		FinalAnswer:          verdict.FinalAnswer,
		ConfidenceScore:      verdict.Confidence,
		ConfidenceLabel:      label,
		MeanRQS:              MeanRQS(currentAudits),
		AgreementMatrix:      score.Matrix,
		RefinementApplied:    refined,
		TotalTokens:          total.tokens,
		TotalCostUSD:         total.cost,
		ProcessingTimeMs:     time.Since(start).Milliseconds(),
		Winner:               verdict.Winner,
		IsAmbiguous:          verdict.IsAmbiguous,
		AdjudicatorReasoning: verdict.Reasoning,
		DissentNote:          verdict.DissentNote,
		JudgeFallback:        verdict.Fallback,
	}
	if refined {
		result.Consensus.RefinementRounds = 1
	}

	log.Info("verdict",
		zap.String("winner", string(verdict.Winner)),
		zap.Int("confidence", verdict.Confidence),
		zap.String("label", string(label)),
		zap.Bool("ambiguous", verdict.IsAmbiguous),
		zap.Bool("judge_fallback", verdict.Fallback),
		zap.Int("total_tokens", total.tokens),
		zap.Float64("total_cost_usd", total.cost),
	)
	return result, nil
}

func provider(r llmclient.Response) llmclient.Provider { return r.Provider }

func auditAll(responses []llmclient.Response) []ReasoningAudit {
	return slicez.Map(responses, func(r llmclient.Response) ReasoningAudit {
		return Audit(r.Provider, r.Content)
	})
}

func rqsFields(audits []ReasoningAudit) []zap.Field {
	fields := make([]zap.Field, 0, len(audits))
	for _, a := range audits {
		fields = append(fields, zap.Int(string(a.Provider), a.RQS))
	}
	return fields
}

func rqsOf(audits []ReasoningAudit, p llmclient.Provider) int {
	for _, a := range audits {
		if a.Provider == p {
			return a.RQS
		}
	}
	return 50
}

// gather queries every configured provider concurrently. Each task owns one
// slot of the result.
func (o *Orchestrator) gather(ctx context.Context, log *zap.Logger, prompt string) ([]llmclient.Response, usage) {
	responses := make([]llmclient.Response, len(o.cfg.Providers))
	usages := make([]usage, len(o.cfg.Providers))

	var g errgroup.Group
	for i, p := range o.cfg.Providers {
		g.Go(func() error {
			responses[i], usages[i] = o.gatherOne(ctx, log.With(zap.String("provider", string(p))), p, prompt)
			return nil
		})
	}
	_ = g.Wait()

	var total usage
	for _, u := range usages {
		total.merge(u)
	}
	return responses, total
}

func (o *Orchestrator) gatherOne(ctx context.Context, log *zap.Logger, p llmclient.Provider, prompt string) (llmclient.Response, usage) {
	var u usage
	gw := o.gateways[p]

	resp := gw.Invoke(ctx, InitialSystemPrompt, prompt, "")
	u.add(resp)

	for attempt := 1; !resp.HasContent() && attempt <= o.cfg.MaxRetries; attempt++ {
		log.Warn("retrying provider",
			zap.Int("attempt", attempt),
			zap.String("status", string(resp.Status)),
			zap.String("error", resp.Error),
		)
		if err := sleepContext(ctx, o.cfg.RetryBackoff); err != nil {
			break
		}
		resp = gw.Invoke(ctx, InitialSystemPrompt, prompt, "")
		u.add(resp)
	}

	if resp.HasContent() || o.cfg.FallbackProvider == "" || p == o.cfg.FallbackProvider {
		return resp, u
	}

	log.Warn("falling back",
		zap.String("fallback_provider", string(o.cfg.FallbackProvider)),
		zap.String("fallback_model", o.cfg.FallbackModel),
		zap.String("error", resp.Error),
	)
	fb := o.gateways[o.cfg.FallbackProvider].Invoke(ctx, InitialSystemPrompt, prompt, o.cfg.FallbackModel)
	u.add(fb)
	if !fb.HasContent() {
		resp.Error = fmt.Sprintf("%s; fallback %s: %s", resp.Error, o.cfg.FallbackProvider, fb.Error)
		return resp, u
	}
	fb.Provider = p
	fb.Status = llmclient.StatusFallback
	return fb, u
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// critique has every responder review all the others.
func (o *Orchestrator) critique(ctx context.Context, log *zap.Logger, prompt string, responders []llmclient.Response, audits []ReasoningAudit) ([]Critique, usage) {
	results := make([][]Critique, len(responders))
	usages := make([]usage, len(responders))

	var g errgroup.Group
	for i, reviewer := range responders {
		g.Go(func() error {
			results[i], usages[i] = o.critiqueOne(ctx, log.With(zap.String("reviewer", string(reviewer.Provider))), prompt, reviewer.Provider, responders, audits)
			return nil
		})
	}
	_ = g.Wait()

	var total usage
	for _, u := range usages {
		total.merge(u)
	}
	return slicez.FlatMap(results, func(c []Critique) []Critique { return c }), total
}

func (o *Orchestrator) critiqueOne(ctx context.Context, log *zap.Logger, prompt string, reviewer llmclient.Provider, responders []llmclient.Response, audits []ReasoningAudit) ([]Critique, usage) {
	var u usage
	others := slicez.Filter(responders, func(r llmclient.Response) bool { return r.Provider != reviewer })
	if len(others) == 0 {
		return nil, u
	}

	targets := slicez.Map(others, func(r llmclient.Response) ReviewTarget {
		return ReviewTarget{Provider: r.Provider, Content: r.Content, RQS: rqsOf(audits, r.Provider)}
	})
	resp := o.gateways[reviewer].Invoke(ctx, "", BuildCritiquePrompt(prompt, targets), "")
	u.add(resp)
	if !resp.HasContent() {
		log.Warn("critique call produced nothing", zap.String("status", string(resp.Status)), zap.String("error", resp.Error))
		return nil, u
	}

	critiques, err := ParseCritiques(reviewer, slicez.Map(others, provider), resp)
	if err != nil {
		log.Warn("critique reply degraded to keyword vote", zap.Error(err), zap.String("vote", string(critiques[0].Vote)))
	}
	return critiques, u
}

// refine lets every responder with an adverse critique revise or defend
// its answer. Others pass through unchanged.
func (o *Orchestrator) refine(ctx context.Context, log *zap.Logger, prompt string, responders []llmclient.Response, critiques []Critique, audits []ReasoningAudit) ([]llmclient.Response, usage) {
	refined := make([]llmclient.Response, len(responders))
	usages := make([]usage, len(responders))

	var g errgroup.Group
	for i, r := range responders {
		g.Go(func() error {
			refined[i], usages[i] = o.refineOne(ctx, log.With(zap.String("provider", string(r.Provider))), prompt, r, critiques, rqsOf(audits, r.Provider))
			return nil
		})
	}
	_ = g.Wait()

	var total usage
	for _, u := range usages {
		total.merge(u)
	}
	return refined, total
}

func (o *Orchestrator) refineOne(ctx context.Context, log *zap.Logger, prompt string, r llmclient.Response, critiques []Critique, rqs int) (llmclient.Response, usage) {
	var u usage
	against := slicez.Filter(critiques, func(c Critique) bool {
		return c.Reviewed == r.Provider && c.Vote != VoteAgree
	})
	if len(against) == 0 {
		return r, u
	}

	resp := o.gateways[r.Provider].Invoke(ctx, "", BuildRefinementPrompt(prompt, r.Content, rqs, against), "")
	u.add(resp)
	if !resp.HasContent() {
		log.Warn("refinement produced nothing, keeping original", zap.String("status", string(resp.Status)))
		return r, u
	}
	return resp, u
}

func (o *Orchestrator) adjudicate(ctx context.Context, log *zap.Logger, prompt string, responses []llmclient.Response, audits []ReasoningAudit) (Verdict, usage) {
	var u usage
	resp := o.gateways[o.cfg.JudgeProvider].Invoke(ctx, JudgeSystemPrompt, BuildAdjudicationPrompt(prompt, audits, responses), o.cfg.JudgeModel)
	u.add(resp)
	if !resp.HasContent() {
		log.Warn("judge produced nothing, selecting highest RQS",
			zap.String("judge", string(o.cfg.JudgeProvider)),
			zap.String("error", resp.Error),
		)
		return FallbackVerdict(responses, audits), u
	}
	return ParseVerdict(resp.Content, responses, audits), u
}
