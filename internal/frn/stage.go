package frn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ratecurve/cashpipe/internal/audit"
	"github.com/ratecurve/cashpipe/internal/logging"
	"github.com/ratecurve/cashpipe/internal/storage"
	"github.com/ratecurve/cashpipe/internal/types"
)

// Run resolves every parsed product, writes the outcome back onto the raw
// table, and gates weak names into the research queue. The whole stage runs
// under the configured wall-clock budget; exceeding it fails the stage.
func Run(ctx context.Context, ops storage.Ops, products []*types.ParsedProduct, rec *audit.Recorder, log *logging.Logger) ([]*types.EnrichedProduct, types.StageResult, error) {
	started := time.Now()
	result := types.StageResult{Stage: types.StageFRNMatching}

	params, err := LoadParams(ctx, ops)
	if err != nil {
		return nil, result, err
	}

	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	matcher, err := NewMatcher(ctx, ops, params, log)
	if err != nil {
		return nil, result, err
	}

	queueSize, err := ops.ResearchQueueSize(ctx)
	if err != nil {
		return nil, result, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err, "reading research queue size")
	}

	enriched := make([]*types.EnrichedProduct, 0, len(products))
	matched := 0
	for _, p := range products {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, result, types.NewError(types.ErrStageExecutionFailed, types.StageFRNMatching,
					"FRN matching exceeded its %s budget after %d of %d products",
					params.Timeout, len(enriched), len(products))
			}
			return nil, result, err
		}

		res, err := matcher.Resolve(ctx, ops, p.BankName)
		if err != nil {
			return nil, result, err
		}

		e := &types.EnrichedProduct{
			ParsedProduct:  *p,
			FRN:            res.FRN,
			FRNConfidence:  res.Confidence,
			FRNStatus:      res.Status,
			FRNSource:      res.Source,
			MatchType:      res.MatchType,
			NormalizedName: res.NormalizedName,
		}
		enriched = append(enriched, e)
		if res.Status == types.FRNMatched {
			matched++
		}

		if p.ID != 0 {
			if err := ops.UpdateRawFRN(ctx, p.ID, res.FRN, res.NormalizedName, res.Confidence); err != nil {
				return nil, result, types.WrapError(types.ErrDatabaseFailed, types.StageFRNMatching, err,
					"writing FRN back to raw row %d", p.ID)
			}
		}

		if res.Status != types.FRNMatched {
			queueSize = maybeEnqueue(ctx, ops, matcher, p, res, queueSize, log)
		}

		rec.RecordFRN(storage.FRNAuditRow{
			BankName:           p.BankName,
			NormalizedName:     res.NormalizedName,
			FRN:                res.FRN,
			Confidence:         res.Confidence,
			Status:             string(res.Status),
			Source:             string(res.Source),
			CandidatesJSON:     marshalCandidates(res.Candidates),
			NormalizationSteps: strings.Join(res.Steps, ","),
		})
	}

	result.Passed = len(enriched)
	result.Duration = time.Since(started)
	rec.Record(types.StageFRNMatching, result.Passed, 0, result.Duration, map[string]any{
		"matched":   matched,
		"unmatched": len(enriched) - matched,
	})
	log.Infof("frn matching: %d products, %d matched, %d unmatched in %s",
		len(enriched), matched, len(enriched)-matched, result.Duration.Round(time.Millisecond))
	return enriched, result, nil
}

// maybeEnqueue applies the research-queue gates: generic terms are skipped,
// duplicates are skipped, and a full queue logs instead of growing.
func maybeEnqueue(ctx context.Context, ops storage.Ops, m *Matcher, p *types.ParsedProduct, res Resolution, queueSize int, log *logging.Logger) int {
	if res.NormalizedName == "" || m.isGenericTerm(res.NormalizedName) {
		return queueSize
	}
	if queueSize >= m.params.ResearchQueueMax {
		log.Warnf("research queue at capacity (%d); not enqueuing %q", m.params.ResearchQueueMax, p.BankName)
		return queueSize
	}
	queued, err := ops.IsQueuedForResearch(ctx, p.BankName)
	if err != nil {
		log.Warnf("research queue check failed for %q: %v", p.BankName, err)
		return queueSize
	}
	if queued {
		return queueSize
	}
	err = ops.EnqueueResearch(ctx, &types.ResearchQueueEntry{
		BankName:  p.BankName,
		Platform:  p.Platform,
		Source:    p.Source,
		FirstSeen: time.Now().UTC(),
	})
	if err != nil {
		log.Warnf("failed to enqueue %q for research: %v", p.BankName, err)
		return queueSize
	}
	return queueSize + 1
}

func marshalCandidates(cands []Candidate) string {
	if len(cands) == 0 {
		return "[]"
	}
	b, err := json.Marshal(cands)
	if err != nil {
		return "[]"
	}
	return string(b)
}
