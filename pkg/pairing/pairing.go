// Package pairing implements the Pairing Service: automatic matching
// strategies over unpaired participants, and manual pair/unpair under
// row-level locks.
package pairing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/studyengine/ent"
	"github.com/codeready-toolchain/studyengine/ent/participant"
	"github.com/codeready-toolchain/studyengine/pkg/apperrors"
	"github.com/codeready-toolchain/studyengine/pkg/broker"
)

// sessionInitQueue carries one job per newly-formed pair so the caller
// determines synchronous (both SYNTHETIC) vs asynchronous routing per
// spec §4.12 outside of the pairing transaction itself.
const sessionInitQueue = "session-init"

// Strategy selects how unpaired participants are matched.
type Strategy string

const (
	StrategyHumanHuman         Strategy = "HUMAN_HUMAN"
	StrategySyntheticSynthetic Strategy = "SYNTHETIC_SYNTHETIC"
	StrategyHumanSynthetic     Strategy = "HUMAN_SYNTHETIC"
	StrategyAuto               Strategy = "AUTO"
)

// Availability is a weekly recurring window used by HUMAN_HUMAN matching.
type Availability struct {
	DayOfWeek time.Weekday
	StartHour int
	EndHour   int
}

// Config configures one Pair invocation.
type Config struct {
	StudyID                    string
	BatchID                    string
	Strategy                   Strategy
	RequireAvailabilityOverlap bool
	MinOverlapHours            float64 // default 2 when RequireAvailabilityOverlap
	Availability               map[string][]Availability // participantID -> windows, HUMAN_HUMAN only
}

// Service wraps an ent client with pairing operations.
type Service struct {
	client *ent.Client
	broker *broker.Broker
}

// New constructs a Service.
func New(client *ent.Client) *Service {
	return &Service{client: client}
}

// WithBroker attaches a Broker so newly-formed pairs enqueue a
// session-init job instead of leaving session startup to a separate
// caller. Optional: a Service without one just writes the pairing.
func (s *Service) WithBroker(b *broker.Broker) *Service {
	s.broker = b
	return s
}

func (s *Service) enqueueSessionInit(ctx context.Context, pa, pb *ent.Participant) {
	if s.broker == nil {
		return
	}
	payload := map[string]interface{}{
		"studyId":        pa.StudyID,
		"batchId":        pa.BatchID,
		"participantIdA": pa.ID,
		"participantIdB": pb.ID,
		"actorTypeA":     string(pa.ActorType),
		"actorTypeB":     string(pb.ActorType),
	}
	_, _ = s.broker.Enqueue(ctx, sessionInitQueue, payload, broker.EnqueueOptions{
		JobID: fmt.Sprintf("session-init-%s-%s", pa.ID, pb.ID),
	})
}

var pairablePreStates = []participant.State{
	participant.StateENROLLED,
	participant.StateSCHEDULED,
	participant.StateCONFIRMED,
}

// Pair enumerates unpaired participants in cfg.BatchID and applies
// cfg.Strategy, writing partnerId and pairingMetadata symmetrically in one
// transaction per pair formed.
func (s *Service) Pair(ctx context.Context, cfg Config) (int, error) {
	candidates, err := s.client.Participant.Query().
		Where(
			participant.BatchID(cfg.BatchID),
			participant.StateIn(pairablePreStates...),
			participant.PartnerIDIsNil(),
		).
		Order(ent.Asc(participant.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query unpaired participants: %w", err)
	}

	var pairs [][2]*ent.Participant
	switch cfg.Strategy {
	case StrategyHumanHuman:
		pairs = pairHumanHuman(candidates, cfg)
	case StrategySyntheticSynthetic:
		pairs = pairSequential(filterByType(candidates, participant.ActorTypeSYNTHETIC))
	case StrategyHumanSynthetic:
		pairs = pairZip(
			filterByType(candidates, participant.ActorTypeHUMAN),
			filterByType(candidates, participant.ActorTypeSYNTHETIC),
		)
	case StrategyAuto:
		remaining := candidates
		hh := pairHumanHuman(remaining, cfg)
		pairs = append(pairs, hh...)
		remaining = subtractPaired(remaining, hh)
		hs := pairZip(
			filterByType(remaining, participant.ActorTypeHUMAN),
			filterByType(remaining, participant.ActorTypeSYNTHETIC),
		)
		pairs = append(pairs, hs...)
		remaining = subtractPaired(remaining, hs)
		ss := pairSequential(filterByType(remaining, participant.ActorTypeSYNTHETIC))
		pairs = append(pairs, ss...)
	default:
		return 0, fmt.Errorf("%w: unknown pairing strategy %q", apperrors.ErrInvalidInput, cfg.Strategy)
	}

	formed := 0
	for _, pair := range pairs {
		overlap := 0.0
		if cfg.Strategy == StrategyHumanHuman || cfg.Strategy == StrategyAuto {
			overlap = overlapHours(cfg.Availability[pair[0].ID], cfg.Availability[pair[1].ID])
		}
		if err := s.writePair(ctx, pair[0].ID, pair[1].ID, string(cfg.Strategy), "auto", &overlap, nil); err != nil {
			return formed, err
		}
		s.enqueueSessionInit(ctx, pair[0], pair[1])
		formed++
	}
	return formed, nil
}

// ManualPair pairs a and b under row-level locks, rejecting if either
// already has a partner, if they aren't in the same study, or if either
// isn't found.
func (s *Service) ManualPair(ctx context.Context, a, b, researcherID string) error {
	var txErr error
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if txErr != nil {
			_ = tx.Rollback()
		}
	}()

	pa, err := tx.Participant.Query().
		Where(participant.ID(a)).
		ForUpdate().
		Only(ctx)
	if err != nil {
		txErr = err
		if ent.IsNotFound(err) {
			return fmt.Errorf("%w: participant %s", apperrors.ErrNotFound, a)
		}
		return fmt.Errorf("failed to lock participant %s: %w", a, err)
	}

	pb, err := tx.Participant.Query().
		Where(participant.ID(b)).
		ForUpdate().
		Only(ctx)
	if err != nil {
		txErr = err
		if ent.IsNotFound(err) {
			return fmt.Errorf("%w: participant %s", apperrors.ErrNotFound, b)
		}
		return fmt.Errorf("failed to lock participant %s: %w", b, err)
	}

	if pa.PartnerID != nil || pb.PartnerID != nil {
		txErr = fmt.Errorf("%w: participant already paired", apperrors.ErrConflict)
		return txErr
	}
	if pa.StudyID != pb.StudyID {
		txErr = fmt.Errorf("%w: participants belong to different studies", apperrors.ErrInvalidInput)
		return txErr
	}

	now := time.Now()
	meta := map[string]interface{}{
		"pairedAt":             now,
		"strategy":             "manual",
		"matchedBy":            "researcher",
		"pairedByResearcherId": researcherID,
	}

	if _, err := tx.Participant.UpdateOneID(a).SetPartnerID(b).SetPairingMetadata(meta).Save(ctx); err != nil {
		txErr = err
		return fmt.Errorf("failed to set partner on %s: %w", a, err)
	}
	if _, err := tx.Participant.UpdateOneID(b).SetPartnerID(a).SetPairingMetadata(meta).Save(ctx); err != nil {
		txErr = err
		return fmt.Errorf("failed to set partner on %s: %w", b, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pairing: %w", err)
	}
	s.enqueueSessionInit(ctx, pa, pb)
	return nil
}

// Unpair clears partnerId and pairingMetadata on both sides symmetrically.
func (s *Service) Unpair(ctx context.Context, a string) error {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	pa, err := tx.Participant.Query().Where(participant.ID(a)).ForUpdate().Only(ctx)
	if err != nil {
		_ = tx.Rollback()
		if ent.IsNotFound(err) {
			return fmt.Errorf("%w: participant %s", apperrors.ErrNotFound, a)
		}
		return fmt.Errorf("failed to lock participant %s: %w", a, err)
	}
	if pa.PartnerID == nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: participant %s has no partner", apperrors.ErrConflict, a)
	}
	b := *pa.PartnerID

	if _, err := tx.Participant.UpdateOneID(a).ClearPartnerID().ClearPairingMetadata().Save(ctx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear partner on %s: %w", a, err)
	}
	if _, err := tx.Participant.UpdateOneID(b).ClearPartnerID().ClearPairingMetadata().Save(ctx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to clear partner on %s: %w", b, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unpairing: %w", err)
	}
	return nil
}

func (s *Service) writePair(ctx context.Context, a, b, strategy, matchedBy string, overlapHours *float64, researcherID *string) error {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	meta := map[string]interface{}{
		"pairedAt":  time.Now(),
		"strategy":  strategy,
		"matchedBy": matchedBy,
	}
	if overlapHours != nil {
		meta["overlapHours"] = *overlapHours
	}
	if researcherID != nil {
		meta["pairedByResearcherId"] = *researcherID
	}

	if _, err := tx.Participant.UpdateOneID(a).SetPartnerID(b).SetPairingMetadata(meta).Save(ctx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to pair %s: %w", a, err)
	}
	if _, err := tx.Participant.UpdateOneID(b).SetPartnerID(a).SetPairingMetadata(meta).Save(ctx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to pair %s: %w", b, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pair %s/%s: %w", a, b, err)
	}
	return nil
}

func filterByType(in []*ent.Participant, actorType participant.ActorType) []*ent.Participant {
	out := make([]*ent.Participant, 0, len(in))
	for _, p := range in {
		if p.ActorType == actorType {
			out = append(out, p)
		}
	}
	return out
}

func subtractPaired(in []*ent.Participant, pairs [][2]*ent.Participant) []*ent.Participant {
	used := make(map[string]bool)
	for _, pair := range pairs {
		used[pair[0].ID] = true
		used[pair[1].ID] = true
	}
	out := make([]*ent.Participant, 0, len(in))
	for _, p := range in {
		if !used[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

// pairSequential pairs participants two-at-a-time in the order given.
func pairSequential(in []*ent.Participant) [][2]*ent.Participant {
	var pairs [][2]*ent.Participant
	for i := 0; i+1 < len(in); i += 2 {
		pairs = append(pairs, [2]*ent.Participant{in[i], in[i+1]})
	}
	return pairs
}

// pairZip pairs the two lists one-to-one in order, up to the shorter length.
func pairZip(a, b []*ent.Participant) [][2]*ent.Participant {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	pairs := make([][2]*ent.Participant, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, [2]*ent.Participant{a[i], b[i]})
	}
	return pairs
}

const defaultMinOverlapHours = 2.0

// pairHumanHuman greedily matches humans to maximize weekly-availability
// overlap, skipping pairs below cfg.MinOverlapHours when
// cfg.RequireAvailabilityOverlap is set.
func pairHumanHuman(in []*ent.Participant, cfg Config) [][2]*ent.Participant {
	humans := filterByType(in, participant.ActorTypeHUMAN)
	if len(humans) < 2 {
		return nil
	}

	minOverlap := cfg.MinOverlapHours
	if minOverlap <= 0 {
		minOverlap = defaultMinOverlapHours
	}

	type candidatePair struct {
		i, j    int
		overlap float64
	}
	var candidates []candidatePair
	for i := 0; i < len(humans); i++ {
		for j := i + 1; j < len(humans); j++ {
			overlap := overlapHours(cfg.Availability[humans[i].ID], cfg.Availability[humans[j].ID])
			candidates = append(candidates, candidatePair{i, j, overlap})
		}
	}
	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].overlap > candidates[b].overlap
	})

	used := make(map[int]bool)
	var pairs [][2]*ent.Participant
	for _, c := range candidates {
		if used[c.i] || used[c.j] {
			continue
		}
		if cfg.RequireAvailabilityOverlap && c.overlap < minOverlap {
			continue
		}
		pairs = append(pairs, [2]*ent.Participant{humans[c.i], humans[c.j]})
		used[c.i] = true
		used[c.j] = true
	}
	return pairs
}

// overlapHours sums, per shared day-of-week, the intersection of the two
// participants' start..end windows.
func overlapHours(a, b []Availability) float64 {
	total := 0.0
	for _, wa := range a {
		for _, wb := range b {
			if wa.DayOfWeek != wb.DayOfWeek {
				continue
			}
			start := wa.StartHour
			if wb.StartHour > start {
				start = wb.StartHour
			}
			end := wa.EndHour
			if wb.EndHour < end {
				end = wb.EndHour
			}
			if end > start {
				total += float64(end - start)
			}
		}
	}
	return total
}
