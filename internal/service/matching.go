package service

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/shiva/dgdo/internal/errs"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/repository"
	"github.com/shiva/dgdo/pkg/geo"
)

// MatchingService ranks available drivers for a trip request.
//
// Contract: identical (request, seed, visible driver pool) produces the
// identical ordered list. The seed is an input — there is no global RNG —
// so replays and A/B comparisons are exact.
//
// Selection rule: ascending scalar score, where
//
//	score = distance(driver, origin) in km + seeded jitter in [0, jitterKm)
//
// Ties break by driver_id ascending. Probabilities are proportional to
// 1/(1+score) and normalized over the returned candidates.
type MatchingService struct {
	drivers repository.DriverRepository
	log     *logrus.Entry
}

// jitterKm bounds the seeded affinity jitter so distance dominates but
// equidistant drivers rotate across seeds.
const jitterKm = 0.25

// NewMatchingService creates the service over the shared driver store.
func NewMatchingService(drivers repository.DriverRepository, log *logrus.Entry) *MatchingService {
	return &MatchingService{drivers: drivers, log: log}
}

// GetCandidates returns up to MaxCandidates drivers with probabilities.
func (s *MatchingService) GetCandidates(ctx context.Context, req *model.CandidateRequest) (*model.CandidateResponse, error) {
	if req.TripRequestID == "" {
		return nil, errs.InvalidArgument("trip_request_id is required")
	}
	if req.MaxCandidates < 0 {
		return nil, errs.InvalidArgument("max_candidates must be >= 0")
	}
	if !req.Origin.Valid() || !req.Destination.Valid() {
		return nil, errs.InvalidArgument("origin and destination must be finite coordinates")
	}

	resp := &model.CandidateResponse{TripRequestID: req.TripRequestID}

	if req.MaxCandidates == 0 {
		resp.ReasonCode = model.ReasonNoCandidatesRequested
		return resp, nil
	}

	pool, err := s.drivers.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		resp.ReasonCode = model.ReasonNoDriversAvailable
		s.log.WithField("trip_request_id", req.TripRequestID).Info("no drivers available")
		return resp, nil
	}

	type scored struct {
		driverID string
		score    float64
	}
	ranked := make([]scored, 0, len(pool))
	for _, d := range pool {
		score := geo.HaversineKm(d.Location, req.Origin) + seededJitter(d.DriverID, req.Seed)
		ranked = append(ranked, scored{driverID: d.DriverID, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score < ranked[j].score
		}
		return ranked[i].driverID < ranked[j].driverID
	})

	if len(ranked) > req.MaxCandidates {
		ranked = ranked[:req.MaxCandidates]
	}

	weightSum := 0.0
	weights := make([]float64, len(ranked))
	for i, c := range ranked {
		weights[i] = 1.0 / (1.0 + c.score)
		weightSum += weights[i]
	}

	resp.Candidates = make([]model.DriverCandidate, len(ranked))
	for i, c := range ranked {
		resp.Candidates[i] = model.DriverCandidate{
			DriverID:    c.driverID,
			Probability: weights[i] / weightSum,
		}
	}

	s.log.WithFields(logrus.Fields{
		"trip_request_id": req.TripRequestID,
		"seed":            req.Seed,
		"pool":            len(pool),
		"candidates":      len(resp.Candidates),
	}).Info("candidates ranked")

	return resp, nil
}

// seededJitter maps (driver_id, seed) to a stable value in [0, jitterKm).
func seededJitter(driverID string, seed int64) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(driverID))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	_, _ = h.Write(buf[:])
	return float64(h.Sum64()%10_000) / 10_000.0 * jitterKm
}
