package geocode

import "testing"

func scoringConfig() Config {
	return Config{
		AcceptScore:           80,
		AcceptGap:             20,
		ReviewScore:           60,
		ReviewScoreWithCoords: 50,
	}
}

// TestDecideBoundaryAcceptsExactThreshold pins the spec §8 boundary case:
// "Entity-reconciliation top-1 with score exactly 80, coords present, and
// runner-up gap exactly 20 is accepted."
func TestDecideBoundaryAcceptsExactThreshold(t *testing.T) {
	cfg := scoringConfig()
	decision, gap := Decide(cfg, 80, 60, true)
	if decision != DecisionAccepted {
		t.Errorf("expected Accepted at score=80 gap=20 hasCoord=true, got %v", decision)
	}
	if gap != 20 {
		t.Errorf("expected gap 20, got %v", gap)
	}
}

func TestDecideQueuesForReviewWhenGapTooSmall(t *testing.T) {
	cfg := scoringConfig()
	decision, _ := Decide(cfg, 85, 70, true)
	if decision != DecisionReview {
		t.Errorf("expected Review when gap < AcceptGap despite high score, got %v", decision)
	}
}

func TestDecideNeverAcceptsWithoutCoordsEvenAboveAcceptScore(t *testing.T) {
	cfg := scoringConfig()
	decision, _ := Decide(cfg, 90, 10, false)
	if decision == DecisionAccepted {
		t.Errorf("expected no-coords candidate to never auto-accept, got %v", decision)
	}
}

func TestDecideQueuesForReviewBetweenThresholds(t *testing.T) {
	cfg := scoringConfig()
	decision, _ := Decide(cfg, 65, 10, false)
	if decision != DecisionReview {
		t.Errorf("expected Review for score=65 (>= ReviewScore), got %v", decision)
	}

	decision, _ = Decide(cfg, 55, 10, true)
	if decision != DecisionReview {
		t.Errorf("expected Review for score=55 with coords (>= ReviewScoreWithCoords), got %v", decision)
	}
}

func TestDecideRejectsLowScore(t *testing.T) {
	cfg := scoringConfig()
	decision, _ := Decide(cfg, 30, 5, false)
	if decision != DecisionRejected {
		t.Errorf("expected Rejected for a low score with no coords, got %v", decision)
	}
}

func TestScoreRewardsExactNameMatchAndCoordinates(t *testing.T) {
	lat, lon := 52.37, 4.89
	exact := candidateDetail{Label: "Amsterdam", Types: []string{"Q515"}, CountryQID: netherlandsQID, Lat: &lat, Lon: &lon}
	weak := candidateDetail{Label: "Amsterdam (ship)", Types: []string{"Q13442814"}, CountryQID: ""}

	sExact := Score("Amsterdam", exact)
	sWeak := Score("Amsterdam", weak)

	if sExact <= sWeak {
		t.Errorf("expected exact city match to outscore a disambiguated non-geographic candidate: %v vs %v", sExact, sWeak)
	}
	if sExact < 80 {
		t.Errorf("expected a same-name Dutch city with coords to score >= 80, got %v", sExact)
	}
}

func TestGeographicTypeScoreRejectsNonGeographicTypes(t *testing.T) {
	if got := geographicTypeScoreFor([]string{"Q5"}); got != 0 {
		t.Errorf("expected a human (Q5) candidate to score 0 on geographic type, got %v", got)
	}
	if got := geographicTypeScoreFor([]string{"Q515"}); got != 100 {
		t.Errorf("expected a city (Q515) to score 100, got %v", got)
	}
}
