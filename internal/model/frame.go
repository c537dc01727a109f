package model

import "time"

// Frame is the per-(fixture, minute) derived row materialized by the
// frame aggregator from raw ticks. Re-materializing the same
// (Fixture, BucketStart) must be bit-for-bit identical given the same
// input ticks.
type Frame struct {
	Fixture     int
	BucketStart time.Time

	HomeTeamID int
	AwayTeamID int
	Status     Status
	Elapsed    int
	HomeGoals  int
	AwayGoals  int

	AvgHomeOdd *float64
	AvgDrawOdd *float64
	AvgAwayOdd *float64

	// HomeImpliedProb/DrawImpliedProb/AwayImpliedProb are vig-free
	// probabilities derived from the averaged 1X2 prices.
	HomeImpliedProb *float64
	DrawImpliedProb *float64
	AwayImpliedProb *float64

	HomeOddDelta *float64
	AwayOddDelta *float64

	GoalsInBucket      int
	CardsInBucket      int
	SubsInBucket       int
	OddsTicksInBucket  int
	EventTicksInBucket int
}

// Key identifies a frame for idempotent upsert and advisory locking.
type Key struct {
	Fixture     int
	BucketStart time.Time
}
