package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// QualityLevel buckets the stream-health score.
type QualityLevel string

const (
	QualityLow    QualityLevel = "LOW"
	QualityMedium QualityLevel = "MEDIUM"
	QualityGood   QualityLevel = "GOOD"
)

// Quality is a diagnostic over the data streams feeding a symbol. It gates
// alert emission but never changes the risk score itself.
type Quality struct {
	Score  int
	Max    int
	Level  QualityLevel
	Checks map[string]bool
}

// QualityInput carries the boolean evidence for one symbol.
type QualityInput struct {
	FeedAge     time.Duration // now minus freshest event, negative if never seen
	FreshTTL    time.Duration
	HasFunding  bool
	OILen       int
	TradeVolume decimal.Decimal
	LiqSum      decimal.Decimal
	HasPrice    bool
}

// EvaluateQuality scores the health checks and buckets the result.
func EvaluateQuality(in QualityInput) Quality {
	checks := map[string]bool{
		"feed":    in.FeedAge >= 0 && in.FeedAge < in.FreshTTL,
		"funding": in.HasFunding,
		"oi":      in.OILen >= 2,
		"trades":  in.TradeVolume.IsPositive(),
		"liq":     in.LiqSum.IsPositive(),
		"price":   in.HasPrice,
	}

	score := 0
	for _, ok := range checks {
		if ok {
			score++
		}
	}

	level := QualityLow
	switch {
	case score >= 5:
		level = QualityGood
	case score >= 3:
		level = QualityMedium
	}

	return Quality{Score: score, Max: len(checks), Level: level, Checks: checks}
}

// Confidence counts corroborating factors for a result, bounded 0..5.
// Funding and OI spikes count twice: once as corroborators and once as an
// extra point each.
func Confidence(res Result, earlyLevel int, liqSum decimal.Decimal) int {
	c := 0
	if res.Score >= earlyLevel {
		c++
	}
	if res.Direction != DirectionNeutral {
		c++
	}
	if res.OISpike {
		c++
	}
	if res.FundingSpike {
		c++
	}
	if liqSum.IsPositive() {
		c++
	}
	if res.FundingSpike {
		c++
	}
	if res.OISpike {
		c++
	}
	if c > 5 {
		c = 5
	}
	return c
}

// ConfidenceLevel maps the numeric confidence to the reported rating.
func ConfidenceLevel(confidence int) string {
	switch {
	case confidence <= 2:
		return "LOW"
	case confidence == 3:
		return "MEDIUM"
	case confidence == 4:
		return "HIGH"
	default:
		return "VERY_HIGH"
	}
}
