package weights

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/wayfare-ai/wayfare/pkg/config"
	"github.com/wayfare-ai/wayfare/pkg/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	cfg := config.DefaultWeights()
	cfg.RecoveryInterval = 0
	tr := New(WithConfig(cfg), WithClock(clock.NewMock()), WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(tr.Close)
	return tr
}

func TestLookupNeutral(t *testing.T) {
	tr := newTestTracker(t)

	s := tr.Lookup("amadeus")
	if s.Weight != 100 || s.EMALatencyMillis != 1000 || s.EMASuccessRatePercent != 100 {
		t.Errorf("unexpected neutral score: %+v", s)
	}
	if s.CostPerRequest != 0.01 {
		t.Errorf("expected default cost 0.01, got %v", s.CostPerRequest)
	}
	// 0.3*80 + 0.4*100 + 0.2*100 + 0.1*90
	if !approx(s.HealthScore, 93) {
		t.Errorf("expected health 93, got %v", s.HealthScore)
	}
	if _, ok := tr.Score("amadeus"); ok {
		t.Error("lookup should not start tracking the provider")
	}
}

func TestUpdateMetricsEMA(t *testing.T) {
	tr := newTestTracker(t)

	tr.UpdateMetrics("sabre", 500*time.Millisecond, true, 10, 0.02)
	s, ok := tr.Score("sabre")
	if !ok {
		t.Fatal("expected score after update")
	}
	if !approx(s.EMALatencyMillis, 850) {
		t.Errorf("expected latency 850, got %v", s.EMALatencyMillis)
	}
	if !approx(s.EMASuccessRatePercent, 100) {
		t.Errorf("expected success 100, got %v", s.EMASuccessRatePercent)
	}
	if s.QuotaUsedPercent != 10 || s.CostPerRequest != 0.02 {
		t.Errorf("quota and cost should be recorded: %+v", s)
	}

	tr.UpdateMetrics("sabre", 0, false, 10, 0.02)
	s, _ = tr.Score("sabre")
	if !approx(s.EMALatencyMillis, 850) {
		t.Errorf("zero latency should not move the average, got %v", s.EMALatencyMillis)
	}
	if !approx(s.EMASuccessRatePercent, 70) {
		t.Errorf("expected success 70, got %v", s.EMASuccessRatePercent)
	}
	if s.State != models.ProviderDegraded {
		t.Errorf("expected degraded, got %s", s.State)
	}
	if s.Requests != 2 || s.Failures != 1 {
		t.Errorf("expected 2 requests and 1 failure, got %d/%d", s.Requests, s.Failures)
	}
	if !approx(s.Weight, s.HealthScore*0.5) {
		t.Errorf("degraded weight should be half the health score, got %v vs %v", s.Weight, s.HealthScore)
	}
}

func TestWeightDropsUnderFailure(t *testing.T) {
	tr := newTestTracker(t)
	baseline := tr.Lookup("hotelbeds").Weight

	prev := baseline
	for i := 1; i <= 10; i++ {
		tr.UpdateMetrics("hotelbeds", time.Second, false, 0, 0.01)
		s, _ := tr.Score("hotelbeds")
		if s.Weight > prev {
			t.Fatalf("call %d: weight rose from %v to %v", i, prev, s.Weight)
		}
		prev = s.Weight
	}

	s, _ := tr.Score("hotelbeds")
	if s.EMASuccessRatePercent > 100*math.Pow(0.7, 10)+1e-9 {
		t.Errorf("success rate should approach 0, got %v", s.EMASuccessRatePercent)
	}
	if s.Weight > baseline*0.1 {
		t.Errorf("expected weight <= %v after 10 failures, got %v", baseline*0.1, s.Weight)
	}
	if s.Weight < 1 {
		t.Errorf("weight should not drop below the minimum, got %v", s.Weight)
	}
	if s.State != models.ProviderFailing {
		t.Errorf("expected failing, got %s", s.State)
	}
}

func TestWeightRecoversGradually(t *testing.T) {
	tr := newTestTracker(t)
	for i := 0; i < 5; i++ {
		tr.UpdateMetrics("amadeus", time.Second, false, 0, 0.01)
	}

	for i := 0; i < 20; i++ {
		before, _ := tr.Score("amadeus")
		tr.UpdateMetrics("amadeus", time.Second, true, 0, 0.01)
		after, _ := tr.Score("amadeus")
		if after.Weight > before.Weight*1.05+1e-9 {
			t.Fatalf("update %d: weight jumped from %v to %v", i, before.Weight, after.Weight)
		}
	}
}

func TestRecover(t *testing.T) {
	tr := newTestTracker(t)
	tr.Set(models.ProviderScore{ProviderID: "a", Weight: 20, EMASuccessRatePercent: 40})
	tr.Set(models.ProviderScore{ProviderID: "b", Weight: 49, EMASuccessRatePercent: 60})
	tr.Set(models.ProviderScore{ProviderID: "c", Weight: 60, EMASuccessRatePercent: 95})

	if n := tr.Recover(); n != 2 {
		t.Errorf("expected 2 recovered providers, got %d", n)
	}

	want := map[string]float64{"a": 21, "b": 51.45, "c": 60}
	for _, s := range tr.Scores() {
		if !approx(s.Weight, want[s.ProviderID]) {
			t.Errorf("%s: expected weight %v, got %v", s.ProviderID, want[s.ProviderID], s.Weight)
		}
	}

	a, _ := tr.Score("a")
	if a.State != models.ProviderFailing {
		t.Errorf("Set should derive state from success rate, got %s", a.State)
	}
}

func TestRecoveryTicker(t *testing.T) {
	mock := clock.NewMock()
	tr := New(WithClock(mock))
	defer tr.Close()

	tr.Set(models.ProviderScore{ProviderID: "a", Weight: 20, EMASuccessRatePercent: 40})
	mock.Add(60 * time.Second)

	deadline := time.Now().Add(time.Second)
	for {
		s, _ := tr.Score("a")
		if approx(s.Weight, 21) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recovery tick did not run, weight %v", s.Weight)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScoresSorted(t *testing.T) {
	tr := newTestTracker(t)
	tr.UpdateMetrics("sabre", time.Second, true, 0, 0.01)
	tr.UpdateMetrics("amadeus", time.Second, true, 0, 0.01)

	scores := tr.Scores()
	if len(scores) != 2 || scores[0].ProviderID != "amadeus" || scores[1].ProviderID != "sabre" {
		t.Errorf("unexpected scores: %+v", scores)
	}
}

func TestSetQuota(t *testing.T) {
	tr := newTestTracker(t)

	tr.SetQuota("sabre", 120)
	s, ok := tr.Score("sabre")
	if !ok {
		t.Fatal("SetQuota should start tracking the provider")
	}
	if s.QuotaUsedPercent != 100 {
		t.Errorf("expected quota capped at 100, got %v", s.QuotaUsedPercent)
	}
	// 0.3*80 + 0.4*100 + 0.2*0 + 0.1*90
	if !approx(s.HealthScore, 73) {
		t.Errorf("expected health 73, got %v", s.HealthScore)
	}
	if s.Weight != 100 {
		t.Errorf("weight should be unchanged, got %v", s.Weight)
	}
}
