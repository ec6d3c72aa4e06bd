package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cardiotwin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(cfg Config) *Engine {
	return New(cfg, zap.NewNop())
}

// calibrate 送入 n 条干净读数并返回最后一条结果
func calibrate(t *testing.T, e *Engine, sessionID string, n int) *models.ProcessResult {
	t.Helper()
	var res *models.ProcessResult
	for i := 0; i < n; i++ {
		var err error
		res, err = e.ProcessReading(sessionID, cleanReading(i))
		require.NoError(t, err)
		require.Equal(t, models.StatusCalibrating, res.Status, "reading %d: %s", i, res.Reason)
	}
	return res
}

func TestEngine_CalibrationThenScoring(t *testing.T) {
	e := newTestEngine(DefaultConfig())

	res, err := e.ProcessReading("s1", cleanReading(0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalibrating, res.Status)
	assert.Equal(t, 1, res.ReadingsCollected)
	assert.Equal(t, 15, res.ReadingsNeeded)
	assert.Nil(t, res.Baseline)

	for i := 1; i < 14; i++ {
		res, err = e.ProcessReading("s1", cleanReading(i))
		require.NoError(t, err)
		assert.Nil(t, res.Baseline)
	}

	res, err = e.ProcessReading("s1", cleanReading(14))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalibrating, res.Status)
	assert.Equal(t, 15, res.ReadingsCollected)
	require.NotNil(t, res.Baseline)
	assert.True(t, res.Baseline.Complete)
	assert.InDelta(t, 70, res.Baseline.RestingHeartRate, 0.01)

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseScoring, snap.Phase)
	assert.Empty(t, snap.CalibrationBuffer)

	// 基线附近的读数满分，首个评分不触发增量规则
	res, err = e.ProcessReading("s1", rawReading(70, 45, 98, 36.6, 100_000))
	require.NoError(t, err)
	require.Equal(t, models.StatusScored, res.Status)
	assert.Equal(t, 100.0, res.Result.CompositeScore)
	assert.Equal(t, models.ZoneGreen, res.Result.Zone)
	assert.False(t, res.Result.Alert)
	assert.Equal(t, models.SeverityNone, res.Result.AlertSeverity)

	res, err = e.ProcessReading("s1", rawReading(87.5, 22.5, 90, 36.6, 102_000))
	require.NoError(t, err)
	require.Equal(t, models.StatusScored, res.Status)
	assert.InDelta(t, 50, res.Result.CompositeScore, 0.1)
	assert.Equal(t, models.ZoneOrange, res.Result.Zone)
	assert.True(t, res.Result.Alert)
	assert.Equal(t, AlertSuddenDrop, res.Result.AlertCode)
	assert.Equal(t, models.SeverityHigh, res.Result.AlertSeverity)
	assert.Equal(t, "Elevated Risk", res.Result.ZoneLabel)
}

func TestEngine_FirstScoredReadingIsNotCompared(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	calibrate(t, e, "s1", 15)

	// 第一条评分即处于 ORANGE，没有上一条得分，不应出现 sudden_drop / zone_downgrade
	res, err := e.ProcessReading("s1", rawReading(87.5, 22.5, 90, 36.6, 100_000))
	require.NoError(t, err)
	require.Equal(t, models.StatusScored, res.Status)
	assert.False(t, res.Result.Alert)

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	require.NotNil(t, snap.PreviousScore)
	assert.Equal(t, res.Result.CompositeScore, *snap.PreviousScore)
}

func TestEngine_RejectedReadingLeavesStateUntouched(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	calibrate(t, e, "s1", 3)

	before, err := e.Snapshot("s1")
	require.NoError(t, err)

	res, err := e.ProcessReading("s1", rawReading(130, 45, 98, 36.6, 50_000))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)
	var verr *ValidationError
	require.True(t, errors.As(res.Cause, &verr))
	assert.Equal(t, "heart_rate", verr.Field)

	after, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, before.CalibrationBuffer, after.CalibrationBuffer)
	assert.Equal(t, before.ReadingsAccepted, after.ReadingsAccepted)
	assert.Equal(t, before.LastAccepted, after.LastAccepted)
	assert.Equal(t, before.ReadingsRejected+1, after.ReadingsRejected)
}

func TestEngine_SafetyFloorDuringCalibrationAndScoring(t *testing.T) {
	e := newTestEngine(DefaultConfig())

	res, err := e.ProcessReading("s1", rawReading(70, 45, 84, 36.6, 1000))
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Status)

	calibrate(t, e, "s1", 15)
	res, err = e.ProcessReading("s1", rawReading(70, 45, 84, 36.6, 100_000))
	require.NoError(t, err)
	require.Equal(t, models.StatusScored, res.Status)
	assert.Equal(t, []string{WarningBelowSafetyFloor}, res.Warnings)
	assert.Equal(t, 0.0, res.Result.Components.SpO2.Score)
	assert.Equal(t, 80.0, res.Result.CompositeScore)
}

func TestEngine_ExtendedCalibration(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	outliers := map[int]float64{2: 5, 5: 10, 9: 120, 12: 130}

	var res *models.ProcessResult
	for i := 0; i < 15; i++ {
		raw := cleanReading(i)
		if v, ok := outliers[i]; ok {
			raw.HRV = floatPtr(v)
		}
		var err error
		res, err = e.ProcessReading("s1", raw)
		require.NoError(t, err)
	}
	assert.Equal(t, models.StatusCalibrating, res.Status)
	assert.Equal(t, 20, res.ReadingsNeeded)
	assert.Nil(t, res.Baseline)

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCalibratingExtended, snap.Phase)

	for i := 15; i < 20; i++ {
		res, err = e.ProcessReading("s1", cleanReading(i))
		require.NoError(t, err)
	}
	require.NotNil(t, res.Baseline)
	assert.Equal(t, 20, res.Baseline.SampleCount)
	assert.InDelta(t, 45, res.Baseline.RestingHRV, 0.5)
}

func TestEngine_CalibrationFailsAfterExtendedWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinCleanReadings = 18
	e := newTestEngine(cfg)
	outliers := map[int]float64{2: 5, 5: 10, 9: 120, 12: 130}

	var res *models.ProcessResult
	for i := 0; i < 20; i++ {
		raw := cleanReading(i)
		if v, ok := outliers[i]; ok {
			raw.HRV = floatPtr(v)
		}
		var err error
		res, err = e.ProcessReading("s1", raw)
		require.NoError(t, err)
	}
	assert.Equal(t, models.StatusCalibrationFailed, res.Status)
	assert.ErrorIs(t, res.Cause, ErrCalibrationInsufficient)

	// 失败是终态，需要结束会话后重新开始
	res, err := e.ProcessReading("s1", cleanReading(20))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalibrationFailed, res.Status)
	assert.ErrorIs(t, res.Cause, ErrSessionFailed)

	_, err = e.EndSession("s1")
	require.NoError(t, err)
	res, err = e.ProcessReading("s1", cleanReading(0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalibrating, res.Status)
}

func TestEngine_SensorStuckFailsImmediately(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	var res *models.ProcessResult
	for i := 0; i < 15; i++ {
		raw := cleanReading(i)
		raw.Temperature = floatPtr(36.6)
		var err error
		res, err = e.ProcessReading("s1", raw)
		require.NoError(t, err)
	}
	assert.Equal(t, models.StatusCalibrationFailed, res.Status)
	assert.ErrorIs(t, res.Cause, ErrSensorStuck)
}

func TestEngine_ProjectRisk(t *testing.T) {
	e := newTestEngine(DefaultConfig())

	_, err := e.ProjectRisk("missing", 30, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	calibrate(t, e, "s1", 15)
	_, err = e.ProjectRisk("s1", 30, "")
	assert.ErrorIs(t, err, ErrInsufficientData)

	ts := int64(100_000)
	for _, hr := range []float64{70, 75, 80, 85, 90} {
		_, err = e.ProcessReading("s1", rawReading(hr, 45, 98, 36.6, ts))
		require.NoError(t, err)
		ts += 2000
	}

	first, err := e.ProjectRisk("s1", 30, "")
	require.NoError(t, err)
	second, err := e.ProjectRisk("s1", 30, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "s1", first.SessionID)
	assert.Equal(t, models.TrendDeclining, first.TrendDirection)

	withScenario, err := e.ProjectRisk("s1", 90, "start meditation")
	require.NoError(t, err)
	assert.Equal(t, 5.5, withScenario.ScenarioImpact)
}

func TestEngine_HistoryLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 5
	e := newTestEngine(cfg)
	calibrate(t, e, "s1", 15)

	for i := 0; i < 8; i++ {
		_, err := e.ProcessReading("s1", rawReading(70, 45, 98, 36.6, int64(100_000+i*2000)))
		require.NoError(t, err)
	}
	h, err := e.History("s1")
	require.NoError(t, err)
	require.Len(t, h, 5)
	assert.Equal(t, int64(100_000+3*2000), h[0].Timestamp)
}

func TestEngine_SnapshotRestore(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	calibrate(t, e, "s1", 15)
	_, err := e.ProcessReading("s1", rawReading(70, 45, 98, 36.6, 100_000))
	require.NoError(t, err)

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)

	restored := newTestEngine(DefaultConfig())
	ok, err := restored.Restore(*snap)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = restored.Restore(*snap)
	require.NoError(t, err)
	assert.False(t, ok, "existing session is not overwritten")

	res, err := restored.ProcessReading("s1", rawReading(87.5, 22.5, 90, 36.6, 102_000))
	require.NoError(t, err)
	require.Equal(t, models.StatusScored, res.Status)
	assert.True(t, res.Result.Alert, "previous score survives restore")

	_, err = restored.Restore(models.SessionSnapshot{SessionID: "bad", Phase: models.PhaseScoring})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestEngine_EndSessionSummary(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	calibrate(t, e, "s1", 15)
	for i, hr := range []float64{70, 77, 70} {
		_, err := e.ProcessReading("s1", rawReading(hr, 45, 98, 36.6, int64(100_000+i*2000)))
		require.NoError(t, err)
	}
	_, err := e.ProcessReading("s1", rawReading(130, 45, 98, 36.6, 200_000))
	require.NoError(t, err)

	sum, err := e.EndSession("s1")
	require.NoError(t, err)
	assert.Equal(t, 18, sum.ReadingsAccepted)
	assert.Equal(t, 1, sum.ReadingsRejected)
	assert.Equal(t, 3, sum.ScoredReadings)
	assert.Equal(t, 100.0, sum.MaxScore)
	assert.Less(t, sum.MinScore, 100.0)
	assert.Equal(t, models.ZoneGreen, sum.FinalZone)

	_, err = e.EndSession("s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngine_SweepIdle(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	_, err := e.ProcessReading("old", cleanReading(0))
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	_, err = e.ProcessReading("fresh", cleanReading(0))
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	ended := e.SweepIdle(30 * time.Minute)
	require.Len(t, ended, 1)
	assert.Equal(t, "old", ended[0].SessionID)
	assert.Equal(t, []string{"fresh"}, e.SessionIDs())
}

func TestEngine_SessionsAreIsolated(t *testing.T) {
	e := newTestEngine(DefaultConfig())

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := e.ProcessReading(id, cleanReading(i))
				assert.NoError(t, err)
			}
		}(fmt.Sprintf("session-%d", n))
	}
	wg.Wait()

	for n := 0; n < 8; n++ {
		h, err := e.History(fmt.Sprintf("session-%d", n))
		require.NoError(t, err)
		assert.Len(t, h, 5)
	}
}

func TestEngine_RequiresSessionID(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	_, err := e.ProcessReading("", cleanReading(0))
	assert.Error(t, err)

	raw := cleanReading(0)
	raw.SessionID = "from-body"
	res, err := e.ProcessReading("", raw)
	require.NoError(t, err)
	assert.Equal(t, "from-body", res.SessionID)
}

func TestEngine_RestoreRejectsCalibratingSnapshotWithBaseline(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	baseline := &models.Baseline{RestingHeartRate: 70, RestingHRV: 45, NormalSpO2: 98, NormalTemperature: 36.6, Complete: true, SampleCount: 15}

	for _, phase := range []models.SessionPhase{models.PhaseCalibrating, models.PhaseCalibratingExtended} {
		ok, err := e.Restore(models.SessionSnapshot{SessionID: "s1", Phase: phase, Baseline: baseline})
		assert.ErrorIs(t, err, ErrInvariantViolation, "phase %s", phase)
		assert.False(t, ok)
	}
	assert.Empty(t, e.SessionIDs())

	ok, err := e.Restore(models.SessionSnapshot{SessionID: "s1", Phase: models.PhaseScoring, Baseline: baseline})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngine_RejectedReadingDuringScoringKeepsDeltaBaseline(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	calibrate(t, e, "s1", 15)
	first, err := e.ProcessReading("s1", rawReading(70, 45, 98, 36.6, 100_000))
	require.NoError(t, err)
	require.Equal(t, models.StatusScored, first.Status)

	res, err := e.ProcessReading("s1", rawReading(70, 45, 98, 36.6, 90_000))
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, res.Status)

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	require.NotNil(t, snap.PreviousScore)
	assert.Equal(t, first.Result.CompositeScore, *snap.PreviousScore)
	assert.Len(t, snap.History, 1)
	assert.Equal(t, int64(100_000), snap.LastAccepted.Timestamp)
	assert.Equal(t, 1, snap.ReadingsRejected)
}

func TestEngine_RunIDPerLifetime(t *testing.T) {
	e := newTestEngine(DefaultConfig())
	_, err := e.StartSession("s1")
	require.NoError(t, err)

	res, err := e.ProcessReading("s1", cleanReading(0))
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	snap, err := e.Snapshot("s1")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, snap.RunID)

	restored := newTestEngine(DefaultConfig())
	_, err = restored.Restore(*snap)
	require.NoError(t, err)
	runID, err := restored.RunID("s1")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, runID, "run id survives restore")

	sum, err := e.EndSession("s1")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, sum.RunID)

	_, err = e.StartSession("s1")
	require.NoError(t, err)
	next, err := e.RunID("s1")
	require.NoError(t, err)
	assert.NotEqual(t, res.RunID, next, "restarted session gets a new run id")

	_, err = e.RunID("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
