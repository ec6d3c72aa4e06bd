package engine

import (
	"math"
	"strings"

	"cardiotwin/internal/models"
)

// scenarioEffect 生活方式情景对预测分的影响
type scenarioEffect struct {
	keywords []string
	impact   float64
	note     string
}

// 减少类情景（stop / quit / reduce ...）
var reduceVerbs = []string{"stop", "quit", "reduce", "cut", "avoid"}

var reduceEffects = []scenarioEffect{
	{[]string{"sugar", "sweet", "carb", "soda", "candy"}, 8.5, "Reducing sugar intake typically improves metabolic health"},
	{[]string{"smoking", "smoke", "cigarette", "tobacco"}, 15.0, "Quitting smoking has significant cardiovascular benefits"},
	{[]string{"alcohol", "drink", "beer", "wine"}, 6.0, "Reducing alcohol improves heart health"},
	{[]string{"salt", "sodium"}, 5.0, "Lower sodium intake reduces blood pressure"},
}

// 增加类情景（start / begin / more ...）
var increaseVerbs = []string{"start", "begin", "increase", "add", "more"}

var increaseEffects = []scenarioEffect{
	{[]string{"exercise", "workout", "gym", "run", "walk", "jog"}, 12.0, "Regular exercise significantly improves cardiovascular health"},
	{[]string{"sleep", "rest"}, 7.0, "Adequate sleep is crucial for heart health"},
	{[]string{"water", "hydrat"}, 4.0, "Proper hydration supports cardiovascular function"},
	{[]string{"vegetable", "fruit", "fiber"}, 6.5, "Plant-based foods reduce cardiovascular risk"},
	{[]string{"meditat", "yoga", "mindful"}, 5.5, "Stress management practices benefit heart health"},
}

// scenarioFullEffectDays 情景影响在 90 天时完全体现
const scenarioFullEffectDays = 90.0

// MatchScenario 解析自由文本情景，返回满效影响值和说明；未识别时 impact 为 0
func MatchScenario(scenario string) (float64, string) {
	text := strings.ToLower(scenario)
	var effects []scenarioEffect
	switch {
	case containsAny(text, reduceVerbs):
		effects = reduceEffects
	case containsAny(text, increaseVerbs):
		effects = increaseEffects
	default:
		return 0, ""
	}
	for _, e := range effects {
		if containsAny(text, e.keywords) {
			return e.impact, e.note
		}
	}
	return 0, ""
}

// ApplyScenario 将情景影响按时间比例叠加到预测结果上（上限 100）
func ApplyScenario(p *models.Projection, scenario string) {
	if p == nil || strings.TrimSpace(scenario) == "" {
		return
	}
	p.Scenario = scenario
	impact, note := MatchScenario(scenario)
	if impact == 0 {
		return
	}
	applied := impact * math.Min(float64(p.HorizonDays)/scenarioFullEffectDays, 1)
	p.ScenarioImpact = Round1(applied)
	p.ScenarioNote = note
	p.ProjectedScore = Round1(math.Min(100, p.ProjectedScore+applied))
	p.ProjectedZone = ClassifyZone(p.ProjectedScore)
	p.ProjectedZoneLabel = p.ProjectedZone.Label()
	p.ProjectedRestingHRDelta = restingHRDelta(p.CurrentScore, p.ProjectedScore)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
