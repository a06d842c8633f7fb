package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callRiskTool(t *testing.T, name string, args map[string]any) map[string]any {
	t.Helper()
	registry := NewRegistry(nil)
	require.NoError(t, RegisterRiskTools(registry))
	exec := NewExecutor(registry, nil, DefaultExecutorConfig(), nil, nil)

	raw, err := exec.Execute(context.Background(), Invocation{ToolName: name, Args: args})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func TestDiabetesRiskLow(t *testing.T) {
	result := callRiskTool(t, "diabetes_risk_assessment", map[string]any{
		"age": 28, "bmi": 21.5,
	})
	assert.Equal(t, "低风险", result["risk_level"])
	assert.EqualValues(t, 0, result["risk_score"])
}

func TestDiabetesRiskHigh(t *testing.T) {
	// 66岁 + 肥胖 + 家族史 = 30 + 30 + 35 = 95
	result := callRiskTool(t, "diabetes_risk_assessment", map[string]any{
		"age": 66, "bmi": 29.0, "family_history": true,
	})
	assert.Equal(t, "高风险", result["risk_level"])
	assert.EqualValues(t, 95, result["risk_score"])
	assert.Contains(t, result["alert_message"], "强烈建议尽快就医")

	factors, ok := result["risk_factors"].([]any)
	require.True(t, ok)
	assert.Contains(t, factors, "有糖尿病家族史（高风险因素）")
}

func TestDiabetesRiskProtectiveFactors(t *testing.T) {
	// 充足运动扣 5 分: 45岁(20) + BMI 25(20) - 5 = 35
	result := callRiskTool(t, "diabetes_risk_assessment", map[string]any{
		"age": 45, "bmi": 25.0, "physical_activity": "充足",
	})
	assert.EqualValues(t, 35, result["risk_score"])
	assert.Equal(t, "中等风险", result["risk_level"])
}

func TestDiabetesRecommendationsCapped(t *testing.T) {
	result := callRiskTool(t, "diabetes_risk_assessment", map[string]any{
		"age": 70, "bmi": 30.0, "waist_circumference": 95.0,
		"blood_pressure": "高血压", "family_history": true,
		"physical_activity": "不足", "smoking": true, "diet_quality": "差",
	})
	recs, ok := result["recommendations"].([]any)
	require.True(t, ok)
	assert.LessOrEqual(t, len(recs), 6)
}

func TestHypertensionGrade3(t *testing.T) {
	result := callRiskTool(t, "hypertension_risk_assessment", map[string]any{
		"age": 50, "systolic_bp": 185, "diastolic_bp": 115,
	})
	assert.Equal(t, "3级高血压（重度）", result["bp_classification"])
	// 50 (3级) + 10 (45-54岁) = 60
	assert.EqualValues(t, 60, result["risk_score"])
	assert.Equal(t, "高风险", result["risk_level"])
}

func TestHypertensionNormal(t *testing.T) {
	result := callRiskTool(t, "hypertension_risk_assessment", map[string]any{
		"age": 30, "systolic_bp": 118, "diastolic_bp": 76,
	})
	assert.Equal(t, "正常血压", result["bp_classification"])
	assert.Equal(t, "低风险", result["risk_level"])
	assert.EqualValues(t, 0, result["risk_score"])
}

func TestHypertensionVeryHighRisk(t *testing.T) {
	// 50 + 25(年龄) + 20(肥胖) + 25(家族史) + 20(吸烟) + 15(盐) = 155
	result := callRiskTool(t, "hypertension_risk_assessment", map[string]any{
		"age": 68, "systolic_bp": 182, "diastolic_bp": 108,
		"bmi": 29.5, "family_history": true, "smoking": true, "salt_intake": "过多",
	})
	assert.Equal(t, "极高风险", result["risk_level"])
	assert.EqualValues(t, 155, result["risk_score"])

	steps, ok := result["next_steps"].([]any)
	require.True(t, ok)
	assert.Contains(t, steps[0], "心血管科")
}

func TestHypertensionDefaultsApplied(t *testing.T) {
	// 只给必填参数, 可选项走注册表默认值 (盐适量 / 不饮酒 / 适量运动)
	result := callRiskTool(t, "hypertension_risk_assessment", map[string]any{
		"age": 40, "systolic_bp": 132, "diastolic_bp": 80,
	})
	// 正常高值 15 分
	assert.EqualValues(t, 15, result["risk_score"])

	factors, ok := result["risk_factors"].([]any)
	require.True(t, ok)
	assert.Contains(t, factors, "盐分摄入适量")
	assert.Contains(t, factors, "不饮酒")
}
