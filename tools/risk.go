package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// 医疗风险评估工具集. 评分表来自中国高血压指南和 2 型糖尿病风险因素共识.

// RegisterRiskTools 注册糖尿病和高血压风险评估工具.
func RegisterRiskTools(r *Registry) error {
	if err := r.Register("diabetes_risk_assessment", diabetesRiskAssessment, Metadata{
		Description: "糖尿病风险评估工具。基于多个风险因素评估用户患2型糖尿病的风险等级，返回风险等级、风险评分和健康建议。",
		Params: []ParamSpec{
			{Name: "age", Type: "integer", Description: "年龄（岁）", Required: true},
			{Name: "bmi", Type: "number", Description: "体重指数（BMI = 体重kg / 身高m²）", Required: true},
			{Name: "waist_circumference", Type: "number", Description: "腰围（厘米），可选"},
			{Name: "blood_pressure", Type: "string", Description: "血压水平，可选值：正常/偏高/高血压", Default: "正常"},
			{Name: "family_history", Type: "boolean", Description: "是否有糖尿病家族史（父母、兄弟姐妹）", Default: false},
			{Name: "physical_activity", Type: "string", Description: "体育活动水平，可选值：不足/适量/充足", Default: "适量"},
			{Name: "smoking", Type: "boolean", Description: "是否吸烟", Default: false},
			{Name: "diet_quality", Type: "string", Description: "饮食质量，可选值：差/一般/良好", Default: "良好"},
		},
		Timeout: 10 * time.Second,
	}); err != nil {
		return err
	}

	return r.Register("hypertension_risk_assessment", hypertensionRiskAssessment, Metadata{
		Description: "高血压风险评估工具。基于血压值和多个风险因素评估高血压风险等级，返回风险等级、血压分级和健康建议。",
		Params: []ParamSpec{
			{Name: "age", Type: "integer", Description: "年龄（岁）", Required: true},
			{Name: "systolic_bp", Type: "integer", Description: "收缩压（mmHg）", Required: true},
			{Name: "diastolic_bp", Type: "integer", Description: "舒张压（mmHg）", Required: true},
			{Name: "bmi", Type: "number", Description: "体重指数（BMI），可选"},
			{Name: "family_history", Type: "boolean", Description: "是否有高血压家族史", Default: false},
			{Name: "smoking", Type: "boolean", Description: "是否吸烟", Default: false},
			{Name: "salt_intake", Type: "string", Description: "盐分摄入量，可选值：少/适量/过多", Default: "适量"},
			{Name: "physical_activity", Type: "string", Description: "体育活动水平，可选值：不足/适量/充足", Default: "适量"},
			{Name: "alcohol_consumption", Type: "string", Description: "饮酒情况，可选值：不饮酒/适量/过量", Default: "不饮酒"},
		},
		Timeout: 10 * time.Second,
	})
}

type diabetesArgs struct {
	Age                int      `json:"age"`
	BMI                float64  `json:"bmi"`
	WaistCircumference *float64 `json:"waist_circumference"`
	BloodPressure      string   `json:"blood_pressure"`
	FamilyHistory      bool     `json:"family_history"`
	PhysicalActivity   string   `json:"physical_activity"`
	Smoking            bool     `json:"smoking"`
	DietQuality        string   `json:"diet_quality"`
}

func diabetesRiskAssessment(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args diabetesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, NewValidationError("diabetes_risk_assessment", map[string]string{"args": err.Error()})
	}

	score := 0
	var factors, recommendations []string

	// 1. 年龄评分
	switch {
	case args.Age >= 65:
		score += 30
		factors = append(factors, "年龄≥65岁（高风险因素）")
	case args.Age >= 45:
		score += 20
		factors = append(factors, "年龄45-64岁（中等风险因素）")
	case args.Age >= 35:
		score += 10
		factors = append(factors, "年龄35-44岁（低风险因素）")
	}

	// 2. BMI评分
	switch {
	case args.BMI >= 28:
		score += 30
		factors = append(factors, fmt.Sprintf("BMI %.1f（肥胖，高风险）", args.BMI))
		recommendations = append(recommendations, "建议控制体重，目标BMI < 24")
	case args.BMI >= 24:
		score += 20
		factors = append(factors, fmt.Sprintf("BMI %.1f（超重，中等风险）", args.BMI))
		recommendations = append(recommendations, "建议适度减重，控制饮食")
	default:
		factors = append(factors, fmt.Sprintf("BMI %.1f（正常）", args.BMI))
	}

	// 3. 腰围评分（腹型肥胖）
	if args.WaistCircumference != nil && *args.WaistCircumference > 90 {
		score += 15
		factors = append(factors, fmt.Sprintf("腰围 %g cm（腹型肥胖）", *args.WaistCircumference))
		recommendations = append(recommendations, "建议减少腹部脂肪，加强核心运动")
	}

	// 4. 血压评分
	switch args.BloodPressure {
	case "高血压":
		score += 25
		factors = append(factors, "高血压（高风险因素）")
		recommendations = append(recommendations, "建议控制血压，定期监测")
	case "偏高":
		score += 15
		factors = append(factors, "血压偏高（中等风险因素）")
		recommendations = append(recommendations, "注意监测血压，减少盐分摄入")
	}

	// 5. 家族史评分（最重要的因素之一）
	if args.FamilyHistory {
		score += 35
		factors = append(factors, "有糖尿病家族史（高风险因素）")
		recommendations = append(recommendations, "建议每年进行血糖筛查")
	}

	// 6. 体育活动评分
	switch args.PhysicalActivity {
	case "不足":
		score += 20
		factors = append(factors, "体育活动不足")
		recommendations = append(recommendations, "建议每周至少150分钟中等强度运动")
	case "充足":
		score -= 5 // 充足运动是保护因素
		factors = append(factors, "体育活动充足（保护因素）")
	default:
		factors = append(factors, "体育活动适量")
	}

	// 7. 吸烟评分
	if args.Smoking {
		score += 15
		factors = append(factors, "吸烟（风险因素）")
		recommendations = append(recommendations, "强烈建议戒烟")
	}

	// 8. 饮食质量评分
	switch args.DietQuality {
	case "差":
		score += 15
		factors = append(factors, "饮食质量差")
		recommendations = append(recommendations, "建议改善饮食结构，减少高糖高脂食物")
	case "一般":
		score += 5
		factors = append(factors, "饮食质量一般")
		recommendations = append(recommendations, "建议优化饮食，增加蔬菜水果摄入")
	}

	var level, alert string
	switch {
	case score >= 80:
		level = "高风险"
		alert = "您的糖尿病风险较高，强烈建议尽快就医进行全面检查！"
	case score >= 50:
		level = "中高风险"
		alert = "您的糖尿病风险偏高，建议定期体检并改善生活方式。"
	case score >= 30:
		level = "中等风险"
		alert = "您有一定的糖尿病风险，建议保持健康生活方式并定期检查。"
	default:
		level = "低风险"
		alert = "您目前糖尿病风险较低，请继续保持健康的生活方式。"
	}

	base := []string{
		"定期监测空腹血糖和糖化血红蛋白",
		"保持健康体重（BMI 18.5-23.9）",
		"均衡饮食，控制糖分和脂肪摄入",
		"每周至少150分钟中等强度有氧运动",
		"保证充足睡眠，减少压力",
	}

	nextSteps := []string{"建议每年进行健康体检", "可进行空腹血糖检测", "建立健康档案，跟踪风险因素变化"}
	if score >= 50 {
		nextSteps[0] = "建议咨询内分泌科医生进行专业评估"
		nextSteps[1] = "可进行口服葡萄糖耐量试验（OGTT）"
	}

	return json.Marshal(map[string]any{
		"risk_level":      level,
		"risk_score":      score,
		"alert_message":   alert,
		"risk_factors":    factors,
		"recommendations": mergeRecommendations(recommendations, base, 6),
		"next_steps":      nextSteps,
	})
}

type hypertensionArgs struct {
	Age                int      `json:"age"`
	SystolicBP         int      `json:"systolic_bp"`
	DiastolicBP        int      `json:"diastolic_bp"`
	BMI                *float64 `json:"bmi"`
	FamilyHistory      bool     `json:"family_history"`
	Smoking            bool     `json:"smoking"`
	SaltIntake         string   `json:"salt_intake"`
	PhysicalActivity   string   `json:"physical_activity"`
	AlcoholConsumption string   `json:"alcohol_consumption"`
}

func hypertensionRiskAssessment(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args hypertensionArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, NewValidationError("hypertension_risk_assessment", map[string]string{"args": err.Error()})
	}

	score := 0
	var factors, recommendations []string

	// 1. 血压分级（中国高血压指南标准）
	var bpLevel string
	switch {
	case args.SystolicBP >= 180 || args.DiastolicBP >= 110:
		bpLevel = "3级高血压（重度）"
		score += 50
		factors = append(factors, fmt.Sprintf("血压 %d/%d mmHg（3级高血压，极高风险！）", args.SystolicBP, args.DiastolicBP))
		recommendations = append(recommendations, "紧急建议：立即就医，需要药物治疗")
	case args.SystolicBP >= 160 || args.DiastolicBP >= 100:
		bpLevel = "2级高血压（中度）"
		score += 40
		factors = append(factors, fmt.Sprintf("血压 %d/%d mmHg（2级高血压，高风险）", args.SystolicBP, args.DiastolicBP))
		recommendations = append(recommendations, "建议尽快就医，可能需要药物治疗")
	case args.SystolicBP >= 140 || args.DiastolicBP >= 90:
		bpLevel = "1级高血压（轻度）"
		score += 30
		factors = append(factors, fmt.Sprintf("血压 %d/%d mmHg（1级高血压）", args.SystolicBP, args.DiastolicBP))
		recommendations = append(recommendations, "建议就医评估，改善生活方式")
	case args.SystolicBP >= 130 || args.DiastolicBP >= 85:
		bpLevel = "正常高值"
		score += 15
		factors = append(factors, fmt.Sprintf("血压 %d/%d mmHg（正常高值，需警惕）", args.SystolicBP, args.DiastolicBP))
		recommendations = append(recommendations, "建议密切监测血压，预防高血压")
	default:
		bpLevel = "正常血压"
		factors = append(factors, fmt.Sprintf("血压 %d/%d mmHg（正常范围）", args.SystolicBP, args.DiastolicBP))
	}

	// 2. 年龄评分
	switch {
	case args.Age >= 65:
		score += 25
		factors = append(factors, "年龄≥65岁（高风险因素）")
	case args.Age >= 55:
		score += 15
		factors = append(factors, "年龄55-64岁（中等风险因素）")
	case args.Age >= 45:
		score += 10
		factors = append(factors, "年龄45-54岁（低风险因素）")
	}

	// 3. BMI评分
	if args.BMI != nil {
		switch {
		case *args.BMI >= 28:
			score += 20
			factors = append(factors, fmt.Sprintf("BMI %.1f（肥胖，高风险）", *args.BMI))
			recommendations = append(recommendations, "建议减重，目标BMI < 24")
		case *args.BMI >= 24:
			score += 10
			factors = append(factors, fmt.Sprintf("BMI %.1f（超重）", *args.BMI))
			recommendations = append(recommendations, "建议适度减重")
		default:
			factors = append(factors, fmt.Sprintf("BMI %.1f（正常）", *args.BMI))
		}
	}

	// 4. 家族史评分（重要风险因素）
	if args.FamilyHistory {
		score += 25
		factors = append(factors, "有高血压家族史（高风险因素）")
		recommendations = append(recommendations, "建议每3-6个月测量血压")
	}

	// 5. 吸烟评分
	if args.Smoking {
		score += 20
		factors = append(factors, "吸烟（重要风险因素）")
		recommendations = append(recommendations, "强烈建议戒烟，吸烟显著增加心血管疾病风险")
	}

	// 6. 盐分摄入评分
	switch args.SaltIntake {
	case "过多":
		score += 15
		factors = append(factors, "盐分摄入过多")
		recommendations = append(recommendations, "减少盐分摄入至每天<6克（约1茶匙）")
	case "少":
		score -= 5
		factors = append(factors, "盐分摄入较少（保护因素）")
	default:
		factors = append(factors, "盐分摄入适量")
	}

	// 7. 体育活动评分
	switch args.PhysicalActivity {
	case "不足":
		score += 15
		factors = append(factors, "体育活动不足")
		recommendations = append(recommendations, "建议每周至少150分钟中等强度有氧运动")
	case "充足":
		score -= 5
		factors = append(factors, "体育活动充足（保护因素）")
	default:
		factors = append(factors, "体育活动适量")
	}

	// 8. 饮酒评分
	switch args.AlcoholConsumption {
	case "过量":
		score += 15
		factors = append(factors, "过量饮酒（风险因素）")
		recommendations = append(recommendations, "建议限制饮酒或戒酒")
	case "适量":
		factors = append(factors, "适量饮酒")
	default:
		factors = append(factors, "不饮酒")
	}

	var level, alert string
	switch {
	case score >= 90:
		level = "极高风险"
		alert = "您的高血压风险极高，强烈建议立即就医进行全面检查和治疗！"
	case score >= 60:
		level = "高风险"
		alert = "您的高血压风险较高，建议尽快就医进行专业评估。"
	case score >= 30:
		level = "中等风险"
		alert = "您有一定的高血压风险，建议改善生活方式并定期监测血压。"
	default:
		level = "低风险"
		alert = "您目前高血压风险较低，请继续保持健康的生活方式。"
	}

	base := []string{
		"定期监测血压（每周至少1次）",
		"限盐限油，低脂饮食",
		"保持健康体重",
		"规律作息，充足睡眠",
		"学会情绪管理，减轻压力",
	}

	nextSteps := []string{"建议定期体检", "建议在家自测血压", "建立血压监测档案，记录每日血压值"}
	if score >= 60 {
		nextSteps[0] = "建议咨询心血管科医生进行专业评估"
		nextSteps[1] = "可进行24小时动态血压监测"
	}

	return json.Marshal(map[string]any{
		"risk_level":        level,
		"risk_score":        score,
		"alert_message":     alert,
		"bp_classification": bpLevel,
		"systolic_bp":       args.SystolicBP,
		"diastolic_bp":      args.DiastolicBP,
		"risk_factors":      factors,
		"recommendations":   mergeRecommendations(recommendations, base, 7),
		"next_steps":        nextSteps,
	})
}

// mergeRecommendations 合并针对性建议和通用建议, 去重并限制条数.
func mergeRecommendations(specific, base []string, limit int) []string {
	seen := make(map[string]struct{})
	merged := make([]string, 0, limit)
	for _, rec := range append(append([]string{}, specific...), base...) {
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		merged = append(merged, rec)
		if len(merged) == limit {
			break
		}
	}
	return merged
}
