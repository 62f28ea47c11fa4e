package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Classifier scores an assembled feature vector with the probability of
// the URL being malicious.
type Classifier interface {
	Predict(values []float64) (float64, error)
	FeatureNames() []string
}

// XGBModel evaluates a gradient boosted tree ensemble saved with
// XGBoost's JSON model format (booster.save_model("*.json")).
type XGBModel struct {
	featureNames []string
	trees        []xgbTree
	baseMargin   float64
}

type xgbArtifact struct {
	Learner struct {
		FeatureNames    []string `json:"feature_names"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees []xgbTree `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
}

type xgbTree struct {
	LeftChildren    []int      `json:"left_children"`
	RightChildren   []int      `json:"right_children"`
	SplitIndices    []int      `json:"split_indices"`
	SplitConditions []float64  `json:"split_conditions"`
	DefaultLeft     []flexBool `json:"default_left"`
}

// flexBool accepts both the boolean and the 0/1 encodings XGBoost has used
// for default_left across releases.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1":
		*b = true
	case "false", "0", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// LoadClassifier reads an XGBoost JSON artifact and checks that its feature
// names match schema exactly, in order.
func LoadClassifier(path string, schema Schema) (*XGBModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigLoadError{Component: "classifier", Path: path, Err: err}
	}
	m, err := ParseXGBModel(data)
	if err != nil {
		return nil, &ConfigLoadError{Component: "classifier", Path: path, Err: err}
	}
	if err := checkSchema(m.featureNames, schema); err != nil {
		return nil, &ConfigLoadError{Component: "classifier", Path: path, Err: err}
	}
	return m, nil
}

func ParseXGBModel(data []byte) (*XGBModel, error) {
	var a xgbArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	l := a.Learner
	if name := l.GradientBooster.Name; name != "" && name != "gbtree" {
		return nil, fmt.Errorf("unsupported booster %q", name)
	}
	switch l.Objective.Name {
	case "binary:logistic", "reg:logistic":
	default:
		return nil, fmt.Errorf("unsupported objective %q", l.Objective.Name)
	}
	if len(l.FeatureNames) == 0 {
		return nil, fmt.Errorf("model carries no feature names")
	}
	if nf := l.LearnerModelParam.NumFeature; nf != "" {
		if n, err := strconv.Atoi(nf); err == nil && n != len(l.FeatureNames) {
			return nil, fmt.Errorf("num_feature %d does not match %d feature names", n, len(l.FeatureNames))
		}
	}

	baseScore := 0.5
	if bs := strings.Trim(l.LearnerModelParam.BaseScore, "[] "); bs != "" {
		v, err := strconv.ParseFloat(bs, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid base_score %q: %w", l.LearnerModelParam.BaseScore, err)
		}
		baseScore = v
	}
	if baseScore <= 0 || baseScore >= 1 {
		return nil, fmt.Errorf("base_score %v outside (0,1)", baseScore)
	}

	trees := l.GradientBooster.Model.Trees
	for i := range trees {
		if err := trees[i].validate(len(l.FeatureNames)); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}

	return &XGBModel{
		featureNames: l.FeatureNames,
		trees:        trees,
		baseMargin:   math.Log(baseScore / (1 - baseScore)),
	}, nil
}

func (t *xgbTree) validate(numFeatures int) error {
	n := len(t.LeftChildren)
	if n == 0 {
		return fmt.Errorf("empty tree")
	}
	if len(t.RightChildren) != n || len(t.SplitIndices) != n || len(t.SplitConditions) != n {
		return fmt.Errorf("inconsistent node arrays")
	}
	if len(t.DefaultLeft) != 0 && len(t.DefaultLeft) != n {
		return fmt.Errorf("inconsistent default_left")
	}
	for i := 0; i < n; i++ {
		l, r := t.LeftChildren[i], t.RightChildren[i]
		if l == -1 {
			continue
		}
		// Children always follow their parent; this also rules out cycles.
		if l <= i || l >= n || r <= i || r >= n {
			return fmt.Errorf("node %d has invalid children %d/%d", i, l, r)
		}
		if f := t.SplitIndices[i]; f < 0 || f >= numFeatures {
			return fmt.Errorf("node %d splits on unknown feature %d", i, f)
		}
	}
	return nil
}

func (t *xgbTree) leaf(x []float64) float64 {
	node := 0
	for t.LeftChildren[node] != -1 {
		v := x[t.SplitIndices[node]]
		switch {
		case math.IsNaN(v):
			if len(t.DefaultLeft) > 0 && bool(t.DefaultLeft[node]) {
				node = t.LeftChildren[node]
			} else {
				node = t.RightChildren[node]
			}
		case v < t.SplitConditions[node]:
			node = t.LeftChildren[node]
		default:
			node = t.RightChildren[node]
		}
	}
	return t.SplitConditions[node]
}

func (m *XGBModel) FeatureNames() []string { return m.featureNames }

// Predict returns the logistic transform of the summed leaf margins.
func (m *XGBModel) Predict(values []float64) (float64, error) {
	if len(values) != len(m.featureNames) {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrClassifierUnavailable, len(values), len(m.featureNames))
	}
	margin := m.baseMargin
	for i := range m.trees {
		margin += m.trees[i].leaf(values)
	}
	return 1 / (1 + math.Exp(-margin)), nil
}

func checkSchema(names []string, schema Schema) error {
	if len(names) != len(schema.Names) {
		return fmt.Errorf("model expects %d features, schema %s has %d", len(names), schema.Version, len(schema.Names))
	}
	for i := range names {
		if names[i] != schema.Names[i] {
			return fmt.Errorf("feature %d is %q in model, %q in schema %s", i, names[i], schema.Names[i], schema.Version)
		}
	}
	return nil
}
