package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func TestXGBModel_Predict(t *testing.T) {
	m := loadTestModel(t)
	nan := math.NaN()

	vec := func(score, hasA float64) []float64 {
		return []float64{30, 1, 2, 0, score, 0, 3, 3.5, hasA, 0, 0, 0}
	}

	tests := []struct {
		name string
		x    []float64
		want float64
	}{
		{"keywords without A record", vec(4, 0), sigmoid(2.5)},
		{"keywords with A record", vec(4, 1), sigmoid(1.5)},
		{"clean without A record", vec(0, 0), sigmoid(-0.5)},
		{"clean with A record", vec(0, 1), sigmoid(-1.5)},
		{"split value goes right", vec(1, 0.5), sigmoid(1.5)},
		{"missing score goes right", vec(nan, 1), sigmoid(1.5)},
		{"missing has_a goes left", vec(0, nan), sigmoid(-0.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := m.Predict(tt.x)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(p-tt.want) > 1e-9 {
				t.Errorf("Predict = %v, want %v", p, tt.want)
			}
			if p < 0 || p > 1 {
				t.Errorf("probability %v outside [0,1]", p)
			}
		})
	}
}

func TestXGBModel_PredictWrongLength(t *testing.T) {
	m := loadTestModel(t)
	if _, err := m.Predict([]float64{1, 2, 3}); !errors.Is(err, ErrClassifierUnavailable) {
		t.Errorf("expected ErrClassifierUnavailable, got %v", err)
	}
}

func TestLoadClassifier_SchemaMismatch(t *testing.T) {
	reordered := Schema{Version: "v2", Names: append([]string(nil), CanonicalSchema.Names...)}
	reordered.Names[0], reordered.Names[1] = reordered.Names[1], reordered.Names[0]

	_, err := LoadClassifier("testdata/model.json", reordered)
	var cerr *ConfigLoadError
	if !errors.As(err, &cerr) || cerr.Component != "classifier" {
		t.Fatalf("expected classifier ConfigLoadError, got %v", err)
	}

	short := Schema{Version: "v1", Names: CanonicalSchema.Names[:8]}
	if _, err := LoadClassifier("testdata/model.json", short); err == nil {
		t.Error("expected error for shorter schema")
	}
}

func TestLoadClassifier_Missing(t *testing.T) {
	_, err := LoadClassifier("testdata/nope.json", CanonicalSchema)
	var cerr *ConfigLoadError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigLoadError, got %v", err)
	}
}

// artifact renders a one-tree model with the given overrides.
func artifact(booster, objective, names, baseScore, numFeature, tree string) []byte {
	return []byte(fmt.Sprintf(`{"learner":{
		"feature_names":%s,
		"gradient_booster":{"name":%q,"model":{"trees":[%s]}},
		"learner_model_param":{"base_score":%q,"num_feature":%q},
		"objective":{"name":%q}}}`, names, booster, tree, baseScore, numFeature, objective))
}

const (
	goodNames = `["a","b"]`
	goodTree  = `{"left_children":[1,-1,-1],"right_children":[2,-1,-1],"split_indices":[1,0,0],"split_conditions":[0.5,-1,1],"default_left":[true,false,false]}`
)

func TestParseXGBModel(t *testing.T) {
	m, err := ParseXGBModel(artifact("gbtree", "reg:logistic", goodNames, "[2.5E-1]", "2", goodTree))
	if err != nil {
		t.Fatalf("ParseXGBModel failed: %v", err)
	}
	if strings.Join(m.FeatureNames(), ",") != "a,b" {
		t.Errorf("unexpected names %v", m.FeatureNames())
	}
	// logit(0.25) + 1
	p, _ := m.Predict([]float64{0, 1})
	if want := sigmoid(math.Log(1.0/3) + 1); math.Abs(p-want) > 1e-9 {
		t.Errorf("Predict = %v, want %v", p, want)
	}
}

func TestParseXGBModel_Invalid(t *testing.T) {
	tests := map[string][]byte{
		"not json":          []byte("{"),
		"linear booster":    artifact("gblinear", "binary:logistic", goodNames, "0.5", "2", goodTree),
		"softmax objective": artifact("gbtree", "multi:softprob", goodNames, "0.5", "2", goodTree),
		"no names":          artifact("gbtree", "binary:logistic", `[]`, "0.5", "2", goodTree),
		"num_feature":       artifact("gbtree", "binary:logistic", goodNames, "0.5", "3", goodTree),
		"base_score one":    artifact("gbtree", "binary:logistic", goodNames, "1", "2", goodTree),
		"base_score text":   artifact("gbtree", "binary:logistic", goodNames, "half", "2", goodTree),
		"empty tree":        artifact("gbtree", "binary:logistic", goodNames, "0.5", "2", `{}`),
		"ragged tree":       artifact("gbtree", "binary:logistic", goodNames, "0.5", "2",
			`{"left_children":[1,-1,-1],"right_children":[2,-1],"split_indices":[0,0,0],"split_conditions":[0,0,0]}`),
		"cycle": artifact("gbtree", "binary:logistic", goodNames, "0.5", "2",
			`{"left_children":[0,-1,-1],"right_children":[2,-1,-1],"split_indices":[0,0,0],"split_conditions":[0,0,0]}`),
		"unknown feature": artifact("gbtree", "binary:logistic", goodNames, "0.5", "2",
			`{"left_children":[1,-1,-1],"right_children":[2,-1,-1],"split_indices":[7,0,0],"split_conditions":[0,0,0]}`),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseXGBModel(data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFlexBool(t *testing.T) {
	var got []flexBool
	if err := json.Unmarshal([]byte(`[true, 1, false, 0, null]`), &got); err != nil {
		t.Fatal(err)
	}
	want := []flexBool{true, true, false, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}

	var b flexBool
	if err := json.Unmarshal([]byte(`"yes"`), &b); err == nil {
		t.Error("expected error for string")
	}
}
