package vector

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-2, 0}, -1},
		{"zero_vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length_mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore_dotProduct(t *testing.T) {
	if got := Score(MetricDotProduct, []float32{1, 2}, []float32{3, 4}); got != 11 {
		t.Errorf("Score(dot) = %v, want 11", got)
	}
	if got := Score(MetricCosine, []float32{2, 0}, []float32{5, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("Score(cosine) = %v, want 1", got)
	}
}

func TestTopK_tieBreakByID(t *testing.T) {
	m := []Match{{ID: "c", Score: 0.5}, {ID: "a", Score: 0.5}, {ID: "b", Score: 0.9}}
	got := topK(m, 2)
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Errorf("topK = %+v", got)
	}
}

func TestFloat32Bytes(t *testing.T) {
	in := []float32{0, -1.5, 3.25, float32(math.Pi)}
	out := bytesToFloat32Slice(float32SliceToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}
