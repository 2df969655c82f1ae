package ifs

import "testing"

func TestRegionContains(t *testing.T) {
	data := RegionData{ops: []regionOp{
		{rect: Rect{0, 0, 100, 100}},
		{rect: Rect{40, 40, 20, 20}, subtract: true},
		{rect: Rect{45, 45, 5, 5}},
	}}
	tests := []struct {
		x, y int32
		want bool
	}{
		{0, 0, true},
		{99, 99, true},
		{100, 100, false},
		{-1, 0, false},
		{41, 41, false},
		{47, 47, true},
		{59, 59, false},
		{60, 60, true},
	}
	for _, tt := range tests {
		if got := data.Contains(tt.x, tt.y); got != tt.want {
			t.Errorf("Contains(%d, %d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestRegionEmpty(t *testing.T) {
	tests := []struct {
		name string
		ops  []regionOp
		want bool
	}{
		{"none", nil, true},
		{"zero size", []regionOp{{rect: Rect{0, 0, 0, 10}}}, true},
		{"subtract only", []regionOp{{rect: Rect{0, 0, 10, 10}, subtract: true}}, true},
		{"add", []regionOp{{rect: Rect{0, 0, 10, 10}}}, false},
	}
	for _, tt := range tests {
		if got := (RegionData{ops: tt.ops}).Empty(); got != tt.want {
			t.Errorf("%s: Empty() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRegionDataIsCopied(t *testing.T) {
	r := &Region{}
	r.data.ops = append(r.data.ops, regionOp{rect: Rect{0, 0, 10, 10}})
	snapshot := r.Data()
	r.data.ops = append(r.data.ops, regionOp{rect: Rect{0, 0, 10, 10}, subtract: true})
	if !snapshot.Contains(5, 5) {
		t.Errorf("Data() changed after a later subtract")
	}
}
