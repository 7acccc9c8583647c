package datadog

import (
	"reflect"
	"testing"

	"silver/internal/metrics"
)

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   metrics.Labels
		want []string
	}{
		{name: "empty", in: nil, want: nil},
		{
			name: "sorted",
			in:   metrics.Labels{"step": "read", "job": "RAW->CUSTOMER", "status": "success"},
			want: []string{"job:RAW->CUSTOMER", "status:success", "step:read"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := labelsToTags(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("labelsToTags(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Config{}); err == nil {
		t.Fatal("NewBackend without Addr: want error")
	}
	b, err := NewBackend(Config{Addr: "127.0.0.1:8125", Namespace: "silver.", GlobalTags: []string{"env:test"}})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.RowsTotal, 2, metrics.Labels{"kind": "read"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"step": "read"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestNilClient(t *testing.T) {
	t.Parallel()

	var b Backend
	b.IncCounter(metrics.RowsTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush on nil client: %v", err)
	}
}
