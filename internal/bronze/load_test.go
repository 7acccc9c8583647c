package bronze

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func readData(t *testing.T, r *Reader, ref Ref) []string {
	t.Helper()
	rows, err := r.Read(context.Background(), ref, "", 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = string(row.Data)
	}
	return out
}

func TestLoad(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		file string
		body string
		want []string
	}{
		{
			name: "csv with bom and empty cell",
			file: "customers.csv",
			body: "\uFEFFid, name\n1,ann\n2,\n",
			want: []string{`{"id":"1","name":"ann"}`, `{"id":"2","name":null}`},
		},
		{
			name: "ndjson",
			file: "customers.ndjson",
			body: "{\"id\":1,\"amt\":12.50}\n\n{\"id\":2}\n",
			want: []string{`{"amt":12.50,"id":1}`, `{"id":2}`},
		},
		{
			name: "array",
			file: "customers.json",
			body: ` [{"id":"a"},{"id":"b"},{"id":"c"}]`,
			want: []string{`{"id":"a"}`, `{"id":"b"}`, `{"id":"c"}`},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, ref := newReader(t)
			n, err := r.Load(context.Background(), ref, writeFile(t, tc.file, tc.body), LoadOptions{ChunkSize: 2})
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if n != len(tc.want) {
				t.Fatalf("Load = %d, want %d", n, len(tc.want))
			}
			got := readData(t, r, ref)
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("row %d = %s, want %s", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	r, ref := newReader(t)
	ctx := context.Background()

	if _, err := r.Load(ctx, ref, writeFile(t, "x.parquet", "PAR1"), LoadOptions{}); err == nil {
		t.Fatal("unknown extension accepted")
	}
	if _, err := r.Load(ctx, ref, writeFile(t, "x.json", `[1,2]`), LoadOptions{}); err == nil {
		t.Fatal("array of numbers accepted")
	}
	if _, err := r.Load(ctx, ref, writeFile(t, "empty.csv", "id,name\n"), LoadOptions{}); err == nil {
		t.Fatal("header-only file accepted")
	}
	if _, err := r.Load(ctx, ref, filepath.Join(t.TempDir(), "missing.csv"), LoadOptions{}); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLoad_HTTPRetries(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 2)
	var slept []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	r, ref := newReader(t)
	n, err := r.Load(context.Background(), ref, srv.URL+"/fixtures/one.json", LoadOptions{Fetcher: f})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 1 || calls.Load() != 2 || len(slept) != 1 {
		t.Fatalf("n=%d calls=%d slept=%v", n, calls.Load(), slept)
	}
	rows, err := r.Read(context.Background(), ref, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(rows[0].Data) != `{"id":"x"}` {
		t.Fatalf("data = %s", rows[0].Data)
	}
}

func TestFetcher_FinalStatus(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(time.Second, 3)
	if _, err := f.Get(context.Background(), srv.URL); err == nil {
		t.Fatal("404 accepted")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want no retry on 404", calls.Load())
	}
}
