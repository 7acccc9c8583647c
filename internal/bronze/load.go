package bronze

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Format is the layout of a fixture file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json" // NDJSON, concatenated objects, or one top-level array
)

const utf8BOM = "\uFEFF"

// LoadOptions tunes Load. Zero values detect the format from the file
// extension, insert 1000 rows per statement and read commas.
type LoadOptions struct {
	Format    Format
	TPA       string
	ChunkSize int
	Delimiter rune
	// Fetcher opens http(s) locations; nil uses a default Fetcher.
	Fetcher *Fetcher
}

// DetectFormat infers the format from a path or URL extension.
func DetectFormat(location string) (Format, error) {
	p := location
	if u, err := url.Parse(location); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".json", ".ndjson", ".jsonl":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("bronze: cannot detect format of %q; pass it explicitly", location)
}

// Load reads a CSV or JSON fixture from a local path or an http(s) URL and
// appends one raw row per record, tagged with the file's base name.
func (r *Reader) Load(ctx context.Context, ref Ref, location string, opt LoadOptions) (int, error) {
	if opt.Format == "" {
		f, err := DetectFormat(location)
		if err != nil {
			return 0, err
		}
		opt.Format = f
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = 1000
	}
	rc, name, err := r.open(ctx, location, opt.Fetcher)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	total := 0
	flush := func(docs []map[string]any) error {
		n, err := r.insert(ctx, ref, name, opt.TPA, docs)
		total += n
		return err
	}
	var dec func(io.Reader, int, func([]map[string]any) error) error
	switch opt.Format {
	case FormatCSV:
		delim := opt.Delimiter
		dec = func(in io.Reader, chunk int, emit func([]map[string]any) error) error {
			return decodeCSV(in, delim, chunk, emit)
		}
	case FormatJSON:
		dec = decodeJSON
	default:
		return 0, fmt.Errorf("bronze: unknown format %q", opt.Format)
	}
	if err := dec(rc, opt.ChunkSize, flush); err != nil {
		return total, fmt.Errorf("bronze: load %s: %w", name, err)
	}
	if total == 0 {
		return 0, fmt.Errorf("bronze: load %s: no records", name)
	}
	r.log.Info("fixture loaded", zap.String("file", name), zap.String("format", string(opt.Format)), zap.Int("rows", total))
	return total, nil
}

func (r *Reader) open(ctx context.Context, location string, f *Fetcher) (io.ReadCloser, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if f == nil {
			f = NewFetcher(30*time.Second, 3)
		}
		rc, err := f.Get(ctx, location)
		if err != nil {
			return nil, "", err
		}
		return rc, path.Base(u.Path), nil
	}
	fh, err := os.Open(location)
	if err != nil {
		return nil, "", fmt.Errorf("bronze: open %s: %w", location, err)
	}
	return fh, filepath.Base(location), nil
}

// decodeCSV turns each data row into an object keyed by the header. Empty
// cells become null. A UTF-8 BOM on the first header cell is dropped.
func decodeCSV(in io.Reader, delim rune, chunk int, emit func([]map[string]any) error) error {
	cr := csv.NewReader(bufio.NewReader(in))
	if delim != 0 {
		cr.Comma = delim
	}
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	batch := make([]map[string]any, 0, chunk)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		doc := make(map[string]any, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i >= len(rec) || rec[i] == "" {
				doc[h] = nil
				continue
			}
			doc[h] = rec[i]
		}
		batch = append(batch, doc)
		if len(batch) == chunk {
			if err := emit(batch); err != nil {
				return err
			}
			batch = make([]map[string]any, 0, chunk)
		}
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

// decodeJSON accepts newline-delimited or concatenated objects, or a
// single top-level array of objects. Numbers keep their literal text.
func decodeJSON(in io.Reader, chunk int, emit func([]map[string]any) error) error {
	br := bufio.NewReader(in)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	dec := json.NewDecoder(br)
	dec.UseNumber()
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return err
		}
	}

	batch := make([]map[string]any, 0, chunk)
	for n := 1; ; n++ {
		if first == '[' && !dec.More() {
			break
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) && first != '[' {
				break
			}
			return fmt.Errorf("record %d: %w", n, err)
		}
		doc, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("record %d: top-level %T is not an object", n, raw)
		}
		batch = append(batch, doc)
		if len(batch) == chunk {
			if err := emit(batch); err != nil {
				return err
			}
			batch = make([]map[string]any, 0, chunk)
		}
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
			continue
		case utf8BOM[0]:
			if bom, err := br.Peek(len(utf8BOM)); err == nil && string(bom) == utf8BOM {
				_, _ = br.Discard(len(utf8BOM))
				continue
			}
		}
		return b[0], nil
	}
}

// Fetcher downloads fixtures over HTTP, retrying transport errors, 429 and
// 5xx responses with exponential backoff.
type Fetcher struct {
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	sleep      func(context.Context, time.Duration) error
}

// NewFetcher returns a Fetcher with the given per-request timeout and
// retry budget.
func NewFetcher(timeout time.Duration, maxRetries int) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client:     &http.Client{Timeout: timeout},
		maxRetries: max(maxRetries, 0),
		backoff:    200 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		sleep:      sleepCtx,
	}
}

// Get returns the body of a successful GET. The caller closes it.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	var lastErr error
	wait := f.backoff
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
			wait = min(wait*2, f.maxBackoff)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("bronze: build request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("bronze: GET %s: status %d", rawURL, resp.StatusCode)
			continue
		case resp.StatusCode >= 300:
			resp.Body.Close()
			return nil, fmt.Errorf("bronze: GET %s: status %d", rawURL, resp.StatusCode)
		}
		return resp.Body, nil
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
