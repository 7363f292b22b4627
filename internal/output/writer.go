package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/gustycube/ip-sentinel/internal/fingerprint"
	"github.com/gustycube/ip-sentinel/internal/latency"
	"github.com/gustycube/ip-sentinel/internal/resolver"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Format represents the output format
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// Report is the final state of one probe run.
type Report struct {
	RunID       string              `json:"runId"`
	GeneratedAt time.Time           `json:"generatedAt"`
	Board       resolver.Snapshot   `json:"board"`
	Latency     []latency.Sample    `json:"latency,omitempty"`
	Fingerprint *fingerprint.Record `json:"fingerprint,omitempty"`
}

// Row is the flat form used by jsonl and csv.
type Row struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	Status   string `json:"status,omitempty"`
	Provider string `json:"provider,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

var csvHeader = []string{"kind", "name", "value", "status", "provider", "detail"}

func (r Row) record() []string {
	return []string{r.Kind, r.Name, r.Value, r.Status, r.Provider, r.Detail}
}

// Rows flattens a report: the display record, one row per address lane, one per
// latency target, and one per fingerprint field.
func Rows(rep Report) []Row {
	d := rep.Board.Display
	rows := []Row{{
		Kind:     "display",
		Name:     "geo",
		Value:    d.IP,
		Status:   string(d.Status),
		Provider: d.Provider,
		Detail:   fmt.Sprintf("loc=%s isp=%s asn=%s colo=%s http=%s tls=%s", d.Loc, d.ISP, d.ASN, d.Colo, d.HTTP, d.TLS),
	}}
	for _, a := range rep.Board.Addresses {
		row := Row{Kind: "address", Name: string(a.Source), Value: a.IP, Status: string(a.Status), Provider: a.Provider, Detail: a.Err}
		if a.Risk != nil {
			row.Detail = fmt.Sprintf("trust=%d flags=%s abuser_company=%d abuser_asn=%d",
				a.Risk.TrustScore(), strings.Join(a.Risk.Flags.Set(), "|"), a.Risk.AbuserScoreCompany, a.Risk.AbuserScoreASN)
		}
		rows = append(rows, row)
	}
	for _, s := range rep.Latency {
		row := Row{Kind: "latency", Name: s.Target, Status: string(s.Class()), Detail: joinInts(s.History.Values())}
		if s.RoundTripMs != nil {
			row.Value = strconv.Itoa(*s.RoundTripMs)
		}
		if s.Blocked {
			row.Status = "blocked"
		}
		rows = append(rows, row)
	}
	if f := rep.Fingerprint; f != nil {
		for _, kv := range [][2]string{
			{"userAgent", f.UserAgent}, {"language", f.Language}, {"platform", f.Platform},
			{"cores", f.Cores}, {"memory", f.Memory}, {"cookies", f.Cookies},
			{"screen", f.Screen}, {"canvasHash", f.CanvasHash}, {"gpu", f.GPU},
		} {
			rows = append(rows, Row{Kind: "fingerprint", Name: kv[0], Value: kv[1]})
		}
	}
	return rows
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

// Writer handles formatted output
type Writer struct {
	format    Format
	w         io.Writer
	csvWriter *csv.Writer
	mu        sync.Mutex
	hasHeader bool
}

// NewWriter creates a new output writer
func NewWriter(format string, w io.Writer) (*Writer, error) {
	var f Format
	switch strings.ToLower(format) {
	case "json":
		f = FormatJSON
	case "jsonl", "ndjson":
		f = FormatJSONL
	case "csv":
		f = FormatCSV
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	writer := &Writer{
		format: f,
		w:      w,
	}

	if f == FormatCSV {
		writer.csvWriter = csv.NewWriter(w)
	}

	return writer, nil
}

// NewStdoutWriter creates a writer for stdout
func NewStdoutWriter(format string) (*Writer, error) {
	return NewWriter(format, os.Stdout)
}

// WriteReport writes a report in the configured format
func (w *Writer) WriteReport(rep Report) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.format {
	case FormatJSON:
		encoder := json.NewEncoder(w.w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rep)

	case FormatJSONL:
		for _, row := range Rows(rep) {
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if _, err := w.w.Write(append(data, '\n')); err != nil {
				return err
			}
		}
		return nil

	case FormatCSV:
		if !w.hasHeader {
			if err := w.csvWriter.Write(csvHeader); err != nil {
				return err
			}
			w.hasHeader = true
		}
		for _, row := range Rows(rep) {
			if err := w.csvWriter.Write(row.record()); err != nil {
				return err
			}
		}
		return w.csvWriter.Error()

	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// Flush flushes any buffered data
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.csvWriter != nil {
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	}
	return nil
}
