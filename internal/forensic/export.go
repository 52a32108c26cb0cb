package forensic

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects the export rendering.
type Format string

const (
	FormatStructured Format = "structured"
	FormatCSV        Format = "csv"
	FormatReport     Format = "report"
)

// Redacted replaces raw command/response payloads in exports unless the
// caller explicitly asks for unredacted output.
const Redacted = "[REDACTED]"

// ExportOptions tune an export.
type ExportOptions struct {
	// Unredacted includes raw command/response payloads. Off by default.
	Unredacted bool
}

type structuredExport struct {
	Session *Session `yaml:"session"`
	Events  []*Event `yaml:"events"`
}

// Export renders the replayed session in the requested format.
func (r *Replay) Export(format Format, opts ExportOptions) ([]byte, error) {
	events := r.events
	if !opts.Unredacted {
		events = redactAll(events)
	}

	switch format {
	case FormatStructured:
		return yaml.Marshal(structuredExport{Session: r.session, Events: events})
	case FormatCSV:
		return exportCSV(events)
	case FormatReport:
		return exportReport(r.session, events), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func redactAll(events []*Event) []*Event {
	out := make([]*Event, len(events))
	for i, e := range events {
		cp := *e
		if cp.RawCommand != "" {
			cp.RawCommand = Redacted
		}
		if cp.RawResponse != "" {
			cp.RawResponse = Redacted
		}
		out[i] = &cp
	}
	return out
}

func exportCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"sequence", "timestamp", "type", "module", "service", "mode", "would_execute", "capability_decision", "override_decision", "result", "event_hash"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, e := range events {
		row := []string{
			strconv.Itoa(e.Sequence),
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.Type),
			e.Module,
			e.Service,
			string(e.Mode),
			strconv.FormatBool(e.WouldExecute),
			e.CapabilityDecision,
			e.OverrideDecision,
			e.Result,
			e.EventHash,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func exportReport(session *Session, events []*Event) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Forensic Session Report\n")
	fmt.Fprintf(&buf, "=======================\n\n")
	fmt.Fprintf(&buf, "Session:    %s\n", session.ID)
	fmt.Fprintf(&buf, "Hash:       %s\n", session.SessionHash)
	fmt.Fprintf(&buf, "Admin:      %s\n", session.AdminID)
	fmt.Fprintf(&buf, "Vehicle:    %s\n", session.VehicleRef)
	fmt.Fprintf(&buf, "Type:       %s\n", session.Type)
	fmt.Fprintf(&buf, "Started:    %s\n", session.StartTime.Format(time.RFC3339))
	if session.EndTime != nil {
		fmt.Fprintf(&buf, "Ended:      %s\n", session.EndTime.Format(time.RFC3339))
	}
	if session.OverrideScope != "" {
		fmt.Fprintf(&buf, "Override:   %s (%s)\n", session.OverrideScope, session.OverrideReason)
	}
	fmt.Fprintf(&buf, "Events:     %d\n", session.EventCount)
	if session.IntegrityHash != "" {
		fmt.Fprintf(&buf, "Integrity:  %s\n", session.IntegrityHash)
	}
	fmt.Fprintf(&buf, "\n")

	for _, e := range events {
		fmt.Fprintf(&buf, "[%4d] %s  %-18s", e.Sequence, e.Timestamp.Format(time.RFC3339), e.Type)
		if e.Module != "" {
			fmt.Fprintf(&buf, "  %s/%s", e.Module, e.Service)
		}
		if e.Mode != "" {
			fmt.Fprintf(&buf, "  mode=%s", e.Mode)
		}
		if e.Result != "" {
			fmt.Fprintf(&buf, "  %s", e.Result)
		}
		fmt.Fprintf(&buf, "\n")
	}
	return buf.Bytes()
}
