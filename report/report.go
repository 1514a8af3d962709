// Package report renders verification reports and scenario timelines
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

var header = []string{"Record ID", "Status", "Reason"}

// TimelineEntry is the collect+store timing of one event
type TimelineEntry struct {
	RecordID   int64            `json:"record_id"`
	DeviceID   string           `json:"device_id"`
	DeviceType types.DeviceType `json:"device_type"`
	Duration   time.Duration    `json:"duration"`
	Timestamp  time.Time        `json:"timestamp"`
}

func status(res types.VerificationResult) string {
	if res.OK {
		return "OK"
	}
	return "FAIL"
}

// WriteTable renders a grid table followed by the totals
func WriteTable(w io.Writer, report *types.VerificationReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tw, " "+strings.Join(header, "\t ")+"\t")
	fmt.Fprintln(tw, " ---------\t ------\t ------\t")
	for _, res := range report.Results {
		fmt.Fprintf(tw, " %d\t %s\t %s\t\n", res.ID, status(res), res.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nSummary:\n  Total records: %d\n  Verified OK  : %d\n  Failed       : %d\n",
		report.Total, report.OK, report.Bad)
	return err
}

// WriteCSV writes one row per result under a Record ID,Status,Reason header
func WriteCSV(w io.Writer, report *types.VerificationReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, res := range report.Results {
		if err := cw.Write([]string{strconv.FormatInt(res.ID, 10), status(res), string(res.Reason)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteText writes fixed-width columns
func WriteText(w io.Writer, report *types.VerificationReport) error {
	if _, err := fmt.Fprintf(w, "%-10s %-8s %-20s\n%s\n", header[0], header[1], header[2], strings.Repeat("-", 40)); err != nil {
		return err
	}
	for _, res := range report.Results {
		if _, err := fmt.Fprintf(w, "%-10d %-8s %-20s\n", res.ID, status(res), res.Reason); err != nil {
			return err
		}
	}
	return nil
}

// WriteTimelineCSV writes per-event timings with durations in seconds
func WriteTimelineCSV(w io.Writer, timeline []TimelineEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"row_id", "device_id", "device_type", "time_taken_s", "timestamp"}); err != nil {
		return err
	}
	for _, e := range timeline {
		row := []string{
			strconv.FormatInt(e.RecordID, 10),
			e.DeviceID,
			string(e.DeviceType),
			strconv.FormatFloat(e.Duration.Seconds(), 'f', -1, 64),
			e.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
