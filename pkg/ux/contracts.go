// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
)

// FormatScore renders a score as "42.0", "42.5" or "N/A".
func FormatScore(score *float64) string {
	return datatypes.FormatScore(score)
}

func riskStyle(score *float64) lipgloss.Style {
	if score == nil {
		return Styles.Muted
	}
	switch datatypes.LevelFor(*score) {
	case datatypes.RiskHigh:
		return Styles.Error
	case datatypes.RiskMedium:
		return Styles.Warning
	default:
		return Styles.Success
	}
}

// ContractTable prints the contract listing.
//
// Machine mode prints id, status, score, clause count and filename
// separated by tabs, one contract per line, with no header.
func (p *Printer) ContractTable(rows []pipeline.ContractSummary) {
	if p.machine() {
		for _, r := range rows {
			fmt.Fprintf(p.Out, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Status, FormatScore(r.RiskScore), r.ClausesCount, r.Filename)
		}
		return
	}
	if len(rows) == 0 {
		p.Info("No contracts yet")
		return
	}

	tw := tabwriter.NewWriter(p.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, Styles.Bold.Render("ID")+"\t"+Styles.Bold.Render("FILE")+"\t"+
		Styles.Bold.Render("STATUS")+"\t"+Styles.Bold.Render("RISK")+"\t"+Styles.Bold.Render("CLAUSES")+"\t"+Styles.Bold.Render("UPLOADED"))
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.Filename, r.Status,
			riskStyle(r.RiskScore).Render(FormatScore(r.RiskScore)),
			r.ClausesCount, r.UploadedAt)
	}
	_ = tw.Flush()
}

// ContractDetail prints one contract with its clauses.
func (p *Printer) ContractDetail(d *pipeline.ContractDetail) {
	if p.machine() {
		fmt.Fprintf(p.Out, "contract_id\t%s\nfilename\t%s\nstatus\t%s\nrisk_score\t%s\nuploaded_at\t%s\nsummary\t%s\n",
			d.ContractID, d.Filename, d.Status, FormatScore(d.RiskScore), d.UploadedAt, oneLine(d.Summary))
		for _, c := range d.Clauses {
			fmt.Fprintf(p.Out, "clause\t%s\t%s\t%s\n", c.Type, c.Name, oneLine(c.Description))
		}
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Status:   %s\n", d.Status)
	fmt.Fprintf(&b, "Risk:     %s\n", riskStyle(d.RiskScore).Render(FormatScore(d.RiskScore)+"/100 ("+datatypes.RiskLabel(d.RiskScore)+")"))
	fmt.Fprintf(&b, "Uploaded: %s\n", d.UploadedAt)
	if d.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Summary)
	}
	p.Box(d.Filename+"  "+Styles.Muted.Render(d.ContractID), strings.TrimRight(b.String(), "\n"))

	if len(d.Clauses) == 0 {
		return
	}
	p.Title(fmt.Sprintf("Clauses (%d)", d.ClausesCount))
	for _, c := range d.Clauses {
		fmt.Fprintf(p.Out, "  %s %s %s\n", Styles.Bold.Render(c.Name), Styles.Muted.Render("["+c.Type+"]"), c.Description)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
