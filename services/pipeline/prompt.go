// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
)

const reviewPromptHeader = `You are an enterprise contract review assistant. Analyze the following contract text and extract:

1. **Clauses List**: All major clauses (payment terms, liability, confidentiality, termination, etc.)
2. **Payment Terms**: Payment amounts, schedules and penalties
3. **Liability**: Liability limitations and indemnification clauses
4. **Confidentiality**: Confidentiality and NDA terms
5. **Termination Conditions**: Termination clauses and their conditions
6. **Hidden Risks**: Any concerning or unusual clauses
7. **Missing Clauses**: Critical clauses that should be present but are missing
8. **Summary**: A 2-3 sentence executive summary

Contract Text:
`

const reviewPromptFooter = `

Respond in JSON format:
{
  "clauses": [
    {"name": "clause name", "description": "clause description", "type": "payment|liability|confidentiality|termination|other"}
  ],
  "payment_terms": {"amount": "...", "schedule": "...", "penalties": "..."},
  "liability": "description of liability terms",
  "confidentiality": "description of confidentiality terms",
  "termination": "description of termination conditions",
  "hidden_risks": ["risk 1", "risk 2"],
  "missing_clauses": ["clause 1", "clause 2"],
  "summary": "executive summary"
}
`

// BuildPrompt returns the contract-review prompt for text, truncated to
// maxChars characters. maxChars <= 0 keeps the whole text.
func BuildPrompt(text string, maxChars int) string {
	if maxChars > 0 {
		text = datatypes.TruncateRunes(text, maxChars)
	}
	var b strings.Builder
	b.Grow(len(reviewPromptHeader) + len(text) + len(reviewPromptFooter))
	b.WriteString(reviewPromptHeader)
	b.WriteString(text)
	b.WriteString(reviewPromptFooter)
	return b.String()
}

// StripCodeFence removes a surrounding markdown code fence, with or without
// a json language tag.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseAnalysis decodes a model response into an Analysis.
//
// A response that is not a JSON object, even after dropping code fences and
// any prose around the outermost braces, is kept as raw analysis with its
// first 500 characters as the summary.
func ParseAnalysis(text string) datatypes.Analysis {
	cleaned := StripCodeFence(text)
	if a, ok := decodeAnalysis(cleaned); ok {
		return a
	}
	if i, j := strings.IndexByte(cleaned, '{'), strings.LastIndexByte(cleaned, '}'); i >= 0 && j > i {
		if a, ok := decodeAnalysis(cleaned[i : j+1]); ok {
			return a
		}
	}
	return datatypes.Analysis{
		Clauses:     []datatypes.ClauseItem{},
		Summary:     datatypes.Text(datatypes.TruncateRunes(text, datatypes.MaxSummaryLength)),
		RawAnalysis: text,
	}
}

func decodeAnalysis(s string) (datatypes.Analysis, bool) {
	if !strings.HasPrefix(s, "{") {
		return datatypes.Analysis{}, false
	}
	var a datatypes.Analysis
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return datatypes.Analysis{}, false
	}
	if a.Clauses == nil {
		a.Clauses = []datatypes.ClauseItem{}
	}
	return a, true
}

// MergeAnalyses combines per-chunk analyses of one contract.
//
// Clauses are deduplicated by name (case-insensitive, first wins). Risks
// and missing clauses are deduplicated the same way. Text fields and
// summaries are joined. Chunks that failed are ignored unless all failed,
// in which case the first failure is returned.
func MergeAnalyses(parts []datatypes.Analysis) datatypes.Analysis {
	var ok []datatypes.Analysis
	for _, p := range parts {
		if !p.Failed() {
			ok = append(ok, p)
		}
	}
	if len(ok) == 0 {
		if len(parts) == 0 {
			return datatypes.Analysis{Error: "No analysis generated"}
		}
		return parts[0]
	}
	if len(ok) == 1 {
		return ok[0]
	}

	out := datatypes.Analysis{Clauses: []datatypes.ClauseItem{}}
	seenClause := map[string]bool{}
	seenRisk := map[string]bool{}
	seenMissing := map[string]bool{}
	var liability, confidentiality, termination, summary, raw []string

	for _, p := range ok {
		for _, c := range p.Clauses {
			k := strings.ToLower(strings.TrimSpace(string(c.Name)))
			if seenClause[k] {
				continue
			}
			seenClause[k] = true
			out.Clauses = append(out.Clauses, c)
		}
		out.HiddenRisks = appendUnique(out.HiddenRisks, p.HiddenRisks, seenRisk)
		out.MissingClauses = appendUnique(out.MissingClauses, p.MissingClauses, seenMissing)
		for k, v := range p.PaymentTerms.Fields {
			if out.PaymentTerms.Fields == nil {
				out.PaymentTerms.Fields = map[string]any{}
			}
			if _, exists := out.PaymentTerms.Fields[k]; !exists {
				out.PaymentTerms.Fields[k] = v
			}
		}
		if len(out.PaymentTerms.Raw) == 0 {
			out.PaymentTerms.Raw = p.PaymentTerms.Raw
		}
		liability = appendText(liability, p.Liability)
		confidentiality = appendText(confidentiality, p.Confidentiality)
		termination = appendText(termination, p.Termination)
		summary = appendText(summary, p.Summary)
		if p.RawAnalysis != "" {
			raw = append(raw, p.RawAnalysis)
		}
	}
	out.Liability = datatypes.Text(strings.Join(liability, "\n"))
	out.Confidentiality = datatypes.Text(strings.Join(confidentiality, "\n"))
	out.Termination = datatypes.Text(strings.Join(termination, "\n"))
	out.Summary = datatypes.Text(strings.Join(summary, " "))
	out.RawAnalysis = strings.Join(raw, "\n\n")
	return out
}

func appendUnique(dst, src datatypes.TextList, seen map[string]bool) datatypes.TextList {
	for _, t := range src {
		k := strings.ToLower(strings.TrimSpace(string(t)))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		dst = append(dst, t)
	}
	return dst
}

func appendText(dst []string, t datatypes.Text) []string {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return dst
	}
	for _, d := range dst {
		if d == s {
			return dst
		}
	}
	return append(dst, s)
}
