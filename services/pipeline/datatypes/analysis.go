// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Analysis is the structured result of the LLM contract review.
//
// The happy path fills the clause and risk fields. When the model output
// cannot be parsed the summary and raw analysis carry the text instead, and
// when the call failed only Error is set.
type Analysis struct {
	Clauses         []ClauseItem `json:"clauses"`
	PaymentTerms    PaymentTerms `json:"payment_terms,omitzero"`
	Liability       Text         `json:"liability,omitempty"`
	Confidentiality Text         `json:"confidentiality,omitempty"`
	Termination     Text         `json:"termination,omitempty"`
	HiddenRisks     TextList     `json:"hidden_risks,omitempty"`
	MissingClauses  TextList     `json:"missing_clauses,omitempty"`
	Summary         Text         `json:"summary,omitempty"`
	RawAnalysis     string       `json:"raw_analysis,omitempty"`
	Error           string       `json:"error,omitempty"`
}

// ClauseItem is one entry of Analysis.Clauses.
type ClauseItem struct {
	Name        Text `json:"name"`
	Description Text `json:"description"`
	Type        Text `json:"type"`
}

// PaymentTerms keeps whatever the model returned for payment terms. The
// usual form is an object with amount, schedule and penalties, but a string
// or list is kept too: Fields holds an object, Raw holds anything else as
// compact JSON.
type PaymentTerms struct {
	Fields map[string]any
	Raw    json.RawMessage
}

// IsZero reports whether no terms were returned.
func (p PaymentTerms) IsZero() bool { return len(p.Fields) == 0 && len(p.Raw) == 0 }

// UnmarshalJSON implements json.Unmarshaler. It accepts any JSON value.
func (p *PaymentTerms) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*p = PaymentTerms{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '{' {
		return json.Unmarshal(data, &p.Fields)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	p.Raw = json.RawMessage(buf.Bytes())
	return nil
}

// MarshalJSON writes the terms back in the shape they were received.
func (p PaymentTerms) MarshalJSON() ([]byte, error) {
	switch {
	case len(p.Fields) > 0:
		return json.Marshal(p.Fields)
	case len(p.Raw) > 0:
		return p.Raw, nil
	default:
		return []byte("null"), nil
	}
}

// String renders the terms for keyword checks. Objects are printed with
// sorted keys so the output is stable, strings as themselves.
func (p PaymentTerms) String() string {
	if len(p.Fields) == 0 {
		if len(p.Raw) == 0 {
			return "{}"
		}
		var s string
		if json.Unmarshal(p.Raw, &s) == nil {
			return s
		}
		return string(p.Raw)
	}
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q: %v", k, p.Fields[k])
	}
	b.WriteByte('}')
	return b.String()
}

// TextList is a list of Text that also accepts a single value in place of
// the list. A bare non-empty value becomes a one-item list.
type TextList []Text

// UnmarshalJSON implements json.Unmarshaler.
func (l *TextList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var items []Text
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var t Text
	if err := t.UnmarshalJSON(data); err != nil {
		return err
	}
	if strings.TrimSpace(string(t)) == "" {
		*l = nil
		return nil
	}
	*l = TextList{t}
	return nil
}

// Text is a string that also accepts non-string JSON values.
//
// Models sometimes answer with an object or a number where a string was
// requested. Those values are kept as their compact JSON text so decoding
// never fails on them.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*t = Text(buf.String())
	return nil
}

// String returns the text.
func (t Text) String() string { return string(t) }

// Failed reports whether the analysis records a provider or generation error.
func (a *Analysis) Failed() bool {
	return a != nil && a.Error != ""
}
