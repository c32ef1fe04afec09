// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ContractIQ/services/llm"
	"github.com/AleutianAI/ContractIQ/services/pipeline"
)

func runContractsList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), modeStorage, false)
	if err != nil {
		return err
	}
	defer a.close()

	rows, err := a.rt.Query.List(cmd.Context())
	if err != nil {
		return err
	}
	printer.ContractTable(rows)
	return nil
}

func runContractsGet(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), modeStorage, false)
	if err != nil {
		return err
	}
	defer a.close()

	d, err := a.rt.Query.Detail(cmd.Context(), args[0])
	if err != nil {
		if pipeline.StatusCode(err) != http.StatusInternalServerError {
			return errors.New(pipeline.ClientMessage(err))
		}
		return err
	}
	printer.ContractDetail(d)
	return nil
}

func runLLMPing(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd.Context(), modeStorage, false)
	if err != nil {
		return err
	}
	defer a.close()

	client, err := llm.New(cmd.Context(), a.cfg.LLM, a.rt.Metrics)
	if err != nil {
		return err
	}
	start := time.Now()
	out, err := client.Generate(cmd.Context(), pingPrompt, llm.GenerationParams{}.WithMaxTokens(32))
	if err != nil {
		return fmt.Errorf("%s/%s: %w", a.cfg.LLM.Provider, a.cfg.LLM.Model, err)
	}
	printer.Success(fmt.Sprintf("%s/%s answered in %s", a.cfg.LLM.Provider, a.cfg.LLM.Model, time.Since(start).Round(time.Millisecond)))
	printer.Info(strings.TrimSpace(out))
	return nil
}
