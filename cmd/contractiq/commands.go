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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ContractIQ/pkg/ux"
	"github.com/AleutianAI/ContractIQ/services/pipeline/lambdafn"
)

// --- Global Command Variables ---
var (
	configPath string
	outputMode string // styled or machine, empty means detect

	noWorkers     bool
	watchUser     string
	watchExisting bool
	watchWork     bool

	trainRows    int
	trainSeed    int64
	testFraction float64
	trainTrees   int
	trainDepth   int
	modelPath    string
	modelAddr    string
	deployBucket string
	evalRows     int
	evalSeed     int64
	pingPrompt   string

	rootCmd = &cobra.Command{
		Use:   "contractiq",
		Short: "Analyze contracts for risky clauses",
		Long: `ContractIQ extracts text from uploaded contracts, asks a language model
for a summary and clause list, scores the risk and notifies the owner.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			printer = &ux.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr(), Mode: ux.DetectMode(os.Stdout)}
			if outputMode != "" {
				printer.Mode = ux.ParseMode(outputMode)
			}
		},
	}

	// --- Pipeline ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and, unless --no-workers, drain the queues",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}
	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Drain the pipeline queues without serving HTTP",
		Args:  cobra.NoArgs,
		RunE:  runWorker, // Defined in cmd_serve.go
	}
	lambdaCmd = &cobra.Command{
		Use:       "lambda [function]",
		Short:     "Run one pipeline stage under the AWS Lambda runtime",
		Args:      cobra.ExactArgs(1),
		ValidArgs: functionNames,
		RunE:      runLambda, // Defined in cmd_serve.go
	}
	watchCmd = &cobra.Command{
		Use:   "watch [directory]",
		Short: "Upload PDFs dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	// --- Risk model ---
	modelCmd = &cobra.Command{
		Use:   "model",
		Short: "Train, evaluate, serve and deploy the risk model",
	}
	modelTrainCmd = &cobra.Command{
		Use:   "train",
		Short: "Train a risk forest on synthetic contracts",
		Args:  cobra.NoArgs,
		RunE:  runModelTrain, // Defined in cmd_model.go
	}
	modelEvaluateCmd = &cobra.Command{
		Use:   "evaluate",
		Short: "Score a model artifact against fresh synthetic contracts",
		Args:  cobra.NoArgs,
		RunE:  runModelEvaluate, // Defined in cmd_model.go
	}
	modelServeCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve a model artifact over /ping and /invocations",
		Args:  cobra.NoArgs,
		RunE:  runModelServe, // Defined in cmd_model.go
	}
	modelDeployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Upload a model artifact to the models bucket",
		Args:  cobra.NoArgs,
		RunE:  runModelDeploy, // Defined in cmd_model.go
	}

	// --- Queries ---
	contractsCmd = &cobra.Command{
		Use:   "contracts",
		Short: "Inspect stored contracts",
	}
	contractsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List contracts, newest first",
		Args:  cobra.NoArgs,
		RunE:  runContractsList, // Defined in cmd_contracts.go
	}
	contractsGetCmd = &cobra.Command{
		Use:   "get [contract-id]",
		Short: "Show one contract with its clauses",
		Args:  cobra.ExactArgs(1),
		RunE:  runContractsGet, // Defined in cmd_contracts.go
	}

	llmCmd = &cobra.Command{
		Use:   "llm",
		Short: "Language model utilities",
	}
	llmPingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Send one prompt to the configured model",
		Args:  cobra.NoArgs,
		RunE:  runLLMPing, // Defined in cmd_contracts.go
	}
)

var printer = ux.NewPrinter()

// functionNames lists the stages accepted by lambda.
var functionNames = []string{
	lambdafn.FuncUpload, lambdafn.FuncContracts, lambdafn.FuncExtraction,
	lambdafn.FuncAnalysis, lambdafn.FuncScoring, lambdafn.FuncNotify,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONTRACTIQ_CONFIG or ~/.contractiq/contractiq.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputMode, "output", "", "output mode: styled or machine")

	serveCmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve HTTP only")

	watchCmd.Flags().StringVar(&watchUser, "user", "", "owner of uploaded contracts")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "upload PDFs already in the directory")
	watchCmd.Flags().BoolVar(&watchWork, "work", false, "also drain the queues in this process")

	modelTrainCmd.Flags().IntVar(&trainRows, "rows", 5000, "synthetic rows to generate")
	modelTrainCmd.Flags().Int64Var(&trainSeed, "seed", 42, "random seed")
	modelTrainCmd.Flags().Float64Var(&testFraction, "test-fraction", 0.2, "share of rows held out for evaluation")
	modelTrainCmd.Flags().IntVar(&trainTrees, "trees", 100, "number of trees")
	modelTrainCmd.Flags().IntVar(&trainDepth, "depth", 10, "maximum tree depth")
	modelTrainCmd.Flags().StringVar(&modelPath, "out", "model.json", "artifact output path")

	for _, c := range []*cobra.Command{modelEvaluateCmd, modelServeCmd, modelDeployCmd} {
		c.Flags().StringVar(&modelPath, "model", "model.json", "artifact path")
	}
	modelEvaluateCmd.Flags().IntVar(&evalRows, "rows", 1000, "synthetic rows to score")
	modelEvaluateCmd.Flags().Int64Var(&evalSeed, "seed", 7, "random seed")
	modelServeCmd.Flags().StringVar(&modelAddr, "addr", "", "listen address (default scoring.serve_addr)")
	modelDeployCmd.Flags().StringVar(&deployBucket, "bucket", "", "target bucket (default scoring.models_bucket)")

	llmPingCmd.Flags().StringVar(&pingPrompt, "prompt", "Reply with the single word: ready", "prompt to send")

	rootCmd.AddCommand(serveCmd, workerCmd, lambdaCmd, watchCmd, modelCmd, contractsCmd, llmCmd)
	modelCmd.AddCommand(modelTrainCmd, modelEvaluateCmd, modelServeCmd, modelDeployCmd)
	contractsCmd.AddCommand(contractsListCmd, contractsGetCmd)
	llmCmd.AddCommand(llmPingCmd)
}
