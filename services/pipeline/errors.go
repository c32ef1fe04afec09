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
	"errors"
	"net/http"

	"github.com/AleutianAI/ContractIQ/services/storage/docdb"
)

// Stage errors. Adapters map them to status codes with StatusCode.
var (
	// ErrInvalidEvent means the event had no recognizable shape.
	ErrInvalidEvent = errors.New("invalid event format")

	// ErrMissingContractID means neither the event nor its first record
	// named a contract.
	ErrMissingContractID = errors.New("contract_id required")

	// ErrContractNotFound means the contract record does not exist.
	ErrContractNotFound = errors.New("contract not found")

	// ErrNoRecords means a queue batch was empty.
	ErrNoRecords = errors.New("no records found")

	// ErrNoFileContent means an upload carried no file_content.
	ErrNoFileContent = errors.New("no file content provided")

	// ErrInvalidFileContent means file_content was not valid base64.
	ErrInvalidFileContent = errors.New("invalid file content")

	// ErrInvalidContractID means a contract id is not a UUID.
	ErrInvalidContractID = errors.New("invalid contract id")
)

// StatusCode maps a stage error to the HTTP status returned to callers.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidEvent),
		errors.Is(err, ErrMissingContractID),
		errors.Is(err, ErrNoRecords),
		errors.Is(err, ErrNoFileContent),
		errors.Is(err, ErrInvalidFileContent),
		errors.Is(err, ErrInvalidContractID):
		return http.StatusBadRequest
	case errors.Is(err, ErrContractNotFound), errors.Is(err, docdb.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage is the error text exposed to API callers. Internal failures
// are not echoed back.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoFileContent):
		return "No file content provided"
	case errors.Is(err, ErrInvalidFileContent):
		return "Invalid file content"
	case errors.Is(err, ErrMissingContractID):
		return "contract_id required"
	case errors.Is(err, ErrContractNotFound), errors.Is(err, docdb.ErrNotFound):
		return "Contract not found"
	case errors.Is(err, ErrNoRecords):
		return "No records found"
	case errors.Is(err, ErrInvalidEvent):
		return "Invalid event format"
	case errors.Is(err, ErrInvalidContractID):
		return "Invalid contract ID"
	default:
		return "Internal server error"
	}
}

// IsPermanent reports whether retrying the same message cannot succeed.
func IsPermanent(err error) bool {
	code := StatusCode(err)
	return code == http.StatusBadRequest || code == http.StatusNotFound
}
