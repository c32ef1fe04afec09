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
	"fmt"
	"path"
	"strings"
)

const (
	// DefaultFilename is used when an upload names no file.
	DefaultFilename = "contract.pdf"

	// AnonymousUser owns uploads without an authenticated caller.
	AnonymousUser = "anonymous"

	contractsPrefix = "contracts"
)

// ObjectKey is where an uploaded contract is stored.
func ObjectKey(userID, contractID, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s", contractsPrefix, userID, contractID, filename)
}

// CleanFilename reduces a client filename to its base name.
func CleanFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if name == "" {
		return DefaultFilename
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return DefaultFilename
	}
	return base
}

// ContractIDFromKey recovers the contract id from an object key.
//
// Keys of the form contracts/{user}/{id}/... yield id. Any other key yields
// its last segment without the .pdf suffix.
func ContractIDFromKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) >= 3 && parts[0] == contractsPrefix {
		return parts[2]
	}
	last := parts[len(parts)-1]
	if IsPDF(last) {
		last = last[:len(last)-len(".pdf")]
	}
	return last
}

// IsPDF reports whether key ends in .pdf, ignoring case.
func IsPDF(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".pdf")
}

// TextKey is where extracted text is stored in the text bucket.
func TextKey(contractID string) string {
	return "extracted-text/" + contractID + "/text.txt"
}

// JobMetadataKey is where extraction job metadata is stored.
func JobMetadataKey(contractID string) string {
	return "textract-jobs/" + contractID + "/metadata.json"
}

// LocalJobID names jobs served by the local extractor.
func LocalJobID(contractID string) string {
	return "free-extraction-" + contractID
}
