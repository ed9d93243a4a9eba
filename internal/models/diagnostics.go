package models

import (
	"strconv"
	"time"
)

// TransferIssue classifies a problem found while pairing transfer legs.
type TransferIssue string

const (
	IssueUnmatched   TransferIssue = "UNMATCHED"
	IssueAmbiguous   TransferIssue = "AMBIGUOUS"
	IssueInvalidLegs TransferIssue = "INVALID_LEGS"
	IssueFeeMismatch TransferIssue = "FEE_MISMATCH"
)

// TransferKey groups candidate legs of one transfer.
// Manual keys carry a MATCH: reference and ignore the timestamp.
type TransferKey struct {
	AssetID   int64
	At        int64 // UnixNano in UTC; 0 for manual keys
	Reference string
	Manual    bool
}

// String renders the key for diagnostics, e.g. "7|2024-03-01T10:00:00Z|tx-abc"
// or "7|MATCH:abc".
func (k TransferKey) String() string {
	asset := strconv.FormatInt(k.AssetID, 10)
	if k.Manual {
		return asset + "|" + k.Reference
	}
	return asset + "|" + time.Unix(0, k.At).UTC().Format(time.RFC3339Nano) + "|" + k.Reference
}

// TransferDiagnostic records one problematic transfer group.
type TransferDiagnostic struct {
	Key      string        `json:"key"`
	AssetID  int64         `json:"asset_id"`
	DateTime time.Time     `json:"date_time"`
	Issue    TransferIssue `json:"issue"`
	LegIDs   []int64       `json:"leg_ids"`
}
