// Package refkey builds and parses the canonical string identifiers used to
// correlate a Task with its external forge issue and sheet record.
//
// Forge issue key format: {owner}/{repo}#{number}
// Sheet record key format: {appToken}:{tableId}:{recordId}
//
// These keys exist so a Mapping's external references can be compared,
// logged, and looked up without reconstructing structs at every call site.
package refkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for ref-key parsing.
var (
	ErrForgeKeyMissingHash  = errors.New("refkey: missing '#' delimiter in forge issue key")
	ErrForgeKeyMissingSlash = errors.New("refkey: missing '/' delimiter in forge issue key")
	ErrForgeKeyBadNumber    = errors.New("refkey: issue number is not numeric")
	ErrSheetKeyMissingParts = errors.New("refkey: sheet record key requires three ':'-separated parts")
)

// ForgeIssueKey builds the canonical "{owner}/{repo}#{number}" key.
func ForgeIssueKey(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// ParseForgeIssueKey splits a canonical forge issue key back into its repo
// ("owner/repo") and issue number.
func ParseForgeIssueKey(key string) (repo string, number int, err error) {
	hashIdx := strings.LastIndex(key, "#")
	if hashIdx == -1 {
		return "", 0, ErrForgeKeyMissingHash
	}

	repo = key[:hashIdx]
	if !strings.Contains(repo, "/") {
		return "", 0, ErrForgeKeyMissingSlash
	}

	number, err = strconv.Atoi(key[hashIdx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrForgeKeyBadNumber, key[hashIdx+1:])
	}

	return repo, number, nil
}

// SheetRecordKey builds the canonical "{appToken}:{tableId}:{recordId}" key.
func SheetRecordKey(appToken, tableID, recordID string) string {
	return strings.Join([]string{appToken, tableID, recordID}, ":")
}

// ParseSheetRecordKey splits a canonical sheet record key back into its
// appToken, tableId, and recordId components.
func ParseSheetRecordKey(key string) (appToken, tableID, recordID string, err error) {
	parts := strings.SplitN(key, ":", 3) //nolint:mnd // three fixed components
	if len(parts) != 3 {
		return "", "", "", ErrSheetKeyMissingParts
	}

	return parts[0], parts[1], parts[2], nil
}

// SheetTableKey builds the canonical "{appToken}:{tableId}" key used by the
// sheet table registry.
func SheetTableKey(appToken, tableID string) string {
	return appToken + ":" + tableID
}
