package refkey

import (
	"fmt"
	"strings"
)

const (
	titlePrefixOpen  = "[AUTO][task:"
	titlePrefixClose = "] "
)

// FormatTitle prepends the deterministic "[AUTO][task:<taskId>]" marker to a
// forge issue title created from a Task. The marker lets a dispatcher
// retry-after-crash find the issue it already created by title lookup
// instead of by mapping reference, before the mapping was ever persisted.
func FormatTitle(taskID, title string) string {
	return titlePrefixOpen + taskID + titlePrefixClose + title
}

// StripTitle removes the "[AUTO][task:<taskId>]" marker from a forge issue
// title, returning the bare title a Task.Title should hold. If the title
// carries no marker it is returned unchanged.
func StripTitle(title string) string {
	_, bare, ok := ParseTitle(title)
	if !ok {
		return title
	}

	return bare
}

// ParseTitle extracts the taskId and bare title from a marked forge issue
// title. ok is false if the title carries no "[AUTO][task:...]" marker, in
// which case taskID and bare are both zero-valued.
func ParseTitle(title string) (taskID, bare string, ok bool) {
	if !strings.HasPrefix(title, titlePrefixOpen) {
		return "", "", false
	}

	rest := title[len(titlePrefixOpen):]

	closeIdx := strings.Index(rest, titlePrefixClose)
	if closeIdx == -1 {
		return "", "", false
	}

	return rest[:closeIdx], rest[closeIdx+len(titlePrefixClose):], true
}

// AutoTitleSearchTerm returns the substring a forge search query should
// match to find the issue auto-created for a given task, regardless of its
// bare title.
func AutoTitleSearchTerm(taskID string) string {
	return fmt.Sprintf("%s%s%s", titlePrefixOpen, taskID, titlePrefixClose)
}
