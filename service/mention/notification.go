package mention

import "fmt"

// FormatNotification renders the text of a mention notification. A single new mention names
// the poster.
func FormatNotification(total int, posterName string) string {
	if total > 1 || posterName == "" {
		return fmt.Sprintf("You have %d new activity mentions", total)
	}
	return fmt.Sprintf("%s mentioned you in an activity update", posterName)
}
