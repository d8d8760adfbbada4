package bot

import (
	"fmt"
	"strings"

	"clip_bot/internal/model"
)

// FormatClipList formats journal entries for the history command.
func FormatClipList(records []model.ClipRecord) string {
	if len(records) == 0 {
		return "No clips yet."
	}
	var b strings.Builder
	b.WriteString("Recent clips:\n")
	for _, r := range records {
		fmt.Fprintf(&b, "\n#%d %s [%s]\n", r.ID, titleOrURL(r), r.Outcome)
		fmt.Fprintf(&b, "   %s\n", r.URL)
		fmt.Fprintf(&b, "   -> %s\n", r.Path)
		fmt.Fprintf(&b, "   %s", r.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
		if r.MessageID != "" {
			fmt.Fprintf(&b, "  (message %s)", r.MessageID)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatClip formats a single clip written by the clip command.
func FormatClip(r *model.ClipRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", titleOrURL(*r), r.Outcome)
	fmt.Fprintf(&b, "Saved to: %s\n", r.Path)
	if r.ResolvedURL != "" && r.ResolvedURL != r.URL {
		fmt.Fprintf(&b, "Resolved: %s\n", r.ResolvedURL)
	}
	return b.String()
}

// FormatCheck formats the result of the check command.
func FormatCheck(vaultURL string, reachable bool, schema int64) string {
	status := "reachable"
	if !reachable {
		status = "UNREACHABLE"
	}
	return fmt.Sprintf("Vault: %s (%s)\nDatabase schema: version %d\n", vaultURL, status, schema)
}

func titleOrURL(r model.ClipRecord) string {
	if r.Title != "" {
		return r.Title
	}
	return r.URL
}
