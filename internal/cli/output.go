package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

var (
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	dangerColor  = color.New(color.FgRed, color.Bold)
	subtleColor  = color.New(color.Faint)
	headingColor = color.New(color.Bold)
)

// colorStatus highlights SLA and assignment states.
func colorStatus(status string) string {
	switch status {
	case "ok", "assigned", "in_progress", "available", "done":
		return okColor.Sprint(status)
	case "warning", "unavailable":
		return warnColor.Sprint(status)
	case "breached", "on_leave", "cancelled":
		return dangerColor.Sprint(status)
	}
	return status
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return subtleColor.Sprint("-")
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatRemaining(seconds int64) string {
	if seconds <= 0 {
		return dangerColor.Sprint("overdue")
	}
	return (time.Duration(seconds) * time.Second).Round(time.Minute).String()
}

func printHeading(w io.Writer, title string) {
	fmt.Fprintln(w, headingColor.Sprint(title))
}
