package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// Write encodes subtitle in the given format.
func Write(w io.Writer, subtitle *File, format Format) error {
	if subtitle == nil {
		return fmt.Errorf("subtitle data is empty")
	}

	writer := bufio.NewWriter(w)
	if format == FormatVTT {
		writeVTT(writer, subtitle)
	} else {
		writeSRT(writer, subtitle)
	}
	return writer.Flush()
}

func writeSRT(w *bufio.Writer, subtitle *File) {
	for _, line := range subtitle.Lines {
		fmt.Fprintf(w, "%d\n", line.Index)
		fmt.Fprintf(w, "%s --> %s\n", formatDuration(line.StartTime, ','), formatDuration(line.EndTime, ','))

		text := line.Text
		if line.Speaker != "" {
			text = line.Speaker + ": " + text
		}
		fmt.Fprintf(w, "%s\n\n", text)
	}
}

func writeVTT(w *bufio.Writer, subtitle *File) {
	w.WriteString("WEBVTT\n")
	if subtitle.Language != "" {
		fmt.Fprintf(w, "Language: %s\n", subtitle.Language)
	}
	w.WriteString("\n")

	for _, line := range subtitle.Lines {
		fmt.Fprintf(w, "%d\n", line.Index)
		fmt.Fprintf(w, "%s --> %s\n", formatDuration(line.StartTime, '.'), formatDuration(line.EndTime, '.'))

		text := line.Text
		if line.Speaker != "" {
			text = "<v " + line.Speaker + ">" + text
		}
		fmt.Fprintf(w, "%s\n\n", text)
	}
}

// formatDuration formats d as hh:mm:ss followed by sep and milliseconds.
func formatDuration(d time.Duration, sep byte) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, seconds, sep, milliseconds)
}
