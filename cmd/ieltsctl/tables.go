package main

import (
	"fmt"
	"io"
	"strconv"

	"ieltsadmin/internal/content"
	"ieltsadmin/internal/exam"
	"ieltsadmin/internal/roster"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

func renderTracks(w io.Writer, items []content.Track) {
	if len(items) == 0 {
		color.New(color.FgYellow).Fprintln(w, "no tracks found")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Module", "Title", "Sections", "Questions", "Audio", "Status"})
	for _, t := range items {
		audio := "-"
		if t.AudioDurationSecs != nil {
			audio = formatDuration(*t.AudioDurationSecs)
		}
		table.Append([]string{
			strconv.FormatInt(t.ID, 10),
			t.Module,
			t.Title,
			strconv.Itoa(t.SectionCount),
			strconv.Itoa(t.QuestionCount),
			audio,
			publishedLabel(t.IsPublished),
		})
	}
	table.Render()
}

func renderExams(w io.Writer, items []exam.Exam) {
	if len(items) == 0 {
		color.New(color.FgYellow).Fprintln(w, "no exams found")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Title", "L/R/W tracks", "Minutes", "Assigned", "Attempts", "Status"})
	for _, e := range items {
		table.Append([]string{
			strconv.FormatInt(e.ID, 10),
			e.Title,
			fmt.Sprintf("%s/%s/%s", idOrDash(e.ListeningTrackID), idOrDash(e.ReadingTrackID), idOrDash(e.WritingTrackID)),
			fmt.Sprintf("%d/%d/%d", e.ListeningMinutes, e.ReadingMinutes, e.WritingMinutes),
			strconv.Itoa(e.AssignedCount),
			strconv.Itoa(e.AttemptCount),
			publishedLabel(e.IsPublished),
		})
	}
	table.Render()
}

func renderImport(w io.Writer, r *roster.ImportReport) {
	summary := fmt.Sprintf("%d rows, %d imported, %d failed", r.TotalRows, r.SuccessRows, r.FailedRows)
	if r.FailedRows == 0 {
		color.New(color.FgGreen).Fprintln(w, summary)
		return
	}
	color.New(color.FgYellow).Fprintln(w, summary)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Row", "Email", "Error"})
	for _, e := range r.Errors {
		table.Append([]string{strconv.Itoa(e.Row), e.Email, e.Error})
	}
	table.Render()
}

func publishedLabel(published bool) string {
	if published {
		return "published"
	}
	return "draft"
}

func idOrDash(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func formatDuration(secs int) string {
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
