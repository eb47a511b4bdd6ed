package broadcast

import (
	"strconv"

	"filegate/pkg/tgui"
)

// TextNoRecipients is what an empty audience renders as.
const TextNoRecipients = "No recipients."

// RenderProgress is the in-flight status line, HTML.
func RenderProgress(r Report) string {
	pct := 0.0
	if r.Total > 0 {
		pct = float64(r.Processed) / float64(r.Total)
	}
	return tgui.New().
		Title("📣", "Broadcasting ("+r.Mode+")").
		Line(tgui.Count(r.Processed)+" / "+tgui.Count(r.Total)+" processed ("+tgui.Percent(pct)+")").
		KV("Delivered", tgui.Count(r.Delivered)).
		KV("Blocked", tgui.Count(r.Blocked)).
		KV("Deactivated", tgui.Count(r.Deactivated)).
		KV("Failed", tgui.Count(r.Failed)).
		Build().Text
}

// RenderReport is the final summary, HTML.
func RenderReport(r Report) string {
	if r.Empty {
		return TextNoRecipients
	}
	title := "Broadcast finished"
	if r.Aborted {
		title = "Broadcast aborted"
	}
	b := tgui.New().
		Title("📣", title).
		KV("Total", tgui.Count(r.Total)).
		KV("Delivered", tgui.Count(r.Delivered)).
		KV("Blocked", tgui.Count(r.Blocked)).
		KV("Deactivated", tgui.Count(r.Deactivated)).
		KV("Failed", tgui.Count(r.Failed)).
		KV("Success", tgui.Percent(r.SuccessRatio()))
	if r.Mode == AutoDelete.String() && r.AutoDelete > 0 {
		b.KV("Auto-delete", tgui.Duration(r.AutoDelete))
	}
	if r.Aborted {
		b.KV("Processed", strconv.Itoa(r.Processed))
	}
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		b.KV("Took", tgui.Duration(r.FinishedAt.Sub(r.StartedAt)))
	}
	return b.Build().Text
}
