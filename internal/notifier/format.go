package notifier

import (
	"subwatch/internal/record"
	"subwatch/pkg/tgui"
)

// problem titles longer than this are cut so one event never needs splitting
const maxProblemName = 200

// Format renders e as Telegram HTML.
func Format(e Event) string {
	name := e.AccountName
	if name == "" {
		name = record.UnknownName
	}
	return tgui.Lines(
		tgui.B(name)+tgui.Esc(" ("+e.Account+") solved a problem"),
		tgui.Code(e.Problem)+" "+tgui.Esc(tgui.Trunc(e.ProblemName, maxProblemName)),
		tgui.Esc("difficulty: ")+tgui.I(e.Difficulty),
		tgui.Esc("at "+e.PostDate),
	).String()
}
