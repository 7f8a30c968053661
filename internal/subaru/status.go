package subaru

import (
	"fmt"
	"os"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// stepStatus is one row of the status report.
type stepStatus struct {
	Phase string
	Step  string
	Done  bool
}

// collectStatus reads the marker store for every step the orchestrator
// would run, in run order.
func collectStatus(o *Orchestrator) ([]stepStatus, error) {
	var rows []stepStatus
	for _, ph := range o.Phases() {
		for _, id := range phaseStepIDs(ph) {
			done, err := o.Runner.Store.Status(id)
			if err != nil {
				return nil, err
			}
			rows = append(rows, stepStatus{Phase: ph.Name, Step: id, Done: done})
		}
	}
	return rows, nil
}

// phaseStepIDs lists the step ids of a phase without invoking anything.
func phaseStepIDs(ph Phase) []string {
	if len(ph.Loop) > 0 {
		ids := make([]string, 0, len(ph.Loop))
		for _, id := range ph.Loop {
			ids = append(ids, "pkg-"+string(id))
		}
		return ids
	}
	ids := make([]string, 0, len(ph.Steps))
	for _, st := range ph.Steps {
		ids = append(ids, st.ID)
	}
	return ids
}

// ShowStatus renders the phase/step/marker table: an interactive tview
// table on a TTY, plain text otherwise (so it stays usable over a
// serial console or in a pipeline).
func ShowStatus(o *Orchestrator) error {
	rows, err := collectStatus(o)
	if err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		for _, r := range rows {
			state := "pending"
			if r.Done {
				state = "done"
			}
			fmt.Printf("%-12s %-24s %s\n", r.Phase, r.Step, state)
		}
		return nil
	}

	app := tview.NewApplication()
	table := tview.NewTable().SetBorders(false).SetFixed(1, 0)
	table.SetBorder(true)
	table.SetTitle(fmt.Sprintf(" subaru %s stage ", o.Env))

	for col, h := range []string{"PHASE", "STEP", "STATE"} {
		table.SetCell(0, col, tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
	for i, r := range rows {
		state := "pending"
		stateColor := tcell.ColorGray
		if r.Done {
			state = "done"
			stateColor = tcell.ColorGreen
		}
		table.SetCell(i+1, 0, tview.NewTableCell(r.Phase))
		table.SetCell(i+1, 1, tview.NewTableCell(r.Step))
		table.SetCell(i+1, 2, tview.NewTableCell(state).SetTextColor(stateColor))
	}

	table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	return app.SetRoot(table, true).Run()
}
