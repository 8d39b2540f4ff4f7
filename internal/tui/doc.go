// Package tui renders a read-only live view of a crew run.
//
// The view subscribes to the progress broadcast and redraws one row per
// running worker. Results are listed as they arrive.
//
// Usage:
//
//	program, view := tui.NewLiveProgram(cwd, broadcast, cancel)
//	go func() {
//	    results := pool.Run(ctx, tasks)
//	    program.Send(tui.DoneMsg{Results: results})
//	}()
//	program.Run()
//
// Pressing q or Ctrl+C cancels the run through the supplied cancel func;
// the view stays up until DoneMsg arrives.
package tui
