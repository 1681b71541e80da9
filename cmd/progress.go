package cmd

import "github.com/pterm/pterm"

// progresser displays a progress bar unless the output is quiet
type progresser struct {
	pbar *pterm.ProgressbarPrinter
}

func newProgresser(title string, total int) *progresser {
	if global.quiet || total == 0 {
		return &progresser{}
	}
	pbar, _ := pterm.DefaultProgressbar.WithTitle(title).WithTotal(total).Start()
	return &progresser{
		pbar: pbar,
	}
}

func (p *progresser) Increment() {
	if p.pbar == nil {
		return
	}
	p.pbar.Increment()
}

func (p *progresser) Stop() {
	if p.pbar == nil {
		return
	}
	_, _ = p.pbar.Stop()
}
