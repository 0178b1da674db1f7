package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/canopy-network/generals/lib"
	"github.com/canopy-network/generals/om"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/gonum/stat"
)

var (
	loyaltyFlag   string
	reporterFlag  int
	commanderFlag int
	commandFlag   string
	timeoutFlag   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run one broadcast and print the reporter's trace",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := applyFlags(cmd, config)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if timeoutFlag > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeoutFlag)
			defer cancel()
		}
		metrics := lib.NewMetrics(c.MetricsConfig, l)
		metrics.Start()
		defer metrics.Stop()
		report, err := Run(ctx, c.ProtocolConfig, metrics, l)
		if err != nil {
			return err
		}
		report.Print(os.Stdout)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&loyaltyFlag, "loyalty", "", "loyalty per general, e.g. 'LLLT' or 'true,true,true,false'")
	runCmd.Flags().IntVar(&reporterFlag, "reporter", 0, "id of the reporting general")
	runCmd.Flags().IntVar(&commanderFlag, "commander", 0, "id of the commanding general")
	runCmd.Flags().StringVar(&commandFlag, "command", "", "'attack' or 'retreat'")
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "abort the run after this long, 0 waits forever")
}

// applyFlags() overrides the file configuration with any flags set on the command line
func applyFlags(cmd *cobra.Command, c lib.Config) (lib.Config, lib.ErrorI) {
	if cmd.Flags().Changed("loyalty") {
		loyalty, err := lib.ParseLoyalty(loyaltyFlag)
		if err != nil {
			return c, err
		}
		c.Loyalty, c.NumGenerals = loyalty, len(loyalty)
	}
	if cmd.Flags().Changed("reporter") {
		c.ReporterId = reporterFlag
	}
	if cmd.Flags().Changed("commander") {
		c.CommanderId = commanderFlag
	}
	if cmd.Flags().Changed("command") {
		c.Command = commandFlag
	}
	return c, nil
}

// Report summarizes one run for humans
type Report struct {
	NumGenerals   int
	NumTraitors   int
	CommanderId   int
	ReporterId    int
	Command       om.Decision
	Trace         []om.TraceEntry
	Values        []om.Decision
	TraceLine     string
	FrameWidth    int
	FramesRelayed int
	Channels      int
	Duration      time.Duration
}

// AttackShare() is the fraction of trace entries carrying Attack, a description of the trace rather than a decision
func (r *Report) AttackShare() float64 {
	if len(r.Values) == 0 {
		return 0
	}
	x := make([]float64, len(r.Values))
	for i, v := range r.Values {
		if v == om.Attack {
			x[i] = 1
		}
	}
	return stat.Mean(x, nil)
}

// Print() writes the trace line followed by a summary
func (r *Report) Print(w io.Writer) {
	p := message.NewPrinter(language.English)
	fmt.Fprintln(w, r.TraceLine)
	p.Fprintf(w, "generals: %d traitors: %d commander: %d reporter: %d command: %s\n",
		r.NumGenerals, r.NumTraitors, r.CommanderId, r.ReporterId, r.Command.Name())
	p.Fprintf(w, "trace entries: %d attack share: %.2f\n", len(r.Trace), r.AttackShare())
	p.Fprintf(w, "frames relayed: %d of %d bytes over %d channels in %v\n", r.FramesRelayed, r.FrameWidth, r.Channels, r.Duration)
}

// Run() sets up a session, starts one goroutine per general, broadcasts and tears everything down
func Run(ctx context.Context, c lib.ProtocolConfig, m *lib.Metrics, l lib.LoggerI) (*Report, lib.ErrorI) {
	command, err := om.ParseDecision(c.Command)
	if err != nil {
		return nil, err
	}
	s, err := om.Setup(c, m, l)
	if err != nil {
		return nil, err
	}
	defer s.Cleanup()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	for id := 0; id < s.NumGenerals(); id++ {
		id := id
		g.Go(func() error {
			if e := s.General(gCtx, id); e != nil {
				return e
			}
			return nil
		})
	}
	start := time.Now()
	trace, err := s.Broadcast(gCtx, command, c.CommanderId)
	if err != nil {
		// unblock any general still waiting on a frame that will never come
		cancel()
		_ = g.Wait()
		return nil, err
	}
	if e := g.Wait(); e != nil {
		if ei, ok := e.(lib.ErrorI); ok {
			return nil, ei
		}
		return nil, lib.NewError(lib.NoCode, lib.MainModule, e.Error())
	}
	report := &Report{
		NumGenerals: s.NumGenerals(),
		NumTraitors: s.NumTraitors(),
		CommanderId: c.CommanderId,
		ReporterId:  s.ReporterId(),
		Command:     command,
		Trace:       trace.Entries(),
		Values:      trace.Values(),
		TraceLine:   trace.String(),
		FrameWidth:  s.FrameWidth(),
		Duration:    time.Since(start),
	}
	for t := s.NumTraitors(); t >= 0; t-- {
		for _, ch := range s.Hierarchy().Tier(t) {
			report.FramesRelayed += ch.Sent()
			report.Channels++
		}
	}
	return report, nil
}
