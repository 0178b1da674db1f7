package om

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/canopy-network/generals/lib"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newTestConfig() builds a protocol config from a loyalty array
func newTestConfig(loyalty []bool, reporter int) lib.ProtocolConfig {
	return lib.ProtocolConfig{
		NumGenerals:    len(loyalty),
		Loyalty:        loyalty,
		ReporterId:     reporter,
		MaxBufferBytes: "64MiB",
	}
}

// runTestSession() sets up a session, runs every general in its own goroutine, broadcasts and waits for all of them
func runTestSession(t *testing.T, loyalty []bool, reporter, commander int, command Decision, m *lib.Metrics) (*Session, *Trace) {
	s, err := Setup(newTestConfig(loyalty, reporter), m, lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(s.Cleanup)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	for id := 0; id < len(loyalty); id++ {
		id := id
		g.Go(func() error {
			if e := s.General(gCtx, id); e != nil {
				return e
			}
			return nil
		})
	}
	trace, err := s.Broadcast(gCtx, command, commander)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
	require.Empty(t, s.Errors())
	return s, trace
}

// loyalty() reads 'L' as loyal and 'T' as traitor
func loyalty(s string) []bool {
	l, err := lib.ParseLoyalty(s)
	if err != nil {
		panic(err)
	}
	return l
}

// expectedLeaf() is the value a leaf must carry: the corruption of the most recent traitor on the path, or the
// commander's value if every relayer was loyal
func expectedLeaf(e TraceEntry, traitors []bool, commanderValue Decision) Decision {
	for _, id := range e.Path[:len(e.Path)-1] {
		if traitors[id] {
			return corrupted(id)
		}
	}
	return commanderValue
}

// leafPaths() is the number of relay paths that reach the reporter at tier 0
func leafPaths(nGenerals, nTraitors, reporter, commander int) int {
	if reporter == commander {
		return 0
	}
	n := 1
	for i := 0; i < nTraitors; i++ {
		n *= nGenerals - 2 - i
	}
	return n
}

func TestSetup(t *testing.T) {
	tests := []struct {
		name      string
		detail    string
		config    lib.ProtocolConfig
		errModule lib.ErrorModule
		errCode   lib.ErrorCode
		nTraitors int
	}{
		{
			name:      "one traitor in four",
			detail:    `4 > 3*1 holds`,
			config:    newTestConfig(loyalty("LLLT"), 0),
			nTraitors: 1,
		},
		{
			name:      "two traitors in seven",
			detail:    `7 > 3*2 holds`,
			config:    newTestConfig(loyalty("TLLLTLL"), 6),
			nTraitors: 2,
		},
		{
			name:      "lone loyal general",
			detail:    `OM(0) with a single general`,
			config:    newTestConfig(loyalty("L"), 0),
			nTraitors: 0,
		},
		{
			name:      "one traitor in three",
			detail:    `3 > 3*1 fails`,
			config:    newTestConfig(loyalty("LLT"), 0),
			errModule: lib.SetupModule,
			errCode:   lib.CodeFaultToleranceBound,
		},
		{
			name:      "two traitors in six",
			detail:    `6 > 3*2 fails`,
			config:    newTestConfig(loyalty("LTLLTL"), 0),
			errModule: lib.SetupModule,
			errCode:   lib.CodeFaultToleranceBound,
		},
		{
			name:      "lone traitor",
			detail:    `1 > 3*1 fails`,
			config:    newTestConfig(loyalty("T"), 0),
			errModule: lib.SetupModule,
			errCode:   lib.CodeFaultToleranceBound,
		},
		{
			name:      "no generals",
			detail:    `an empty run is rejected`,
			config:    lib.ProtocolConfig{},
			errModule: lib.SetupModule,
			errCode:   lib.CodeNoGenerals,
		},
		{
			name:      "loyalty length",
			detail:    `the loyalty array must cover every general`,
			config:    lib.ProtocolConfig{NumGenerals: 5, Loyalty: loyalty("LLLL")},
			errModule: lib.SetupModule,
			errCode:   lib.CodeLoyaltyLength,
		},
		{
			name:      "reporter out of range",
			detail:    `the reporter must be one of the generals`,
			config:    newTestConfig(loyalty("LLLT"), 4),
			errModule: lib.SetupModule,
			errCode:   lib.CodeInvalidReporter,
		},
		{
			name:   "buffer budget",
			detail: `OM(2) with seven generals needs more than a hundred bytes of channel buffers`,
			config: lib.ProtocolConfig{
				NumGenerals:    7,
				Loyalty:        loyalty("TLLLTLL"),
				MaxBufferBytes: "100B",
			},
			errModule: lib.SetupModule,
			errCode:   lib.CodeAllocationBudget,
		},
		{
			name:   "unbudgeted huge hierarchy",
			detail: `100 generals with 33 traitors satisfy the bound but OM(33) can't fit in the default budget`,
			config: lib.ProtocolConfig{
				NumGenerals: 100,
				Loyalty:     loyalty(strings.Repeat("T", 33) + strings.Repeat("L", 67)),
			},
			errModule: lib.SetupModule,
			errCode:   lib.CodeAllocationBudget,
		},
		{
			name:   "bad budget",
			detail: `the budget must parse as a size`,
			config: lib.ProtocolConfig{
				NumGenerals:    4,
				Loyalty:        loyalty("LLLL"),
				MaxBufferBytes: "lots",
			},
			errModule: lib.MainModule,
			errCode:   lib.CodeParseSize,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := lib.NewMetrics(lib.DefaultMetricsConfig(), lib.NewNullLogger())
			s, err := Setup(test.config, m, lib.NewNullLogger())
			if test.errCode != 0 {
				require.Error(t, err)
				require.Nil(t, s)
				require.Equal(t, test.errModule, err.Module())
				require.Equal(t, test.errCode, err.Code())
				require.Equal(t, float64(1), testutil.ToFloat64(m.SetupFailures))
				require.Equal(t, float64(0), testutil.ToFloat64(m.ChannelsAllocated))
				return
			}
			require.NoError(t, err)
			defer s.Cleanup()
			require.Equal(t, test.nTraitors, s.NumTraitors())
			channels, bytes := HierarchyBytes(test.config.NumGenerals, test.nTraitors)
			require.Equal(t, float64(channels), testutil.ToFloat64(m.ChannelsAllocated))
			require.Equal(t, float64(bytes), testutil.ToFloat64(m.BufferedBytes))
			for id, loyal := range test.config.Loyalty {
				require.Equal(t, !loyal, s.IsTraitor(id))
			}
		})
	}
}

func TestLoyalCommanderAgreement(t *testing.T) {
	tests := []struct {
		name      string
		detail    string
		loyalty   string
		reporter  int
		commander int
		command   Decision
	}{
		{
			name:      "traitor relays attack",
			detail:    `general 3 is odd so its corruption happens to agree with the command`,
			loyalty:   "LLLT",
			reporter:  1,
			commander: 0,
			command:   Attack,
		},
		{
			name:      "traitor relays retreat",
			detail:    `general 2 is even so it flips attack to retreat on every path it ends`,
			loyalty:   "LLTL",
			reporter:  1,
			commander: 0,
			command:   Attack,
		},
		{
			name:      "retreat command",
			detail:    `general 3 flips retreat to attack`,
			loyalty:   "LLLT",
			reporter:  2,
			commander: 1,
			command:   Retreat,
		},
		{
			name:      "two traitors",
			detail:    `OM(2) with seven generals`,
			loyalty:   "LLTLLTL",
			reporter:  6,
			commander: 0,
			command:   Attack,
		},
		{
			name:      "no traitors",
			detail:    `OM(0), the reporter takes the commander's word`,
			loyalty:   "LLL",
			reporter:  2,
			commander: 0,
			command:   Retreat,
		},
		{
			name:      "three traitors",
			detail:    `OM(3) with ten generals`,
			loyalty:   "LTLLTLLTLL",
			reporter:  9,
			commander: 3,
			command:   Attack,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l := loyalty(test.loyalty)
			s, trace := runTestSession(t, l, test.reporter, test.commander, test.command, nil)
			entries := trace.Entries()
			require.Len(t, entries, leafPaths(len(l), s.NumTraitors(), test.reporter, test.commander))
			traitors := make([]bool, len(l))
			for i := range l {
				traitors[i] = !l[i]
			}
			for _, e := range entries {
				require.Len(t, e.Path, s.NumTraitors()+1)
				require.Equal(t, test.commander, e.Commander())
				require.NotContains(t, e.Path[:len(e.Path)-1], test.reporter)
				require.Equal(t, expectedLeaf(e, traitors, test.command), e.Value, e.String())
				// every loyal relay path carries the command
				if expectedLeaf(e, traitors, Unknown) == Unknown {
					require.Equal(t, test.command, e.Value)
				}
			}
		})
	}
}

func TestTraitorCommanderAgreement(t *testing.T) {
	tests := []struct {
		name      string
		detail    string
		loyalty   string
		reporter  int
		commander int
	}{
		{
			name:      "four generals",
			detail:    `the commander is the only traitor`,
			loyalty:   "TLLL",
			reporter:  1,
			commander: 0,
		},
		{
			name:      "seven generals",
			detail:    `a traitor commander and a traitor lieutenant`,
			loyalty:   "LLTLLTL",
			reporter:  0,
			commander: 2,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l := loyalty(test.loyalty)
			s, trace := runTestSession(t, l, test.reporter, test.commander, Attack, nil)
			entries := trace.Entries()
			require.Len(t, entries, leafPaths(len(l), s.NumTraitors(), test.reporter, test.commander))
			traitors := make([]bool, len(l))
			for i := range l {
				traitors[i] = !l[i]
			}
			// what each lieutenant relayed through purely loyal paths must be the same everywhere
			byLieutenant := map[int]Decision{}
			for _, e := range entries {
				if v := expectedLeaf(e, traitors, Unknown); v != Unknown {
					require.Equal(t, v, e.Value, e.String())
					continue
				}
				require.True(t, e.Value.Valid())
				if seen, ok := byLieutenant[e.Lieutenant()]; ok {
					require.Equal(t, seen, e.Value, e.String())
				}
				byLieutenant[e.Lieutenant()] = e.Value
			}
		})
	}
}

func TestChannelSizing(t *testing.T) {
	tests := []struct {
		name    string
		loyalty string
	}{
		{name: "OM(0)", loyalty: "LL"},
		{name: "OM(1) minimum", loyalty: "LLLT"},
		{name: "OM(1) roomy", loyalty: "LTLLLL"},
		{name: "OM(2) minimum", loyalty: "TLLTLLL"},
		{name: "OM(2) roomy", loyalty: "LLTLLLTLL"},
		{name: "OM(3) minimum", loyalty: "TLLTLLTLLL"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l := loyalty(test.loyalty)
			m := lib.NewMetrics(lib.DefaultMetricsConfig(), lib.NewNullLogger())
			s, _ := runTestSession(t, l, 1, 0, Attack, m)
			n, top := len(l), s.NumTraitors()
			relayed := 0
			for tier := top; tier >= 0; tier-- {
				for _, c := range s.Hierarchy().Tier(tier) {
					relayed += c.Sent()
					require.LessOrEqual(t, c.Sent(), c.Cap())
					if tier == top {
						require.Equal(t, n, c.Sent())
						continue
					}
					// a channel below the top is either unused or filled to exactly its capacity
					require.Contains(t, []int{0, c.Cap()}, c.Sent())
				}
			}
			total := 0.0
			for tier := top; tier >= 0; tier-- {
				total += testutil.ToFloat64(m.FramesRelayed.WithLabelValues(strconv.Itoa(tier)))
			}
			require.Equal(t, float64(relayed), total)
			require.Equal(t, float64(0), testutil.ToFloat64(m.ProtocolErrors))
			require.Equal(t, float64(1), testutil.ToFloat64(m.Runs))
		})
	}
}

func TestExampleScenarios(t *testing.T) {
	t.Run("loyal commander reporting to itself", func(t *testing.T) {
		// the commander is on every relay path, so it never receives a tier-0 value
		_, trace := runTestSession(t, loyalty("LLLT"), 0, 0, Attack, nil)
		require.Equal(t, 0, trace.Len())
		require.Equal(t, "", trace.String())
	})
	t.Run("loyal commander", func(t *testing.T) {
		_, trace := runTestSession(t, loyalty("LLLT"), 1, 0, Attack, nil)
		require.ElementsMatch(t, []string{"2:0:A", "3:0:A"}, tokens(trace))
	})
	t.Run("traitor commander reporting to itself", func(t *testing.T) {
		_, trace := runTestSession(t, loyalty("TLLL"), 0, 0, Attack, nil)
		require.Equal(t, 0, trace.Len())
	})
	t.Run("traitor commander", func(t *testing.T) {
		_, trace := runTestSession(t, loyalty("TLLL"), 1, 0, Attack, nil)
		// generals 2 and 3 relay faithfully whatever half of the equivocation they received
		require.Len(t, trace.Entries(), 2)
		for _, e := range trace.Entries() {
			require.Contains(t, []int{2, 3}, e.Lieutenant())
			require.True(t, e.Value.Valid())
		}
	})
}

func TestCleanup(t *testing.T) {
	m := lib.NewMetrics(lib.DefaultMetricsConfig(), lib.NewNullLogger())
	s, err := Setup(newTestConfig(loyalty("LLLT"), 1), m, lib.NewNullLogger())
	require.NoError(t, err)
	h := s.Hierarchy()
	s.Cleanup()
	require.True(t, s.Closed())
	require.Equal(t, float64(0), testutil.ToFloat64(m.ChannelsAllocated))
	// the released channels refuse traffic
	for tier := 0; tier <= 1; tier++ {
		require.Nil(t, h.Tier(tier))
	}
	// a second cleanup and a cleanup of a failed setup are harmless
	require.NotPanics(t, s.Cleanup)
	var failed *Session
	require.NotPanics(t, failed.Cleanup)
	// a closed session refuses to run
	_, err = s.Broadcast(context.Background(), Attack, 0)
	require.Equal(t, lib.CodeSessionClosed, err.Code())
	require.Equal(t, lib.CodeSessionClosed, s.General(context.Background(), 0).Code())
	// a fresh setup gets fresh resources
	_, trace := runTestSession(t, loyalty("LLLT"), 1, 0, Retreat, m)
	require.Equal(t, 2, trace.Len())
}

func TestCleanupWakesBlockedGeneral(t *testing.T) {
	s, err := Setup(newTestConfig(loyalty("LLLT"), 1), nil, lib.NewNullLogger())
	require.NoError(t, err)
	// general 1 waits for a commander frame that never comes
	result := make(chan lib.ErrorI, 1)
	go func() { result <- s.General(context.Background(), 1) }()
	time.Sleep(20 * time.Millisecond)
	s.Cleanup()
	select {
	case err = <-result:
		require.Equal(t, lib.CodeSessionClosed, err.Code())
	case <-time.After(testTimeout):
		t.Fatal("timeout")
	}
}

func TestBroadcastEquivocation(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		loyalty  string
		command  Decision
		expected []Decision
	}{
		{
			name:     "loyal commander",
			detail:   `every general gets the command`,
			loyalty:  "LLLT",
			command:  Retreat,
			expected: []Decision{Retreat, Retreat, Retreat, Retreat},
		},
		{
			name:     "traitor commander",
			detail:   `values alternate by enqueue index starting with retreat, whatever the command`,
			loyalty:  "TLLL",
			command:  Attack,
			expected: []Decision{Retreat, Attack, Retreat, Attack},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s, err := Setup(newTestConfig(loyalty(test.loyalty), 1), nil, lib.NewNullLogger())
			require.NoError(t, err)
			defer s.Cleanup()
			// without generals the frames stay on the top channel in enqueue order
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = s.Broadcast(ctx, test.command, 0)
			require.Equal(t, lib.CodeContextDone, err.Code())
			top, err := s.Hierarchy().Channel(s.NumTraitors(), 0)
			require.NoError(t, err)
			require.Equal(t, len(test.expected), top.Len())
			got := make([]Decision, 0, len(test.expected))
			for range test.expected {
				msg, e := top.Get(context.Background())
				require.NoError(t, e)
				require.Equal(t, []int{0}, msg.Relayers())
				got = append(got, msg.Value)
			}
			require.Equal(t, test.expected, got)
		})
	}
}

func TestBroadcastValidation(t *testing.T) {
	s, err := Setup(newTestConfig(loyalty("LLLT"), 1), nil, lib.NewNullLogger())
	require.NoError(t, err)
	defer s.Cleanup()
	ctx := context.Background()
	_, err = s.Broadcast(ctx, Unknown, 0)
	require.Equal(t, lib.CodeInvalidCommand, err.Code())
	_, err = s.Broadcast(ctx, Attack, 4)
	require.Equal(t, lib.CodeInvalidCommander, err.Code())
	require.Equal(t, lib.CodeInvalidGeneral, s.General(ctx, -1).Code())
}

func TestBroadcastOnce(t *testing.T) {
	s, _ := runTestSession(t, loyalty("LLLT"), 1, 0, Attack, nil)
	_, err := s.Broadcast(context.Background(), Attack, 0)
	require.Equal(t, lib.CodeSessionUsed, err.Code())
}

func TestBroadcastCancelled(t *testing.T) {
	s, err := Setup(newTestConfig(loyalty("LLLT"), 1), nil, lib.NewNullLogger())
	require.NoError(t, err)
	defer s.Cleanup()
	// no general goroutines run, so completion never comes
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Broadcast(ctx, Attack, 0)
	require.Equal(t, lib.CodeContextDone, err.Code())
}

func tokens(trace *Trace) (out []string) {
	for _, e := range trace.Entries() {
		out = append(out, e.String())
	}
	return
}
