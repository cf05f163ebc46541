package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/usernamenenad/bft-benor/core"
	"github.com/usernamenenad/bft-benor/impl/benor"
)

var ErrDisagreement = errors.New("honest nodes decided different values")

// report prints the final states to w and checks agreement among honest deciders.
func report(w io.Writer, states []benor.NodeState, faulty map[core.NodeId]bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFAULTY\tKILLED\tX\tDECIDED\tK")

	var decided []benor.Value
	for i, st := range states {
		fmt.Fprintf(tw, "%d\t%t\t%t\t%s\t%s\t%s\n", i, faulty[core.NodeId(i)], st.Killed,
			orNull(st.X), orNull(st.Decided), orNull(st.K))

		if !faulty[core.NodeId(i)] && st.Decided != nil && *st.Decided && st.X != nil {
			decided = append(decided, *st.X)
		}
	}
	tw.Flush()

	for _, v := range decided[min(1, len(decided)):] {
		if v != decided[0] {
			return ErrDisagreement
		}
	}

	fmt.Fprintf(w, "decided: %d of %d honest nodes, value %s\n",
		len(decided), len(states)-len(faulty), benor.TallyMajority(decided))
	return nil
}

func orNull[T any](p *T) string {
	if p == nil {
		return "null"
	}
	return fmt.Sprint(*p)
}
