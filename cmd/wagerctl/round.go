package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/xtding233/wager-backend/internal/bet"
	"github.com/xtding233/wager-backend/internal/round"
)

// RoundCmd previews the schedule of a round family.
func RoundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "round <family>",
		Short: "Show the current round and the outcome of the previous one",
		Args:  cobra.ExactArgs(1),
		RunE:  showRound,
	}
	cmd.Flags().Int64("at", 0, "unix milliseconds to evaluate at (default now)")
	cmd.Flags().Int64("id", 0, "show a closed round by id instead")
	return cmd
}

type roundOut struct {
	round.Round
	Phase   string      `json:"phase"`
	Outcome bet.Outcome `json:"outcome,omitempty"`
}

func showRound(cmd *cobra.Command, args []string) error {
	f, err := family(cmd, args[0])
	if err != nil {
		return err
	}
	g, ok := f.RoundGame()
	if !ok {
		return errors.Errorf("%s is a %s family, not a round family", f.Name, f.Mode)
	}
	now := time.Now()
	if at, _ := cmd.Flags().GetInt64("at"); at > 0 {
		now = time.UnixMilli(at)
	}

	if id, _ := cmd.Flags().GetInt64("id"); id > 0 {
		r := f.Schedule.ByID(id)
		if !r.IsClosed(now) {
			return errors.Errorf("round %d closes at %d; its outcome stays hidden until then", id, r.ClosesAt)
		}
		return printJSON(cmd.OutOrStdout(), roundOut{Round: r, Phase: r.Phase(now), Outcome: g.Resolve(id)})
	}

	cur := f.Schedule.At(now)
	prev := cur.Previous()
	return printJSON(cmd.OutOrStdout(), map[string]roundOut{
		"current":  {Round: cur, Phase: cur.Phase(now)},
		"previous": {Round: prev, Phase: prev.Phase(now), Outcome: g.Resolve(prev.ID)},
	})
}
