package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"anchorage/internal/anchoring/models"
	"anchorage/internal/ledger"
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	cyan    = color.New(color.FgCyan).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	stamped = time.RFC3339
)

func stageLabel(stage models.FreezeStatus) string {
	switch stage {
	case models.StatusMintedOnchain:
		return green(string(stage))
	case models.StatusMinting:
		return yellow(string(stage))
	case models.StatusFrozenOffchain:
		return cyan(string(stage))
	default:
		return faint(string(stage))
	}
}

func yesNo(ok bool) string {
	if ok {
		return green("yes")
	}
	return red("no")
}

func renderStatus(w io.Writer, st *models.ImmutabilityStatus) {
	fmt.Fprintf(w, "%s %s/%s\n", bold("entity"), st.EntityType, st.EntityID)
	fmt.Fprintf(w, "  stage:       %s\n", stageLabel(st.CurrentStage))
	if st.Freeze != nil {
		fmt.Fprintf(w, "  freeze:      %s (hash %s)\n", st.Freeze.ID, st.Freeze.FreezeHash)
		fmt.Fprintf(w, "  frozen at:   %s\n", st.Freeze.FrozenAt.Format(stamped))
		fmt.Fprintf(w, "  mintable at: %s\n", st.Freeze.MinMintDate.Format(stamped))
	}
	if st.Mint != nil {
		fmt.Fprintf(w, "  tx:          %s (block %d)\n", st.Mint.TransactionHash, st.Mint.BlockNumber)
	}
	if st.CurrentStage == models.StatusMutable {
		fmt.Fprintf(w, "  can freeze:  %s\n", yesNo(st.CanFreeze))
		renderBlockers(w, st.FreezeBlockers)
	}
	if st.CurrentStage == models.StatusFrozenOffchain || st.CurrentStage == models.StatusMinting {
		fmt.Fprintf(w, "  can mint:    %s\n", yesNo(st.CanMint))
		if st.DaysUntilMintable > 0 {
			fmt.Fprintf(w, "  days left:   %d\n", st.DaysUntilMintable)
		}
		renderBlockers(w, st.MintBlockers)
	}
	for _, inc := range st.Inconsistencies {
		fmt.Fprintf(w, "  %s %s\n", red("inconsistent:"), inc)
	}
}

func renderBlockers(w io.Writer, blockers []string) {
	for _, b := range blockers {
		fmt.Fprintf(w, "    - %s\n", yellow(b))
	}
}

func renderFreeze(w io.Writer, res *models.FreezeResult) {
	fmt.Fprintf(w, "%s %s/%s\n", green("frozen"), res.Record.EntityType, res.Record.EntityID)
	fmt.Fprintf(w, "  freeze id:   %s\n", res.Record.ID)
	fmt.Fprintf(w, "  hash:        %s\n", res.Record.FreezeHash)
	fmt.Fprintf(w, "  mintable at: %s\n", res.MinMintDate.Format(stamped))
}

func renderMint(w io.Writer, res *models.MintResult) {
	label := green("minted")
	if res.Recovered {
		label = yellow("minted (adopted existing anchor)")
	}
	fmt.Fprintf(w, "%s %s/%s\n", label, res.Freeze.EntityType, res.Freeze.EntityID)
	fmt.Fprintf(w, "  tx:          %s\n", res.Mint.TransactionHash)
	fmt.Fprintf(w, "  block:       %d\n", res.Mint.BlockNumber)
	fmt.Fprintf(w, "  cost (wei):  %s\n", res.Mint.Cost.TotalWei)
}

func renderAnchor(w io.Writer, freezeHash string, info ledger.AnchorInfo) {
	if !info.Exists {
		fmt.Fprintf(w, "%s no anchor for %s\n", red("missing"), freezeHash)
		return
	}
	fmt.Fprintf(w, "%s %s\n", green("anchored"), freezeHash)
	fmt.Fprintf(w, "  tx:          %s\n", info.TxHash)
	if info.BlockNumber != nil {
		fmt.Fprintf(w, "  block:       %d\n", *info.BlockNumber)
	}
	if info.Timestamp != nil {
		fmt.Fprintf(w, "  timestamp:   %s\n", info.Timestamp.Format(stamped))
	}
	if info.Submitter != "" {
		fmt.Fprintf(w, "  submitter:   %s\n", info.Submitter)
	}
}

func renderReconcile(w io.Writer, r *models.ReconcileReport) {
	fmt.Fprintf(w, "%s scanned %d\n", bold("reconcile"), r.Scanned)
	section := func(name string, paint func(...any) string, keys []string) {
		if len(keys) == 0 {
			return
		}
		fmt.Fprintf(w, "  %s %s\n", paint(name+":"), strings.Join(keys, ", "))
	}
	section("recovered", green, r.Recovered)
	section("reverted", cyan, r.Reverted)
	section("pending", yellow, r.Pending)
	for key, msg := range r.Failed {
		fmt.Fprintf(w, "  %s %s: %s\n", red("failed"), key, msg)
	}
}
