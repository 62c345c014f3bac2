package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmorrill/itemflow/internal/model"
)

// Prompter walks a human through flagged decisions. Accepting keeps the
// automated decision as-is; overriding or confirming records a manual
// decision that later runs will never overwrite.
type Prompter struct {
	reader *NonBlockingReader
	out    io.Writer
	actor  string
}

// NewPrompter creates an interactive prompter reading from in and
// writing styled output to out.
func NewPrompter(in io.Reader, out io.Writer, actor string) *Prompter {
	return &Prompter{
		reader: NewNonBlockingReader(in),
		out:    out,
		actor:  actor,
	}
}

// Review presents one flagged decision and collects the verdict.
func (p *Prompter) Review(ctx context.Context, row model.ExpandedItemRow, decision model.CategorizationDecision, categories []model.Category) (model.CategorizationDecision, error) {
	detail := fmt.Sprintf("%s  %s  %s\nSuggested: %s (%s, confidence %d)\nReason: %s",
		row.Date.Format("2006-01-02"),
		row.Description,
		row.Amount.StringFixed(2),
		valueOrNone(decision.CategoryID),
		decision.Source,
		decision.Confidence,
		decision.ReviewReason)
	fmt.Fprintln(p.out, RenderBox("Review", detail))

	for {
		fmt.Fprint(p.out, FormatPrompt("[a]ccept, [c]onfirm as manual, [o]verride, [l]ist categories"))

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			return decision, err
		}

		switch strings.ToLower(strings.TrimSpace(input)) {
		case "a", "accept", "":
			return decision, nil
		case "c", "confirm":
			if decision.CategoryID == "" {
				fmt.Fprintln(p.out, FormatWarning("nothing to confirm, no category suggested"))
				continue
			}
			return p.manualDecision(decision, decision.CategoryID), nil
		case "o", "override":
			categoryID, err := p.askCategory(ctx, categories)
			if err != nil {
				return decision, err
			}
			if categoryID == "" {
				continue
			}
			return p.manualDecision(decision, categoryID), nil
		case "l", "list":
			p.listCategories(categories)
		default:
			fmt.Fprintln(p.out, FormatWarning("unrecognized choice"))
		}
	}
}

func (p *Prompter) manualDecision(decision model.CategorizationDecision, categoryID string) model.CategorizationDecision {
	decision.PreviousCategory = decision.CategoryID
	decision.CategoryID = categoryID
	decision.Source = model.SourceManual
	decision.Confidence = 100
	decision.NeedsReview = false
	decision.ReviewReason = ""
	decision.Actor = p.actor
	decision.DecidedAt = time.Now().UTC()
	return decision
}

func (p *Prompter) askCategory(ctx context.Context, categories []model.Category) (string, error) {
	valid := make(map[string]bool, len(categories))
	for _, c := range categories {
		valid[c.ID] = true
	}

	fmt.Fprint(p.out, FormatPrompt("category id (blank to cancel)"))
	input, err := p.reader.ReadLine(ctx)
	if err != nil {
		return "", err
	}

	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return "", nil
	}
	if !valid[input] {
		fmt.Fprintln(p.out, FormatError(fmt.Sprintf("unknown category %q", input)))
		return "", nil
	}
	return input, nil
}

func (p *Prompter) listCategories(categories []model.Category) {
	var b strings.Builder
	for _, c := range categories {
		fmt.Fprintf(&b, "%-24s %s\n", c.ID, c.Name)
	}
	fmt.Fprintln(p.out, SubtleStyle.Render(strings.TrimRight(b.String(), "\n")))
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
