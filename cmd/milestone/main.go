package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"escrow-settlement-go/internal/common"
	"escrow-settlement-go/internal/config"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/settlement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const usage = `usage: milestone -as <email|id> <action> [flags]

actions:
  list     -contract ID
  create   -contract ID -title T -amount N [-description D] [-order N] [-due YYYY-MM-DD]
  start    -id ID
  submit   -id ID -deliverable URL [-deliverable URL ...] [-note N]
  approve  -id ID
  reject   -id ID -feedback F
  update   -id ID [-title T] [-description D] [-amount N] [-due YYYY-MM-DD]
  reorder  -contract ID -ids ID1,ID2,...
  delete   -id ID
`

type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	fs := flag.NewFlagSet("milestone", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	as := fs.String("as", "", "Acting account email or id (required)")
	id := fs.String("id", "", "Milestone id")
	contractId := fs.String("contract", "", "Contract id")
	title := fs.String("title", "", "Milestone title")
	description := fs.String("description", "", "Milestone description")
	amount := fs.String("amount", "", "Milestone amount")
	order := fs.Int("order", 0, "Position among the contract's milestones (0 appends)")
	due := fs.String("due", "", "Due date, YYYY-MM-DD")
	note := fs.String("note", "", "Submission note")
	feedback := fs.String("feedback", "", "Rejection feedback")
	ids := fs.String("ids", "", "Comma-separated milestone ids in the new order")
	var deliverables listFlag
	fs.Var(&deliverables, "deliverable", "Deliverable link (repeatable)")

	if len(os.Args) < 2 {
		fs.Usage()
		os.Exit(2)
	}
	action := os.Args[1]
	_ = fs.Parse(os.Args[2:])
	if *as == "" {
		fs.Usage()
		os.Exit(2)
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	caller, err := common.ResolveAccount(ctx, services.DbService, *as)
	if err != nil {
		zap.L().Fatal("Unknown acting account", zap.Error(err))
	}
	ctx = common.CommandContext(ctx, caller.Id)
	milestones := services.Milestones

	var (
		m      *models.Milestone
		list   []models.Milestone
		result *models.ApprovalResult
	)
	switch action {
	case "list":
		var contract *models.Contract
		contract, list, err = services.Ledger.GetMilestones(ctx, *contractId)
		if err == nil {
			printContract(contract)
		}
	case "create":
		var amt decimal.Decimal
		amt, err = decimal.NewFromString(*amount)
		if err != nil {
			break
		}
		req := settlement.CreateMilestoneRequest{
			ContractId:  *contractId,
			Title:       *title,
			Description: *description,
			Amount:      amt,
			Order:       *order,
		}
		req.DueDate, err = parseDue(*due)
		if err == nil {
			m, err = milestones.Create(ctx, caller.Id, req)
		}
	case "start":
		m, err = milestones.Start(ctx, *id, caller.Id)
	case "submit":
		m, err = milestones.Submit(ctx, *id, caller.Id, deliverables, *note)
	case "approve":
		result, err = milestones.Approve(ctx, *id, caller.Id)
		if result != nil {
			m = result.Milestone
		}
	case "reject":
		m, err = milestones.Reject(ctx, *id, caller.Id, *feedback)
	case "update":
		m, err = update(ctx, milestones, caller.Id, *id, fs, *title, *description, *amount, *due)
	case "reorder":
		list, err = milestones.Reorder(ctx, *contractId, caller.Id, strings.Split(*ids, ","))
	case "delete":
		err = milestones.Delete(ctx, *id, caller.Id)
		if err == nil {
			fmt.Printf("\nMilestone %s deleted\n\n", *id)
		}
	default:
		fs.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Printf("\nError: %s\n\n", err)
		zap.L().Error("Milestone action failed", zap.String("action", action), zap.Error(err))
		os.Exit(1)
	}

	if m != nil {
		list = append(list, *m)
	}
	if len(list) > 0 {
		printMilestones(list)
	}
	if result != nil {
		fmt.Printf("Released to freelancer. Pending: %s  Available: %s\n",
			result.Balance.PendingBalance.StringFixed(2), result.Balance.AvailableBalance.StringFixed(2))
		if result.ContractCompleted {
			fmt.Println("All milestones approved, contract completed.")
		}
		fmt.Println()
	}
}

// update only forwards the flags that were set on the command line.
func update(ctx context.Context, svc *settlement.MilestoneService, callerId, id string, fs *flag.FlagSet, title, description, amount, due string) (*models.Milestone, error) {
	var u settlement.MilestoneUpdate
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			u.Title = &title
		case "description":
			u.Description = &description
		case "amount":
			var amt decimal.Decimal
			if amt, err = decimal.NewFromString(amount); err == nil {
				u.Amount = &amt
			}
		case "due":
			u.DueDate, err = parseDue(due)
		}
	})
	if err != nil {
		return nil, err
	}
	return svc.Update(ctx, id, callerId, u)
}

func parseDue(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q: %w", s, err)
	}
	return &t, nil
}

func printContract(c *models.Contract) {
	common.PrintHeader("CONTRACT "+c.Id, common.DefaultWidth)
	fmt.Printf("Status:     %s\n", c.Status)
	fmt.Printf("Total:      %s\n", common.Money(c.TotalAmount, c.Currency))
	fmt.Printf("Funded:     %s\n", common.Money(c.TotalPaid, c.Currency))
	fmt.Printf("Released:   %s\n", common.Money(c.ReleasedAmount, c.Currency))
	fmt.Printf("Milestones: %d of %d approved\n", c.CompletedMilestones, c.MilestoneCount)
}

func printMilestones(list []models.Milestone) {
	common.PrintBoxSeparator(common.DefaultWidth - 1)
	for i, m := range list {
		isLast := i == len(list)-1
		fmt.Printf("%s#%d %-30s %-12s %s\n", common.BoxPrefix(isLast), m.Order, m.Title, m.Status, m.Amount.StringFixed(2))
		fmt.Printf("%s   id=%s\n", common.BoxDetailPrefix(isLast), m.Id)
		if m.Feedback != "" {
			fmt.Printf("%s   feedback=%s\n", common.BoxDetailPrefix(isLast), m.Feedback)
		}
	}
	fmt.Println()
}
