package main

import (
	"context"
	"flag"
	"fmt"

	"escrow-settlement-go/internal/common"
	"escrow-settlement-go/internal/config"
	"escrow-settlement-go/internal/models"
	"escrow-settlement-go/internal/settlement"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// splitEvenly divides total into n milestone amounts in cents; the last
// milestone absorbs the rounding remainder.
func splitEvenly(total decimal.Decimal, n int) []decimal.Decimal {
	share := total.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	amounts := make([]decimal.Decimal, n)
	for i := range amounts {
		amounts[i] = share
	}
	amounts[n-1] = total.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	return amounts
}

// seedContract creates a contract between client and freelancer, adds its
// milestones and funds the escrow.
func seedContract(ctx context.Context, services *common.Services, client, freelancer *models.Account, total, fund decimal.Decimal, count int) (*models.Contract, []models.Milestone, error) {
	contract, err := services.Escrow.CreateContract(ctx, client.Id, freelancer.Id, total)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create contract: %w", err)
	}
	zap.L().Info("Contract created",
		zap.String("contract_id", contract.Id),
		zap.String("total", total.String()))

	var milestones []models.Milestone
	for i, amount := range splitEvenly(total, count) {
		m, err := services.Milestones.Create(ctx, client.Id, settlement.CreateMilestoneRequest{
			ContractId:  contract.Id,
			Title:       fmt.Sprintf("Milestone %d", i+1),
			Description: "Seeded by setup",
			Amount:      amount,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create milestone %d: %w", i+1, err)
		}
		milestones = append(milestones, *m)
	}

	if fund.IsPositive() {
		contract, err = services.Escrow.Fund(ctx, contract.Id, client.Id, fund, "setup")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fund escrow: %w", err)
		}
	}
	return contract, milestones, nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	clientFlag := flag.String("client", "carol.williams@example.com", "Client email or id")
	freelancerFlag := flag.String("freelancer", "alice.johnson@example.com", "Freelancer email or id")
	totalFlag := flag.String("total", "1000.00", "Contract total")
	fundFlag := flag.String("fund", "", "Amount to fund into escrow (default: the contract total)")
	countFlag := flag.Int("milestones", 3, "Number of milestones to split the total into")
	flag.Parse()

	total, err := decimal.NewFromString(*totalFlag)
	if err != nil || !total.IsPositive() {
		zap.L().Fatal("Invalid --total", zap.String("total", *totalFlag))
	}
	fund := total
	if *fundFlag != "" {
		if fund, err = decimal.NewFromString(*fundFlag); err != nil {
			zap.L().Fatal("Invalid --fund", zap.Error(err))
		}
	}
	if *countFlag < 1 {
		zap.L().Fatal("--milestones must be at least 1")
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	client, err := common.ResolveAccount(ctx, services.DbService, *clientFlag)
	if err != nil {
		zap.L().Fatal("Client not found (run adduser or set CREATE_DUMMY_USERS=true)", zap.Error(err))
	}
	freelancer, err := common.ResolveAccount(ctx, services.DbService, *freelancerFlag)
	if err != nil {
		zap.L().Fatal("Freelancer not found (run adduser or set CREATE_DUMMY_USERS=true)", zap.Error(err))
	}
	ctx = common.CommandContext(ctx, client.Id)

	contract, milestones, err := seedContract(ctx, services, client, freelancer, total, fund, *countFlag)
	if err != nil {
		zap.L().Fatal("Setup failed", zap.Error(err))
	}

	common.PrintHeader("DEMO CONTRACT READY", common.DefaultWidth)
	fmt.Printf("Contract:   %s\n", contract.Id)
	fmt.Printf("Client:     %s (%s)\n", client.Name, client.Email)
	fmt.Printf("Freelancer: %s (%s)\n", freelancer.Name, freelancer.Email)
	fmt.Printf("Total:      %s\n", common.Money(contract.TotalAmount, contract.Currency))
	fmt.Printf("Funded:     %s\n", common.Money(contract.TotalPaid, contract.Currency))
	for i, m := range milestones {
		fmt.Printf("%s%s  %s  %s\n", common.BoxPrefix(i == len(milestones)-1), m.Id, m.Title, m.Amount.StringFixed(2))
	}
	common.PrintFooter("Next: milestone -as "+freelancer.Email+" start -id <milestone>", common.DefaultWidth)
}
