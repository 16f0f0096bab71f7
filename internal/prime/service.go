package prime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const defaultPortfolioName = "Default Portfolio"

// Service is the slice of the Prime REST API used to pay out withdrawals.
type Service struct {
	portfolios   portfolios.PortfoliosService
	wallets      wallets.WalletsService
	transactions transactions.TransactionsService
}

// NewService builds a Prime client whose requests are cut off after timeout.
func NewService(creds *credentials.Credentials, timeout time.Duration) (*Service, error) {
	httpClient, err := newHttpClient(timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create prime http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)
	return &Service{
		portfolios:   portfolios.NewPortfoliosService(restClient),
		wallets:      wallets.NewWalletsService(restClient),
		transactions: transactions.NewTransactionsService(restClient),
	}, nil
}

func newHttpClient(timeout time.Duration) (http.Client, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}
	return http.Client{Transport: tr, Timeout: timeout}, nil
}

// DefaultPortfolio returns the id and name of the account's default portfolio.
func (s *Service) DefaultPortfolio(ctx context.Context) (id, name string, err error) {
	response, err := s.portfolios.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return "", "", fmt.Errorf("unable to list portfolios: %w", err)
	}
	for _, p := range response.Portfolios {
		if p.Name == defaultPortfolioName {
			return p.Id, p.Name, nil
		}
	}
	return "", "", fmt.Errorf("portfolio %q not found among %d portfolios", defaultPortfolioName, len(response.Portfolios))
}

// ResolvePayoutWallet finds the trading wallet holding asset in the portfolio.
func (s *Service) ResolvePayoutWallet(ctx context.Context, portfolioId, asset string) (string, error) {
	symbol, _, _ := splitAsset(asset)
	response, err := s.wallets.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        "TRADING",
		Symbols:     []string{symbol},
	})
	if err != nil {
		return "", fmt.Errorf("unable to list %s wallets: %w", symbol, err)
	}
	if len(response.Wallets) == 0 {
		return "", fmt.Errorf("no %s trading wallet in portfolio %s", symbol, portfolioId)
	}

	wallet := response.Wallets[0]
	zap.L().Info("Resolved Prime payout wallet",
		zap.String("wallet_id", wallet.Id),
		zap.String("name", wallet.Name),
		zap.String("symbol", wallet.Symbol))
	return wallet.Id, nil
}

// WalletWithdrawal is a payout from a Prime wallet to an on-chain address.
type WalletWithdrawal struct {
	PortfolioId    string
	WalletId       string
	Address        string
	Amount         string
	Asset          string // bare symbol ("USDC") or symbol-network-type ("USDC-base-mainnet")
	IdempotencyKey string
}

// WalletTransaction is the part of a Prime wallet transaction that decides a payout's fate.
type WalletTransaction struct {
	Id             string
	Status         string
	IdempotencyKey string
	CompletedAt    time.Time
}

// splitAsset separates "USDC-base-mainnet" into symbol, network id and network type.
func splitAsset(asset string) (symbol, networkId, networkType string) {
	parts := strings.SplitN(asset, "-", 3)
	symbol = parts[0]
	if len(parts) == 3 {
		networkId, networkType = parts[1], parts[2]
	}
	return symbol, networkId, networkType
}

// CreateWithdrawal submits w and returns Prime's activity id.
func (s *Service) CreateWithdrawal(ctx context.Context, w WalletWithdrawal) (string, error) {
	symbol, networkId, networkType := splitAsset(w.Asset)
	address := &model.BlockchainAddress{Address: w.Address}
	if networkId != "" {
		address.Network = &model.NetworkDetails{Id: networkId, Type: networkType}
	}

	response, err := s.transactions.CreateWalletWithdrawal(ctx, &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       w.PortfolioId,
		SourceWalletId:    w.WalletId,
		Symbol:            symbol,
		Amount:            w.Amount,
		IdempotencyKey:    w.IdempotencyKey,
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: address,
	})
	if err != nil {
		return "", fmt.Errorf("unable to create prime withdrawal: %w", err)
	}
	return response.ActivityId, nil
}

// RecentWithdrawals lists the wallet's withdrawal transactions created since since.
func (s *Service) RecentWithdrawals(ctx context.Context, portfolioId, walletId string, since time.Time) ([]WalletTransaction, error) {
	response, err := s.transactions.ListWalletTransactions(ctx, &transactions.ListWalletTransactionsRequest{
		PortfolioId: portfolioId,
		WalletId:    walletId,
		Start:       since,
		Types:       []string{"WITHDRAWAL"},
		Pagination:  &model.PaginationParams{Limit: 500},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list prime wallet transactions: %w", err)
	}

	zap.L().Debug("Prime withdrawals listed",
		zap.String("wallet_id", walletId),
		zap.Int("count", len(response.Transactions)))

	out := make([]WalletTransaction, len(response.Transactions))
	for i, tx := range response.Transactions {
		out[i] = WalletTransaction{
			Id:             tx.Id,
			Status:         tx.Status,
			IdempotencyKey: tx.IdempotencyKey,
			CompletedAt:    tx.Completed,
		}
	}
	return out, nil
}
