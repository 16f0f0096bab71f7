package common

import (
	"fmt"
	"os"
	"path/filepath"

	"escrow-settlement-go/internal/settlement"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type PayoutMethodConfig struct {
	Name           string `yaml:"name"`
	PercentFee     string `yaml:"percent_fee"`
	FlatFee        string `yaml:"flat_fee"`
	MaxFee         string `yaml:"max_fee"`
	ProviderRouted bool   `yaml:"provider_routed"`
}

type PayoutMethodsConfig struct {
	Methods []PayoutMethodConfig `yaml:"payout_methods"`
}

// LoadFeeSchedule reads the payout methods file. An empty path selects the
// built-in schedule.
func LoadFeeSchedule(methodsFile string) (*settlement.FeeSchedule, error) {
	if methodsFile == "" {
		return settlement.DefaultFeeSchedule(), nil
	}

	var methodsPath string
	if filepath.IsAbs(methodsFile) {
		methodsPath = methodsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		methodsPath = filepath.Join(wd, methodsFile)
	}

	data, err := os.ReadFile(methodsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", methodsFile, err)
	}
	return ParseFeeSchedule(data)
}

func ParseFeeSchedule(data []byte) (*settlement.FeeSchedule, error) {
	var config PayoutMethodsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse payout methods: %w", err)
	}

	methods := make([]settlement.PayoutMethod, 0, len(config.Methods))
	for i, m := range config.Methods {
		if m.Name == "" {
			return nil, fmt.Errorf("payout method at index %d missing name", i)
		}
		percent, err := parseFee(m.PercentFee)
		if err != nil {
			return nil, fmt.Errorf("payout method %s percent_fee: %w", m.Name, err)
		}
		flat, err := parseFee(m.FlatFee)
		if err != nil {
			return nil, fmt.Errorf("payout method %s flat_fee: %w", m.Name, err)
		}
		maxFee, err := parseFee(m.MaxFee)
		if err != nil {
			return nil, fmt.Errorf("payout method %s max_fee: %w", m.Name, err)
		}
		methods = append(methods, settlement.PayoutMethod{
			Name:           m.Name,
			PercentFee:     percent,
			FlatFee:        flat,
			MaxFee:         maxFee,
			ProviderRouted: m.ProviderRouted,
		})
	}

	return settlement.NewFeeSchedule(methods)
}

func parseFee(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
