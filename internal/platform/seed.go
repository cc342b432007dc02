package platform

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blockvest/blockvest/internal/risk"
)

// Demo identifiers created by SeedDemo.
const (
	DemoEstablishedInvestment = "inv_demo_established"
	DemoNewcomerInvestment    = "inv_demo_newcomer"
)

// SeedDemo fills d with two borrowers at opposite ends of the risk range so
// an in-memory server has something to assess.
func SeedDemo(d *MemoryDirectory, now time.Time) {
	d.SetMarket(DefaultMarket, risk.MarketSignals{VolatilityIndex: 0.4, Trend: "stable"})
	d.SetMarket("education", risk.MarketSignals{VolatilityIndex: 0.2, Trend: "growing", SectorPerformance: 0.05})
	d.SetMarket("travel", risk.MarketSignals{VolatilityIndex: 0.8, Trend: "declining", SectorPerformance: -0.1})

	// An established, verified borrower with a clean record.
	d.PutBorrower(&risk.Borrower{
		ID:              "bor_demo_established",
		ReputationScore: 82,
		IsVerified:      true,
		Location:        "US",
		JoinedAt:        now.AddDate(-2, 0, 0),
		Financials: &risk.Financials{
			MonthlyIncome: decimal.NewFromInt(6000),
			ExistingDebts: decimal.NewFromInt(400),
		},
	})
	for i, typ := range []string{"bank_statement", "income_proof", "id_document"} {
		d.AddDocument("bor_demo_established", risk.Document{
			ID:                 "doc_demo_" + typ,
			Type:               typ,
			VerificationStatus: risk.DocVerified,
			SecurityChecks:     risk.SecurityChecks{VirusScanStatus: risk.ScanClean, DuplicateStatus: risk.DupUnique},
			UploadedAt:         now.AddDate(0, 0, -7*(i+1)),
		})
	}
	for _, id := range []string{"inv_demo_past_1", "inv_demo_past_2"} {
		d.PutInvestment(&risk.Investment{
			ID:         id,
			BorrowerID: "bor_demo_established",
			Amount:     decimal.NewFromInt(2000),
			Purpose:    "Education",
			Status:     risk.InvestmentCompleted,
			CreatedAt:  now.AddDate(-1, 0, 0),
		})
	}
	d.PutInvestment(&risk.Investment{
		ID:             DemoEstablishedInvestment,
		BorrowerID:     "bor_demo_established",
		Amount:         decimal.NewFromInt(2500),
		Purpose:        "Education",
		Description:    strings.Repeat("Final year tuition and course materials. ", 4),
		DurationMonths: 12,
		Status:         risk.InvestmentPending,
		CreatedAt:      now,
	})
	d.AddParticipation("bor_demo_established", "inv_demo_newcomer_past")
	d.SetBehavior("bor_demo_established", risk.BehavioralSignals{
		LoginFrequency:            6,
		AvgTransactionTimeMinutes: 2,
		DeviceCount:               2,
		AnomalyScore:              0.05,
	})
	d.SetSocial("bor_demo_established", risk.SocialSignals{Connections: 25, VerifiedConnections: 20})

	// A brand new borrower with a default on record asking for a large amount.
	d.PutBorrower(&risk.Borrower{
		ID:              "bor_demo_newcomer",
		ReputationScore: 15,
		Location:        "Unknown",
		JoinedAt:        now.AddDate(0, 0, -5),
	})
	d.PutInvestment(&risk.Investment{
		ID:         "inv_demo_newcomer_past",
		BorrowerID: "bor_demo_newcomer",
		Amount:     decimal.NewFromInt(1500),
		Purpose:    "Travel",
		Status:     risk.InvestmentDefaulted,
		CreatedAt:  now.AddDate(0, 0, -4),
	})
	d.PutInvestment(&risk.Investment{
		ID:         DemoNewcomerInvestment,
		BorrowerID: "bor_demo_newcomer",
		Amount:     decimal.NewFromInt(30000),
		Purpose:    "Travel",
		Status:     risk.InvestmentPending,
		CreatedAt:  now,
	})
	d.SetBehavior("bor_demo_newcomer", risk.BehavioralSignals{
		LoginFrequency:            0.5,
		AvgTransactionTimeMinutes: 25,
		DeviceCount:               6,
		AnomalyScore:              0.7,
	})
	d.SetSocial("bor_demo_newcomer", risk.SocialSignals{Connections: 4, SuspiciousConnections: 3})
}
